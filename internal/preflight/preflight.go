package preflight

import (
	"vampsync/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Optional bool   `json:"optional,omitempty"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data root", cfg.Paths.DataRoot),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	for _, tier := range cfg.Archive.Tiers {
		results = append(results, CheckDirectoryAccess("Archive tier", tier))
	}
	for _, status := range CheckSystemDeps(cfg) {
		r := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail, Optional: status.Optional}
		if r.Passed {
			r.Detail = status.Command
		}
		results = append(results, r)
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
