package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"vampsync/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestRunAllRequiresCompressorOnlyWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Compression.Command = "clearly-not-present-binary"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	if failed := Failed(RunAll(cfg)); len(failed) != 0 {
		t.Fatalf("unexpected failures with compression disabled: %+v", failed)
	}

	cfg.Compression.Enabled = true
	failed := Failed(RunAll(cfg))
	if len(failed) != 1 || failed[0].Name != "Compressor" {
		t.Fatalf("failures = %+v, want the compressor", failed)
	}
}

func TestRunAllChecksArchiveTiers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithArchiveTier("tier1"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	failed := Failed(RunAll(cfg))
	if len(failed) != 1 || failed[0].Name != "Archive tier" {
		t.Fatalf("failures = %+v, want the missing tier", failed)
	}
}
