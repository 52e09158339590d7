// Package logging assembles structured slog loggers and formatting helpers used
// across vampsync.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes helpers so synchronizer code tags every line with its
// component and pass id. Classification decisions go through DecisionAttrs
// and warnings through WarnWithContext so each line carries cause, impact and
// a next step.
package logging
