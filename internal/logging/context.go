package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. "frame_quarantined").
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator's next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the consequence of a warning.
	FieldImpact = "impact"
	// FieldPassID correlates every line emitted during one synchronizer pass.
	FieldPassID = "pass_id"
	// FieldStream is the stream partition a frame file lives in.
	FieldStream = "stream"
	// FieldPath is the absolute path of a frame file.
	FieldPath = "path"
	// FieldCamera is the 1-based camera index.
	FieldCamera = "camera"
	// FieldDecisionType names the kind of decision being logged.
	FieldDecisionType = "decision_type"
	// FieldDecisionResult is the chosen outcome.
	FieldDecisionResult = "decision_result"
	// FieldDecisionReason explains the outcome.
	FieldDecisionReason = "decision_reason"
)

type passIDKey struct{}

// WithPassID stores a pass correlation id on ctx.
func WithPassID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, passIDKey{}, strings.TrimSpace(id))
}

// PassIDFromContext returns the pass id stored by WithPassID.
func PassIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(passIDKey{}).(string)
	return id, ok && id != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if id, ok := PassIDFromContext(ctx); ok {
		return []slog.Attr{slog.String(FieldPassID, id)}
	}
	return nil
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
