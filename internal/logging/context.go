package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the structured logging key for workflow run identifiers.
	FieldRunID = "run_id"
	// FieldJob is the structured logging key for job names (including matrix labels).
	FieldJob = "job"
	// FieldWorkflow is the structured logging key for workflow names.
	FieldWorkflow = "workflow"
	// FieldEvent is the structured logging key for trigger event kinds.
	FieldEvent = "event"
	// FieldEventType categorizes notable occurrences for log filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries operator guidance attached to error logs.
	FieldErrorHint = "error_hint"
)

type contextKey int

const (
	ctxKeyRunID contextKey = iota
	ctxKeyJob
)

// WithRunID stores a run identifier on the context for log enrichment.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// WithJob stores a job name on the context for log enrichment.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, ctxKeyJob, job)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(ctxKeyRunID).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if job, ok := ctx.Value(ctxKeyJob).(string); ok && job != "" {
		fields = append(fields, slog.String(FieldJob, job))
	}
	return fields
}

// WithContext returns a logger augmented with fields derived from the context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
