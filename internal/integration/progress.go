package integration

import (
	"context"
	"log/slog"

	"github.com/mschirtzinger/sitesync/internal/staging"
)

// Step names a phase of a sync run for progress reporting.
type Step string

const StepIntegrate Step = "integrate"

// ProgressSink receives the number of records still to process.
type ProgressSink interface {
	Progress(ctx context.Context, step Step, remaining int)
}

// BatchObserver is optionally implemented by a ProgressSink that also wants
// per-record failures and the final result.
type BatchObserver interface {
	RecordFailed(ctx context.Context, rec *staging.Record, kind ErrorKind, err error)
	BatchComplete(ctx context.Context, result *BatchResult)
}

// LogSink reports progress to a logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s LogSink) Progress(_ context.Context, step Step, remaining int) {
	s.logger().Debug("sync progress", "step", string(step), "remaining", remaining)
}

func (s LogSink) RecordFailed(_ context.Context, rec *staging.Record, kind ErrorKind, err error) {
	s.logger().Debug("record failed", "table", rec.TableName, "record_id", rec.RecordID, "kind", string(kind), "error", err)
}

func (s LogSink) BatchComplete(_ context.Context, result *BatchResult) {
	s.logger().Info("batch complete", "summary", result.Summary(), "duration", result.Duration)
}

// MultiSink fans out to several sinks.
type MultiSink []ProgressSink

func (m MultiSink) Progress(ctx context.Context, step Step, remaining int) {
	for _, s := range m {
		s.Progress(ctx, step, remaining)
	}
}

func (m MultiSink) RecordFailed(ctx context.Context, rec *staging.Record, kind ErrorKind, err error) {
	for _, s := range m {
		if o, ok := s.(BatchObserver); ok {
			o.RecordFailed(ctx, rec, kind, err)
		}
	}
}

func (m MultiSink) BatchComplete(ctx context.Context, result *BatchResult) {
	for _, s := range m {
		if o, ok := s.(BatchObserver); ok {
			o.BatchComplete(ctx, result)
		}
	}
}
