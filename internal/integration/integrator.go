package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
	"github.com/mschirtzinger/sitesync/internal/translations"
)

// DefaultProgressStep is how many records pass between progress reports.
const DefaultProgressStep = 100

// StagingStore is the staging side of an integration run.
type StagingStore interface {
	NextBatch(ctx context.Context, q storage.Querier) ([]*staging.Record, error)
	MarkIntegrated(ctx context.Context, q storage.Querier, rec *staging.Record) error
	MarkErrored(ctx context.Context, q storage.Querier, rec *staging.Record, cause error) error
}

// Config configures an Integrator.
type Config struct {
	// ProgressStep is how many records pass between progress reports.
	ProgressStep int
	// BatchTransaction wraps IntegrateStaged in one outer transaction, so
	// SQLite takes the write lock once and every record runs in a savepoint.
	// If the outer transaction rolls back, nothing of the batch is kept.
	BatchTransaction bool
	// SharedFailure makes records join the enclosing transaction instead of
	// running isolated. Only for administrative bulk loads.
	SharedFailure bool
	// Sink receives progress; may be nil.
	Sink   ProgressSink
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used for routine sync on backend.
// The batch transaction is only worth it for SQLite's single writer lock.
func DefaultConfig(backend storage.Backend) Config {
	return Config{
		ProgressStep:     DefaultProgressStep,
		BatchTransaction: backend == storage.BackendSQLite,
	}
}

// Integrator translates and integrates staged records.
type Integrator struct {
	registry *translations.Registry
	store    StagingStore
	applier  *Applier
	config   Config
	logger   *slog.Logger
}

// New creates an Integrator.
func New(registry *translations.Registry, store StagingStore, config Config) *Integrator {
	if config.ProgressStep <= 0 {
		config.ProgressStep = DefaultProgressStep
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Integrator{
		registry: registry,
		store:    store,
		applier:  &Applier{SharedFailure: config.SharedFailure},
		config:   config,
		logger:   logger,
	}
}

// IntegrateStaged integrates the staging store's next batch on conn.
func (in *Integrator) IntegrateStaged(ctx context.Context, conn *storage.Conn) (*BatchResult, error) {
	run := func(tx *storage.Conn) (*BatchResult, error) {
		records, err := in.store.NextBatch(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("failed to load staged batch: %w", err)
		}
		return in.Integrate(ctx, tx, records)
	}

	if !in.config.BatchTransaction {
		return run(conn)
	}

	var result *BatchResult
	err := conn.TransactionIsolated(ctx, func(tx *storage.Conn) error {
		var err error
		result, err = run(tx)
		return err
	})
	if err != nil && result != nil {
		// The outer rollback discarded every record's writes and annotations.
		result.rollBack()
		if observer, ok := in.config.Sink.(BatchObserver); ok {
			observer.BatchComplete(ctx, result)
		}
	}
	return result, err
}

// Integrate processes records in order. Each record is dispatched, applied
// and marked integrated in one scope of its own, so a failure anywhere in it
// rolls back that record alone. Per-record failures are annotated in the
// staging store and counted; a coordinator failure, or a failure to annotate
// the staging store, aborts the batch and is returned together with the
// counts of records committed so far.
func (in *Integrator) Integrate(ctx context.Context, conn *storage.Conn, records []*staging.Record) (*BatchResult, error) {
	start := time.Now()
	total := len(records)
	result := newBatchResult(total)
	observer, _ := in.config.Sink.(BatchObserver)

	for i, rec := range records {
		var markErr error
		err := in.applier.scope(conn)(ctx, func(tx *storage.Conn) error {
			if err := in.integrateRecord(ctx, tx, rec); err != nil {
				return err
			}
			markErr = in.store.MarkIntegrated(ctx, tx, rec)
			return markErr
		})
		switch {
		case markErr != nil:
			return result, fmt.Errorf("integration aborted at %s: %w", rec, markErr)
		case err == nil:
			result.success(rec.TableName)
		default:
			kind := Classify(err)
			if kind == KindFatal {
				in.logger.Error("integration aborted", "table", rec.TableName, "record_id", rec.RecordID, "error", err)
				return result, fmt.Errorf("integration aborted at %s: %w", rec, err)
			}
			in.logger.Warn("failed to integrate record",
				"table", rec.TableName, "record_id", rec.RecordID, "action", string(rec.Action),
				"kind", string(kind), "error", err)
			if markErr := in.markErrored(ctx, conn, rec, err); markErr != nil {
				return result, fmt.Errorf("integration aborted at %s: %w", rec, markErr)
			}
			result.failure(rec.TableName, kind)
			if observer != nil {
				observer.RecordFailed(ctx, rec, kind, err)
			}
		}

		if i%in.config.ProgressStep == 0 {
			in.progress(ctx, total-i)
		}
	}
	in.progress(ctx, 0)

	result.Duration = time.Since(start)
	if observer != nil {
		observer.BatchComplete(ctx, result)
	}
	in.logger.Info("integration finished", "summary", result.Summary(), "duration", result.Duration)
	return result, nil
}

func (in *Integrator) progress(ctx context.Context, remaining int) {
	if in.config.Sink != nil {
		in.config.Sink.Progress(ctx, StepIntegrate, remaining)
	}
}

// markErrored annotates rec in a savepoint of its own, so a failed write
// leaves the enclosing transaction usable.
func (in *Integrator) markErrored(ctx context.Context, conn *storage.Conn, rec *staging.Record, cause error) error {
	return conn.TransactionIsolated(ctx, func(tx *storage.Conn) error {
		return in.store.MarkErrored(ctx, tx, rec, cause)
	})
}

func (in *Integrator) integrateRecord(ctx context.Context, conn *storage.Conn, rec *staging.Record) error {
	dispatch, err := in.registry.Dispatch(ctx, conn, rec)
	if err != nil {
		return &TranslationError{Table: rec.TableName, RecordID: rec.RecordID, Err: err}
	}
	if dispatch.Matched == 0 {
		return fmt.Errorf("%s %s: %w", rec.TableName, rec.RecordID, ErrNoTranslator)
	}
	if dispatch.IsIgnored() {
		return &IgnoredError{Reason: dispatch.Ignored}
	}
	return applyAll(ctx, conn, rec.TableName, rec.RecordID, dispatch.Operations)
}
