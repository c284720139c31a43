// Package integration applies translated records to the local database and
// collects local changes for pushing.
//
// The Integrator walks a staged batch in order, dispatches each record
// through the translator registry, and applies the resulting operations in a
// nested transaction scope of their own. A failing record is rolled back and
// annotated in the staging store; the rest of the batch carries on. Only a
// failure of the transaction coordinator itself aborts the batch.
package integration

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/storage"
	"github.com/mschirtzinger/sitesync/internal/translations"
)

// Applier writes one record's operations atomically.
type Applier struct {
	// SharedFailure joins an enclosing transaction instead of opening an
	// isolated scope, so one failing record fails the whole enclosing
	// transaction. Only for administrative bulk loads.
	SharedFailure bool
}

// Apply runs ops in order inside one transaction scope on conn.
func (a *Applier) Apply(ctx context.Context, conn *storage.Conn, table, recordID string, ops []translations.Operation) error {
	return a.scope(conn)(ctx, func(tx *storage.Conn) error {
		return applyAll(ctx, tx, table, recordID, ops)
	})
}

// scope returns the transaction entry point for one record.
func (a *Applier) scope(conn *storage.Conn) func(context.Context, func(*storage.Conn) error) error {
	if a.SharedFailure {
		return conn.Transaction
	}
	return conn.TransactionIsolated
}

func applyAll(ctx context.Context, q storage.Querier, table, recordID string, ops []translations.Operation) error {
	for i, op := range ops {
		if err := applyOne(ctx, q, op); err != nil {
			return &IntegrationError{Table: table, RecordID: recordID, Operation: i, Err: err}
		}
	}
	return nil
}

func applyOne(ctx context.Context, q storage.Querier, op translations.Operation) error {
	switch op.Kind {
	case translations.OpUpsert:
		_, err := repository.Upsert(ctx, q, op.Row, op.SourceSiteID)
		return err
	case translations.OpDelete:
		_, err := repository.Delete(ctx, q, op.Key, op.SourceSiteID)
		return err
	default:
		return fmt.Errorf("unknown operation kind %d", op.Kind)
	}
}
