// Package translations converts records between the legacy wire format
// exchanged with remote sites and typed rows of the local database.
//
// Each Translator claims one wire table. Incoming, it turns a staged record
// into an Outcome: write operations, an ignore with a business reason, or
// not applicable. Outgoing, it turns a changelog entry into a wire record.
// A Registry dispatches records to every translator that claims them and
// exposes the table order integration must follow.
package translations

import (
	"context"
	"encoding/json"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

// Translator converts one wire table in both directions.
//
// Translate methods return an error only when the record cannot be
// understood (malformed payload, missing row needed to denormalise).
// Business rejections are reported as Ignored. Lookups through q are
// read-only.
type Translator interface {
	// TableName is the wire table this translator claims.
	TableName() string
	// PullDependencies are wire tables that must be integrated first.
	PullDependencies() []string
	ShouldTranslate(rec *staging.Record) bool

	TranslateUpsert(ctx context.Context, q storage.Querier, rec *staging.Record) (Outcome, error)
	TranslateDelete(ctx context.Context, q storage.Querier, rec *staging.Record) (Outcome, error)
	TranslateMerge(ctx context.Context, q storage.Querier, rec *staging.Record) (Outcome, error)

	// ChangelogTable is the local table whose changes this translator
	// pushes, or "" if it pushes nothing.
	ChangelogTable() string
	ShouldTranslateOutgoing(entry *repository.ChangelogRow) bool
	TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error)
}

// OperationKind tags an Operation.
type OperationKind int

const (
	OpUpsert OperationKind = iota
	OpDelete
)

func (k OperationKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "upsert"
}

// Operation is one typed write. Row is set for OpUpsert, Key for OpDelete.
type Operation struct {
	Kind OperationKind
	Row  repository.Row
	Key  repository.RowKey
	// SourceSiteID tags the changelog entry the write produces.
	SourceSiteID *int32
}

// Table returns the local table the operation writes.
func (o Operation) Table() string {
	if o.Kind == OpDelete {
		return o.Key.Table
	}
	return o.Row.Table()
}

// UpsertOp builds an upsert operation.
func UpsertOp(row repository.Row, sourceSiteID *int32) Operation {
	return Operation{Kind: OpUpsert, Row: row, SourceSiteID: sourceSiteID}
}

// DeleteOp builds a delete operation.
func DeleteOp(table, id string, sourceSiteID *int32) Operation {
	return Operation{Kind: OpDelete, Key: repository.RowKey{Table: table, ID: id}, SourceSiteID: sourceSiteID}
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// OutcomeNotApplicable means the translator has nothing to say about
	// the record.
	OutcomeNotApplicable OutcomeKind = iota
	OutcomeOperations
	OutcomeIgnored
)

// Outcome is the result of one translator for one record.
type Outcome struct {
	Kind       OutcomeKind
	Operations []Operation
	Reason     string
}

// NotApplicable is the zero Outcome.
var NotApplicable = Outcome{}

// Operations wraps write operations. An empty list is still a match.
func Operations(ops ...Operation) Outcome {
	return Outcome{Kind: OutcomeOperations, Operations: ops}
}

// Ignored rejects a record for a business reason.
func Ignored(reason string) Outcome {
	return Outcome{Kind: OutcomeIgnored, Reason: reason}
}

// WireRecord is a local change in legacy wire format, ready to push.
type WireRecord struct {
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Action    staging.Action  `json:"action"`
	Data      json.RawMessage `json:"data"`
	Cursor    int64           `json:"cursor"`
}

// Staged converts the wire record into the form a receiving site stages.
func (w *WireRecord) Staged(sourceSiteID *int32) *staging.Record {
	return &staging.Record{
		TableName:    w.TableName,
		RecordID:     w.RecordID,
		Action:       w.Action,
		Data:         w.Data,
		SourceSiteID: sourceSiteID,
	}
}

// table holds what most translators share: the claimed wire table, the
// local table it maps to, and its dependencies.
type table struct {
	wire  string
	local string
	deps  []string
}

func (t table) TableName() string          { return t.wire }
func (t table) PullDependencies() []string { return t.deps }
func (t table) ChangelogTable() string     { return t.local }

func (t table) ShouldTranslate(rec *staging.Record) bool {
	return rec.TableName == t.wire
}

func (t table) ShouldTranslateOutgoing(entry *repository.ChangelogRow) bool {
	return entry.TableName == t.local
}

// TranslateDelete removes the local row with the record's id.
func (t table) TranslateDelete(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	return Operations(DeleteOp(t.local, rec.RecordID, rec.SourceSiteID)), nil
}

func (t table) TranslateMerge(context.Context, storage.Querier, *staging.Record) (Outcome, error) {
	return NotApplicable, nil
}
