// Package staging holds records received from remote sites until they are
// integrated into the local database.
//
// Staged records are never deleted by integration. Each record is annotated
// with its outcome: an integration timestamp, plus an error message when it
// could not be integrated.
package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord is returned when a record is missing required fields.
var ErrInvalidRecord = errors.New("invalid staged record")

// Action is the change a staged record asks for.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
	ActionMerge  Action = "merge"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionUpsert, ActionDelete, ActionMerge:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidRecord, s)
	}
}

// Record is one record received from a remote peer, in wire format.
type Record struct {
	// Seq is the staging sequence, assigned by the store.
	Seq       int64           `json:"-"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data"`
	// SourceSiteID is the site the record originated from, if known.
	SourceSiteID *int32 `json:"source_site_id,omitempty"`

	ReceivedAt       time.Time  `json:"-"`
	IntegratedAt     *time.Time `json:"-"`
	IntegrationError string     `json:"-"`
}

// Validate checks the fields every record must carry.
func (r *Record) Validate() error {
	switch {
	case r.TableName == "":
		return fmt.Errorf("%w: table_name is required", ErrInvalidRecord)
	case r.RecordID == "":
		return fmt.Errorf("%w: record_id is required", ErrInvalidRecord)
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		return fmt.Errorf("record %s: %w", r.RecordID, err)
	}
	if len(r.Data) == 0 {
		r.Data = json.RawMessage("{}")
	}
	if !json.Valid(r.Data) {
		return fmt.Errorf("%w: record %s data is not valid JSON", ErrInvalidRecord, r.RecordID)
	}
	return nil
}

// String identifies a record in logs.
func (r *Record) String() string {
	return fmt.Sprintf("%s/%s (%s)", r.TableName, r.RecordID, r.Action)
}
