package dashboard

import (
	"context"
	"time"

	"github.com/mschirtzinger/sitesync/internal/integration"
	"github.com/mschirtzinger/sitesync/internal/staging"
)

var (
	_ integration.ProgressSink  = (*Server)(nil)
	_ integration.BatchObserver = (*Server)(nil)
)

// ProgressData is the payload of a progress message
type ProgressData struct {
	Step      string `json:"step"`
	Remaining int    `json:"remaining"`
}

// RecordErrorData is the payload of a record_error message
type RecordErrorData struct {
	Table    string `json:"table"`
	RecordID string `json:"record_id"`
	Action   string `json:"action"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// BatchCompleteData is the payload of a batch_complete message
type BatchCompleteData struct {
	Summary  string                              `json:"summary"`
	Total    int                                 `json:"total"`
	Tables   map[string]*integration.TableResult `json:"tables"`
	Errors   integration.ErrorCounts             `json:"errors"`
	Duration time.Duration                       `json:"duration"`

	// RolledBack means the record_error messages of this batch were undone
	// and every record is pending again.
	RolledBack bool `json:"rolled_back,omitempty"`
}

// Progress implements integration.ProgressSink
func (s *Server) Progress(_ context.Context, step integration.Step, remaining int) {
	s.send(MessageTypeProgress, ProgressData{Step: string(step), Remaining: remaining})
}

// RecordFailed implements integration.BatchObserver
func (s *Server) RecordFailed(_ context.Context, rec *staging.Record, kind integration.ErrorKind, err error) {
	s.send(MessageTypeRecordError, RecordErrorData{
		Table:    rec.TableName,
		RecordID: rec.RecordID,
		Action:   string(rec.Action),
		Kind:     string(kind),
		Error:    err.Error(),
	})
}

// BatchComplete implements integration.BatchObserver
func (s *Server) BatchComplete(_ context.Context, result *integration.BatchResult) {
	s.send(MessageTypeBatchComplete, BatchCompleteData{
		Summary:    result.Summary(),
		Total:      result.Total,
		Tables:     result.Tables,
		Errors:     result.Errors,
		Duration:   result.Duration,
		RolledBack: result.RolledBack,
	})
}
