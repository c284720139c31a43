package integration

import (
	"errors"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/storage"
)

// ErrNoTranslator means no translator claimed a record, usually because the
// remote site runs a newer schema.
var ErrNoTranslator = errors.New("no translator matched")

// IgnoredError means a translator rejected a record for a business reason.
// Nothing was written.
type IgnoredError struct {
	Reason string
}

func (e *IgnoredError) Error() string {
	return "record ignored: " + e.Reason
}

// TranslationError means a record could not be understood.
type TranslationError struct {
	Table    string
	RecordID string
	Err      error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("failed to translate %s %s: %v", e.Table, e.RecordID, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// IntegrationError means applying a record's operations failed, typically a
// constraint violation. The record's writes were rolled back.
type IntegrationError struct {
	Table    string
	RecordID string
	// Operation is the index of the failing operation within the record.
	Operation int
	Err       error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("failed to integrate %s %s (operation %d): %v", e.Table, e.RecordID, e.Operation, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// ErrorKind classifies a per-record error.
type ErrorKind string

const (
	KindUnmatched   ErrorKind = "unmatched"
	KindIgnored     ErrorKind = "ignored"
	KindTranslation ErrorKind = "translation"
	KindIntegration ErrorKind = "integration"
	KindFatal       ErrorKind = "fatal"
)

// Classify returns the kind of err.
func Classify(err error) ErrorKind {
	var (
		txErr          *storage.TransactionError
		ignoredErr     *IgnoredError
		translationErr *TranslationError
	)
	switch {
	case errors.As(err, &txErr):
		return KindFatal
	case errors.Is(err, ErrNoTranslator):
		return KindUnmatched
	case errors.As(err, &ignoredErr):
		return KindIgnored
	case errors.As(err, &translationErr):
		return KindTranslation
	default:
		return KindIntegration
	}
}

// IsFatal reports whether err must abort the batch.
func IsFatal(err error) bool {
	return Classify(err) == KindFatal
}
