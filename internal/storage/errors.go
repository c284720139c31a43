package storage

import "fmt"

// TransactionError reports that the coordinator itself failed to open or
// close a transaction scope. It is never produced by the work inside a scope,
// which lets callers separate storage-layer failure from the caller's own
// errors. A connection that produced one must not be reused for writes.
type TransactionError struct {
	// Op is "begin", "commit" or "rollback".
	Op string
	// Level is the nesting level of the scope that failed (1 = outermost).
	Level int
	Err   error
	// Cause is the caller error that triggered a failed rollback, if any.
	Cause error
}

func (e *TransactionError) Error() string {
	verb := "closed"
	if e.Op == "begin" {
		verb = "opened"
	}
	msg := fmt.Sprintf("transaction could not be %s at level %d: %s failed: %v", verb, e.Level, e.Op, e.Err)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (while handling: %v)", e.Cause)
	}
	return msg
}

func (e *TransactionError) Unwrap() error { return e.Err }
