package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Querier is the read/write surface handed to repositories and translators.
// Queries use `?` placeholders regardless of backend.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Dialect() Dialect
}

// Conn is one physical database connection plus its transaction nesting
// depth. Depth 0 means no open transaction; depth n > 0 means n nested scopes
// are open, the outermost being a real transaction and the rest savepoints.
//
// A Conn is owned by a single goroutine for its whole lifetime. All writes
// made through it must go through Transaction/TransactionIsolated or run
// outside any transaction; nothing else may issue BEGIN/COMMIT/ROLLBACK.
type Conn struct {
	conn    *sql.Conn
	dialect Dialect
	depth   int
	logger  *slog.Logger
}

var _ Querier = (*Conn)(nil)

func newConn(conn *sql.Conn, dialect Dialect, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{conn: conn, dialect: dialect, logger: logger}
}

// Depth returns the current transaction nesting level.
func (c *Conn) Depth() int { return c.depth }

// Dialect returns the backend strategy bound to this connection.
func (c *Conn) Dialect() Dialect { return c.dialect }

// Close returns the physical connection to the pool. Closing with open
// scopes is a programming error; the open transaction is rolled back first.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.depth > 0 {
		c.logger.Error("closing connection with open transaction", "depth", c.depth)
		_ = c.execAll(context.Background(), c.dialect.RollbackStatements(1))
		c.depth = 0
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ExecContext implements Querier.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

// QueryContext implements Querier.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

// QueryRowContext implements Querier.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// Transaction runs fn in a transaction. If one is already open, fn joins it
// and shares its fate; otherwise a new outermost transaction is started.
func (c *Conn) Transaction(ctx context.Context, fn func(tx *Conn) error) error {
	return c.transaction(ctx, true, fn)
}

// TransactionIsolated runs fn in its own scope: a new transaction at depth 0,
// or a savepoint nested in the current one. A failure inside fn rolls back
// only fn's writes and leaves the enclosing transaction usable.
func (c *Conn) TransactionIsolated(ctx context.Context, fn func(tx *Conn) error) error {
	return c.transaction(ctx, false, fn)
}

func (c *Conn) transaction(ctx context.Context, reuse bool, fn func(tx *Conn) error) (err error) {
	current := c.depth
	if current > 0 && reuse {
		return fn(c)
	}

	level := current + 1
	if beginErr := c.execAll(ctx, c.dialect.BeginStatements(level)); beginErr != nil {
		c.logger.Error("failed to begin tx", "level", level, "error", beginErr)
		return &TransactionError{Op: "begin", Level: level, Err: beginErr}
	}
	c.depth = level
	defer func() { c.depth = current }()

	// Cleanup must run even if ctx was cancelled mid-scope.
	cleanupCtx := context.WithoutCancel(ctx)

	finished := false
	defer func() {
		if !finished {
			if rbErr := c.execAll(cleanupCtx, c.dialect.RollbackStatements(level)); rbErr != nil {
				c.logger.Error("failed to rollback tx after panic", "level", level, "error", rbErr)
			}
		}
	}()

	fnErr := fn(c)
	finished = true

	if fnErr != nil {
		if rbErr := c.execAll(cleanupCtx, c.dialect.RollbackStatements(level)); rbErr != nil {
			c.logger.Error("failed to rollback tx", "level", level, "error", rbErr)
			return &TransactionError{Op: "rollback", Level: level, Err: rbErr, Cause: fnErr}
		}
		return fnErr
	}

	if commitErr := c.execAll(ctx, c.dialect.CommitStatements(level)); commitErr != nil {
		c.logger.Error("failed to end tx", "level", level, "error", commitErr)
		if rbErr := c.execAll(cleanupCtx, c.dialect.RollbackStatements(level)); rbErr != nil {
			c.logger.Error("failed to rollback tx after commit failure", "level", level, "error", rbErr)
		}
		return &TransactionError{Op: "commit", Level: level, Err: commitErr}
	}
	return nil
}

func (c *Conn) execAll(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}
