package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens a schema-initialised SQLite database in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to open test database")
	require.NoError(t, db.InitSchema(context.Background()), "failed to initialize schema")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// setupBackends returns SQLite always, plus PostgreSQL when
// SITESYNC_TEST_POSTGRES_URL is set.
func setupBackends(t *testing.T) map[Backend]*DB {
	t.Helper()

	dbs := map[Backend]*DB{BackendSQLite: setupTestDB(t)}
	if url := os.Getenv("SITESYNC_TEST_POSTGRES_URL"); url != "" {
		ctx := context.Background()
		cfg := DefaultConfig("")
		cfg.Backend = BackendPostgres
		cfg.URL = url
		pg, err := Open(ctx, cfg)
		require.NoError(t, err)
		require.NoError(t, pg.InitSchema(ctx))
		for _, table := range []string{"invoice_line", "invoice", "stock_line", "location", "store", "name", "barcode", "item", "unit", "changelog", "sync_buffer", "key_value_store"} {
			_, err := pg.RawDB().ExecContext(ctx, "DELETE FROM "+table)
			require.NoError(t, err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		dbs[BackendPostgres] = pg
	}
	return dbs
}

func acquire(t *testing.T, db *DB) *Conn {
	t.Helper()
	conn, err := db.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func insertUnit(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, "INSERT INTO unit (id, name) VALUES (?, ?)", id, "unit "+id)
	return err
}

func unitExists(t *testing.T, conn *Conn, id string) bool {
	t.Helper()
	var n int
	err := conn.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM unit WHERE id = ?", id).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestNestedTransactionDepth(t *testing.T) {
	ctx := context.Background()
	conn := acquire(t, setupTestDB(t))

	assert.Equal(t, 0, conn.Depth())
	err := conn.TransactionIsolated(ctx, func(tx *Conn) error {
		assert.Equal(t, 1, tx.Depth())
		err := tx.TransactionIsolated(ctx, func(tx *Conn) error {
			assert.Equal(t, 2, tx.Depth())
			// reuse the current scope
			err := tx.Transaction(ctx, func(tx *Conn) error {
				assert.Equal(t, 2, tx.Depth())
				return nil
			})
			assert.Equal(t, 2, tx.Depth())
			return err
		})
		assert.Equal(t, 1, tx.Depth())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, conn.Depth())

	// A reuse request with no open transaction starts one.
	err = conn.Transaction(ctx, func(tx *Conn) error {
		assert.Equal(t, 1, tx.Depth())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, conn.Depth())
}

func TestIsolatedScopeRollsBackOnlyItself(t *testing.T) {
	ctx := context.Background()
	for backend, db := range setupBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			conn := acquire(t, db)
			errBoom := errors.New("boom")

			err := conn.Transaction(ctx, func(tx *Conn) error {
				require.NoError(t, insertUnit(ctx, tx, "kept"))

				inner := tx.TransactionIsolated(ctx, func(tx *Conn) error {
					require.NoError(t, insertUnit(ctx, tx, "discarded"))
					return errBoom
				})
				assert.ErrorIs(t, inner, errBoom)

				// A failing statement poisons a PostgreSQL transaction unless
				// it ran inside its own savepoint.
				inner = tx.TransactionIsolated(ctx, func(tx *Conn) error {
					return insertUnit(ctx, tx, "kept")
				})
				assert.Error(t, inner)

				return insertUnit(ctx, tx, "after")
			})
			require.NoError(t, err)

			assert.Equal(t, 0, conn.Depth())
			assert.True(t, unitExists(t, conn, "kept"))
			assert.True(t, unitExists(t, conn, "after"))
			assert.False(t, unitExists(t, conn, "discarded"))
		})
	}
}

func TestReusedScopeSharesFailure(t *testing.T) {
	ctx := context.Background()
	conn := acquire(t, setupTestDB(t))
	errBoom := errors.New("boom")

	err := conn.Transaction(ctx, func(tx *Conn) error {
		require.NoError(t, insertUnit(ctx, tx, "outer"))
		return tx.Transaction(ctx, func(tx *Conn) error {
			require.NoError(t, insertUnit(ctx, tx, "inner"))
			return errBoom
		})
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, conn.Depth())
	assert.False(t, unitExists(t, conn, "outer"))
	assert.False(t, unitExists(t, conn, "inner"))
}

func TestCommitFailureIsTransactionError(t *testing.T) {
	ctx := context.Background()
	conn := acquire(t, setupTestDB(t))

	// Closing the transaction behind the coordinator's back makes its own
	// COMMIT fail.
	err := conn.TransactionIsolated(ctx, func(tx *Conn) error {
		_, err := tx.ExecContext(ctx, "COMMIT")
		return err
	})

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "commit", txErr.Op)
	assert.Equal(t, 1, txErr.Level)
	assert.Contains(t, txErr.Error(), "could not be closed at level 1")
	assert.Equal(t, 0, conn.Depth())
}

func TestRollbackFailureKeepsCause(t *testing.T) {
	ctx := context.Background()
	conn := acquire(t, setupTestDB(t))
	errBoom := errors.New("boom")

	err := conn.TransactionIsolated(ctx, func(tx *Conn) error {
		return tx.TransactionIsolated(ctx, func(tx *Conn) error {
			_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName(2))
			require.NoError(t, err)
			return errBoom
		})
	})

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "rollback", txErr.Op)
	assert.Equal(t, 2, txErr.Level)
	assert.ErrorIs(t, txErr.Cause, errBoom)
	assert.Equal(t, 0, conn.Depth())
}

func TestPanicRollsBackScope(t *testing.T) {
	ctx := context.Background()
	conn := acquire(t, setupTestDB(t))

	assert.Panics(t, func() {
		_ = conn.TransactionIsolated(ctx, func(tx *Conn) error {
			require.NoError(t, insertUnit(ctx, tx, "panicked"))
			panic("boom")
		})
	})
	assert.Equal(t, 0, conn.Depth())
	assert.False(t, unitExists(t, conn, "panicked"))
}

func TestOutermostSQLiteTransactionHoldsWriteLock(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	conn := acquire(t, db)
	other := acquire(t, db)
	_, err := other.ExecContext(ctx, "PRAGMA busy_timeout = 0")
	require.NoError(t, err)

	err = conn.TransactionIsolated(ctx, func(tx *Conn) error {
		// No write has happened yet, but BEGIN IMMEDIATE already took the lock.
		return other.TransactionIsolated(ctx, func(*Conn) error { return nil })
	})

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "begin", txErr.Op)
	assert.Equal(t, 0, conn.Depth())
	assert.Equal(t, 0, other.Depth())
}

func TestForeignKeyViolationDetected(t *testing.T) {
	ctx := context.Background()
	for backend, db := range setupBackends(t) {
		t.Run(string(backend), func(t *testing.T) {
			conn := acquire(t, db)
			_, err := conn.ExecContext(ctx,
				"INSERT INTO item (id, name, code, unit_id, type) VALUES (?, ?, ?, ?, ?)",
				"item", "Item", "I", "missing-unit", "stock")
			require.Error(t, err)
			assert.True(t, conn.Dialect().IsForeignKeyViolation(err), "expected FK violation, got %v", err)
		})
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.InitSchema(context.Background()))
}
