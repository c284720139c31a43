package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/ncruces/go-sqlite3"
)

// Backend identifies a storage engine.
type Backend string

const (
	// BackendSQLite is the embedded single-writer backend.
	BackendSQLite Backend = "sqlite"
	// BackendPostgres is the multi-writer relational server backend.
	BackendPostgres Backend = "postgres"
)

// ParseBackend converts a configuration value into a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q (want sqlite or postgres)", s)
	}
}

// Dialect is the per-backend strategy used by Conn. It owns every place where
// the two backends differ: transaction entry/exit statements, placeholder
// syntax, no-op upsert detection and constraint error classification.
type Dialect interface {
	Backend() Backend

	// BeginStatements returns the statements that open transaction level
	// `level` (1 = outermost).
	BeginStatements(level int) []string
	CommitStatements(level int) []string
	RollbackStatements(level int) []string

	// Rebind rewrites `?` placeholders into the backend's syntax.
	Rebind(query string) string

	// RowDiffers returns a predicate for an ON CONFLICT DO UPDATE WHERE
	// clause that is true only when the stored row differs from the
	// proposed one in any of the given columns.
	RowDiffers(table string, columns []string) string

	// NextSerial returns an expression yielding a value of table's serial
	// column higher than any it holds, for moving a row to the end.
	NextSerial(table, column string) string

	// IsForeignKeyViolation reports whether err is a referential integrity failure.
	IsForeignKeyViolation(err error) bool

	Schema() string
}

func savepointName(level int) string {
	return "sitesync_sp_" + strconv.Itoa(level)
}

func savepointBegin(level int) []string {
	return []string{"SAVEPOINT " + savepointName(level)}
}

func savepointRelease(level int) []string {
	return []string{"RELEASE SAVEPOINT " + savepointName(level)}
}

func savepointRollback(level int) []string {
	name := savepointName(level)
	return []string{"ROLLBACK TO SAVEPOINT " + name, "RELEASE SAVEPOINT " + name}
}

// sqliteDialect: only one writer may hold the database at a time, so the
// outermost transaction takes the write lock up front with BEGIN IMMEDIATE
// instead of upgrading lazily on the first write.
type sqliteDialect struct{}

func (sqliteDialect) Backend() Backend { return BackendSQLite }

func (sqliteDialect) BeginStatements(level int) []string {
	if level <= 1 {
		return []string{"BEGIN IMMEDIATE"}
	}
	return savepointBegin(level)
}

func (sqliteDialect) CommitStatements(level int) []string {
	if level <= 1 {
		return []string{"COMMIT"}
	}
	return savepointRelease(level)
}

func (sqliteDialect) RollbackStatements(level int) []string {
	if level <= 1 {
		return []string{"ROLLBACK"}
	}
	return savepointRollback(level)
}

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) RowDiffers(table string, columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		parts = append(parts, fmt.Sprintf("%s.%s IS NOT excluded.%s", table, col, col))
	}
	return strings.Join(parts, " OR ")
}

func (sqliteDialect) NextSerial(table, column string) string {
	return fmt.Sprintf("(SELECT COALESCE(MAX(%s), 0) + 1 FROM %s)", column, table)
}

func (sqliteDialect) IsForeignKeyViolation(err error) bool {
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode() == sqlite3.CONSTRAINT_FOREIGNKEY
	}
	return false
}

func (sqliteDialect) Schema() string { return sqliteSchema }

// postgresDialect: any failed statement aborts the enclosing transaction
// until it is rolled back, so nested levels must be savepoints.
type postgresDialect struct{}

func (postgresDialect) Backend() Backend { return BackendPostgres }

func (postgresDialect) BeginStatements(level int) []string {
	if level <= 1 {
		return []string{"BEGIN"}
	}
	return savepointBegin(level)
}

func (postgresDialect) CommitStatements(level int) []string {
	if level <= 1 {
		return []string{"COMMIT"}
	}
	return savepointRelease(level)
}

func (postgresDialect) RollbackStatements(level int) []string {
	if level <= 1 {
		return []string{"ROLLBACK"}
	}
	return savepointRollback(level)
}

// Rebind converts `?` to `$1..$n`, leaving quoted literals untouched.
func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (postgresDialect) RowDiffers(table string, columns []string) string {
	current := make([]string, 0, len(columns))
	proposed := make([]string, 0, len(columns))
	for _, col := range columns {
		current = append(current, table+"."+col)
		proposed = append(proposed, "EXCLUDED."+col)
	}
	return fmt.Sprintf("ROW(%s) IS DISTINCT FROM ROW(%s)",
		strings.Join(current, ", "), strings.Join(proposed, ", "))
}

func (postgresDialect) NextSerial(table, column string) string {
	return fmt.Sprintf("nextval(pg_get_serial_sequence('%s', '%s'))", table, column)
}

func (postgresDialect) IsForeignKeyViolation(err error) bool {
	var perr *pq.Error
	if errors.As(err, &perr) {
		return perr.Code == "23503"
	}
	return false
}

func (postgresDialect) Schema() string { return postgresSchema }

// DialectFor returns the strategy for a backend.
func DialectFor(b Backend) (Dialect, error) {
	switch b {
	case BackendSQLite:
		return sqliteDialect{}, nil
	case BackendPostgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", b)
	}
}
