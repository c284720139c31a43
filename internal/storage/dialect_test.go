package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendSQLite, false},
		{"SQLite", BackendSQLite, false},
		{"postgresql", BackendPostgres, false},
		{" pg ", BackendPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestPostgresRebind(t *testing.T) {
	d := postgresDialect{}
	assert.Equal(t,
		"SELECT * FROM item WHERE id = $1 AND name <> '?' AND code = $2",
		d.Rebind("SELECT * FROM item WHERE id = ? AND name <> '?' AND code = ?"))
	assert.Equal(t, "SELECT 1", d.Rebind("SELECT 1"))
}

func TestSQLiteRebindIsIdentity(t *testing.T) {
	q := "INSERT INTO unit (id) VALUES (?)"
	assert.Equal(t, q, sqliteDialect{}.Rebind(q))
}

func TestRowDiffers(t *testing.T) {
	cols := []string{"name", "code"}
	assert.Equal(t,
		"item.name IS NOT excluded.name OR item.code IS NOT excluded.code",
		sqliteDialect{}.RowDiffers("item", cols))
	assert.Equal(t,
		"ROW(item.name, item.code) IS DISTINCT FROM ROW(EXCLUDED.name, EXCLUDED.code)",
		postgresDialect{}.RowDiffers("item", cols))
}

func TestTransactionStatements(t *testing.T) {
	for _, d := range []Dialect{sqliteDialect{}, postgresDialect{}} {
		assert.Equal(t, []string{"SAVEPOINT sitesync_sp_2"}, d.BeginStatements(2))
		assert.Equal(t, []string{"RELEASE SAVEPOINT sitesync_sp_3"}, d.CommitStatements(3))
		assert.Equal(t,
			[]string{"ROLLBACK TO SAVEPOINT sitesync_sp_2", "RELEASE SAVEPOINT sitesync_sp_2"},
			d.RollbackStatements(2))
		assert.Equal(t, []string{"COMMIT"}, d.CommitStatements(1))
		assert.Equal(t, []string{"ROLLBACK"}, d.RollbackStatements(1))
	}
	assert.Equal(t, []string{"BEGIN IMMEDIATE"}, sqliteDialect{}.BeginStatements(1))
	assert.Equal(t, []string{"BEGIN"}, postgresDialect{}.BeginStatements(1))
}

func TestSplitStatements(t *testing.T) {
	script := `-- comment
CREATE TABLE a (id TEXT);

-- another
CREATE INDEX a_idx ON a (id);
`
	got := splitStatements(script)
	assert.Equal(t, []string{"CREATE TABLE a (id TEXT)", "CREATE INDEX a_idx ON a (id)"}, got)
}

func TestNextSerial(t *testing.T) {
	assert.Equal(t, "(SELECT COALESCE(MAX(seq), 0) + 1 FROM sync_buffer)",
		sqliteDialect{}.NextSerial("sync_buffer", "seq"))
	assert.Equal(t, "nextval(pg_get_serial_sequence('sync_buffer', 'seq'))",
		postgresDialect{}.NextSerial("sync_buffer", "seq"))
}
