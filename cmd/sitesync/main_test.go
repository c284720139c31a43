package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/sitesync/internal/integration"
)

const siteBatch = `{"table_name":"item","record_id":"i1","action":"upsert","data":{"ID":"i1","item_name":"Gauze","code":"GZ","unit_ID":"u1","type_of":"general"}}
{"table_name":"unit","record_id":"u1","action":"upsert","data":{"ID":"u1","units":"Box"}}
{"table_name":"item","record_id":"i2","action":"upsert","data":{"ID":"i2","item_name":"Ghost","code":"GH","unit_ID":"missing","type_of":"general"}}
`

// writeConfig writes a config for a site database under dir.
func writeConfig(t *testing.T, dir string, siteID int) string {
	t.Helper()
	path := filepath.Join(dir, "sitesync.yaml")
	content := fmt.Sprintf(`database:
  path: %s
sync:
  site_id: %d
  inbox_dir: %s
log:
  level: error
`, filepath.Join(dir, "site.db"), siteID, filepath.Join(dir, "inbox"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// run executes the CLI and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStageIntegratePushStatus(t *testing.T) {
	senderDir, receiverDir := t.TempDir(), t.TempDir()
	sender := writeConfig(t, senderDir, 1)
	receiver := writeConfig(t, receiverDir, 2)

	batch := filepath.Join(senderDir, "batch.jsonl")
	require.NoError(t, os.WriteFile(batch, []byte(siteBatch), 0o600))

	out, err := run(t, "--config", sender, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Site database ready")
	assert.DirExists(t, filepath.Join(senderDir, "inbox"))

	out, err = run(t, "--config", sender, "stage", batch)
	require.NoError(t, err)
	assert.Contains(t, out, "Staged 3 records")

	out, err = run(t, "--config", sender, "integrate", "--json")
	require.NoError(t, err)
	var result integration.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Errors.Integration)
	assert.Equal(t, "2 of 3 records integrated, 1 errors", result.Summary())

	out, err = run(t, "--config", sender, "status", "--json")
	require.NoError(t, err)
	var st statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.Staging.Integrated)
	assert.Equal(t, 1, st.Staging.Errored)
	assert.EqualValues(t, 2, st.ChangelogCursor)
	assert.Zero(t, st.PushCursor)

	out, err = run(t, "--config", sender, "status", "--errors")
	require.NoError(t, err)
	assert.Contains(t, out, "i2")

	pushed := filepath.Join(receiverDir, "from-sender.jsonl")
	out, err = run(t, "--config", sender, "push", "--out", pushed)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 records")

	// Nothing new to push.
	out, err = run(t, "--config", sender, "push")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run(t, "--config", receiver, "stage", pushed)
	require.NoError(t, err)
	out, err = run(t, "--config", receiver, "integrate")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 records integrated, 0 errors")

	// Changes received from site 1 are not pushed back to it.
	out, err = run(t, "--config", receiver, "push", "--exclude-site", "1", "--peek")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIntegrateRetryErrors(t *testing.T) {
	dir := t.TempDir()
	config := writeConfig(t, dir, 0)
	batch := filepath.Join(dir, "batch.jsonl")
	require.NoError(t, os.WriteFile(batch, []byte(siteBatch), 0o600))

	_, err := run(t, "--config", config, "stage", batch)
	require.NoError(t, err)
	_, err = run(t, "--config", config, "integrate")
	require.NoError(t, err)

	fix := filepath.Join(dir, "fix.jsonl")
	require.NoError(t, os.WriteFile(fix, []byte(
		`{"table_name":"unit","record_id":"missing","action":"upsert","data":{"ID":"missing","units":"Each"}}`+"\n"), 0o600))
	_, err = run(t, "--config", config, "stage", fix)
	require.NoError(t, err)

	out, err := run(t, "--config", config, "integrate", "--retry-errors", "--isolated", "--json")
	require.NoError(t, err)
	var result integration.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.IntegratedCount())
}

func TestStageRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	config := writeConfig(t, dir, 0)
	path := filepath.Join(dir, "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b"), 0o600))

	_, err := run(t, "--config", config, "stage", path)
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  backend: oracle\n"), 0o600))

	_, err := run(t, "--config", path, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestBenchmarkCommand(t *testing.T) {
	out, err := run(t, "benchmark", "--items", "5", "--lines", "1", "--mode", "batch", "--dir", t.TempDir(), "--json")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["success"])
}
