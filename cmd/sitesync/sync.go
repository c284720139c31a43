package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/importer"
	"github.com/mschirtzinger/sitesync/internal/integration"
	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

const defaultConfigFile = "sitesync.yaml"

const sampleConfig = `# sitesync configuration. Every key can also be set with a SITESYNC_ env var,
# e.g. SITESYNC_DATABASE_BACKEND=postgres.
database:
  backend: sqlite
  path: .sitesync/site.db
sync:
  site_id: 0
  progress_step: 100
  inbox_dir: .sitesync/inbox
log:
  level: info
  format: text
`

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Create the site database, inbox and a starter config",
	Long: `Create the site database schema and the inbox directory.

A starter sitesync.yaml is written to the working directory unless one
already exists or --config points elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSite(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := os.MkdirAll(cfg.Sync.InboxDir, 0o755); err != nil {
			return fmt.Errorf("failed to create inbox: %w", err)
		}

		out := cmd.OutOrStdout()
		if configPath == "" {
			if _, err := os.Stat(defaultConfigFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(defaultConfigFile, []byte(sampleConfig), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", defaultConfigFile, err)
				}
				fmt.Fprintf(out, "%s Wrote %s\n", renderPass("✓"), defaultConfigFile)
			}
		}

		fmt.Fprintf(out, "%s Site database ready (%s)\n", renderPass("✓"), describeDatabase())
		fmt.Fprintf(out, "   Inbox: %s\n", cfg.Sync.InboxDir)
		return nil
	},
}

var stageCmd = &cobra.Command{
	Use:     "stage <file>...",
	GroupID: "sync",
	Short:   "Stage batch files for integration",
	Long: `Read batch files and add their records to the staging table.

Supported formats, chosen by extension:
  .jsonl, .ndjson   one record object per line
  .yaml, .yml       a list under "records"
  .toml             [[records]] tables

Each file is staged in one transaction: a file with an invalid record stages
nothing. Re-staging a record id resets its previous outcome.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSite(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		out := cmd.OutOrStdout()
		total := 0
		for _, path := range args {
			n, err := importer.ImportFile(ctx, conn, s.store, path)
			if err != nil {
				return err
			}
			total += n
			fmt.Fprintf(out, "%s Staged %d records from %s\n", renderPass("✓"), n, filepath.Base(path))
		}
		if len(args) > 1 {
			fmt.Fprintf(out, "   Total: %d records\n", total)
		}
		return nil
	},
}

var integrateCmd = &cobra.Command{
	Use:     "integrate",
	GroupID: "sync",
	Short:   "Integrate staged records into the site database",
	Long: `Integrate every pending staged record, in table dependency order.

Each record runs in its own savepoint: a record that fails is rolled back
alone, marked with its error and counted. A failure of the transaction
machinery itself aborts the run.

Examples:
  sitesync integrate
  sitesync integrate --retry-errors     # re-queue previously failed records
  sitesync integrate --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		retry, _ := cmd.Flags().GetBool("retry-errors")
		isolated, _ := cmd.Flags().GetBool("isolated")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		s, err := openSite(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if retry {
			n, err := s.store.ResetErrors(ctx, conn)
			if err != nil {
				return err
			}
			logger.Info("re-queued errored records", "count", n)
		}

		integrator := integration.New(s.registry, s.store, integration.Config{
			ProgressStep:     cfg.Sync.ProgressStep,
			BatchTransaction: cfg.Sync.BatchTransaction && !isolated,
			Sink:             integration.LogSink{Logger: logger},
			Logger:           logger,
		})

		var result *integration.BatchResult
		err = runLocked(ctx, func() error {
			var err error
			result, err = integrator.IntegrateStaged(ctx, conn)
			return err
		})
		if err != nil {
			switch {
			case result == nil:
			case result.RolledBack:
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", renderWarn("⚠"), result.Summary())
			default:
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s before abort\n", renderWarn("⚠"), result.Summary())
			}
			return err
		}

		if jsonOutput {
			return writeJSON(cmd, result)
		}
		printResult(cmd, result)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Collect local changes as a batch file for another site",
	Long: `Translate changelog entries past the push cursor into wire records and
write them as JSON lines, ready for 'sitesync stage' on the receiving site.

The push cursor is advanced after the file is written, unless --peek is set.
Changes that were integrated from --exclude-site are not pushed back to it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("out")
		limit, _ := cmd.Flags().GetInt("limit")
		excludeSite, _ := cmd.Flags().GetInt32("exclude-site")
		peek, _ := cmd.Flags().GetBool("peek")
		if limit <= 0 {
			limit = cfg.Sync.PushLimit
		}

		ctx := cmd.Context()
		s, err := openSite(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		cursor, err := integration.LoadPushCursor(ctx, conn)
		if err != nil {
			return err
		}
		var exclude *int32
		if excludeSite != 0 {
			exclude = &excludeSite
		}
		batch, err := integration.NewOutgoing(s.registry, logger).Collect(ctx, conn, cursor, limit, exclude)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", outPath, err)
			}
			defer f.Close()
			w = f
		}
		enc := json.NewEncoder(w)
		origin := cfg.SiteID()
		for _, rec := range batch.Records {
			if err := enc.Encode(rec.Staged(origin)); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}

		if !peek && batch.LastCursor > cursor {
			if err := integration.SavePushCursor(ctx, conn, batch.LastCursor); err != nil {
				return err
			}
		}
		if outPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %d records to %s (cursor %d → %d)\n",
				renderPass("✓"), len(batch.Records), outPath, cursor, batch.LastCursor)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show staging counts and sync cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		showErrors, _ := cmd.Flags().GetBool("errors")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		s, err := openSite(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		conn, err := s.db.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		st, err := loadStatus(ctx, s, conn)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd, st)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\n%s Sync Status\n\n", renderAccent("📊"))
		fmt.Fprintf(out, "Database:    %s\n", describeDatabase())
		if cfg.Sync.SiteID != 0 {
			fmt.Fprintf(out, "Site:        %d\n", cfg.Sync.SiteID)
		}
		fmt.Fprintf(out, "Pending:     %d\n", st.Staging.Pending)
		fmt.Fprintf(out, "Integrated:  %d\n", st.Staging.Integrated)
		errored := fmt.Sprintf("%d", st.Staging.Errored)
		if st.Staging.Errored > 0 {
			errored = renderWarn(errored)
		}
		fmt.Fprintf(out, "Errored:     %s\n", errored)
		fmt.Fprintf(out, "Changelog:   cursor %d, pushed to %d\n\n", st.ChangelogCursor, st.PushCursor)

		if showErrors && st.Staging.Errored > 0 {
			records, err := s.store.Errored(ctx, conn)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(out, "  %s %s\n      %s\n", renderFail("✗"), rec, renderMuted(rec.IntegrationError))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	integrateCmd.Flags().Bool("retry-errors", false, "Re-queue previously errored records first")
	integrateCmd.Flags().Bool("isolated", false, "Commit each record separately instead of in one batch transaction")
	integrateCmd.Flags().Bool("json", false, "Output the batch result as JSON")

	pushCmd.Flags().StringP("out", "o", "", "Write records to this file instead of stdout")
	pushCmd.Flags().Int("limit", 0, "Maximum changelog entries to collect (default: sync.push_limit)")
	pushCmd.Flags().Int32("exclude-site", 0, "Skip changes that were integrated from this site")
	pushCmd.Flags().Bool("peek", false, "Do not advance the push cursor")

	statusCmd.Flags().Bool("errors", false, "List errored records")
	statusCmd.Flags().Bool("json", false, "Output status as JSON")

	rootCmd.AddCommand(initCmd, stageCmd, integrateCmd, pushCmd, statusCmd)
}

func describeDatabase() string {
	if cfg.Database.Backend == string(storage.BackendPostgres) {
		return "postgres"
	}
	return "sqlite " + cfg.Database.Path
}

func printResult(cmd *cobra.Command, result *integration.BatchResult) {
	out := cmd.OutOrStdout()
	mark := renderPass("✓")
	if result.ErrorCount() > 0 {
		mark = renderWarn("⚠")
	}
	fmt.Fprintf(out, "%s %s in %v\n", mark, result.Summary(), result.Duration.Round(time.Millisecond))
	for _, name := range result.TableNames() {
		t := result.Tables[name]
		fmt.Fprintf(out, "   %-14s %d integrated", name, t.Integrated)
		if t.Errors > 0 {
			fmt.Fprintf(out, ", %s", renderWarn(fmt.Sprintf("%d errors", t.Errors)))
		}
		fmt.Fprintln(out)
	}
	e := result.Errors
	if result.ErrorCount() > 0 {
		fmt.Fprintf(out, "   %s\n", renderMuted(fmt.Sprintf(
			"unmatched %d, ignored %d, translation %d, integration %d; see 'sitesync status --errors'",
			e.Unmatched, e.Ignored, e.Translation, e.Integration)))
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statusReport is shared by the status command and the dashboard.
type statusReport struct {
	Staging         staging.Counts `json:"staging"`
	ChangelogCursor int64          `json:"changelog_cursor"`
	PushCursor      int64          `json:"push_cursor"`
}

func loadStatus(ctx context.Context, s *site, conn *storage.Conn) (*statusReport, error) {
	counts, err := s.store.Counts(ctx, conn)
	if err != nil {
		return nil, err
	}
	latest, err := repository.LatestCursor(ctx, conn)
	if err != nil {
		return nil, err
	}
	pushed, err := integration.LoadPushCursor(ctx, conn)
	if err != nil {
		return nil, err
	}
	return &statusReport{Staging: counts, ChangelogCursor: latest, PushCursor: pushed}, nil
}
