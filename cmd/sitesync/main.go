// Command sitesync stages and integrates sync records for one site database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/config"
	"github.com/mschirtzinger/sitesync/internal/logging"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
	"github.com/mschirtzinger/sitesync/internal/translations"
)

var (
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	closeLog   func() error
)

var rootCmd = &cobra.Command{
	Use:   "sitesync",
	Short: "Offline-first sync integration for a site database",
	Long: `sitesync translates records received from remote sites into the local
site database, and collects local changes to push back.

Records are staged from batch files (.jsonl, .yaml, .toml), then integrated
in table dependency order. Each record succeeds or fails on its own; failed
records keep their error in the staging table for inspection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		logger, closeLog = logging.Setup(cfg.Logging())
		logger.Debug("configuration loaded", "config", cfg.String())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: sitesync.yaml in the working directory)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)
}

// site is the set of handles most commands need.
type site struct {
	db       *storage.DB
	registry *translations.Registry
	store    *staging.Store
}

// openSite opens the configured database and makes sure the schema exists.
func openSite(ctx context.Context) (*site, error) {
	storageConfig := cfg.Storage()
	storageConfig.Logger = logger
	db, err := storage.Open(ctx, storageConfig)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	registry := translations.All()
	store := staging.NewStore(registry.TableOrder())
	store.BatchSize = cfg.Sync.BatchSize
	return &site{db: db, registry: registry, store: store}, nil
}

func (s *site) Close() error {
	return s.db.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		os.Exit(1)
	}
}
