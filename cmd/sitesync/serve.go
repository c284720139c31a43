package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/daemon"
	"github.com/mschirtzinger/sitesync/internal/dashboard"
	"github.com/mschirtzinger/sitesync/internal/integration"
	"github.com/mschirtzinger/sitesync/internal/runlock"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Watch the inbox and integrate batch files as they arrive",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Drains the inbox on start and every sync.interval
  2. Watches the inbox for new batch files
  3. Stages each file and moves it to processed/ or failed/
  4. Integrates staged records under the run lock

With lock.redis_addr set, the run lock is held in Redis so several
processes can share one site database. With dashboard.enabled (or
--dashboard), progress is broadcast over a WebSocket:

  ws://<dashboard.addr>/ws     progress, record_error, batch_complete
  http://<dashboard.addr>/status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("dashboard") {
			cfg.Dashboard.Enabled, _ = cmd.Flags().GetBool("dashboard")
		}

		ctx := cmd.Context()
		s, err := openSite(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		locker, closeLocker, err := newLocker(ctx)
		if err != nil {
			return err
		}
		defer closeLocker()

		sinks := integration.MultiSink{integration.LogSink{Logger: logger}}
		out := cmd.OutOrStdout()
		if cfg.Dashboard.Enabled {
			server := dashboard.NewServer(dashboard.Config{
				Addr:   cfg.Dashboard.Addr,
				Logger: logger,
				Status: func(ctx context.Context) (any, error) {
					conn, err := s.db.Acquire(ctx)
					if err != nil {
						return nil, err
					}
					defer conn.Close()
					return loadStatus(ctx, s, conn)
				},
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()
			sinks = append(sinks, server)
			fmt.Fprintf(out, "   Dashboard: http://%s (ws://%s/ws)\n", server.Addr(), server.Addr())
		}

		integrator := integration.New(s.registry, s.store, integration.Config{
			ProgressStep:     cfg.Sync.ProgressStep,
			BatchTransaction: cfg.Sync.BatchTransaction,
			Sink:             sinks,
			Logger:           logger,
		})

		d, err := daemon.New(s.db, s.store, integrator, locker, daemon.Config{
			Inbox:            cfg.Sync.InboxDir,
			DebounceInterval: cfg.Sync.Debounce,
			DrainInterval:    cfg.Sync.Interval,
			LockName:         cfg.Lock.Name,
			LockTTL:          cfg.Lock.TTL,
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s Starting sync daemon...\n", renderAccent("🚀"))
		fmt.Fprintf(out, "   Inbox: %s\n", cfg.Sync.InboxDir)
		fmt.Fprintf(out, "   Database: %s\n", describeDatabase())
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		if last := d.LastResult(); last != nil {
			fmt.Fprintf(out, "%s Last run: %s\n", renderMuted("·"), last.Summary())
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("dashboard", false, "Serve the progress dashboard (overrides dashboard.enabled)")
	rootCmd.AddCommand(serveCmd)
}

// newLocker returns the Redis run lock when configured, otherwise an
// in-process one.
func newLocker(ctx context.Context) (runlock.Locker, func(), error) {
	if cfg.Lock.RedisAddr == "" {
		return runlock.NewLocal(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	lock := runlock.NewRedis(client)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := lock.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis run lock unavailable at %s: %w", cfg.Lock.RedisAddr, err)
	}
	logger.Debug("using redis run lock", "addr", cfg.Lock.RedisAddr, "owner", lock.OwnerID())
	return lock, func() { _ = client.Close() }, nil
}

// runLocked runs fn under the configured run lock.
func runLocked(ctx context.Context, fn func() error) error {
	locker, closeLocker, err := newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()
	err = runlock.Run(ctx, locker, cfg.Lock.Name, cfg.Lock.TTL, func(context.Context) error {
		return fn()
	})
	if errors.Is(err, runlock.ErrLocked) {
		return fmt.Errorf("another integration run holds the %q lock", cfg.Lock.Name)
	}
	return err
}
