// Package daemon runs sync integration in the background.
//
// The daemon:
//  1. Watches an inbox directory for batch files
//  2. Stages each new file and moves it to processed/ or failed/
//  3. Integrates staged records under the run lock
//  4. Drains the inbox on start and on a fixed interval
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/sitesync/internal/importer"
	"github.com/mschirtzinger/sitesync/internal/integration"
	"github.com/mschirtzinger/sitesync/internal/runlock"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Config holds configuration for the daemon.
type Config struct {
	// Inbox is the directory watched for batch files.
	Inbox string

	// DebounceInterval is how long a file must be quiet before it is
	// imported, so partially written files are not read.
	DebounceInterval time.Duration

	// DrainInterval is how often the inbox is drained regardless of events.
	// Zero disables the periodic drain.
	DrainInterval time.Duration

	// LockName and LockTTL configure the run lock.
	LockName string
	LockTTL  time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(inbox string) Config {
	return Config{
		Inbox:            inbox,
		DebounceInterval: 500 * time.Millisecond,
		DrainInterval:    time.Minute,
		LockName:         "integrate",
		LockTTL:          10 * time.Minute,
	}
}

// Daemon stages inbox files and integrates them.
type Daemon struct {
	db         *storage.DB
	store      *staging.Store
	integrator *integration.Integrator
	locker     runlock.Locker
	config     Config
	logger     *slog.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	// runMu serialises drains within this process; the run lock covers
	// other processes.
	runMu      sync.Mutex
	lastResult *integration.BatchResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Use Start to begin watching.
func New(db *storage.DB, store *staging.Store, integrator *integration.Integrator, locker runlock.Locker, config Config) (*Daemon, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if store == nil || integrator == nil {
		return nil, fmt.Errorf("staging store and integrator are required")
	}
	if config.Inbox == "" {
		return nil, fmt.Errorf("inbox cannot be empty")
	}
	if locker == nil {
		locker = runlock.NewLocal()
	}
	defaults := DefaultConfig(config.Inbox)
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.LockName == "" {
		config.LockName = defaults.LockName
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		db:          db,
		store:       store,
		integrator:  integrator,
		locker:      locker,
		config:      config,
		logger:      config.Logger.With("component", "daemon"),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start drains the inbox, then watches it until ctx is cancelled or Stop
// is called.
func (d *Daemon) Start(ctx context.Context) error {
	for _, dir := range []string{d.config.Inbox, d.inboxSub(processedDir), d.inboxSub(failedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	d.logger.Info("starting daemon", "inbox", d.config.Inbox)
	if _, err := d.Drain(ctx); err != nil {
		return fmt.Errorf("initial drain failed: %w", err)
	}

	if err := d.watcher.Add(d.config.Inbox); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.DrainInterval > 0 {
		d.wg.Add(1)
		go d.periodicDrain()
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for in-flight work.
func (d *Daemon) Stop() error {
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.logger.Warn("error closing watcher", "error", err)
	}
	d.wg.Wait()
	d.logger.Info("daemon stopped")
	return nil
}

// LastResult returns the result of the most recent integration run.
func (d *Daemon) LastResult() *integration.BatchResult {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.lastResult
}

// Drain imports every batch file in the inbox, oldest name first, then
// integrates. It returns nil without error when another process holds the
// run lock.
func (d *Daemon) Drain(ctx context.Context) (*integration.BatchResult, error) {
	entries, err := os.ReadDir(d.config.Inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && importer.IsBatchFile(e.Name()) {
			paths = append(paths, filepath.Join(d.config.Inbox, e.Name()))
		}
	}
	sort.Strings(paths)
	return d.process(ctx, paths)
}

// process stages paths and runs one integration.
func (d *Daemon) process(ctx context.Context, paths []string) (*integration.BatchResult, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	for _, path := range paths {
		d.importFile(ctx, path)
	}

	var result *integration.BatchResult
	err := runlock.Run(ctx, d.locker, d.config.LockName, d.config.LockTTL, func(ctx context.Context) error {
		conn, err := d.db.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()
		result, err = d.integrator.IntegrateStaged(ctx, conn)
		return err
	})
	if errors.Is(err, runlock.ErrLocked) {
		d.logger.Info("integration skipped, run lock held elsewhere")
		return nil, nil
	}
	if result != nil {
		d.lastResult = result
	}
	return result, err
}

// importFile stages one file and files it under processed/ or failed/.
func (d *Daemon) importFile(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Moved or deleted since the event.
		return
	}

	conn, err := d.db.Acquire(ctx)
	if err != nil {
		d.logger.Error("failed to acquire connection", "error", err)
		return
	}
	n, err := importer.ImportFile(ctx, conn, d.store, path)
	_ = conn.Close()

	dest := processedDir
	if err != nil {
		d.logger.Warn("failed to import batch file", "file", filepath.Base(path), "error", err)
		dest = failedDir
	} else {
		d.logger.Info("staged batch file", "file", filepath.Base(path), "records", n)
	}
	if err := d.move(path, dest); err != nil {
		d.logger.Error("failed to move batch file", "file", filepath.Base(path), "error", err)
	}
}

func (d *Daemon) inboxSub(name string) string {
	return filepath.Join(d.config.Inbox, name)
}

// move renames path into the inbox subdirectory, prefixing a timestamp so
// repeated file names do not collide.
func (d *Daemon) move(path, sub string) error {
	dir := d.inboxSub(sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := time.Now().UTC().Format("20060102T150405.000000000") + "-" + filepath.Base(path)
	return os.Rename(path, filepath.Join(dir, name))
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Dir(event.Name) != filepath.Clean(d.config.Inbox) || !importer.IsBatchFile(event.Name) {
				continue
			}
			d.logger.Debug("file event", "op", event.Op.String(), "file", event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// queueChange records an event; repeated events push the deadline back.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have been quiet for
// the debounce interval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}
	sort.Strings(ready)
	if _, err := d.process(d.ctx, ready); err != nil {
		d.logger.Error("integration failed", "error", err)
	}
}

func (d *Daemon) periodicDrain() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Drain(d.ctx); err != nil {
				d.logger.Error("periodic drain failed", "error", err)
			}
		}
	}
}
