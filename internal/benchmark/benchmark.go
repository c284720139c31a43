// Package benchmark measures integration throughput on a synthetic site
// workload.
//
// A run stages a generated batch into a fresh SQLite database and
// integrates it, timing each record through the progress sink. Compare
// runs the same workload with a single batch transaction and with one
// transaction per record.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/mschirtzinger/sitesync/internal/integration"
	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
	"github.com/mschirtzinger/sitesync/internal/translations"
)

// Transaction modes.
const (
	ModeBatch    = "batch"
	ModeIsolated = "isolated"
)

// BenchmarkConfig defines the parameters for a benchmark run.
type BenchmarkConfig struct {
	// NumItems is the number of items in the workload
	NumItems int

	// StockLinesPerItem is how many stock lines each item gets
	StockLinesPerItem int

	// Mode is ModeBatch (one outer transaction) or ModeIsolated
	// (one transaction per record)
	Mode string

	// Dir holds the benchmark database; a temp dir when empty
	Dir string
}

// DefaultConfig returns a benchmark configuration with sensible defaults.
func DefaultConfig() BenchmarkConfig {
	return BenchmarkConfig{
		NumItems:          500,
		StockLinesPerItem: 4,
		Mode:              ModeBatch,
	}
}

// Validate checks the configuration.
func (c BenchmarkConfig) Validate() error {
	if c.NumItems <= 0 {
		return fmt.Errorf("items must be positive")
	}
	if c.StockLinesPerItem < 0 {
		return fmt.Errorf("stock lines per item must be non-negative")
	}
	if c.Mode != ModeBatch && c.Mode != ModeIsolated {
		return fmt.Errorf("mode must be %q or %q", ModeBatch, ModeIsolated)
	}
	return nil
}

// BenchmarkResult captures all metrics from a benchmark run.
type BenchmarkResult struct {
	Config BenchmarkConfig

	// Latency per integrated record
	Latency LatencyMetrics

	Throughput ThroughputMetrics
	Resources  ResourceMetrics
	Database   DatabaseMetrics

	TotalDuration time.Duration
	ErrorCount    int
	ErrorRate     float64
	Success       bool
}

// LatencyMetrics captures per-record latency statistics.
type LatencyMetrics struct {
	Min  time.Duration
	P50  time.Duration // Median
	Mean time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration

	Durations []time.Duration
}

// ThroughputMetrics captures records-per-second metrics.
type ThroughputMetrics struct {
	RecordsPerSecond float64
	TotalRecords     int
}

// ResourceMetrics captures memory usage.
type ResourceMetrics struct {
	MemoryBeforeBytes uint64
	MemoryAfterBytes  uint64
	MemoryPeakBytes   uint64
	MemoryDeltaBytes  uint64
}

// DatabaseMetrics captures database statistics.
type DatabaseMetrics struct {
	SizeBytes        int64
	StageTime        time.Duration
	IntegrateTime    time.Duration
	ChangelogEntries int
}

// latencySink times the gap between consecutive progress reports. With a
// progress step of 1 each gap is one record.
type latencySink struct {
	last      time.Time
	durations []time.Duration
}

func (s *latencySink) Progress(_ context.Context, _ integration.Step, remaining int) {
	now := time.Now()
	if remaining > 0 {
		s.durations = append(s.durations, now.Sub(s.last))
	}
	s.last = now
}

// Run executes one benchmark.
func Run(ctx context.Context, config BenchmarkConfig) (*BenchmarkResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dir := config.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "sitesync-bench-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create benchmark dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}
	path := filepath.Join(dir, "bench-"+config.Mode+".db")
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}

	memBefore := GetMemoryStats()
	start := time.Now()

	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		return nil, err
	}
	conn, err := db.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	registry := translations.All()
	store := staging.NewStore(registry.TableOrder())
	records := GenerateWorkload(config.NumItems, config.StockLinesPerItem)

	stageStart := time.Now()
	if err := conn.Transaction(ctx, func(tx *storage.Conn) error {
		return store.Stage(ctx, tx, records...)
	}); err != nil {
		return nil, fmt.Errorf("failed to stage workload: %w", err)
	}
	stageTime := time.Since(stageStart)

	sink := &latencySink{}
	integrator := integration.New(registry, store, integration.Config{
		ProgressStep:     1,
		BatchTransaction: config.Mode == ModeBatch,
		Sink:             sink,
	})

	integrateStart := time.Now()
	sink.last = integrateStart
	batch, err := integrator.IntegrateStaged(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("integration failed: %w", err)
	}
	integrateTime := time.Since(integrateStart)

	changelog, err := repository.LatestCursor(ctx, conn)
	if err != nil {
		return nil, err
	}

	memAfter := GetMemoryStats()
	var size int64
	for _, suffix := range []string{"", "-wal"} {
		if info, err := os.Stat(path + suffix); err == nil {
			size += info.Size()
		}
	}

	result := &BenchmarkResult{
		Config:  config,
		Latency: ComputeStats(sink.durations),
		Throughput: ThroughputMetrics{
			TotalRecords: batch.Total,
		},
		Resources: CompareMemoryStats(memBefore, memAfter),
		Database: DatabaseMetrics{
			SizeBytes:        size,
			StageTime:        stageTime,
			IntegrateTime:    integrateTime,
			ChangelogEntries: int(changelog),
		},
		TotalDuration: time.Since(start),
		ErrorCount:    batch.ErrorCount(),
	}
	if integrateTime > 0 {
		result.Throughput.RecordsPerSecond = float64(batch.Total) / integrateTime.Seconds()
	}
	if batch.Total > 0 {
		result.ErrorRate = float64(result.ErrorCount) / float64(batch.Total)
	}
	result.Success = result.ErrorCount == 0
	return result, nil
}

// ComputeStats calculates statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyMetrics{
		Min:       sorted[0],
		P50:       sorted[len(sorted)*50/100],
		Mean:      sum / time.Duration(len(sorted)),
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		Max:       sorted[len(sorted)-1],
		Durations: sorted,
	}
}

// GetMemoryStats returns current memory usage statistics.
func GetMemoryStats() ResourceMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ResourceMetrics{
		MemoryBeforeBytes: m.Alloc,
		MemoryAfterBytes:  m.Alloc,
		MemoryPeakBytes:   m.Sys,
	}
}

// CompareMemoryStats computes the delta between before and after memory stats.
func CompareMemoryStats(before, after ResourceMetrics) ResourceMetrics {
	var delta uint64
	if after.MemoryAfterBytes > before.MemoryBeforeBytes {
		delta = after.MemoryAfterBytes - before.MemoryBeforeBytes
	}
	return ResourceMetrics{
		MemoryBeforeBytes: before.MemoryBeforeBytes,
		MemoryAfterBytes:  after.MemoryAfterBytes,
		MemoryPeakBytes:   after.MemoryPeakBytes,
		MemoryDeltaBytes:  delta,
	}
}

// FormatBytes formats bytes into a human-readable string.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration into a human-readable string.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// PrintResult writes a formatted benchmark result.
func PrintResult(w io.Writer, result *BenchmarkResult) {
	fmt.Fprintf(w, "\n=== Benchmark Results (%s mode) ===\n\n", result.Config.Mode)

	fmt.Fprintf(w, "Workload:\n")
	fmt.Fprintf(w, "  Items:             %d\n", result.Config.NumItems)
	fmt.Fprintf(w, "  Stock lines/item:  %d\n", result.Config.StockLinesPerItem)
	fmt.Fprintf(w, "  Records:           %d\n\n", result.Throughput.TotalRecords)

	fmt.Fprintf(w, "Latency per record:\n")
	fmt.Fprintf(w, "  Min:       %s\n", FormatDuration(result.Latency.Min))
	fmt.Fprintf(w, "  P50:       %s\n", FormatDuration(result.Latency.P50))
	fmt.Fprintf(w, "  Mean:      %s\n", FormatDuration(result.Latency.Mean))
	fmt.Fprintf(w, "  P95:       %s\n", FormatDuration(result.Latency.P95))
	fmt.Fprintf(w, "  P99:       %s\n", FormatDuration(result.Latency.P99))
	fmt.Fprintf(w, "  Max:       %s\n\n", FormatDuration(result.Latency.Max))

	fmt.Fprintf(w, "Throughput:\n")
	fmt.Fprintf(w, "  Records/sec:       %.2f\n\n", result.Throughput.RecordsPerSecond)

	fmt.Fprintf(w, "Resources:\n")
	fmt.Fprintf(w, "  Memory Delta:      %s\n", FormatBytes(result.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "  Memory Peak:       %s\n\n", FormatBytes(result.Resources.MemoryPeakBytes))

	fmt.Fprintf(w, "Database:\n")
	fmt.Fprintf(w, "  Size:              %s\n", FormatBytes(uint64(result.Database.SizeBytes)))
	fmt.Fprintf(w, "  Stage Time:        %s\n", FormatDuration(result.Database.StageTime))
	fmt.Fprintf(w, "  Integrate Time:    %s\n", FormatDuration(result.Database.IntegrateTime))
	fmt.Fprintf(w, "  Changelog Entries: %d\n\n", result.Database.ChangelogEntries)

	fmt.Fprintf(w, "Overall:\n")
	fmt.Fprintf(w, "  Total Duration:    %s\n", FormatDuration(result.TotalDuration))
	fmt.Fprintf(w, "  Errors:            %d (%.2f%%)\n", result.ErrorCount, result.ErrorRate*100)
	fmt.Fprintf(w, "  Success:           %v\n\n", result.Success)
}
