package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/sitesync/internal/benchmark"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Measure integration throughput on a synthetic site batch",
	Long: `Generate a synthetic batch (units, names, stores, locations, items with
barcodes, stock lines), stage it into a scratch SQLite database and
integrate it, measuring per-record latency, throughput and memory.

Modes:
  compare   - Run both modes below and compare them (default)
  batch     - One outer transaction, a savepoint per record
  isolated  - One transaction per record

Examples:
  sitesync benchmark
  sitesync benchmark --items 2000 --lines 5
  sitesync benchmark --mode isolated --json
`,
	RunE:    runBenchmark,
	GroupID: "maint",
}

func init() {
	defaults := benchmark.DefaultConfig()
	benchmarkCmd.Flags().Int("items", defaults.NumItems, "Number of items in the batch")
	benchmarkCmd.Flags().Int("lines", defaults.StockLinesPerItem, "Stock lines per item")
	benchmarkCmd.Flags().String("mode", "compare", "Benchmark mode: compare, batch, or isolated")
	benchmarkCmd.Flags().String("dir", "", "Directory for the scratch databases (default: a temp dir)")
	benchmarkCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchmarkCmd)
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	items, _ := cmd.Flags().GetInt("items")
	lines, _ := cmd.Flags().GetInt("lines")
	mode, _ := cmd.Flags().GetString("mode")
	dir, _ := cmd.Flags().GetString("dir")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	config := benchmark.BenchmarkConfig{
		NumItems:          items,
		StockLinesPerItem: lines,
		Mode:              mode,
		Dir:               dir,
	}
	out := cmd.OutOrStdout()

	if mode == "compare" {
		config.Mode = benchmark.ModeBatch
		if err := config.Validate(); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Fprintf(out, "%s Integrating %d records in each mode...\n",
				renderAccent("⏱"), benchmark.WorkloadSize(items, lines))
		}
		result, err := benchmark.Compare(cmd.Context(), config)
		if err != nil {
			return err
		}
		if jsonOutput {
			return benchmark.PrintComparisonJSON(out, result)
		}
		benchmark.PrintComparison(out, result)
		return nil
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("--mode must be 'compare', 'batch', or 'isolated': %w", err)
	}
	result, err := benchmark.Run(cmd.Context(), config)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printBenchmarkJSON(cmd, result)
	}
	benchmark.PrintResult(out, result)
	return nil
}

func printBenchmarkJSON(cmd *cobra.Command, result *benchmark.BenchmarkResult) error {
	output := map[string]any{
		"config": map[string]any{
			"mode":  result.Config.Mode,
			"items": result.Config.NumItems,
			"lines": result.Config.StockLinesPerItem,
		},
		"latency": map[string]any{
			"min_us":  result.Latency.Min.Microseconds(),
			"p50_us":  result.Latency.P50.Microseconds(),
			"mean_us": result.Latency.Mean.Microseconds(),
			"p95_us":  result.Latency.P95.Microseconds(),
			"p99_us":  result.Latency.P99.Microseconds(),
			"max_us":  result.Latency.Max.Microseconds(),
		},
		"throughput": map[string]any{
			"records_per_second": result.Throughput.RecordsPerSecond,
			"records":            result.Throughput.TotalRecords,
		},
		"memory": map[string]any{
			"before_bytes": result.Resources.MemoryBeforeBytes,
			"after_bytes":  result.Resources.MemoryAfterBytes,
			"peak_bytes":   result.Resources.MemoryPeakBytes,
			"delta_bytes":  result.Resources.MemoryDeltaBytes,
		},
		"database": map[string]any{
			"size_bytes":        result.Database.SizeBytes,
			"stage_time_ms":     result.Database.StageTime.Milliseconds(),
			"integrate_time_ms": result.Database.IntegrateTime.Milliseconds(),
			"changelog_entries": result.Database.ChangelogEntries,
		},
		"duration_ms": result.TotalDuration.Milliseconds(),
		"errors":      result.ErrorCount,
		"error_rate":  result.ErrorRate,
		"success":     result.Success,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
