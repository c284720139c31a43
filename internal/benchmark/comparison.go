package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ComparisonResult contains the results of running the same workload in
// both transaction modes.
type ComparisonResult struct {
	Batch    BenchmarkResult
	Isolated BenchmarkResult

	// Improvement ratios (positive = batch is better)
	LatencyImprovement    map[string]float64 // min, p50, mean, p95, p99, max
	ThroughputImprovement float64
	MemoryImprovement     float64
	OverallWinner         string // ModeBatch, ModeIsolated or "tie"
	WinCount              map[string]int
}

// Compare runs the workload once per transaction mode and compares results.
func Compare(ctx context.Context, config BenchmarkConfig) (*ComparisonResult, error) {
	batchConfig := config
	batchConfig.Mode = ModeBatch
	batchResult, err := Run(ctx, batchConfig)
	if err != nil {
		return nil, fmt.Errorf("batch benchmark failed: %w", err)
	}

	isolatedConfig := config
	isolatedConfig.Mode = ModeIsolated
	isolatedResult, err := Run(ctx, isolatedConfig)
	if err != nil {
		return nil, fmt.Errorf("isolated benchmark failed: %w", err)
	}

	return compareResults(batchResult, isolatedResult), nil
}

func compareResults(batch, isolated *BenchmarkResult) *ComparisonResult {
	result := &ComparisonResult{
		Batch:    *batch,
		Isolated: *isolated,
		LatencyImprovement: map[string]float64{
			"min":  calculateImprovement(batch.Latency.Min.Seconds(), isolated.Latency.Min.Seconds()),
			"p50":  calculateImprovement(batch.Latency.P50.Seconds(), isolated.Latency.P50.Seconds()),
			"mean": calculateImprovement(batch.Latency.Mean.Seconds(), isolated.Latency.Mean.Seconds()),
			"p95":  calculateImprovement(batch.Latency.P95.Seconds(), isolated.Latency.P95.Seconds()),
			"p99":  calculateImprovement(batch.Latency.P99.Seconds(), isolated.Latency.P99.Seconds()),
			"max":  calculateImprovement(batch.Latency.Max.Seconds(), isolated.Latency.Max.Seconds()),
		},
		MemoryImprovement: calculateImprovement(
			float64(batch.Resources.MemoryDeltaBytes),
			float64(isolated.Resources.MemoryDeltaBytes),
		),
		WinCount: make(map[string]int),
	}

	if isolated.Throughput.RecordsPerSecond > 0 {
		result.ThroughputImprovement = (batch.Throughput.RecordsPerSecond - isolated.Throughput.RecordsPerSecond) /
			isolated.Throughput.RecordsPerSecond * 100
	}

	tally := func(improvement float64) {
		if improvement > 0 {
			result.WinCount[ModeBatch]++
		} else if improvement < 0 {
			result.WinCount[ModeIsolated]++
		}
	}
	for _, improvement := range result.LatencyImprovement {
		tally(improvement)
	}
	tally(result.ThroughputImprovement)
	tally(result.MemoryImprovement)

	switch {
	case result.WinCount[ModeBatch] > result.WinCount[ModeIsolated]:
		result.OverallWinner = ModeBatch
	case result.WinCount[ModeIsolated] > result.WinCount[ModeBatch]:
		result.OverallWinner = ModeIsolated
	default:
		result.OverallWinner = "tie"
	}
	return result
}

// calculateImprovement calculates percentage improvement.
// Positive = the batch value is lower.
func calculateImprovement(batchValue, isolatedValue float64) float64 {
	if isolatedValue == 0 {
		return 0
	}
	return (isolatedValue - batchValue) / isolatedValue * 100
}

// PrintComparison writes a formatted comparison report.
func PrintComparison(w io.Writer, result *ComparisonResult) {
	separator := strings.Repeat("=", 72)
	fmt.Fprintf(w, "\n%s\n", separator)
	fmt.Fprintf(w, "INTEGRATION BENCHMARK: batch transaction vs isolated records\n")
	fmt.Fprintf(w, "%s\n\n", separator)

	fmt.Fprintf(w, "Workload:\n")
	fmt.Fprintf(w, "  Items:             %d\n", result.Batch.Config.NumItems)
	fmt.Fprintf(w, "  Stock lines/item:  %d\n", result.Batch.Config.StockLinesPerItem)
	fmt.Fprintf(w, "  Records:           %d\n\n", result.Batch.Throughput.TotalRecords)

	fmt.Fprintf(w, "LATENCY PER RECORD:\n")
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %-15s\n", "Metric", "Batch", "Isolated", "Improvement")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 60))
	printLatencyRow(w, "Min", result.Batch.Latency.Min, result.Isolated.Latency.Min, result.LatencyImprovement["min"])
	printLatencyRow(w, "P50", result.Batch.Latency.P50, result.Isolated.Latency.P50, result.LatencyImprovement["p50"])
	printLatencyRow(w, "Mean", result.Batch.Latency.Mean, result.Isolated.Latency.Mean, result.LatencyImprovement["mean"])
	printLatencyRow(w, "P95", result.Batch.Latency.P95, result.Isolated.Latency.P95, result.LatencyImprovement["p95"])
	printLatencyRow(w, "P99", result.Batch.Latency.P99, result.Isolated.Latency.P99, result.LatencyImprovement["p99"])
	printLatencyRow(w, "Max", result.Batch.Latency.Max, result.Isolated.Latency.Max, result.LatencyImprovement["max"])
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "THROUGHPUT:\n")
	fmt.Fprintf(w, "  Batch:       %.2f records/sec\n", result.Batch.Throughput.RecordsPerSecond)
	fmt.Fprintf(w, "  Isolated:    %.2f records/sec\n", result.Isolated.Throughput.RecordsPerSecond)
	fmt.Fprintf(w, "  Improvement: %s%.2f%%\n\n", formatSign(result.ThroughputImprovement), result.ThroughputImprovement)

	fmt.Fprintf(w, "MEMORY:\n")
	fmt.Fprintf(w, "  Batch Delta:    %s\n", FormatBytes(result.Batch.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "  Isolated Delta: %s\n", FormatBytes(result.Isolated.Resources.MemoryDeltaBytes))
	fmt.Fprintf(w, "  Improvement:    %s%.2f%%\n\n", formatSign(result.MemoryImprovement), result.MemoryImprovement)

	fmt.Fprintf(w, "SUMMARY:\n")
	fmt.Fprintf(w, "  Batch Wins:     %d metrics\n", result.WinCount[ModeBatch])
	fmt.Fprintf(w, "  Isolated Wins:  %d metrics\n", result.WinCount[ModeIsolated])
	fmt.Fprintf(w, "  Overall Winner: %s\n", strings.ToUpper(result.OverallWinner))
	if result.Batch.ErrorCount > 0 || result.Isolated.ErrorCount > 0 {
		fmt.Fprintf(w, "  Errors:         %d batch, %d isolated\n", result.Batch.ErrorCount, result.Isolated.ErrorCount)
	}
	fmt.Fprintf(w, "\n%s\n\n", separator)
}

func printLatencyRow(w io.Writer, metric string, batchVal, isolatedVal time.Duration, improvement float64) {
	improvementStr := fmt.Sprintf("%s%.1f%%", formatSign(improvement), improvement)
	if improvement > 0 {
		improvementStr += " ✓"
	}
	fmt.Fprintf(w, "%-10s | %-12s | %-12s | %-15s\n",
		metric,
		FormatDuration(batchVal),
		FormatDuration(isolatedVal),
		improvementStr)
}

// formatSign returns a + sign for positive values.
func formatSign(value float64) string {
	if value > 0 {
		return "+"
	}
	return ""
}

// ComparisonJSON is the machine-readable form of a comparison.
type ComparisonJSON struct {
	Batch       ModeJSON           `json:"batch"`
	Isolated    ModeJSON           `json:"isolated"`
	Improvement map[string]float64 `json:"improvement"`
	Winner      string             `json:"winner"`
	Wins        map[string]int     `json:"wins"`
}

// ModeJSON summarises one run.
type ModeJSON struct {
	LatencyP50Micros int64   `json:"latency_p50_us"`
	LatencyP95Micros int64   `json:"latency_p95_us"`
	LatencyP99Micros int64   `json:"latency_p99_us"`
	RecordsPerSecond float64 `json:"records_per_second"`
	Records          int     `json:"records"`
	Errors           int     `json:"errors"`
}

func modeJSON(r *BenchmarkResult) ModeJSON {
	return ModeJSON{
		LatencyP50Micros: r.Latency.P50.Microseconds(),
		LatencyP95Micros: r.Latency.P95.Microseconds(),
		LatencyP99Micros: r.Latency.P99.Microseconds(),
		RecordsPerSecond: r.Throughput.RecordsPerSecond,
		Records:          r.Throughput.TotalRecords,
		Errors:           r.ErrorCount,
	}
}

// PrintComparisonJSON writes the comparison as indented JSON.
func PrintComparisonJSON(w io.Writer, result *ComparisonResult) error {
	improvement := map[string]float64{
		"throughput_pct": result.ThroughputImprovement,
		"memory_pct":     result.MemoryImprovement,
	}
	for metric, v := range result.LatencyImprovement {
		improvement["latency_"+metric+"_pct"] = v
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ComparisonJSON{
		Batch:       modeJSON(&result.Batch),
		Isolated:    modeJSON(&result.Isolated),
		Improvement: improvement,
		Winner:      result.OverallWinner,
		Wins:        result.WinCount,
	})
}
