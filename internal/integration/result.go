package integration

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TableResult counts outcomes for one wire table.
type TableResult struct {
	Integrated int `json:"integrated"`
	Errors     int `json:"errors"`
}

// ErrorCounts breaks errors down by kind so unmatched and ignored records
// stay distinguishable.
type ErrorCounts struct {
	Unmatched   int `json:"unmatched"`
	Ignored     int `json:"ignored"`
	Translation int `json:"translation"`
	Integration int `json:"integration"`
}

// BatchResult summarises one orchestrator run.
type BatchResult struct {
	Tables   map[string]*TableResult `json:"tables"`
	Errors   ErrorCounts             `json:"errors"`
	Total    int                     `json:"total"`
	Duration time.Duration           `json:"duration"`

	// RolledBack is set when the enclosing batch transaction rolled back.
	// Counts are then zero and every record is still pending.
	RolledBack bool `json:"rolled_back,omitempty"`
}

func newBatchResult(total int) *BatchResult {
	return &BatchResult{Tables: make(map[string]*TableResult), Total: total}
}

func (r *BatchResult) table(name string) *TableResult {
	t, ok := r.Tables[name]
	if !ok {
		t = &TableResult{}
		r.Tables[name] = t
	}
	return t
}

func (r *BatchResult) success(table string) {
	r.table(table).Integrated++
}

func (r *BatchResult) rollBack() {
	r.Tables = make(map[string]*TableResult)
	r.Errors = ErrorCounts{}
	r.RolledBack = true
}

func (r *BatchResult) failure(table string, kind ErrorKind) {
	r.table(table).Errors++
	switch kind {
	case KindUnmatched:
		r.Errors.Unmatched++
	case KindIgnored:
		r.Errors.Ignored++
	case KindTranslation:
		r.Errors.Translation++
	default:
		r.Errors.Integration++
	}
}

// IntegratedCount is the number of records integrated across tables.
func (r *BatchResult) IntegratedCount() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Integrated
	}
	return n
}

// ErrorCount is the number of records that failed across tables.
func (r *BatchResult) ErrorCount() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Errors
	}
	return n
}

// Summary renders "N of M records integrated, K errors".
func (r *BatchResult) Summary() string {
	if r.RolledBack {
		return fmt.Sprintf("batch of %d records rolled back, all still pending", r.Total)
	}
	return fmt.Sprintf("%d of %d records integrated, %d errors", r.IntegratedCount(), r.Total, r.ErrorCount())
}

// TableNames returns the tables seen, sorted.
func (r *BatchResult) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *BatchResult) String() string {
	var b strings.Builder
	b.WriteString(r.Summary())
	for _, name := range r.TableNames() {
		t := r.Tables[name]
		fmt.Fprintf(&b, "\n  %s: %d integrated, %d errors", name, t.Integrated, t.Errors)
	}
	return b.String()
}
