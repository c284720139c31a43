package staging

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/mschirtzinger/sitesync/internal/storage"
)

// Store persists staged records in the sync_buffer table. Reads and writes
// go through the caller's Querier so they join its transaction.
type Store struct {
	// rank maps a wire table to its position in pull-dependency order.
	rank map[string]int
	// BatchSize caps NextBatch; 0 returns every pending record.
	BatchSize int
}

// NewStore creates a store that orders batches by the given table order.
func NewStore(tableOrder []string) *Store {
	rank := make(map[string]int, len(tableOrder))
	for i, t := range tableOrder {
		rank[t] = i
	}
	return &Store{rank: rank}
}

// Stage adds records to the buffer. Re-staging a record id replaces its
// payload, clears any previous outcome and moves it to the end of the
// staging order.
func (s *Store) Stage(ctx context.Context, q storage.Querier, records ...*Record) error {
	now := time.Now().UTC()
	query := `
			INSERT INTO sync_buffer (record_id, table_name, action, data, source_site_id, received_datetime)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id) DO UPDATE SET
				seq = ` + q.Dialect().NextSerial("sync_buffer", "seq") + `,
				table_name = excluded.table_name,
				action = excluded.action,
				data = excluded.data,
				source_site_id = excluded.source_site_id,
				received_datetime = excluded.received_datetime,
				integration_datetime = NULL,
				integration_error = NULL
		`
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, query, rec.RecordID, rec.TableName, string(rec.Action), string(rec.Data), rec.SourceSiteID,
			now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to stage %s: %w", rec, err)
		}
		rec.ReceivedAt = now
		rec.IntegratedAt = nil
		rec.IntegrationError = ""
	}
	return nil
}

// phase orders actions: upserts, then merges, then deletes.
func phase(a Action) int {
	switch a {
	case ActionUpsert:
		return 0
	case ActionMerge:
		return 1
	default:
		return 2
	}
}

// NextBatch returns records not yet integrated. Upserts and merges come in
// table dependency order so referenced rows exist first; deletes come last
// in reverse dependency order so referencing rows go first. Tables with no
// known order sort after all known ones. Ties keep staging order.
func (s *Store) NextBatch(ctx context.Context, q storage.Querier) ([]*Record, error) {
	records, err := s.query(ctx, q, "WHERE integration_datetime IS NULL")
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(records, func(a, b *Record) int {
		if pa, pb := phase(a.Action), phase(b.Action); pa != pb {
			return pa - pb
		}
		ra, rb := s.tableRank(a.TableName), s.tableRank(b.TableName)
		if a.Action == ActionDelete {
			ra, rb = s.reverseRank(a.TableName), s.reverseRank(b.TableName)
		}
		if ra != rb {
			return ra - rb
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	if s.BatchSize > 0 && len(records) > s.BatchSize {
		records = records[:s.BatchSize]
	}
	return records, nil
}

func (s *Store) tableRank(table string) int {
	if r, ok := s.rank[table]; ok {
		return r
	}
	return len(s.rank)
}

func (s *Store) reverseRank(table string) int {
	if r, ok := s.rank[table]; ok {
		return len(s.rank) - 1 - r
	}
	return len(s.rank)
}

// MarkIntegrated records a successful integration.
func (s *Store) MarkIntegrated(ctx context.Context, q storage.Querier, rec *Record) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx,
		"UPDATE sync_buffer SET integration_datetime = ?, integration_error = NULL WHERE record_id = ?",
		now.Format(time.RFC3339Nano), rec.RecordID)
	if err != nil {
		return fmt.Errorf("failed to mark %s integrated: %w", rec, err)
	}
	rec.IntegratedAt = &now
	rec.IntegrationError = ""
	return nil
}

// MarkErrored records a failed integration attempt. The record is not
// returned by NextBatch again until it is re-staged or ResetErrors is called.
func (s *Store) MarkErrored(ctx context.Context, q storage.Querier, rec *Record, cause error) error {
	now := time.Now().UTC()
	msg := cause.Error()
	_, err := q.ExecContext(ctx,
		"UPDATE sync_buffer SET integration_datetime = ?, integration_error = ? WHERE record_id = ?",
		now.Format(time.RFC3339Nano), msg, rec.RecordID)
	if err != nil {
		return fmt.Errorf("failed to mark %s errored: %w", rec, err)
	}
	rec.IntegratedAt = &now
	rec.IntegrationError = msg
	return nil
}

// ResetErrors makes errored records pending again and returns how many
// were reset.
func (s *Store) ResetErrors(ctx context.Context, q storage.Querier) (int64, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE sync_buffer SET integration_datetime = NULL, integration_error = NULL WHERE integration_error IS NOT NULL")
	if err != nil {
		return 0, fmt.Errorf("failed to reset errored records: %w", err)
	}
	return res.RowsAffected()
}

// Errored returns records whose last integration failed, in staging order.
func (s *Store) Errored(ctx context.Context, q storage.Querier) ([]*Record, error) {
	return s.query(ctx, q, "WHERE integration_error IS NOT NULL")
}

// Get returns a staged record by id.
func (s *Store) Get(ctx context.Context, q storage.Querier, recordID string) (*Record, error) {
	records, err := s.query(ctx, q, "WHERE record_id = ?", recordID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("staged record %s: %w", recordID, sql.ErrNoRows)
	}
	return records[0], nil
}

// Counts summarises the buffer.
type Counts struct {
	Pending    int `json:"pending"`
	Integrated int `json:"integrated"`
	Errored    int `json:"errored"`
}

// Total is the number of staged records.
func (c Counts) Total() int { return c.Pending + c.Integrated + c.Errored }

// Counts returns record totals by outcome.
func (s *Store) Counts(ctx context.Context, q storage.Querier) (Counts, error) {
	var c Counts
	err := q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN integration_datetime IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integration_datetime IS NOT NULL AND integration_error IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN integration_error IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM sync_buffer
	`).Scan(&c.Pending, &c.Integrated, &c.Errored)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count staged records: %w", err)
	}
	return c, nil
}

func (s *Store) query(ctx context.Context, q storage.Querier, where string, args ...any) ([]*Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, record_id, table_name, action, data, source_site_id,
			received_datetime, integration_datetime, integration_error
		FROM sync_buffer `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync buffer: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			rec          Record
			action, data string
			site         sql.NullInt32
			received     string
			integrated   sql.NullString
			errMsg       sql.NullString
		)
		if err := rows.Scan(&rec.Seq, &rec.RecordID, &rec.TableName, &action, &data, &site,
			&received, &integrated, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan sync buffer: %w", err)
		}
		rec.Action = Action(action)
		rec.Data = []byte(data)
		if site.Valid {
			id := site.Int32
			rec.SourceSiteID = &id
		}
		rec.ReceivedAt, _ = time.Parse(time.RFC3339Nano, received)
		if integrated.Valid {
			if t, err := time.Parse(time.RFC3339Nano, integrated.String); err == nil {
				rec.IntegratedAt = &t
			}
		}
		rec.IntegrationError = errMsg.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}
