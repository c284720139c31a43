package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mschirtzinger/sitesync/internal/storage"
)

// RowAction is the kind of change a changelog entry records.
type RowAction string

const (
	RowActionUpsert RowAction = "upsert"
	RowActionDelete RowAction = "delete"
)

// ChangelogRow is one local change, ordered by Cursor.
type ChangelogRow struct {
	Cursor    int64
	TableName string
	RecordID  string
	RowAction RowAction
	// SourceSiteID is the site the change was integrated from; nil for
	// changes made locally.
	SourceSiteID *int32
}

// AppendChangelog records a change.
func AppendChangelog(ctx context.Context, q storage.Querier, table, recordID string, action RowAction, sourceSiteID *int32) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO changelog (table_name, record_id, row_action, source_site_id) VALUES (?, ?, ?, ?)",
		table, recordID, string(action), sourceSiteID)
	if err != nil {
		return fmt.Errorf("failed to append changelog for %s %s: %w", table, recordID, err)
	}
	return nil
}

// ChangelogFilter selects changelog rows.
type ChangelogFilter struct {
	// After excludes rows with Cursor <= After.
	After int64
	// Limit caps the result; 0 means no limit.
	Limit int
	// ExcludeSite drops rows that were integrated from this site.
	ExcludeSite *int32
	// Tables restricts rows to the given tables when non-empty.
	Tables []string
}

// Changelog returns changelog rows in cursor order.
func Changelog(ctx context.Context, q storage.Querier, f ChangelogFilter) ([]*ChangelogRow, error) {
	query := "SELECT cursor, table_name, record_id, row_action, source_site_id FROM changelog WHERE cursor > ?"
	args := []any{f.After}

	if f.ExcludeSite != nil {
		query += " AND (source_site_id IS NULL OR source_site_id <> ?)"
		args = append(args, *f.ExcludeSite)
	}
	if len(f.Tables) > 0 {
		query += " AND table_name IN (?" + strings.Repeat(", ?", len(f.Tables)-1) + ")"
		for _, t := range f.Tables {
			args = append(args, t)
		}
	}
	query += " ORDER BY cursor"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changelog: %w", err)
	}
	defer rows.Close()

	var out []*ChangelogRow
	for rows.Next() {
		var (
			row    ChangelogRow
			action string
			site   sql.NullInt32
		)
		if err := rows.Scan(&row.Cursor, &row.TableName, &row.RecordID, &action, &site); err != nil {
			return nil, fmt.Errorf("failed to scan changelog: %w", err)
		}
		row.RowAction = RowAction(action)
		if site.Valid {
			id := site.Int32
			row.SourceSiteID = &id
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

// LatestCursor returns the highest changelog cursor, or 0 when empty.
func LatestCursor(ctx context.Context, q storage.Querier) (int64, error) {
	var cursor sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT MAX(cursor) FROM changelog").Scan(&cursor); err != nil {
		return 0, fmt.Errorf("failed to read latest cursor: %w", err)
	}
	return cursor.Int64, nil
}

// GetValue reads a key from the key/value store.
func GetValue(ctx context.Context, q storage.Querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM key_value_store WHERE id = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

// SetValue writes a key to the key/value store.
func SetValue(ctx context.Context, q storage.Querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO key_value_store (id, value) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}
