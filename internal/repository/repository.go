package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mschirtzinger/sitesync/internal/storage"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("row not found")

// Upsert inserts row or replaces the stored row with the same id. A write
// that would leave the stored row unchanged is skipped and reports
// changed=false; otherwise a changelog entry tagged with sourceSiteID is
// appended in the same scope.
func Upsert(ctx context.Context, q storage.Querier, row Row, sourceSiteID *int32) (changed bool, err error) {
	table := row.Table()
	cols := row.Columns()

	all := append([]string{"id"}, cols...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s WHERE %s",
		table, strings.Join(all, ", "), placeholders,
		strings.Join(sets, ", "), q.Dialect().RowDiffers(table, cols))

	args := append([]any{row.RowID()}, row.Values()...)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to upsert %s %s: %w", table, row.RowID(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := AppendChangelog(ctx, q, table, row.RowID(), RowActionUpsert, sourceSiteID); err != nil {
		return true, err
	}
	return true, nil
}

// Delete removes a row by key. Deleting an absent row is not an error and
// records nothing.
func Delete(ctx context.Context, q storage.Querier, key RowKey, sourceSiteID *int32) (removed bool, err error) {
	res, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", key.Table), key.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", key.Table, key.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := AppendChangelog(ctx, q, key.Table, key.ID, RowActionDelete, sourceSiteID); err != nil {
		return true, err
	}
	return true, nil
}

// RowPtr constrains PT to a pointer to T implementing Row, so generic
// readers can allocate rows.
type RowPtr[T any] interface {
	*T
	Row
}

func selectColumns(r Row) string {
	return strings.Join(append([]string{"id"}, r.Columns()...), ", ")
}

// Get loads one row by id.
func Get[T any, PT RowPtr[T]](ctx context.Context, q storage.Querier, id string) (PT, error) {
	row := PT(new(T))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectColumns(row), row.Table())
	err := q.QueryRowContext(ctx, query, id).Scan(row.Fields()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", row.Table(), id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", row.Table(), id, err)
	}
	return row, nil
}

// Exists reports whether table holds a row with id.
func Exists(ctx context.Context, q storage.Querier, table, id string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", table), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", table, id, err)
	}
	return n > 0, nil
}

// list loads every row of PT's table matching where, ordered by id.
func list[T any, PT RowPtr[T]](ctx context.Context, q storage.Querier, where string, args ...any) ([]PT, error) {
	probe := PT(new(T))
	query := fmt.Sprintf("SELECT %s FROM %s", selectColumns(probe), probe.Table())
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", probe.Table(), err)
	}
	defer rows.Close()

	var out []PT
	for rows.Next() {
		row := PT(new(T))
		if err := rows.Scan(row.Fields()...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", probe.Table(), err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// List loads every row of a table ordered by id.
func List[T any, PT RowPtr[T]](ctx context.Context, q storage.Querier) ([]PT, error) {
	return list[T, PT](ctx, q, "")
}

// StockLinesByItem returns stock lines of an item.
func StockLinesByItem(ctx context.Context, q storage.Querier, itemID string) ([]*StockLine, error) {
	return list[StockLine](ctx, q, "item_id = ?", itemID)
}

// InvoiceLinesByItem returns invoice lines referencing an item.
func InvoiceLinesByItem(ctx context.Context, q storage.Querier, itemID string) ([]*InvoiceLine, error) {
	return list[InvoiceLine](ctx, q, "item_id = ?", itemID)
}

// BarcodesByItem returns barcodes of an item.
func BarcodesByItem(ctx context.Context, q storage.Querier, itemID string) ([]*Barcode, error) {
	return list[Barcode](ctx, q, "item_id = ?", itemID)
}

// Count returns the number of rows in a table.
func Count(ctx context.Context, q storage.Querier, table string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
