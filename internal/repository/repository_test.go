package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/sitesync/internal/storage"
)

func setupTestConn(t *testing.T) *storage.Conn {
	t.Helper()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(ctx))
	conn, err := db.Acquire(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = db.Close()
	})
	return conn
}

func strPtr(s string) *string { return &s }

func site(id int32) *int32 { return &id }

func seedItem(t *testing.T, conn *storage.Conn, id string) *Item {
	t.Helper()
	ctx := context.Background()
	_, err := Upsert(ctx, conn, &Unit{ID: "unit-1", Name: "Tablet"}, nil)
	require.NoError(t, err)
	item := &Item{ID: id, Name: "Paracetamol " + id, Code: "P-" + id, UnitID: strPtr("unit-1"), DefaultPackSize: 10, Type: ItemTypeStock}
	_, err = Upsert(ctx, conn, item, nil)
	require.NoError(t, err)
	return item
}

func TestUpsertSkipsUnchangedRows(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)

	unit := &Unit{ID: "u1", Name: "Box", Description: strPtr("cardboard"), SortIndex: 2}

	changed, err := Upsert(ctx, conn, unit, site(7))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = Upsert(ctx, conn, unit, site(7))
	require.NoError(t, err)
	assert.False(t, changed, "identical upsert must be a no-op")

	unit.Description = nil
	changed, err = Upsert(ctx, conn, unit, site(7))
	require.NoError(t, err)
	assert.True(t, changed)

	entries, err := Changelog(ctx, conn, ChangelogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, TableUnit, entries[0].TableName)
	assert.Equal(t, "u1", entries[0].RecordID)
	assert.Equal(t, RowActionUpsert, entries[0].RowAction)
	require.NotNil(t, entries[0].SourceSiteID)
	assert.Equal(t, int32(7), *entries[0].SourceSiteID)
	assert.Less(t, entries[0].Cursor, entries[1].Cursor)

	got, err := Get[Unit](ctx, conn, "u1")
	require.NoError(t, err)
	assert.Equal(t, unit, got)
}

func TestGetNotFound(t *testing.T) {
	conn := setupTestConn(t)
	_, err := Get[Item](context.Background(), conn, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTolerantOfAbsentRow(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)

	removed, err := Delete(ctx, conn, RowKey{Table: TableUnit, ID: "nope"}, nil)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = Upsert(ctx, conn, &Unit{ID: "u1", Name: "Box"}, nil)
	require.NoError(t, err)
	removed, err = Delete(ctx, conn, RowKey{Table: TableUnit, ID: "u1"}, nil)
	require.NoError(t, err)
	assert.True(t, removed)

	entries, err := Changelog(ctx, conn, ChangelogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, RowActionDelete, entries[1].RowAction)
	assert.Nil(t, entries[1].SourceSiteID)
}

func TestRowsRoundTripThroughStorage(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)

	item := seedItem(t, conn, "i1")
	name := &Name{ID: "n1", Name: "Central Pharmacy", Code: "CP", Type: "facility", IsCustomer: true}
	store := &Store{ID: "s1", NameID: "n1", Code: "GEN", SiteID: 3}
	location := &Location{ID: "l1", Name: "Shelf A", Code: "A", StoreID: "s1", OnHold: true}
	stock := &StockLine{
		ID: "sl1", ItemID: "i1", StoreID: "s1", LocationID: strPtr("l1"), Batch: strPtr("B12"),
		PackSize: 10, AvailableNumberOfPacks: 4.5, TotalNumberOfPacks: 5, ExpiryDate: strPtr("2027-01-31"),
	}
	invoice := &Invoice{
		ID: "inv1", NameID: "n1", StoreID: "s1", InvoiceNumber: 42, Type: InvoiceTypeOutbound,
		Status: "finalised", CreatedDatetime: "2026-03-01T10:00:00Z",
	}
	line := &InvoiceLine{
		ID: "il1", InvoiceID: "inv1", ItemID: "i1", ItemName: item.Name, ItemCode: item.Code,
		StockLineID: strPtr("sl1"), PackSize: 10, NumberOfPacks: 2,
	}
	barcode := &Barcode{ID: "b1", GTIN: "0123456789012", ItemID: "i1"}

	for _, row := range []Row{name, store, location, stock, invoice, line, barcode} {
		changed, err := Upsert(ctx, conn, row, nil)
		require.NoError(t, err, row.Table())
		assert.True(t, changed, row.Table())
	}

	gotName, err := Get[Name](ctx, conn, "n1")
	require.NoError(t, err)
	assert.Equal(t, name, gotName)
	gotStore, err := Get[Store](ctx, conn, "s1")
	require.NoError(t, err)
	assert.Equal(t, store, gotStore)
	gotLocation, err := Get[Location](ctx, conn, "l1")
	require.NoError(t, err)
	assert.Equal(t, location, gotLocation)
	gotStock, err := Get[StockLine](ctx, conn, "sl1")
	require.NoError(t, err)
	assert.Equal(t, stock, gotStock)
	gotInvoice, err := Get[Invoice](ctx, conn, "inv1")
	require.NoError(t, err)
	assert.Equal(t, invoice, gotInvoice)
	gotLine, err := Get[InvoiceLine](ctx, conn, "il1")
	require.NoError(t, err)
	assert.Equal(t, line, gotLine)

	lines, err := StockLinesByItem(ctx, conn, "i1")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
	invLines, err := InvoiceLinesByItem(ctx, conn, "i1")
	require.NoError(t, err)
	assert.Len(t, invLines, 1)
	barcodes, err := BarcodesByItem(ctx, conn, "i1")
	require.NoError(t, err)
	assert.Equal(t, []*Barcode{barcode}, barcodes)

	ok, err := Exists(ctx, conn, TableItem, "i1")
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := List[Item](ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []*Item{item}, items)
}

func TestChangelogFilter(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)

	require.NoError(t, AppendChangelog(ctx, conn, TableUnit, "a", RowActionUpsert, nil))
	require.NoError(t, AppendChangelog(ctx, conn, TableItem, "b", RowActionUpsert, site(2)))
	require.NoError(t, AppendChangelog(ctx, conn, TableItem, "c", RowActionDelete, site(3)))
	require.NoError(t, AppendChangelog(ctx, conn, TableStore, "d", RowActionUpsert, nil))

	all, err := Changelog(ctx, conn, ChangelogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	excluded, err := Changelog(ctx, conn, ChangelogFilter{ExcludeSite: site(2)})
	require.NoError(t, err)
	ids := make([]string, 0, len(excluded))
	for _, e := range excluded {
		ids = append(ids, e.RecordID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)

	after, err := Changelog(ctx, conn, ChangelogFilter{After: all[1].Cursor, Limit: 1})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "c", after[0].RecordID)

	items, err := Changelog(ctx, conn, ChangelogFilter{Tables: []string{TableItem, TableStore}})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	latest, err := LatestCursor(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, all[3].Cursor, latest)
}

func TestLatestCursorEmpty(t *testing.T) {
	latest, err := LatestCursor(context.Background(), setupTestConn(t))
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestKeyValueStore(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)

	_, err := GetValue(ctx, conn, "push_cursor")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, SetValue(ctx, conn, "push_cursor", "10"))
	require.NoError(t, SetValue(ctx, conn, "push_cursor", "12"))

	v, err := GetValue(ctx, conn, "push_cursor")
	require.NoError(t, err)
	assert.Equal(t, "12", v)
}
