package translations

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
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

func record(table, id string, action staging.Action, data string) *staging.Record {
	return &staging.Record{TableName: table, RecordID: id, Action: action, Data: json.RawMessage(data)}
}

// fixtureRows is one row of every table, in dependency order.
func fixtureRows() []repository.Row {
	packSize := 6.0
	return []repository.Row{
		&repository.Unit{ID: "u1", Name: "Tablet", Description: strPtr("oral"), SortIndex: 3},
		&repository.Item{ID: "i1", Name: "Amoxicillin", Code: "AMX", UnitID: strPtr("u1"), DefaultPackSize: 10, Type: repository.ItemTypeStock},
		&repository.Barcode{ID: "b1", GTIN: "0123456789012", ItemID: "i1", PackSize: &packSize},
		&repository.Name{ID: "n1", Name: "District Hospital", Code: "DH", Type: "facility", IsCustomer: true},
		&repository.Store{ID: "s1", NameID: "n1", Code: "GEN", SiteID: 3},
		&repository.Location{ID: "l1", Name: "Cold room", Code: "CR", StoreID: "s1", OnHold: true},
		&repository.StockLine{
			ID: "sl1", ItemID: "i1", StoreID: "s1", LocationID: strPtr("l1"), Batch: strPtr("B12"),
			PackSize: 10, AvailableNumberOfPacks: 4.5, TotalNumberOfPacks: 5, ExpiryDate: strPtr("2027-01-31"),
		},
		&repository.Invoice{
			ID: "inv1", NameID: "n1", StoreID: "s1", InvoiceNumber: 42, Type: repository.InvoiceTypeOutbound,
			Status: "finalised", CreatedDatetime: "2026-03-01T10:15:30Z",
		},
		&repository.InvoiceLine{
			ID: "il1", InvoiceID: "inv1", ItemID: "i1", ItemName: "Amoxicillin", ItemCode: "AMX",
			StockLineID: strPtr("sl1"), Batch: strPtr("B12"), PackSize: 10, NumberOfPacks: 2,
		},
	}
}

func seedFixture(t *testing.T, conn *storage.Conn) {
	t.Helper()
	for _, row := range fixtureRows() {
		_, err := repository.Upsert(context.Background(), conn, row, nil)
		require.NoError(t, err, row.Table())
	}
}

func TestTableOrder(t *testing.T) {
	assert.Equal(t, []string{
		"unit", "item", "barcode", "name", "store", "location", "item_line", "transact", "trans_line",
	}, All().TableOrder())
}

func TestTableOrderFollowsDependencies(t *testing.T) {
	// item registered before unit still sorts after it.
	r, err := NewRegistry(newItemTranslator(), newUnitTranslator())
	require.NoError(t, err)
	assert.Equal(t, []string{"unit", "item"}, r.TableOrder())
}

type cyclic struct {
	table
}

func (cyclic) TranslateUpsert(context.Context, storage.Querier, *staging.Record) (Outcome, error) {
	return NotApplicable, nil
}

func (cyclic) TranslateOutgoing(context.Context, storage.Querier, *repository.ChangelogRow) (*WireRecord, error) {
	return nil, nil
}

func TestTableOrderRejectsCycle(t *testing.T) {
	_, err := NewRegistry(
		cyclic{table{wire: "a", deps: []string{"b"}}},
		cyclic{table{wire: "b", deps: []string{"a"}}},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCyclePathAfterSiblingBranches(t *testing.T) {
	_, err := NewRegistry(
		cyclic{table{wire: "a", deps: []string{"b", "c"}}},
		cyclic{table{wire: "b", deps: []string{"x", "y"}}},
		cyclic{table{wire: "x"}},
		cyclic{table{wire: "y"}},
		cyclic{table{wire: "c", deps: []string{"d"}}},
		cyclic{table{wire: "d", deps: []string{"a"}}},
	)
	require.Error(t, err)
	assert.EqualError(t, err, "pull dependency cycle: a -> c -> d -> a")
}

func TestDispatchNoTranslator(t *testing.T) {
	conn := setupTestConn(t)
	d, err := All().Dispatch(context.Background(), conn, record("requisition", "r1", staging.ActionUpsert, `{}`))
	require.NoError(t, err)
	assert.Zero(t, d.Matched)
	assert.Empty(t, d.Operations)
}

func TestDispatchItemWithBarcodeFiresTwoTranslators(t *testing.T) {
	conn := setupTestConn(t)
	rec := record("item", "i9", staging.ActionUpsert,
		`{"ID":"i9","item_name":"Gauze","code":"GZ","unit_ID":"","default_pack_size":1,"type_of":"non_stock","barcode":"999"}`)

	d, err := All().Dispatch(context.Background(), conn, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Matched)
	assert.Equal(t, []string{"item", "barcode"}, d.Translators)
	require.Len(t, d.Operations, 2)

	item := d.Operations[0].Row.(*repository.Item)
	assert.Nil(t, item.UnitID)
	assert.Equal(t, repository.ItemTypeNonStock, item.Type)

	barcode := d.Operations[1].Row.(*repository.Barcode)
	assert.Equal(t, ItemBarcodeID("i9"), barcode.ID)
	assert.Equal(t, "999", barcode.GTIN)
	assert.Equal(t, "i9", barcode.ItemID)
}

func TestDispatchIgnored(t *testing.T) {
	conn := setupTestConn(t)
	r := All()

	tests := []struct {
		name string
		rec  *staging.Record
	}{
		{"system store", record("store", "s9", staging.ActionUpsert, `{"ID":"s9","name_ID":"n1","code":"HIS"}`)},
		{"store delete", record("store", "s9", staging.ActionDelete, `{}`)},
		{"unsupported transaction", record("transact", "t9", staging.ActionUpsert,
			`{"ID":"t9","type":"sc","status":"nw","entry_date":"2026-01-01"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Dispatch(context.Background(), conn, tt.rec)
			require.NoError(t, err)
			assert.True(t, d.IsIgnored())
			assert.Empty(t, d.Operations)
		})
	}
}

func TestDispatchStructuralErrors(t *testing.T) {
	conn := setupTestConn(t)
	r := All()

	tests := []struct {
		name string
		rec  *staging.Record
	}{
		{"malformed json", record("unit", "u1", staging.ActionUpsert, `{"units": 5}`)},
		{"unknown item type", record("item", "i1", staging.ActionUpsert, `{"type_of":"other"}`)},
		{"bad expiry", record("item_line", "l1", staging.ActionUpsert, `{"expiry_date":"31/01/2027"}`)},
		{"missing item for line", record("trans_line", "tl1", staging.ActionUpsert, `{"item_ID":"nope"}`)},
		{"merge without ids", record("item", "i1", staging.ActionMerge, `{}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), conn, tt.rec)
			assert.Error(t, err)
		})
	}
}

func TestStockLineLegacyValues(t *testing.T) {
	conn := setupTestConn(t)
	rec := record("item_line", "sl9", staging.ActionUpsert,
		`{"ID":"sl9","item_ID":"i1","store_ID":"s1","location_ID":"","batch":"","pack_size":1,"available":2,"quantity":3,"expiry_date":"0000-00-00"}`)

	d, err := All().Dispatch(context.Background(), conn, rec)
	require.NoError(t, err)
	require.Len(t, d.Operations, 1)
	line := d.Operations[0].Row.(*repository.StockLine)
	assert.Nil(t, line.LocationID)
	assert.Nil(t, line.Batch)
	assert.Nil(t, line.ExpiryDate)
	assert.Equal(t, 2.0, line.AvailableNumberOfPacks)
	assert.Equal(t, 3.0, line.TotalNumberOfPacks)
}

func TestInvoiceLineDenormalisesItem(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)
	seedFixture(t, conn)

	rec := record("trans_line", "tl9", staging.ActionUpsert,
		`{"ID":"tl9","transaction_ID":"inv1","item_ID":"i1","item_name":"stale name","item_line_ID":"gone","pack_size":1,"quantity":7}`)
	d, err := All().Dispatch(ctx, conn, rec)
	require.NoError(t, err)
	require.Len(t, d.Operations, 1)

	line := d.Operations[0].Row.(*repository.InvoiceLine)
	assert.Equal(t, "Amoxicillin", line.ItemName)
	assert.Equal(t, "AMX", line.ItemCode)
	assert.Nil(t, line.StockLineID, "dangling stock line reference is dropped")
}

func TestItemDeleteRemovesBarcodesFirst(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)
	seedFixture(t, conn)

	d, err := All().Dispatch(ctx, conn, record("item", "i1", staging.ActionDelete, `{}`))
	require.NoError(t, err)
	require.Len(t, d.Operations, 2)
	assert.Equal(t, repository.RowKey{Table: repository.TableBarcode, ID: "b1"}, d.Operations[0].Key)
	assert.Equal(t, repository.RowKey{Table: repository.TableItem, ID: "i1"}, d.Operations[1].Key)
}

func TestItemMerge(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)
	seedFixture(t, conn)
	_, err := repository.Upsert(ctx, conn, &repository.Item{ID: "i2", Name: "Amoxil", Code: "AMX2", DefaultPackSize: 10, Type: repository.ItemTypeStock}, nil)
	require.NoError(t, err)

	merge := record("item", "i1", staging.ActionMerge, `{"mergeIdToKeep":"i2","mergeIdToDelete":"i1"}`)
	d, err := All().Dispatch(ctx, conn, merge)
	require.NoError(t, err)
	require.Len(t, d.Operations, 4)

	assert.Equal(t, "i2", d.Operations[0].Row.(*repository.StockLine).ItemID)
	assert.Equal(t, "i2", d.Operations[1].Row.(*repository.InvoiceLine).ItemID)
	assert.Equal(t, "i2", d.Operations[2].Row.(*repository.Barcode).ItemID)
	assert.Equal(t, OpDelete, d.Operations[3].Kind)
	assert.Equal(t, "i1", d.Operations[3].Key.ID)

	// Once applied, replaying the merge has nothing left to do.
	for _, op := range d.Operations[:3] {
		_, err := repository.Upsert(ctx, conn, op.Row, nil)
		require.NoError(t, err)
	}
	_, err = repository.Delete(ctx, conn, d.Operations[3].Key, nil)
	require.NoError(t, err)

	d, err = All().Dispatch(ctx, conn, merge)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Matched)
	assert.Empty(t, d.Operations)

	self := record("item", "i2", staging.ActionMerge, `{"mergeIdToKeep":"i2","mergeIdToDelete":"i2"}`)
	d, err = All().Dispatch(ctx, conn, self)
	require.NoError(t, err)
	assert.True(t, d.IsIgnored())
}

// Every table: row -> outgoing wire record -> incoming translation -> row.
func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)
	seedFixture(t, conn)
	r := All()

	entries, err := repository.Changelog(ctx, conn, repository.ChangelogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, len(fixtureRows()))

	for i, entry := range entries {
		want := fixtureRows()[i]
		t.Run(entry.TableName, func(t *testing.T) {
			wire, err := r.Outgoing(ctx, conn, entry)
			require.NoError(t, err)
			require.NotNil(t, wire)
			assert.Equal(t, staging.ActionUpsert, wire.Action)
			assert.Equal(t, entry.Cursor, wire.Cursor)

			d, err := r.Dispatch(ctx, conn, wire.Staged(nil))
			require.NoError(t, err)
			require.Len(t, d.Operations, 1)
			assert.Equal(t, want, d.Operations[0].Row)
		})
	}
}

func TestRoundTripEmptyBecomesNull(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)
	seedFixture(t, conn)
	r := All()

	zero := 0.0
	invoice := func(comment *string) *repository.Invoice {
		return &repository.Invoice{
			ID: "inv2", NameID: "n1", StoreID: "s1", InvoiceNumber: 43, Type: repository.InvoiceTypeOutbound,
			Status: "finalised", CreatedDatetime: "2026-03-02T08:00:00Z", Comment: comment,
		}
	}
	tests := []struct {
		name string
		row  repository.Row
		want repository.Row
	}{
		{
			name: "unit description",
			row:  &repository.Unit{ID: "u2", Name: "Box", Description: strPtr("")},
			want: &repository.Unit{ID: "u2", Name: "Box"},
		},
		{
			name: "barcode pack size",
			row:  &repository.Barcode{ID: "b2", GTIN: "5000000000001", ItemID: "i1", PackSize: &zero},
			want: &repository.Barcode{ID: "b2", GTIN: "5000000000001", ItemID: "i1"},
		},
		{
			name: "invoice comment",
			row:  invoice(strPtr("")),
			want: invoice(nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repository.Upsert(ctx, conn, tt.row, nil)
			require.NoError(t, err)
			entries, err := repository.Changelog(ctx, conn, repository.ChangelogFilter{Tables: []string{tt.row.Table()}})
			require.NoError(t, err)
			require.NotEmpty(t, entries)
			entry := entries[len(entries)-1]

			wire, err := r.Outgoing(ctx, conn, entry)
			require.NoError(t, err)
			d, err := r.Dispatch(ctx, conn, wire.Staged(nil))
			require.NoError(t, err)
			require.Len(t, d.Operations, 1)
			assert.Equal(t, tt.want, d.Operations[0].Row)
		})
	}
}

func TestOutgoingDelete(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)

	wire, err := All().Outgoing(ctx, conn, &repository.ChangelogRow{
		Cursor: 9, TableName: repository.TableStockLine, RecordID: "sl1", RowAction: repository.RowActionDelete,
	})
	require.NoError(t, err)
	assert.Equal(t, "item_line", wire.TableName)
	assert.Equal(t, staging.ActionDelete, wire.Action)
	assert.JSONEq(t, `{}`, string(wire.Data))

	none, err := All().Outgoing(ctx, conn, &repository.ChangelogRow{TableName: "sync_buffer", RowAction: repository.RowActionUpsert})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestOutgoingGolden(t *testing.T) {
	ctx := context.Background()
	conn := setupTestConn(t)
	seedFixture(t, conn)
	r := All()

	entries, err := repository.Changelog(ctx, conn, repository.ChangelogFilter{
		Tables: []string{repository.TableStockLine, repository.TableInvoice},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, entry := range entries {
		wire, err := r.Outgoing(ctx, conn, entry)
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, json.Indent(&buf, wire.Data, "", "  "))
		buf.WriteByte('\n')
		g.Assert(t, wire.TableName, buf.Bytes())
	}
}

func TestLegacyDatetime(t *testing.T) {
	ts, err := legacyDatetime("2026-03-01", 3600)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T01:00:00Z", ts)

	date, secs, err := toLegacyDatetime(ts)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", date)
	assert.Equal(t, int64(3600), secs)

	_, err = legacyDatetime("0000-00-00", 0)
	assert.Error(t, err)
}
