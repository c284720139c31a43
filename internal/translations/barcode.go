package translations

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

// itemBarcodeNamespace derives ids for barcodes carried on item records, so
// every site assigns the same id to the same item's barcode.
var itemBarcodeNamespace = uuid.MustParse("5a1c9d3e-2b8f-4e6a-9c71-0d4f8b2e6a13")

type legacyBarcodeRow struct {
	ID       string  `json:"ID"`
	Barcode  string  `json:"barcode"`
	ItemID   string  `json:"itemID"`
	PackSize float64 `json:"packSize"`
}

// itemBarcode reads only the barcode of an item record.
type itemBarcode struct {
	Barcode string `json:"barcode"`
}

// ItemBarcodeID returns the id given to the barcode embedded in an item record.
func ItemBarcodeID(itemID string) string {
	return uuid.NewSHA1(itemBarcodeNamespace, []byte(itemID)).String()
}

// barcodeTranslator handles the barcode table and also fires on item
// upserts that carry a barcode.
type barcodeTranslator struct{ table }

func newBarcodeTranslator() *barcodeTranslator {
	return &barcodeTranslator{table{wire: "barcode", local: repository.TableBarcode, deps: []string{"item"}}}
}

func (t *barcodeTranslator) ShouldTranslate(rec *staging.Record) bool {
	if rec.TableName == t.wire {
		return true
	}
	if rec.TableName != "item" || rec.Action != staging.ActionUpsert {
		return false
	}
	var data itemBarcode
	if err := json.Unmarshal(rec.Data, &data); err != nil {
		return false
	}
	return data.Barcode != ""
}

func (t *barcodeTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	if rec.TableName == "item" {
		var data itemBarcode
		if err := parseLegacy(rec, &data); err != nil {
			return NotApplicable, err
		}
		return Operations(UpsertOp(&repository.Barcode{
			ID:     ItemBarcodeID(rec.RecordID),
			GTIN:   data.Barcode,
			ItemID: rec.RecordID,
		}, rec.SourceSiteID)), nil
	}

	var data legacyBarcodeRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	// 0 is the legacy "unknown pack size".
	var packSize *float64
	if data.PackSize != 0 {
		packSize = &data.PackSize
	}
	return Operations(UpsertOp(&repository.Barcode{
		ID:       rec.RecordID,
		GTIN:     data.Barcode,
		ItemID:   data.ItemID,
		PackSize: packSize,
	}, rec.SourceSiteID)), nil
}

func (t *barcodeTranslator) TranslateDelete(ctx context.Context, q storage.Querier, rec *staging.Record) (Outcome, error) {
	if rec.TableName != t.wire {
		return NotApplicable, nil
	}
	return t.table.TranslateDelete(ctx, q, rec)
}

func (t *barcodeTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(b *repository.Barcode) (any, error) {
		row := legacyBarcodeRow{ID: b.ID, Barcode: b.GTIN, ItemID: b.ItemID}
		if b.PackSize != nil {
			row.PackSize = *b.PackSize
		}
		return row, nil
	})
}
