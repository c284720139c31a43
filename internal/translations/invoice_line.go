package translations

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

type legacyTransLineRow struct {
	ID            string  `json:"ID"`
	TransactionID string  `json:"transaction_ID"`
	ItemID        string  `json:"item_ID"`
	ItemName      string  `json:"item_name"`
	ItemLineID    string  `json:"item_line_ID"`
	Batch         string  `json:"batch"`
	PackSize      float64 `json:"pack_size"`
	Quantity      float64 `json:"quantity"`
}

// invoiceLineTranslator denormalises the item's name and code onto the line
// from the local item row.
type invoiceLineTranslator struct{ table }

func newInvoiceLineTranslator() *invoiceLineTranslator {
	return &invoiceLineTranslator{table{
		wire:  "trans_line",
		local: repository.TableInvoiceLine,
		deps:  []string{"transact", "item", "item_line"},
	}}
}

func (t *invoiceLineTranslator) TranslateUpsert(ctx context.Context, q storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyTransLineRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}

	item, ok, err := lookup[repository.Item](ctx, q, data.ItemID)
	if err != nil {
		return NotApplicable, err
	}
	if !ok {
		return NotApplicable, fmt.Errorf("trans_line %s: item %s not found", rec.RecordID, data.ItemID)
	}

	// Stock lines are not always synced to this site; a dangling reference
	// is dropped rather than failing the line.
	var stockLineID *string
	if data.ItemLineID != "" {
		exists, err := repository.Exists(ctx, q, repository.TableStockLine, data.ItemLineID)
		if err != nil {
			return NotApplicable, err
		}
		if exists {
			stockLineID = &data.ItemLineID
		}
	}

	return Operations(UpsertOp(&repository.InvoiceLine{
		ID:            rec.RecordID,
		InvoiceID:     data.TransactionID,
		ItemID:        item.ID,
		ItemName:      item.Name,
		ItemCode:      item.Code,
		StockLineID:   stockLineID,
		Batch:         emptyToNil(data.Batch),
		PackSize:      data.PackSize,
		NumberOfPacks: data.Quantity,
	}, rec.SourceSiteID)), nil
}

func (t *invoiceLineTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(l *repository.InvoiceLine) (any, error) {
		return legacyTransLineRow{
			ID:            l.ID,
			TransactionID: l.InvoiceID,
			ItemID:        l.ItemID,
			ItemName:      l.ItemName,
			ItemLineID:    nilToEmpty(l.StockLineID),
			Batch:         nilToEmpty(l.Batch),
			PackSize:      l.PackSize,
			Quantity:      l.NumberOfPacks,
		}, nil
	})
}
