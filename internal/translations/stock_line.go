package translations

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

type legacyItemLineRow struct {
	ID         string  `json:"ID"`
	ItemID     string  `json:"item_ID"`
	StoreID    string  `json:"store_ID"`
	LocationID string  `json:"location_ID"`
	Batch      string  `json:"batch"`
	PackSize   float64 `json:"pack_size"`
	Available  float64 `json:"available"`
	Quantity   float64 `json:"quantity"`
	ExpiryDate string  `json:"expiry_date"`
}

// stockLineTranslator maps the legacy item_line table onto stock lines.
type stockLineTranslator struct{ table }

func newStockLineTranslator() *stockLineTranslator {
	return &stockLineTranslator{table{
		wire:  "item_line",
		local: repository.TableStockLine,
		deps:  []string{"item", "store", "location"},
	}}
}

func (t *stockLineTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyItemLineRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	expiry, err := legacyDate(data.ExpiryDate)
	if err != nil {
		return NotApplicable, fmt.Errorf("item_line %s: %w", rec.RecordID, err)
	}
	return Operations(UpsertOp(&repository.StockLine{
		ID:                     rec.RecordID,
		ItemID:                 data.ItemID,
		StoreID:                data.StoreID,
		LocationID:             emptyToNil(data.LocationID),
		Batch:                  emptyToNil(data.Batch),
		PackSize:               data.PackSize,
		AvailableNumberOfPacks: data.Available,
		TotalNumberOfPacks:     data.Quantity,
		ExpiryDate:             expiry,
	}, rec.SourceSiteID)), nil
}

func (t *stockLineTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(s *repository.StockLine) (any, error) {
		return legacyItemLineRow{
			ID:         s.ID,
			ItemID:     s.ItemID,
			StoreID:    s.StoreID,
			LocationID: nilToEmpty(s.LocationID),
			Batch:      nilToEmpty(s.Batch),
			PackSize:   s.PackSize,
			Available:  s.AvailableNumberOfPacks,
			Quantity:   s.TotalNumberOfPacks,
			ExpiryDate: toLegacyDate(s.ExpiryDate),
		}, nil
	})
}
