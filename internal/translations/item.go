package translations

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

type legacyItemRow struct {
	ID              string  `json:"ID"`
	ItemName        string  `json:"item_name"`
	Code            string  `json:"code"`
	UnitID          string  `json:"unit_ID"`
	DefaultPackSize float64 `json:"default_pack_size"`
	TypeOf          string  `json:"type_of"`
	Barcode         string  `json:"barcode,omitempty"`
}

// legacyMerge is the payload of a merge record: every reference to
// MergeIDToDelete is moved to MergeIDToKeep.
type legacyMerge struct {
	MergeIDToKeep   string `json:"mergeIdToKeep"`
	MergeIDToDelete string `json:"mergeIdToDelete"`
}

func itemTypeFromLegacy(s string) (repository.ItemType, error) {
	switch s {
	case "general":
		return repository.ItemTypeStock, nil
	case "service":
		return repository.ItemTypeService, nil
	case "non_stock":
		return repository.ItemTypeNonStock, nil
	default:
		return "", fmt.Errorf("unknown item type_of %q", s)
	}
}

func itemTypeToLegacy(t repository.ItemType) string {
	if t == repository.ItemTypeStock {
		return "general"
	}
	return string(t)
}

type itemTranslator struct{ table }

func newItemTranslator() *itemTranslator {
	return &itemTranslator{table{wire: "item", local: repository.TableItem, deps: []string{"unit"}}}
}

func (t *itemTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyItemRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	itemType, err := itemTypeFromLegacy(data.TypeOf)
	if err != nil {
		return NotApplicable, fmt.Errorf("item %s: %w", rec.RecordID, err)
	}
	return Operations(UpsertOp(&repository.Item{
		ID:              rec.RecordID,
		Name:            data.ItemName,
		Code:            data.Code,
		UnitID:          emptyToNil(data.UnitID),
		DefaultPackSize: data.DefaultPackSize,
		Type:            itemType,
	}, rec.SourceSiteID)), nil
}

// TranslateDelete removes the item's barcodes before the item itself.
func (t *itemTranslator) TranslateDelete(ctx context.Context, q storage.Querier, rec *staging.Record) (Outcome, error) {
	barcodes, err := repository.BarcodesByItem(ctx, q, rec.RecordID)
	if err != nil {
		return NotApplicable, err
	}
	ops := make([]Operation, 0, len(barcodes)+1)
	for _, b := range barcodes {
		ops = append(ops, DeleteOp(repository.TableBarcode, b.ID, rec.SourceSiteID))
	}
	ops = append(ops, DeleteOp(t.local, rec.RecordID, rec.SourceSiteID))
	return Operations(ops...), nil
}

// TranslateMerge repoints stock lines, invoice lines and barcodes from the
// merged item to the surviving one, then deletes the merged item. Merging
// an item that is already gone produces no operations.
func (t *itemTranslator) TranslateMerge(ctx context.Context, q storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyMerge
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	if data.MergeIDToKeep == "" || data.MergeIDToDelete == "" {
		return NotApplicable, fmt.Errorf("item merge %s: mergeIdToKeep and mergeIdToDelete are required", rec.RecordID)
	}
	if data.MergeIDToKeep == data.MergeIDToDelete {
		return Ignored("item merged into itself"), nil
	}

	if _, ok, err := lookup[repository.Item](ctx, q, data.MergeIDToKeep); err != nil {
		return NotApplicable, err
	} else if !ok {
		return NotApplicable, fmt.Errorf("item merge %s: item to keep %s not found", rec.RecordID, data.MergeIDToKeep)
	}
	if _, ok, err := lookup[repository.Item](ctx, q, data.MergeIDToDelete); err != nil {
		return NotApplicable, err
	} else if !ok {
		return Operations(), nil
	}

	site := rec.SourceSiteID
	var ops []Operation

	stockLines, err := repository.StockLinesByItem(ctx, q, data.MergeIDToDelete)
	if err != nil {
		return NotApplicable, err
	}
	for _, line := range stockLines {
		line.ItemID = data.MergeIDToKeep
		ops = append(ops, UpsertOp(line, site))
	}

	invoiceLines, err := repository.InvoiceLinesByItem(ctx, q, data.MergeIDToDelete)
	if err != nil {
		return NotApplicable, err
	}
	for _, line := range invoiceLines {
		line.ItemID = data.MergeIDToKeep
		ops = append(ops, UpsertOp(line, site))
	}

	barcodes, err := repository.BarcodesByItem(ctx, q, data.MergeIDToDelete)
	if err != nil {
		return NotApplicable, err
	}
	for _, b := range barcodes {
		b.ItemID = data.MergeIDToKeep
		ops = append(ops, UpsertOp(b, site))
	}

	ops = append(ops, DeleteOp(t.local, data.MergeIDToDelete, site))
	return Operations(ops...), nil
}

func (t *itemTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(i *repository.Item) (any, error) {
		return legacyItemRow{
			ID:              i.ID,
			ItemName:        i.Name,
			Code:            i.Code,
			UnitID:          nilToEmpty(i.UnitID),
			DefaultPackSize: i.DefaultPackSize,
			TypeOf:          itemTypeToLegacy(i.Type),
		}, nil
	})
}
