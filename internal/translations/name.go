package translations

import (
	"context"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

type legacyNameRow struct {
	ID       string `json:"ID"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Type     string `json:"type"`
	Customer bool   `json:"customer"`
	Supplier bool   `json:"supplier"`
}

type nameTranslator struct{ table }

func newNameTranslator() *nameTranslator {
	return &nameTranslator{table{wire: "name", local: repository.TableName}}
}

func (t *nameTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyNameRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	return Operations(UpsertOp(&repository.Name{
		ID:         rec.RecordID,
		Name:       data.Name,
		Code:       data.Code,
		Type:       data.Type,
		IsCustomer: data.Customer,
		IsSupplier: data.Supplier,
	}, rec.SourceSiteID)), nil
}

func (t *nameTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(n *repository.Name) (any, error) {
		return legacyNameRow{
			ID:       n.ID,
			Name:     n.Name,
			Code:     n.Code,
			Type:     n.Type,
			Customer: n.IsCustomer,
			Supplier: n.IsSupplier,
		}, nil
	})
}
