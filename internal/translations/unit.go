package translations

import (
	"context"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

type legacyUnitRow struct {
	ID          string `json:"ID"`
	Units       string `json:"units"`
	Comment     string `json:"comment"`
	OrderNumber int64  `json:"order_number"`
}

type unitTranslator struct{ table }

func newUnitTranslator() *unitTranslator {
	return &unitTranslator{table{wire: "unit", local: repository.TableUnit}}
}

func (t *unitTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyUnitRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	return Operations(UpsertOp(&repository.Unit{
		ID:          rec.RecordID,
		Name:        data.Units,
		Description: emptyToNil(data.Comment),
		SortIndex:   data.OrderNumber,
	}, rec.SourceSiteID)), nil
}

func (t *unitTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(u *repository.Unit) (any, error) {
		return legacyUnitRow{
			ID:          u.ID,
			Units:       u.Name,
			Comment:     nilToEmpty(u.Description),
			OrderNumber: u.SortIndex,
		}, nil
	})
}
