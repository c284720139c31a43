package translations

import (
	"context"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

type legacyLocationRow struct {
	ID          string `json:"ID"`
	Description string `json:"Description"`
	Code        string `json:"code"`
	StoreID     string `json:"store_ID"`
	Hold        bool   `json:"hold"`
}

type locationTranslator struct{ table }

func newLocationTranslator() *locationTranslator {
	return &locationTranslator{table{wire: "location", local: repository.TableLocation, deps: []string{"store"}}}
}

func (t *locationTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyLocationRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	return Operations(UpsertOp(&repository.Location{
		ID:      rec.RecordID,
		Name:    data.Description,
		Code:    data.Code,
		StoreID: data.StoreID,
		OnHold:  data.Hold,
	}, rec.SourceSiteID)), nil
}

func (t *locationTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(l *repository.Location) (any, error) {
		return legacyLocationRow{
			ID:          l.ID,
			Description: l.Name,
			Code:        l.Code,
			StoreID:     l.StoreID,
			Hold:        l.OnHold,
		}, nil
	})
}
