package translations

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

// systemStoreCodes are stores the central server keeps for its own use.
var systemStoreCodes = map[string]bool{"HIS": true, "DRG": true, "SM": true}

type legacyStoreRow struct {
	ID         string `json:"ID"`
	NameID     string `json:"name_ID"`
	Code       string `json:"code"`
	RemoteSite int32  `json:"sync_id_remote_site"`
}

type storeTranslator struct{ table }

func newStoreTranslator() *storeTranslator {
	return &storeTranslator{table{wire: "store", local: repository.TableStore, deps: []string{"name"}}}
}

func (t *storeTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyStoreRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	if systemStoreCodes[data.Code] {
		return Ignored(fmt.Sprintf("system store %s", data.Code)), nil
	}
	return Operations(UpsertOp(&repository.Store{
		ID:     rec.RecordID,
		NameID: data.NameID,
		Code:   data.Code,
		SiteID: data.RemoteSite,
	}, rec.SourceSiteID)), nil
}

// TranslateDelete ignores deletes; stores are only ever deactivated.
func (t *storeTranslator) TranslateDelete(context.Context, storage.Querier, *staging.Record) (Outcome, error) {
	return Ignored("store deletes are not supported"), nil
}

func (t *storeTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(s *repository.Store) (any, error) {
		return legacyStoreRow{
			ID:         s.ID,
			NameID:     s.NameID,
			Code:       s.Code,
			RemoteSite: s.SiteID,
		}, nil
	})
}
