package translations

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

type legacyTransactRow struct {
	ID         string `json:"ID"`
	NameID     string `json:"name_ID"`
	StoreID    string `json:"store_ID"`
	InvoiceNum int64  `json:"invoice_num"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	EntryDate  string `json:"entry_date"`
	EntryTime  int64  `json:"entry_time"` // seconds after midnight
	Comment    string `json:"comment"`
}

var (
	legacyInvoiceTypes = map[string]repository.InvoiceType{
		"ci": repository.InvoiceTypeOutbound,
		"si": repository.InvoiceTypeInbound,
	}
	legacyInvoiceStatuses = map[string]string{
		"nw": "new",
		"cn": "confirmed",
		"fn": "finalised",
	}
)

func reverseLookup[V comparable](m map[string]V, v V) (string, bool) {
	for k, mv := range m {
		if mv == v {
			return k, true
		}
	}
	return "", false
}

// invoiceTranslator maps legacy customer (ci) and supplier (si) invoices.
// Other transaction types are not kept locally.
type invoiceTranslator struct{ table }

func newInvoiceTranslator() *invoiceTranslator {
	return &invoiceTranslator{table{wire: "transact", local: repository.TableInvoice, deps: []string{"name", "store"}}}
}

func (t *invoiceTranslator) TranslateUpsert(_ context.Context, _ storage.Querier, rec *staging.Record) (Outcome, error) {
	var data legacyTransactRow
	if err := parseLegacy(rec, &data); err != nil {
		return NotApplicable, err
	}
	invoiceType, ok := legacyInvoiceTypes[data.Type]
	if !ok {
		return Ignored(fmt.Sprintf("unsupported transaction type %q", data.Type)), nil
	}
	status, ok := legacyInvoiceStatuses[data.Status]
	if !ok {
		return NotApplicable, fmt.Errorf("transact %s: unknown status %q", rec.RecordID, data.Status)
	}
	created, err := legacyDatetime(data.EntryDate, data.EntryTime)
	if err != nil {
		return NotApplicable, fmt.Errorf("transact %s: %w", rec.RecordID, err)
	}
	return Operations(UpsertOp(&repository.Invoice{
		ID:              rec.RecordID,
		NameID:          data.NameID,
		StoreID:         data.StoreID,
		InvoiceNumber:   data.InvoiceNum,
		Type:            invoiceType,
		Status:          status,
		CreatedDatetime: created,
		Comment:         emptyToNil(data.Comment),
	}, rec.SourceSiteID)), nil
}

func (t *invoiceTranslator) TranslateOutgoing(ctx context.Context, q storage.Querier, entry *repository.ChangelogRow) (*WireRecord, error) {
	return push(ctx, q, t.wire, entry, func(i *repository.Invoice) (any, error) {
		typ, ok := reverseLookup(legacyInvoiceTypes, i.Type)
		if !ok {
			return nil, fmt.Errorf("no legacy type for %q", i.Type)
		}
		status, ok := reverseLookup(legacyInvoiceStatuses, i.Status)
		if !ok {
			return nil, fmt.Errorf("no legacy status for %q", i.Status)
		}
		date, seconds, err := toLegacyDatetime(i.CreatedDatetime)
		if err != nil {
			return nil, err
		}
		return legacyTransactRow{
			ID:         i.ID,
			NameID:     i.NameID,
			StoreID:    i.StoreID,
			InvoiceNum: i.InvoiceNumber,
			Type:       typ,
			Status:     status,
			EntryDate:  date,
			EntryTime:  seconds,
			Comment:    nilToEmpty(i.Comment),
		}, nil
	})
}
