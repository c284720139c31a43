package translations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

// legacyNullDate is how the legacy format writes a missing date.
const legacyNullDate = "0000-00-00"

const legacyDateLayout = "2006-01-02"

func parseLegacy(rec *staging.Record, v any) error {
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return fmt.Errorf("failed to parse %s payload for %s: %w", rec.TableName, rec.RecordID, err)
	}
	return nil
}

// emptyToNil maps the legacy empty string to NULL. The legacy format has no
// way to tell them apart, so a local "" goes out as "" and comes back NULL.
func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilToEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// legacyDate validates a legacy date. Empty and 0000-00-00 are NULL.
func legacyDate(s string) (*string, error) {
	if s == "" || s == legacyNullDate {
		return nil, nil
	}
	if _, err := time.Parse(legacyDateLayout, s); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &s, nil
}

func toLegacyDate(s *string) string {
	if s == nil {
		return legacyNullDate
	}
	return *s
}

// legacyDatetime combines a legacy date and seconds-after-midnight into an
// RFC3339 UTC timestamp.
func legacyDatetime(date string, seconds int64) (string, error) {
	d, err := time.Parse(legacyDateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return d.Add(time.Duration(seconds) * time.Second).UTC().Format(time.RFC3339), nil
}

func toLegacyDatetime(ts string) (string, int64, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Format(legacyDateLayout), int64(t.Sub(midnight) / time.Second), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

// lookup loads a row a translator needs and returns whether it exists.
func lookup[T any, PT repository.RowPtr[T]](ctx context.Context, q storage.Querier, id string) (PT, bool, error) {
	row, err := repository.Get[T, PT](ctx, q, id)
	if err == nil {
		return row, true, nil
	}
	if isNotFound(err) {
		return nil, false, nil
	}
	return nil, false, err
}

// push renders a changelog entry into a wire record. Deletes carry an
// empty payload; upserts load the current row and encode it with legacy.
func push[T any, PT repository.RowPtr[T]](ctx context.Context, q storage.Querier, wireTable string, entry *repository.ChangelogRow, legacy func(PT) (any, error)) (*WireRecord, error) {
	rec := &WireRecord{TableName: wireTable, RecordID: entry.RecordID, Cursor: entry.Cursor}
	if entry.RowAction == repository.RowActionDelete {
		rec.Action = staging.ActionDelete
		rec.Data = json.RawMessage("{}")
		return rec, nil
	}

	row, err := repository.Get[T, PT](ctx, q, entry.RecordID)
	if err != nil {
		return nil, err
	}
	v, err := legacy(row)
	if err != nil {
		return nil, fmt.Errorf("failed to translate %s %s: %w", entry.TableName, entry.RecordID, err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", entry.TableName, entry.RecordID, err)
	}
	rec.Action = staging.ActionUpsert
	rec.Data = data
	return rec, nil
}
