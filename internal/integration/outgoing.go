package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mschirtzinger/sitesync/internal/repository"
	"github.com/mschirtzinger/sitesync/internal/storage"
	"github.com/mschirtzinger/sitesync/internal/translations"
)

// PushCursorKey is the key/value entry holding the last pushed cursor.
const PushCursorKey = "push_cursor"

// Outgoing collects local changes for pushing to another site.
type Outgoing struct {
	registry *translations.Registry
	logger   *slog.Logger
}

// NewOutgoing creates a collector.
func NewOutgoing(registry *translations.Registry, logger *slog.Logger) *Outgoing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outgoing{registry: registry, logger: logger}
}

// PushBatch is a set of wire records ready to push.
type PushBatch struct {
	Records []*translations.WireRecord `json:"records"`
	// LastCursor is the cursor to resume from after this batch is acknowledged.
	LastCursor int64 `json:"last_cursor"`
}

// Collect translates up to limit changelog entries after afterCursor.
// Changes that were integrated from excludeSite are skipped so a site never
// receives its own changes back. An upsert whose row is gone by now is
// skipped; the later delete entry covers it.
func (o *Outgoing) Collect(ctx context.Context, q storage.Querier, afterCursor int64, limit int, excludeSite *int32) (*PushBatch, error) {
	entries, err := repository.Changelog(ctx, q, repository.ChangelogFilter{
		After:       afterCursor,
		Limit:       limit,
		ExcludeSite: excludeSite,
		Tables:      o.registry.ChangelogTables(),
	})
	if err != nil {
		return nil, err
	}

	batch := &PushBatch{LastCursor: afterCursor}
	for _, entry := range entries {
		batch.LastCursor = entry.Cursor
		rec, err := o.registry.Outgoing(ctx, q, entry)
		if errors.Is(err, repository.ErrNotFound) {
			o.logger.Debug("skipping change for removed row", "table", entry.TableName, "record_id", entry.RecordID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to translate changelog cursor %d: %w", entry.Cursor, err)
		}
		if rec != nil {
			batch.Records = append(batch.Records, rec)
		}
	}
	return batch, nil
}

// LoadPushCursor returns the stored push cursor, or 0 if none was saved.
func LoadPushCursor(ctx context.Context, q storage.Querier) (int64, error) {
	v, err := repository.GetValue(ctx, q, PushCursorKey)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cursor, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid push cursor %q: %w", v, err)
	}
	return cursor, nil
}

// SavePushCursor stores the push cursor.
func SavePushCursor(ctx context.Context, q storage.Querier, cursor int64) error {
	return repository.SetValue(ctx, q, PushCursorKey, strconv.FormatInt(cursor, 10))
}
