package repositories

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
)

// LogFailure appends an entry to the failure log. ID and CreatedAt are filled in when empty.
func (r *RecordRepository) LogFailure(ctx context.Context, entry models.FailureEntry) error {
	if entry.ItemID == "" {
		return fmt.Errorf("%w: failure entry without item id", shared.ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = shared.GenerateID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}

	query, args, err := builder.Insert("failure_log").
		Columns("id", "item_id", "url", "title", "status", "message", "created_at").
		Values(entry.ID, entry.ItemID, entry.URL, entry.Title, string(entry.Status), entry.Message, entry.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build failure insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to log failure for %s: %w", entry.ItemID, err)
	}
	return nil
}

// Failures returns the failure log for an item, newest first. An empty id returns the whole log up to limit.
func (r *RecordRepository) Failures(ctx context.Context, itemID string, limit int) ([]models.FailureEntry, error) {
	q := builder.Select("id", "item_id", "url", "title", "status", "message", "created_at").
		From("failure_log").
		OrderBy("created_at DESC")
	if itemID != "" {
		q = q.Where(sq.Eq{"item_id": itemID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build failure query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure log: %w", err)
	}
	defer rows.Close()

	var entries []models.FailureEntry
	for rows.Next() {
		var (
			e      models.FailureEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.URL, &e.Title, &status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure entry: %w", err)
		}
		e.Status = models.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
