package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
)

var recordColumns = []string{
	"item_id", "url", "title", "duration_seconds", "status", "object_key", "local_path",
	"attempts", "retry_attempts", "last_attempt", "last_retry", "completed_at",
	"error_message", "created_at", "updated_at",
}

// A success record may only move to success or missing_local_audio.
const guardedStatus = `CASE WHEN items.status = 'success' AND excluded.status NOT IN ('success', 'missing_local_audio')
	THEN items.status ELSE excluded.status END`

const upsertSuffix = `ON CONFLICT(item_id) DO UPDATE SET
	url = CASE WHEN excluded.url != '' THEN excluded.url ELSE items.url END,
	title = CASE WHEN excluded.title != '' THEN excluded.title ELSE items.title END,
	duration_seconds = CASE WHEN excluded.duration_seconds > 0 THEN excluded.duration_seconds ELSE items.duration_seconds END,
	error_message = CASE WHEN items.status = 'success' AND excluded.status NOT IN ('success', 'missing_local_audio')
		THEN items.error_message ELSE excluded.error_message END,
	status = ` + guardedStatus + `,
	object_key = CASE WHEN excluded.object_key != '' THEN excluded.object_key ELSE items.object_key END,
	local_path = excluded.local_path,
	attempts = MAX(items.attempts, excluded.attempts),
	last_attempt = COALESCE(excluded.last_attempt, items.last_attempt),
	completed_at = COALESCE(excluded.completed_at, items.completed_at),
	updated_at = excluded.updated_at`

// RecordRepository implements [models.MetadataStore] on SQLite.
//
// Insert is the durable dedup claim. Save is a guarded upsert that never
// downgrades a success record to a failure and never clears a known object key.
type RecordRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ models.MetadataStore = (*RecordRepository)(nil)

// NewRecordRepository creates a new RecordRepository with the given database connection
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListOptions filters [RecordRepository.List].
type ListOptions struct {
	Status models.Status
	Limit  int
	Offset int
}

// Exists reports whether a record with the given item id exists.
func (r *RecordRepository) Exists(ctx context.Context, id string) (bool, error) {
	query, args, err := builder.Select("1").From("items").Where(sq.Eq{"item_id": id}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case isNoRows(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to check record %s: %w", id, err)
	}
	return true, nil
}

// Get retrieves the record for an item id.
func (r *RecordRepository) Get(ctx context.Context, id string) (models.Record, error) {
	query, args, err := builder.Select(recordColumns...).From("items").Where(sq.Eq{"item_id": id}).ToSql()
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to build get query: %w", err)
	}

	rec, err := r.scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if isNoRows(err) {
		return models.Record{}, fmt.Errorf("%w: %s", shared.ErrRecordNotFound, id)
	}
	return rec, err
}

// Insert claims an item id. A second claim fails with [shared.ErrRecordExists].
func (r *RecordRepository) Insert(ctx context.Context, rec models.Record) (string, error) {
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	query, args, err := r.insertBuilder(rec).ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: %s", shared.ErrRecordExists, rec.ItemID)
		}
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	return rec.ItemID, nil
}

// Save upserts a record.
func (r *RecordRepository) Save(ctx context.Context, rec models.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query, args, err := r.insertBuilder(rec).Suffix(upsertSuffix).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ItemID, err)
	}
	return nil
}

// FindByStatus lazily yields every record in status, oldest update first.
//
// Each range issues a fresh query, so the sequence can be consumed more than once.
// The connection stays busy until iteration ends; callers that write while
// iterating need a pool with more than one connection.
func (r *RecordRepository) FindByStatus(ctx context.Context, status models.Status) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		query, args, err := builder.Select(recordColumns...).
			From("items").
			Where(sq.Eq{"status": status}).
			OrderBy("updated_at ASC", "item_id ASC").
			ToSql()
		if err != nil {
			yield(models.Record{}, fmt.Errorf("failed to build status query: %w", err))
			return
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(models.Record{}, fmt.Errorf("failed to query records by status: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := r.scanRecord(rows)
			if err != nil {
				yield(models.Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(models.Record{}, fmt.Errorf("error iterating records: %w", err))
		}
	}
}

// RecordRetry bumps retry_attempts, stamps last_retry and writes status, then returns the
// updated record. As with Save, a success record keeps its status.
func (r *RecordRepository) RecordRetry(ctx context.Context, id string, status models.Status) (models.Record, error) {
	if !status.Valid() {
		return models.Record{}, fmt.Errorf("%w: status %q", shared.ErrInvalidArgument, status)
	}

	now := r.now()
	query, args, err := builder.Update("items").
		Set("retry_attempts", sq.Expr("retry_attempts + 1")).
		Set("last_retry", now).
		Set("status", sq.Expr("CASE WHEN status = 'success' AND ? NOT IN ('success', 'missing_local_audio') THEN status ELSE ? END", status, status)).
		Set("updated_at", now).
		Where(sq.Eq{"item_id": id}).
		ToSql()
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to build retry update: %w", err)
	}

	if err := r.execOne(ctx, id, query, args...); err != nil {
		return models.Record{}, err
	}
	return r.Get(ctx, id)
}

// Abandon moves a record that is neither success nor missing_local_audio to abandoned.
func (r *RecordRepository) Abandon(ctx context.Context, id, reason string) error {
	query, args, err := builder.Update("items").
		Set("status", models.StatusAbandoned).
		Set("error_message", reason).
		Set("updated_at", r.now()).
		Where(sq.Eq{"item_id": id}).
		Where(sq.NotEq{"status": []string{string(models.StatusSuccess), string(models.StatusMissingLocalAudio)}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build abandon update: %w", err)
	}

	return r.execOne(ctx, id, query, args...)
}

// CountByStatus returns the number of records per status. Every known status is present.
func (r *RecordRepository) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	query, args, err := builder.Select("status", "COUNT(*)").From("items").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int, len(models.Statuses))
	for _, s := range models.Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.Status(status)] = n
	}
	return counts, rows.Err()
}

// List retrieves records matching opts, most recently updated first.
func (r *RecordRepository) List(ctx context.Context, opts ListOptions) ([]models.Record, error) {
	q := builder.Select(recordColumns...).From("items").OrderBy("updated_at DESC", "item_id ASC")
	if opts.Status != "" {
		q = q.Where(sq.Eq{"status": opts.Status})
	}
	switch {
	case opts.Limit > 0:
		q = q.Limit(uint64(opts.Limit))
	case opts.Offset > 0:
		q = q.Limit(math.MaxInt64)
	}
	if opts.Offset > 0 {
		q = q.Offset(uint64(opts.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func (r *RecordRepository) insertBuilder(rec models.Record) sq.InsertBuilder {
	now := r.now()
	created := rec.Created
	if created.IsZero() {
		created = now
	}

	return builder.Insert("items").Columns(recordColumns...).Values(
		rec.ItemID,
		rec.URL,
		rec.Title,
		seconds(rec.Duration),
		string(rec.Status),
		rec.ObjectKey,
		rec.LocalPath,
		rec.Attempts,
		rec.RetryAttempts,
		nullTime(rec.LastAttempt),
		nullTime(rec.LastRetry),
		nullTime(rec.CompletedAt),
		rec.ErrorMessage,
		created.UTC(),
		now,
	)
}

func (r *RecordRepository) execOne(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrRecordNotFound, id)
	}
	return nil
}

func (r *RecordRepository) scanRecord(row rowScanner) (models.Record, error) {
	var (
		rec                               models.Record
		status                            string
		durationSeconds                   int64
		lastAttempt, lastRetry, completed sql.NullTime
	)

	err := row.Scan(
		&rec.ItemID,
		&rec.URL,
		&rec.Title,
		&durationSeconds,
		&status,
		&rec.ObjectKey,
		&rec.LocalPath,
		&rec.Attempts,
		&rec.RetryAttempts,
		&lastAttempt,
		&lastRetry,
		&completed,
		&rec.ErrorMessage,
		&rec.Created,
		&rec.Updated,
	)
	if err != nil {
		if isNoRows(err) {
			return models.Record{}, err
		}
		return models.Record{}, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Status = models.Status(status)
	rec.Duration = time.Duration(durationSeconds) * time.Second
	rec.LastAttempt = timePtr(lastAttempt)
	rec.LastRetry = timePtr(lastRetry)
	rec.CompletedAt = timePtr(completed)
	return rec, nil
}
