// package models defines the data model for the audio acquisition pipeline
package models

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// Model defines the base interface for all persistent models.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Status is the lifecycle state of an item.
type Status string

const (
	StatusPending           Status = "pending"
	StatusSuccess           Status = "success"
	StatusFailed            Status = "failed"
	StatusMissingLocalAudio Status = "missing_local_audio"
	StatusAbandoned         Status = "abandoned"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusSuccess, StatusFailed, StatusMissingLocalAudio, StatusAbandoned}

// ParseStatus converts s to a [Status], rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusMissingLocalAudio, StatusAbandoned:
		return true
	}
	return false
}

// Claimed reports whether a record in this status is believed to have a stored artifact.
func (s Status) Claimed() bool {
	return s == StatusSuccess || s == StatusMissingLocalAudio
}

// Item is a unit of work. The pipeline returns it with Status, ObjectKey,
// Attempts and timestamps filled in; failures are reported through Status and Error.
type Item struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Title       string        `json:"title"`
	Duration    time.Duration `json:"duration"`
	Status      Status        `json:"status"`
	LocalPath   string        `json:"local_path,omitempty"`
	ObjectKey   string        `json:"object_key,omitempty"`
	Attempts    int           `json:"attempts"`
	LastAttempt time.Time     `json:"last_attempt,omitzero"`
	CompletedAt time.Time     `json:"completed_at,omitzero"`
	Error       string        `json:"error,omitempty"`
}

// Record is the durable metadata for one item.
type Record struct {
	ItemID        string        `json:"item_id"`
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	Duration      time.Duration `json:"duration"`
	Status        Status        `json:"status"`
	ObjectKey     string        `json:"object_key,omitempty"`
	LocalPath     string        `json:"local_path,omitempty"`
	Attempts      int           `json:"attempts"`
	RetryAttempts int           `json:"retry_attempts"`
	LastAttempt   *time.Time    `json:"last_attempt,omitempty"`
	LastRetry     *time.Time    `json:"last_retry,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Created       time.Time     `json:"created_at"`
	Updated       time.Time     `json:"updated_at"`
}

func (r Record) ID() string           { return r.ItemID }
func (r Record) CreatedAt() time.Time { return r.Created }
func (r Record) UpdatedAt() time.Time { return r.Updated }

// Validate checks the fields every write requires.
func (r Record) Validate() error {
	if r.ItemID == "" {
		return fmt.Errorf("item id is required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.Status == StatusSuccess && r.ObjectKey == "" {
		return fmt.Errorf("success record %s requires an object key", r.ItemID)
	}
	return nil
}

// Item materialises the minimal work unit needed to reprocess this record.
func (r Record) Item() Item {
	return Item{
		ID:        r.ItemID,
		URL:       r.URL,
		Title:     r.Title,
		Duration:  r.Duration,
		Status:    r.Status,
		ObjectKey: r.ObjectKey,
		LocalPath: r.LocalPath,
		Attempts:  r.Attempts,
	}
}

// NewRecord builds the record written for item.
func NewRecord(item Item) Record {
	rec := Record{
		ItemID:       item.ID,
		URL:          item.URL,
		Title:        item.Title,
		Duration:     item.Duration,
		Status:       item.Status,
		ObjectKey:    item.ObjectKey,
		LocalPath:    item.LocalPath,
		Attempts:     item.Attempts,
		ErrorMessage: item.Error,
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if !item.LastAttempt.IsZero() {
		t := item.LastAttempt
		rec.LastAttempt = &t
	}
	if !item.CompletedAt.IsZero() {
		t := item.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}

// FailureEntry is one append-only failure log row.
type FailureEntry struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Resolution is the converter's answer for one item.
type Resolution struct {
	URL   string
	Title string
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ObjectKey returns the blob key for an item id, e.g. "abc123.mp3".
func ObjectKey(id, ext string) string {
	return id + ext
}

// MetadataStore persists records and the failure log.
type MetadataStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Record, error)
	Insert(ctx context.Context, rec Record) (string, error)
	Save(ctx context.Context, rec Record) error
	FindByStatus(ctx context.Context, status Status) iter.Seq2[Record, error]
	RecordRetry(ctx context.Context, id string, status Status) (Record, error)
	Abandon(ctx context.Context, id, reason string) error
	LogFailure(ctx context.Context, entry FailureEntry) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// ObjectStore holds the audio blobs.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key, path string, metadata map[string]string) (ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}
