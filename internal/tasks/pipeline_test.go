package tasks

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/repositories"
	"github.com/desertthunder/ytaudio/internal/shared"
	tu "github.com/desertthunder/ytaudio/internal/testing"
)

var audio = []byte("ID3 fake audio payload")

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

type harness struct {
	repo     *repositories.RecordRepository
	store    *tu.MemoryObjectStore
	primary  *tu.FakePrimary
	fallback *tu.FakeFallback
	fetcher  *tu.FakeFetcher
	dir      string
	pipeline *ItemPipeline
	sleeps   atomic.Int32
}

func newHarness(t *testing.T, maxRetries int) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		repo:     repositories.NewRecordRepository(setupTestDB(t)),
		store:    tu.NewMemoryObjectStore(),
		primary:  &tu.FakePrimary{},
		fallback: &tu.FakeFallback{Dir: dir, Body: audio},
		fetcher:  &tu.FakeFetcher{Body: audio},
		dir:      dir,
	}

	h.pipeline = NewItemPipeline(PipelineDeps{
		Metadata: h.repo,
		Objects:  h.store,
		Primary:  h.primary,
		Fallback: h.fallback,
		Fetcher:  h.fetcher,
		Logger:   shared.NewLogger(io.Discard),
	}, PipelineOptions{
		DownloadDir: dir,
		Extension:   ".mp3",
		MaxRetries:  maxRetries,
		BackoffMin:  2 * time.Second,
		BackoffMax:  5 * time.Second,
	})
	h.pipeline.sleep = func(ctx context.Context, d time.Duration) error {
		if d < 2*time.Second || d > 5*time.Second {
			t.Errorf("backoff %v outside configured bounds", d)
		}
		h.sleeps.Add(1)
		return ctx.Err()
	}
	return h
}

func (h *harness) record(t *testing.T, id string) models.Record {
	t.Helper()
	rec, err := h.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get record %s: %v", id, err)
	}
	return rec
}

func (h *harness) failures(t *testing.T, id string) []models.FailureEntry {
	t.Helper()
	entries, err := h.repo.Failures(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("failed to read failure log: %v", err)
	}
	return entries
}

func testItem(id string) models.Item {
	return models.Item{
		ID:       id,
		URL:      "https://www.youtube.com/watch?v=" + id,
		Title:    "Title " + id,
		Duration: 3 * time.Minute,
	}
}

func alwaysFail(err error) func(int, models.Item) (models.Resolution, error) {
	return func(int, models.Item) (models.Resolution, error) { return models.Resolution{}, err }
}

func TestItemPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("new item is acquired and stored", func(t *testing.T) {
		h := newHarness(t, 5)

		got := h.pipeline.Process(ctx, testItem("abc123"))

		if got.Status != models.StatusSuccess {
			t.Fatalf("expected success, got %s (%s)", got.Status, got.Error)
		}
		if got.ObjectKey != "abc123.mp3" {
			t.Errorf("expected key abc123.mp3, got %s", got.ObjectKey)
		}
		if got.Attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", got.Attempts)
		}
		if got.CompletedAt.IsZero() {
			t.Error("completed_at should be set")
		}

		rec := h.record(t, "abc123")
		if rec.Status != models.StatusSuccess || rec.ObjectKey != "abc123.mp3" || rec.Attempts != 1 {
			t.Errorf("unexpected record: %+v", rec)
		}
		if rec.CompletedAt == nil {
			t.Error("record completed_at should be set")
		}

		if keys := h.store.Keys(); len(keys) != 1 || keys[0] != "abc123.mp3" {
			t.Errorf("unexpected stored keys %v", keys)
		}
		tu.AssertFileMissing(t, filepath.Join(h.dir, "abc123.mp3"))

		if h.primary.Calls() != 1 || h.fallback.Calls() != 0 {
			t.Errorf("expected 1 primary and 0 fallback calls, got %d and %d", h.primary.Calls(), h.fallback.Calls())
		}
	})

	t.Run("resolved title replaces the item title", func(t *testing.T) {
		h := newHarness(t, 1)
		h.primary.Fn = func(int, models.Item) (models.Resolution, error) {
			return models.Resolution{URL: "https://cdn.test/a.mp3", Title: "Resolved Title"}, nil
		}

		got := h.pipeline.Process(ctx, testItem("title00001"))
		if got.Title != "Resolved Title" {
			t.Errorf("expected resolved title, got %q", got.Title)
		}
		if rec := h.record(t, "title00001"); rec.Title != "Resolved Title" {
			t.Errorf("expected record title to be updated, got %q", rec.Title)
		}
	})

	t.Run("processing twice is idempotent", func(t *testing.T) {
		h := newHarness(t, 5)

		first := h.pipeline.Process(ctx, testItem("dup"))
		second := h.pipeline.Process(ctx, testItem("dup"))

		if first.Status != models.StatusSuccess || second.Status != models.StatusSuccess {
			t.Fatalf("expected success twice, got %s then %s", first.Status, second.Status)
		}
		if second.ObjectKey != "dup.mp3" {
			t.Errorf("expected key on second run, got %q", second.ObjectKey)
		}
		if h.primary.Calls() != 1 {
			t.Errorf("expected 1 primary call, got %d", h.primary.Calls())
		}
		if h.store.Puts() != 1 {
			t.Errorf("expected 1 upload, got %d", h.store.Puts())
		}
		if rec := h.record(t, "dup"); rec.Attempts != 1 {
			t.Errorf("expected attempts to stay 1, got %d", rec.Attempts)
		}
	})

	t.Run("missing object is re-uploaded from local artifact", func(t *testing.T) {
		h := newHarness(t, 5)
		h.pipeline.Process(ctx, testItem("repair"))

		h.store.Delete("repair.mp3")
		local := filepath.Join(h.dir, "repair.mp3")
		tu.MustWriteFile(t, local, string(audio))

		got := h.pipeline.Process(ctx, testItem("repair"))

		if got.Status != models.StatusSuccess {
			t.Fatalf("expected success, got %s (%s)", got.Status, got.Error)
		}
		if h.store.Puts() != 2 {
			t.Errorf("expected 2 uploads, got %d", h.store.Puts())
		}
		if h.primary.Calls() != 1 {
			t.Errorf("repair should not acquire again, got %d primary calls", h.primary.Calls())
		}
		tu.AssertFileMissing(t, local)
	})

	t.Run("missing object without local artifact is flagged and later healed", func(t *testing.T) {
		h := newHarness(t, 5)
		h.pipeline.Process(ctx, testItem("gone"))
		h.store.Delete("gone.mp3")

		got := h.pipeline.Process(ctx, testItem("gone"))
		if got.Status != models.StatusMissingLocalAudio {
			t.Fatalf("expected missing_local_audio, got %s", got.Status)
		}

		rec := h.record(t, "gone")
		if rec.Status != models.StatusMissingLocalAudio {
			t.Errorf("expected record missing_local_audio, got %s", rec.Status)
		}
		if rec.ObjectKey != "gone.mp3" {
			t.Errorf("object key should be retained, got %q", rec.ObjectKey)
		}
		if entries := h.failures(t, "gone"); len(entries) != 1 || entries[0].Status != models.StatusMissingLocalAudio {
			t.Errorf("expected one missing_local_audio failure entry, got %+v", entries)
		}
		if h.primary.Calls() != 1 {
			t.Errorf("claimed record should not be acquired again, got %d primary calls", h.primary.Calls())
		}

		h.store.Seed("gone.mp3", int64(len(audio)))
		healed := h.pipeline.Process(ctx, testItem("gone"))
		if healed.Status != models.StatusSuccess {
			t.Fatalf("expected success after object reappeared, got %s", healed.Status)
		}
		if rec := h.record(t, "gone"); rec.Status != models.StatusSuccess {
			t.Errorf("expected record healed to success, got %s", rec.Status)
		}
	})

	t.Run("transient failures stop at max retries", func(t *testing.T) {
		h := newHarness(t, 3)
		h.primary.Fn = alwaysFail(shared.ErrResultTimeout)

		got := h.pipeline.Process(ctx, testItem("flaky"))

		if got.Status != models.StatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if !strings.Contains(got.Error, shared.ErrRetriesExhausted.Error()) {
			t.Errorf("expected retries exhausted error, got %q", got.Error)
		}
		if h.primary.Calls() != 3 {
			t.Errorf("expected 3 primary calls, got %d", h.primary.Calls())
		}
		if h.fallback.Calls() != 0 {
			t.Errorf("transient exhaustion must not use the fallback, got %d calls", h.fallback.Calls())
		}
		if n := h.sleeps.Load(); n != 2 {
			t.Errorf("expected 2 backoff sleeps, got %d", n)
		}

		rec := h.record(t, "flaky")
		if rec.Status != models.StatusFailed || rec.ObjectKey != "" {
			t.Errorf("unexpected record: %+v", rec)
		}
		if entries := h.failures(t, "flaky"); len(entries) != 1 {
			t.Errorf("expected 1 failure entry, got %d", len(entries))
		}
	})

	t.Run("download failure counts as a transient attempt", func(t *testing.T) {
		h := newHarness(t, 3)
		h.fetcher.Fn = func(call int, url string) error {
			if call == 1 {
				return shared.ErrDownloadFailed
			}
			return nil
		}

		got := h.pipeline.Process(ctx, testItem("retrydl"))
		if got.Status != models.StatusSuccess {
			t.Fatalf("expected success, got %s (%s)", got.Status, got.Error)
		}
		if h.primary.Calls() != 2 {
			t.Errorf("expected a fresh resolve per attempt, got %d", h.primary.Calls())
		}
	})

	t.Run("source not found switches to fallback once", func(t *testing.T) {
		h := newHarness(t, 5)
		h.primary.Fn = alwaysFail(shared.ErrSourceNotFound)

		got := h.pipeline.Process(ctx, testItem("shorts"))

		if got.Status != models.StatusSuccess {
			t.Fatalf("expected success via fallback, got %s (%s)", got.Status, got.Error)
		}
		if h.primary.Calls() != 1 {
			t.Errorf("primary must not be retried after not-found, got %d calls", h.primary.Calls())
		}
		if h.fallback.Calls() != 1 {
			t.Errorf("expected 1 fallback call, got %d", h.fallback.Calls())
		}
		if h.sleeps.Load() != 0 {
			t.Errorf("fallback switch should not back off")
		}
	})

	t.Run("fallback failure is terminal", func(t *testing.T) {
		h := newHarness(t, 5)
		h.primary.Fn = alwaysFail(shared.ErrSourceNotFound)
		h.fallback.Err = shared.ErrExtractorFailed

		got := h.pipeline.Process(ctx, testItem("nofallback"))

		if got.Status != models.StatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if h.primary.Calls() != 1 || h.fallback.Calls() != 1 {
			t.Errorf("expected 1 primary and 1 fallback call, got %d and %d", h.primary.Calls(), h.fallback.Calls())
		}
	})

	t.Run("source not found without fallback", func(t *testing.T) {
		h := newHarness(t, 5)
		h.primary.Fn = alwaysFail(shared.ErrSourceNotFound)
		h.pipeline.fallback = nil

		got := h.pipeline.Process(ctx, testItem("nofb"))
		if got.Status != models.StatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if !strings.Contains(got.Error, shared.ErrFallbackMissing.Error()) {
			t.Errorf("expected fallback missing error, got %q", got.Error)
		}
	})

	t.Run("existing local artifact skips acquisition", func(t *testing.T) {
		h := newHarness(t, 5)
		tu.MustWriteFile(t, filepath.Join(h.dir, "local.mp3"), string(audio))

		got := h.pipeline.Process(ctx, testItem("local"))
		if got.Status != models.StatusSuccess {
			t.Fatalf("expected success, got %s (%s)", got.Status, got.Error)
		}
		if h.primary.Calls() != 0 {
			t.Errorf("expected no primary calls, got %d", h.primary.Calls())
		}
	})

	t.Run("empty local artifact is ignored", func(t *testing.T) {
		h := newHarness(t, 5)
		tu.MustWriteFile(t, filepath.Join(h.dir, "empty.mp3"), "")

		got := h.pipeline.Process(ctx, testItem("empty"))
		if got.Status != models.StatusSuccess {
			t.Fatalf("expected success, got %s (%s)", got.Status, got.Error)
		}
		if h.primary.Calls() != 1 {
			t.Errorf("expected acquisition for empty artifact, got %d primary calls", h.primary.Calls())
		}
	})

	t.Run("stored object without record is adopted", func(t *testing.T) {
		h := newHarness(t, 5)
		h.store.Seed("adopt.mp3", 10)

		got := h.pipeline.Process(ctx, testItem("adopt"))
		if got.Status != models.StatusSuccess || got.ObjectKey != "adopt.mp3" {
			t.Fatalf("unexpected item: %+v", got)
		}
		if h.primary.Calls() != 0 || h.store.Puts() != 0 {
			t.Errorf("expected no acquisition or upload, got %d and %d", h.primary.Calls(), h.store.Puts())
		}
		if rec := h.record(t, "adopt"); rec.Status != models.StatusSuccess {
			t.Errorf("expected success record, got %s", rec.Status)
		}
	})

	t.Run("store error during dedup leaves record untouched", func(t *testing.T) {
		h := newHarness(t, 5)
		h.pipeline.Process(ctx, testItem("outage"))
		h.store.ExistsErr = errors.New("connection refused")

		got := h.pipeline.Process(ctx, testItem("outage"))
		if got.Status != models.StatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if rec := h.record(t, "outage"); rec.Status != models.StatusSuccess {
			t.Errorf("record should stay success, got %s", rec.Status)
		}
		if entries := h.failures(t, "outage"); len(entries) != 0 {
			t.Errorf("expected no failure entries, got %d", len(entries))
		}
	})

	t.Run("upload size mismatch fails and keeps local file", func(t *testing.T) {
		h := newHarness(t, 1)
		h.store.SizeSkew = 1

		got := h.pipeline.Process(ctx, testItem("skew"))
		if got.Status != models.StatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if !strings.Contains(got.Error, shared.ErrUploadFailed.Error()) {
			t.Errorf("expected upload failed error, got %q", got.Error)
		}
		tu.AssertFileExists(t, filepath.Join(h.dir, "skew.mp3"))
	})

	t.Run("attempts accumulate across invocations", func(t *testing.T) {
		h := newHarness(t, 1)
		h.primary.Fn = alwaysFail(shared.ErrSessionFailed)

		h.pipeline.Process(ctx, testItem("again"))
		got := h.pipeline.Process(ctx, testItem("again"))

		if got.Attempts != 2 {
			t.Errorf("expected 2 attempts, got %d", got.Attempts)
		}
		if rec := h.record(t, "again"); rec.Attempts != 2 {
			t.Errorf("expected record attempts 2, got %d", rec.Attempts)
		}
	})

	t.Run("cancelled context still records the failure", func(t *testing.T) {
		h := newHarness(t, 5)
		cctx, cancel := context.WithCancel(ctx)
		h.primary.Fn = func(int, models.Item) (models.Resolution, error) {
			cancel()
			return models.Resolution{}, context.Canceled
		}

		got := h.pipeline.Process(cctx, testItem("cancel"))
		if got.Status != models.StatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if h.primary.Calls() != 1 {
			t.Errorf("expected no retries after cancel, got %d", h.primary.Calls())
		}
		if rec := h.record(t, "cancel"); rec.Status != models.StatusFailed {
			t.Errorf("expected failed record, got %s", rec.Status)
		}
	})

	t.Run("item without id", func(t *testing.T) {
		h := newHarness(t, 1)
		got := h.pipeline.Process(ctx, models.Item{URL: "https://example.com"})
		if got.Status != models.StatusFailed {
			t.Errorf("expected failed, got %s", got.Status)
		}
		if h.primary.Calls() != 0 {
			t.Error("item without id should not be acquired")
		}
	})
}

func TestBackoff(t *testing.T) {
	p := NewItemPipeline(PipelineDeps{}, PipelineOptions{BackoffMin: time.Second, BackoffMax: 3 * time.Second})
	for range 100 {
		if d := p.backoff(); d < time.Second || d > 3*time.Second {
			t.Fatalf("backoff %v outside [1s, 3s]", d)
		}
	}

	fixed := NewItemPipeline(PipelineDeps{}, PipelineOptions{BackoffMin: time.Second})
	if d := fixed.backoff(); d != time.Second {
		t.Errorf("expected fixed backoff of 1s, got %v", d)
	}
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep should return nil, got %v", err)
	}
}

func TestRecordPanic(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps a stored record", func(t *testing.T) {
		h := newHarness(t, 1)
		if got := h.pipeline.Process(ctx, testItem("ok1")); got.Status != models.StatusSuccess {
			t.Fatalf("expected success, got %s", got.Status)
		}

		got := h.pipeline.RecordPanic(ctx, testItem("ok1"), errors.New("panic: late"))
		if got.Status != models.StatusSuccess {
			t.Errorf("RecordPanic() status = %s, want success", got.Status)
		}
		if rec := h.record(t, "ok1"); rec.Status != models.StatusSuccess {
			t.Errorf("stored record changed to %s", rec.Status)
		}
	})

	t.Run("counts the attempt on a failed record", func(t *testing.T) {
		h := newHarness(t, 1)
		h.primary.Fn = alwaysFail(shared.ErrLinkUnavailable)
		h.fallback.Err = shared.ErrExtractorFailed
		h.pipeline.Process(ctx, testItem("f1"))

		got := h.pipeline.RecordPanic(ctx, testItem("f1"), errors.New("panic: boom"))
		if got.Status != models.StatusFailed {
			t.Errorf("RecordPanic() status = %s, want failed", got.Status)
		}
		if rec := h.record(t, "f1"); rec.Attempts != 2 || rec.ErrorMessage != "panic: boom" {
			t.Errorf("unexpected record: attempts=%d error=%q", rec.Attempts, rec.ErrorMessage)
		}
	})
}
