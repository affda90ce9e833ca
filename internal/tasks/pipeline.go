package tasks

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/services"
	"github.com/desertthunder/ytaudio/internal/shared"
)

const defaultWriteTimeout = 10 * time.Second

// PipelineOptions contains configuration for [ItemPipeline].
type PipelineOptions struct {
	DownloadDir  string        // Where local artifacts live: <dir>/<id><ext>
	Extension    string        // Artifact and object key extension (default: .mp3)
	MaxRetries   int           // Primary strategy attempts per invocation (default: 1)
	BackoffMin   time.Duration // Lower bound of the jittered wait between attempts
	BackoffMax   time.Duration // Upper bound of the jittered wait between attempts
	WriteTimeout time.Duration // Budget for terminal metadata writes, which outlive cancellation
}

// PipelineOptionsFromConfig maps the loaded configuration onto [PipelineOptions].
func PipelineOptionsFromConfig(c *shared.Config) PipelineOptions {
	return PipelineOptions{
		DownloadDir: c.Download.Dir,
		Extension:   c.Download.Extension,
		MaxRetries:  c.Acquisition.MaxRetries,
		BackoffMin:  c.Acquisition.BackoffMin.Duration,
		BackoffMax:  c.Acquisition.BackoffMax.Duration,
	}
}

// PipelineDeps are the clients an [ItemPipeline] drives. Fallback may be nil.
type PipelineDeps struct {
	Metadata models.MetadataStore
	Objects  models.ObjectStore
	Primary  services.PrimaryStrategy
	Fallback services.FallbackStrategy
	Fetcher  services.Fetcher
	Logger   *log.Logger
}

// ItemPipeline takes a single item from dedup check to stored artifact and metadata.
type ItemPipeline struct {
	meta     models.MetadataStore
	objects  models.ObjectStore
	primary  services.PrimaryStrategy
	fallback services.FallbackStrategy
	fetcher  services.Fetcher
	opts     PipelineOptions
	logger   *log.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewItemPipeline creates a pipeline from deps and opts.
func NewItemPipeline(deps PipelineDeps, opts PipelineOptions) *ItemPipeline {
	if opts.Extension == "" {
		opts.Extension = ".mp3"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &ItemPipeline{
		meta:     deps.Metadata,
		objects:  deps.Objects,
		primary:  deps.Primary,
		fallback: deps.Fallback,
		fetcher:  deps.Fetcher,
		opts:     opts,
		logger:   logger,
		sleep:    sleep,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ObjectKey returns the object key used for id.
func (p *ItemPipeline) ObjectKey(id string) string {
	return models.ObjectKey(id, p.opts.Extension)
}

// LocalPath returns the local artifact path used for id.
func (p *ItemPipeline) LocalPath(id string) string {
	return filepath.Join(p.opts.DownloadDir, id+p.opts.Extension)
}

// Process runs item through dedup, acquisition, upload and metadata write.
//
// It never returns an error: the returned item's Status is success, failed or
// missing_local_audio, with Error set when the item did not end in success.
func (p *ItemPipeline) Process(ctx context.Context, item models.Item) models.Item {
	logger := shared.WithLogger(p.logger, "item_id", item.ID)
	item.Error = ""

	if item.ID == "" {
		return p.abort(item, fmt.Errorf("%w: item has no id", shared.ErrInvalidInput), logger)
	}

	rec, found, err := p.claim(ctx, item)
	if err != nil {
		return p.abort(item, err, logger)
	}
	if found && rec.Status.Claimed() {
		return p.reconcile(ctx, item, rec, logger)
	}

	item.Attempts = rec.Attempts + 1
	item.LastAttempt = p.now()
	item.ObjectKey = ""

	key := p.ObjectKey(item.ID)
	exists, err := p.objects.Exists(ctx, key)
	if err != nil {
		return p.fail(ctx, item, fmt.Errorf("failed to check object store: %w", err), logger)
	}
	if exists {
		logger.Info("object already stored, updating metadata", "key", key)
		return p.succeed(ctx, item, key, logger)
	}

	localPath := p.LocalPath(item.ID)
	if nonEmptyFile(localPath) {
		logger.Info("using existing local artifact", "path", localPath)
		item.LocalPath = localPath
		return p.store(ctx, item, logger)
	}

	if err := os.MkdirAll(p.opts.DownloadDir, 0755); err != nil {
		return p.fail(ctx, item, fmt.Errorf("failed to create download directory: %w", err), logger)
	}

	path, err := p.acquire(ctx, &item, localPath, logger)
	if err != nil {
		return p.fail(ctx, item, err, logger)
	}
	item.LocalPath = path
	return p.store(ctx, item, logger)
}

// claim reads the record for item, inserting a pending claim when there is none.
// found reports whether a record already existed.
func (p *ItemPipeline) claim(ctx context.Context, item models.Item) (rec models.Record, found bool, err error) {
	rec, err = p.meta.Get(ctx, item.ID)
	switch {
	case err == nil:
		return rec, true, nil
	case !errors.Is(err, shared.ErrRecordNotFound):
		return models.Record{}, false, fmt.Errorf("failed to read metadata: %w", err)
	}

	pending := item
	pending.Status = models.StatusPending
	pending.ObjectKey = ""
	pending.Attempts = 0
	claim := models.NewRecord(pending)

	if _, err := p.meta.Insert(ctx, claim); err != nil {
		if !errors.Is(err, shared.ErrRecordExists) {
			return models.Record{}, false, fmt.Errorf("failed to claim item: %w", err)
		}
		rec, err = p.meta.Get(ctx, item.ID)
		if err != nil {
			return models.Record{}, false, fmt.Errorf("failed to read metadata: %w", err)
		}
		return rec, true, nil
	}
	return claim, false, nil
}

// reconcile checks a claimed record against the object store.
func (p *ItemPipeline) reconcile(ctx context.Context, item models.Item, rec models.Record, logger *log.Logger) models.Item {
	key := rec.ObjectKey
	if key == "" {
		key = p.ObjectKey(item.ID)
	}
	item.Attempts = rec.Attempts

	exists, err := p.objects.Exists(ctx, key)
	if err != nil {
		return p.abort(item, fmt.Errorf("failed to verify stored object: %w", err), logger)
	}

	if exists {
		item.Status = models.StatusSuccess
		item.ObjectKey = key
		if rec.CompletedAt != nil {
			item.CompletedAt = *rec.CompletedAt
		}
		if rec.Status == models.StatusMissingLocalAudio {
			logger.Info("object found again, restoring record", "key", key)
			if item.CompletedAt.IsZero() {
				item.CompletedAt = p.now()
			}
			p.save(ctx, item, logger)
			return item
		}
		logger.Debug("already stored, skipping", "key", key)
		return item
	}

	localPath := p.LocalPath(item.ID)
	if nonEmptyFile(localPath) {
		logger.Warn("stored object missing, re-uploading local artifact", "key", key, "path", localPath)
		item.LocalPath = localPath
		return p.store(ctx, item, logger)
	}

	item.Status = models.StatusMissingLocalAudio
	item.ObjectKey = key
	item.Error = fmt.Sprintf("%s: %s and no local artifact", shared.ErrObjectMissing, key)
	p.save(ctx, item, logger)
	p.logFailure(ctx, item, logger)
	logger.Warn("record claims a stored object that is gone", "key", key)
	return item
}

// acquire produces the local artifact for item at dest, trying the primary strategy
// up to MaxRetries times and the fallback at most once.
func (p *ItemPipeline) acquire(ctx context.Context, item *models.Item, dest string, logger *log.Logger) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		alog := logger.With("attempt", attempt)

		err := p.attempt(ctx, item, dest)
		if err == nil {
			alog.Debug("primary strategy succeeded")
			return dest, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("acquisition cancelled: %w", ctx.Err())
		}

		if services.IsDefinitive(err) {
			alog.Info("converter has no source, switching to fallback", "err", err)
			return p.runFallback(ctx, *item, err, alog)
		}

		lastErr = err
		alog.Warn("attempt failed", "err", err)

		if attempt < p.opts.MaxRetries {
			if err := p.sleep(ctx, p.backoff()); err != nil {
				return "", fmt.Errorf("acquisition cancelled: %w", err)
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", shared.ErrRetriesExhausted, p.opts.MaxRetries, lastErr)
}

// attempt runs one primary resolution and download. Download failures are transient.
func (p *ItemPipeline) attempt(ctx context.Context, item *models.Item, dest string) error {
	res, err := p.primary.Resolve(ctx, *item)
	if err != nil {
		return err
	}
	if res.Title != "" {
		item.Title = res.Title
	}

	if _, err := p.fetcher.Download(ctx, res.URL, dest); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrTransient, err)
	}
	return nil
}

func (p *ItemPipeline) runFallback(ctx context.Context, item models.Item, cause error, logger *log.Logger) (string, error) {
	if p.fallback == nil {
		return "", fmt.Errorf("%w: %w", shared.ErrFallbackMissing, cause)
	}

	path, err := p.fallback.Acquire(ctx, item)
	if err != nil {
		return "", fmt.Errorf("fallback failed: %w", err)
	}
	logger.Info("fallback produced artifact", "path", path)
	return path, nil
}

// backoff returns a uniformly jittered wait in [BackoffMin, BackoffMax].
func (p *ItemPipeline) backoff() time.Duration {
	span := p.opts.BackoffMax - p.opts.BackoffMin
	if span <= 0 {
		return p.opts.BackoffMin
	}
	return p.opts.BackoffMin + rand.N(span+1)
}

// store uploads item.LocalPath, verifies it and writes the success record.
func (p *ItemPipeline) store(ctx context.Context, item models.Item, logger *log.Logger) models.Item {
	key := p.ObjectKey(item.ID)

	info, err := os.Stat(item.LocalPath)
	if err != nil {
		return p.fail(ctx, item, fmt.Errorf("failed to stat local artifact: %w", err), logger)
	}

	metadata := map[string]string{
		"item-id": item.ID,
		"title":   url.QueryEscape(item.Title),
	}
	if _, err := p.objects.Put(ctx, key, item.LocalPath, metadata); err != nil {
		return p.fail(ctx, item, fmt.Errorf("failed to upload %s: %w", key, err), logger)
	}

	obj, err := p.objects.Stat(ctx, key)
	if err != nil {
		return p.fail(ctx, item, fmt.Errorf("failed to verify upload %s: %w", key, err), logger)
	}
	if obj.Size != info.Size() {
		return p.fail(ctx, item, fmt.Errorf("%w: %s stored %d bytes, local %d", shared.ErrUploadFailed, key, obj.Size, info.Size()), logger)
	}

	if err := os.Remove(item.LocalPath); err != nil {
		logger.Warn("failed to remove local artifact", "path", item.LocalPath, "err", err)
	} else {
		item.LocalPath = ""
	}

	logger.Info("stored", "key", key, "bytes", obj.Size)
	return p.succeed(ctx, item, key, logger)
}

func (p *ItemPipeline) succeed(ctx context.Context, item models.Item, key string, logger *log.Logger) models.Item {
	item.Status = models.StatusSuccess
	item.ObjectKey = key
	item.CompletedAt = p.now()
	item.Error = ""
	p.save(ctx, item, logger)
	return item
}

// fail records a terminal failure.
func (p *ItemPipeline) fail(ctx context.Context, item models.Item, err error, logger *log.Logger) models.Item {
	item.Status = models.StatusFailed
	item.ObjectKey = ""
	item.Error = err.Error()
	p.save(ctx, item, logger)
	p.logFailure(ctx, item, logger)
	logger.Warn("item failed", "attempts", item.Attempts, "err", err)
	return item
}

// RecordPanic writes a failed attempt for an item whose processing panicked. A record
// that already shows the item stored is returned as is.
func (p *ItemPipeline) RecordPanic(ctx context.Context, item models.Item, err error) models.Item {
	logger := shared.WithLogger(p.logger, "item_id", item.ID)
	if item.ID == "" {
		return p.abort(item, err, logger)
	}

	rctx, cancel := p.writeContext(ctx)
	rec, gerr := p.meta.Get(rctx, item.ID)
	cancel()

	switch {
	case gerr == nil && rec.Status.Claimed():
		logger.Warn("panic after item was stored", "status", rec.Status)
		return rec.Item()
	case gerr == nil:
		item.Attempts = rec.Attempts + 1
	case errors.Is(gerr, shared.ErrRecordNotFound):
		item.Attempts = 1
	default:
		return p.abort(item, fmt.Errorf("%w; failed to read metadata: %w", err, gerr), logger)
	}
	item.LastAttempt = p.now()
	return p.fail(ctx, item, err, logger)
}

// abort marks the item failed without touching metadata; used when the stores themselves
// are unreachable.
func (p *ItemPipeline) abort(item models.Item, err error, logger *log.Logger) models.Item {
	item.Status = models.StatusFailed
	item.Error = err.Error()
	logger.Error("item aborted", "err", err)
	return item
}

// save writes the record for item. Errors are logged: a later run heals the record
// from the object store.
func (p *ItemPipeline) save(ctx context.Context, item models.Item, logger *log.Logger) {
	wctx, cancel := p.writeContext(ctx)
	defer cancel()

	if err := p.meta.Save(wctx, models.NewRecord(item)); err != nil {
		logger.Error("failed to write metadata", "status", item.Status, "err", err)
	}
}

func (p *ItemPipeline) logFailure(ctx context.Context, item models.Item, logger *log.Logger) {
	wctx, cancel := p.writeContext(ctx)
	defer cancel()

	entry := models.FailureEntry{
		ItemID:  item.ID,
		URL:     item.URL,
		Title:   item.Title,
		Status:  item.Status,
		Message: item.Error,
	}
	if err := p.meta.LogFailure(wctx, entry); err != nil {
		logger.Error("failed to append failure log", "err", err)
	}
}

// writeContext detaches terminal writes from cancellation so an interrupted run still
// records its outcome.
func (p *ItemPipeline) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.opts.WriteTimeout)
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
