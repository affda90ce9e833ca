package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
)

const defaultSweepInterval = time.Hour

// SweeperOptions contains configuration for [Sweeper].
type SweeperOptions struct {
	Interval     time.Duration // Wait between sweeps (default: 1h)
	MaxAttempts  int           // Retries before a record is abandoned; 0 never abandons
	WriteTimeout time.Duration // Budget for retry bookkeeping writes
}

// SweeperOptionsFromConfig maps the loaded configuration onto [SweeperOptions].
func SweeperOptionsFromConfig(c *shared.Config) SweeperOptions {
	return SweeperOptions{
		Interval:    c.Retry.Interval.Duration,
		MaxAttempts: c.Retry.MaxAttempts,
	}
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Found     int           `json:"found"`
	Recovered int           `json:"recovered"`
	Failed    int           `json:"failed"`
	Missing   int           `json:"missing_local_audio"`
	Abandoned int           `json:"abandoned"`
	Errors    int           `json:"errors"` // Bookkeeping writes that failed
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
}

// Sweeper re-runs failed records through the pipeline.
type Sweeper struct {
	meta     models.MetadataStore
	pipeline Processor
	opts     SweeperOptions
	logger   *log.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu   sync.RWMutex
	last *SweepResult
}

// NewSweeper creates a sweeper over meta that retries with p.
func NewSweeper(meta models.MetadataStore, p Processor, opts SweeperOptions, logger *log.Logger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Sweeper{meta: meta, pipeline: p, opts: opts, logger: logger, sleep: sleep}
}

// Last returns the most recent sweep result. ok is false before the first sweep finishes.
func (s *Sweeper) Last() (res SweepResult, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return SweepResult{}, false
	}
	return *s.last, true
}

// Run sweeps, then sleeps for the interval, until ctx is cancelled. A failed sweep is
// logged and retried on the next cycle.
func (s *Sweeper) Run(ctx context.Context, prog chan<- ProgressUpdate) error {
	s.logger.Info("retry sweeper started", "interval", s.opts.Interval, "max_attempts", s.opts.MaxAttempts)

	for {
		if _, err := s.Sweep(ctx, prog); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("sweep failed", "err", err)
		}

		if err := s.sleep(ctx, s.opts.Interval); err != nil {
			break
		}
	}

	s.logger.Info("retry sweeper stopped")
	return nil
}

// Sweep runs one cycle: every failed record is reprocessed and its retry recorded.
//
// Records are collected before processing so the listing query is not held open while
// the pipeline writes.
func (s *Sweeper) Sweep(ctx context.Context, prog chan<- ProgressUpdate) (SweepResult, error) {
	res := SweepResult{Started: time.Now()}

	var records []models.Record
	for rec, err := range s.meta.FindByStatus(ctx, models.StatusFailed) {
		if err != nil {
			return res, fmt.Errorf("failed to list failed records: %w", err)
		}
		records = append(records, rec)
	}
	res.Found = len(records)
	s.logger.Info("sweep started", "failed_records", res.Found)

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(res.Started)
			return res, err
		}

		item := models.Item{ID: rec.ItemID, URL: rec.URL, Title: rec.Title, Duration: rec.Duration}
		item = processSafely(ctx, s.pipeline, item, s.logger)

		retries := s.recordRetry(ctx, rec, item, &res)
		sendProgress(prog, retryItemUpdate(i+1, res.Found, item, retries))
	}

	res.Duration = time.Since(res.Started)
	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()

	s.logger.Info("sweep complete",
		"found", res.Found,
		"recovered", res.Recovered,
		"failed", res.Failed,
		"missing", res.Missing,
		"abandoned", res.Abandoned,
		"errors", res.Errors,
	)
	sendProgress(prog, retrySummaryUpdate(res))
	return res, nil
}

// recordRetry writes the retry bookkeeping for rec and tallies the outcome. It returns
// the record's retry count.
func (s *Sweeper) recordRetry(ctx context.Context, rec models.Record, item models.Item, res *SweepResult) int {
	logger := shared.WithLogger(s.logger, "item_id", rec.ItemID)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
	defer cancel()

	updated, err := s.meta.RecordRetry(wctx, rec.ItemID, item.Status)
	if err != nil {
		logger.Error("failed to record retry", "err", err)
		res.Errors++
		res.tally(item.Status)
		return rec.RetryAttempts
	}

	if item.Status != models.StatusFailed || s.opts.MaxAttempts == 0 || updated.RetryAttempts < s.opts.MaxAttempts {
		res.tally(item.Status)
		return updated.RetryAttempts
	}

	reason := fmt.Sprintf("abandoned after %d retries: %s", updated.RetryAttempts, item.Error)
	if err := s.meta.Abandon(wctx, rec.ItemID, reason); err != nil {
		logger.Error("failed to abandon record", "err", err)
		res.Errors++
		res.Failed++
		return updated.RetryAttempts
	}

	entry := models.FailureEntry{
		ItemID:  rec.ItemID,
		URL:     rec.URL,
		Title:   rec.Title,
		Status:  models.StatusAbandoned,
		Message: reason,
	}
	if err := s.meta.LogFailure(wctx, entry); err != nil {
		logger.Error("failed to append failure log", "err", err)
	}

	logger.Warn("record abandoned", "retries", updated.RetryAttempts)
	res.Abandoned++
	return updated.RetryAttempts
}

func (r *SweepResult) tally(status models.Status) {
	switch status {
	case models.StatusSuccess:
		r.Recovered++
	case models.StatusMissingLocalAudio:
		r.Missing++
	default:
		r.Failed++
	}
}
