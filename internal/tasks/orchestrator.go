package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
	"golang.org/x/time/rate"
)

// OrchestratorOptions contains configuration for [Orchestrator].
type OrchestratorOptions struct {
	Workers       int     // Concurrent pipelines (default: 1)
	SnapshotEvery int     // Emit a snapshot every N completions (default: 5)
	StartRate     float64 // Item starts per second; 0 disables pacing
}

// OrchestratorOptionsFromConfig maps the loaded configuration onto [OrchestratorOptions].
func OrchestratorOptionsFromConfig(c *shared.Config) OrchestratorOptions {
	return OrchestratorOptions{
		Workers:       c.Pipeline.Workers,
		SnapshotEvery: c.Pipeline.SnapshotEvery,
		StartRate:     c.Pipeline.StartRate,
	}
}

// RunResult is the outcome of [Orchestrator.Run].
type RunResult struct {
	Items   []models.Item `json:"items"`   // Items in completion order
	Summary Snapshot      `json:"summary"` // Final snapshot
}

// Orchestrator runs a batch of items through a [Processor] with a bounded worker pool.
type Orchestrator struct {
	pipeline Processor
	opts     OrchestratorOptions
	logger   *log.Logger

	mu      sync.RWMutex
	summary *Summary
}

// NewOrchestrator creates an orchestrator around p.
func NewOrchestrator(p Processor, opts OrchestratorOptions, logger *log.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 5
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Orchestrator{pipeline: p, opts: opts, logger: logger}
}

// Snapshot returns the summary of the current or most recent run. ok is false before
// the first run starts.
func (o *Orchestrator) Snapshot() (snap Snapshot, ok bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.summary == nil {
		return Snapshot{}, false
	}
	return o.summary.Snapshot(), true
}

// Run processes items with a worker pool and returns once every dispatched item is done.
//
// Items are deduplicated by id first. Cancelling ctx stops dispatch; items already handed
// to a worker still run to a terminal status. The returned error is ctx's error, if any.
func (o *Orchestrator) Run(ctx context.Context, items []models.Item, prog chan<- ProgressUpdate) (*RunResult, error) {
	unique := Dedupe(items)
	total := len(unique)

	summary := NewSummary(total)
	o.mu.Lock()
	o.summary = summary
	o.mu.Unlock()

	workers := min(o.opts.Workers, max(total, 1))
	o.logger.Info("starting run", "items", total, "duplicates", len(items)-total, "workers", workers)

	var limiter *rate.Limiter
	if o.opts.StartRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.opts.StartRate), 1)
	}

	jobs := make(chan models.Item)
	results := make(chan models.Item, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go o.worker(ctx, &wg, jobs, results)
	}

	go func() {
		defer close(jobs)
		for _, item := range unique {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case jobs <- item:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	result := &RunResult{Items: make([]models.Item, 0, total)}
	for item := range results {
		completed := summary.Record(item)
		result.Items = append(result.Items, item)
		sendProgress(prog, itemUpdate(completed, total, item))

		if completed%o.opts.SnapshotEvery == 0 && completed < total {
			snap := summary.Snapshot()
			o.logSnapshot("progress", snap)
			sendProgress(prog, progressUpdate(snap))
		}
	}

	result.Summary = summary.Snapshot()
	o.logSnapshot("run complete", result.Summary)
	sendProgress(prog, summaryUpdate(result.Summary))
	return result, ctx.Err()
}

// worker is a worker goroutine that processes items from the jobs channel.
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan models.Item, results chan<- models.Item) {
	defer wg.Done()

	for item := range jobs {
		results <- processSafely(ctx, o.pipeline, item, o.logger)
	}
}

func (o *Orchestrator) logSnapshot(msg string, snap Snapshot) {
	o.logger.Info(msg,
		"completed", snap.Completed,
		"total", snap.Total,
		"success", snap.Success,
		"failed", snap.Failed,
		"missing", snap.Missing,
		"remaining", snap.Remaining,
		"success_rate", snap.SuccessRate,
		"elapsed", snap.Elapsed.Round(time.Millisecond),
	)
}

// Dedupe removes items with duplicate ids. The last occurrence of an id wins, placed where
// the id was first seen. Items without an id are dropped.
func Dedupe(items []models.Item) []models.Item {
	index := make(map[string]int, len(items))
	out := make([]models.Item, 0, len(items))

	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if i, ok := index[item.ID]; ok {
			out[i] = item
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}
