// package tasks runs items through the acquisition pipeline.
//
// The [ItemPipeline] handles one item at a time, the [Orchestrator] fans a batch out to a
// bounded worker pool and the [Sweeper] re-runs failed records on an interval.
// Operations emit progress updates via channels for non-blocking status reporting to CLI/server layers.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
)

// Processor runs a single item to a terminal status. Implementations never return errors;
// failures are reported through the returned item's Status and Error.
type Processor interface {
	Process(ctx context.Context, item models.Item) models.Item
}

var (
	_ Processor     = (*ItemPipeline)(nil)
	_ panicRecorder = (*ItemPipeline)(nil)
)

// sendProgress sends a progress update without blocking.
//
// If the channel is nil or full, the update is silently dropped to prevent blocking the operation.
func sendProgress(ch chan<- ProgressUpdate, update ProgressUpdate) {
	if ch == nil {
		return
	}

	select {
	case ch <- update:
	default:
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// panicRecorder is implemented by processors that can persist the outcome of a panicked item.
type panicRecorder interface {
	RecordPanic(ctx context.Context, item models.Item, err error) models.Item
}

// processSafely runs p and turns a panic into a failed item. Processors that implement
// panicRecorder also write the failure, so no pending claim outlives the run.
func processSafely(ctx context.Context, p Processor, item models.Item, logger *log.Logger) (out models.Item) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panicked", "item_id", item.ID, "panic", r)
			err := fmt.Errorf("panic: %v", r)
			if rec, ok := p.(panicRecorder); ok {
				out = rec.RecordPanic(ctx, item, err)
				return
			}
			out = item
			out.Status = models.StatusFailed
			out.Error = err.Error()
		}
	}()
	return p.Process(ctx, item)
}
