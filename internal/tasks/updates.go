package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data ([models.Item], [Snapshot] or [SweepResult])
}

// Operation phase enumeration
type Phase int

const (
	ProcessItem Phase = iota
	ReportProgress
	ReportSummary
	RetryItem
	RetrySummary
)

func (p Phase) String() string {
	switch p {
	case ProcessItem:
		return "process_item"
	case ReportProgress:
		return "report_progress"
	case ReportSummary:
		return "report_summary"
	case RetryItem:
		return "retry_item"
	case RetrySummary:
		return "retry_summary"
	default:
		return ""
	}
}

func statusMark(s models.Status) string {
	switch s {
	case models.StatusSuccess:
		return "✓"
	case models.StatusMissingLocalAudio:
		return "!"
	default:
		return "✗"
	}
}

func itemLabel(item models.Item) string {
	if item.Title != "" {
		return fmt.Sprintf("%s (%s)", item.Title, item.ID)
	}
	return item.ID
}

func itemUpdate(step, total int, item models.Item) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] %s %s", step, total, statusMark(item.Status), itemLabel(item))
	if item.Error != "" {
		msg += ": " + item.Error
	}
	return ProgressUpdate{
		Phase:   ProcessItem,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    item,
	}
}

func progressUpdate(snap Snapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReportProgress,
		Step:    snap.Completed,
		Total:   snap.Total,
		Message: fmt.Sprintf("%d/%d done, %d ok, %d failed, %d remaining", snap.Completed, snap.Total, snap.Success, snap.Failed, snap.Remaining),
		Data:    snap,
	}
}

func summaryUpdate(snap Snapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReportSummary,
		Step:    snap.Completed,
		Total:   snap.Total,
		Message: fmt.Sprintf("Finished: %d/%d stored (%.1f%%) in %s", snap.Success, snap.Total, snap.SuccessRate, snap.Elapsed.Round(time.Second)),
		Data:    snap,
	}
}

func retryItemUpdate(step, total int, item models.Item, retries int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RetryItem,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s (retry %d)", step, total, statusMark(item.Status), itemLabel(item), retries),
		Data:    item,
	}
}

func retrySummaryUpdate(res SweepResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RetrySummary,
		Step:    res.Found,
		Total:   res.Found,
		Message: fmt.Sprintf("Sweep: %d found, %d recovered, %d still failing, %d abandoned", res.Found, res.Recovered, res.Failed, res.Abandoned),
		Data:    res,
	}
}
