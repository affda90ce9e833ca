package tasks

import (
	"sync"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
)

// Summary aggregates outcomes for one orchestrator run. It is safe for concurrent use.
type Summary struct {
	mu        sync.Mutex
	total     int
	completed int
	success   int
	failed    int
	missing   int
	abandoned int
	duration  time.Duration
	started   time.Time
	now       func() time.Time
}

// Snapshot is a point-in-time copy of a [Summary].
type Snapshot struct {
	Total         int           `json:"total"`
	Completed     int           `json:"completed"`
	Success       int           `json:"success"`
	Failed        int           `json:"failed"`
	Missing       int           `json:"missing_local_audio"`
	Abandoned     int           `json:"abandoned"`
	Remaining     int           `json:"remaining"`
	TotalDuration time.Duration `json:"total_duration"`  // Summed estimated duration of stored items
	Elapsed       time.Duration `json:"elapsed"`         // Wall clock since the run started
	SuccessRate   float64       `json:"success_rate"`    // Percentage of total
	AvgPerSuccess time.Duration `json:"avg_per_success"` // Elapsed divided by successes
	Started       time.Time     `json:"started"`
}

// NewSummary starts a summary for total items.
func NewSummary(total int) *Summary {
	return newSummary(total, time.Now)
}

func newSummary(total int, now func() time.Time) *Summary {
	return &Summary{total: total, started: now(), now: now}
}

// Record counts a finished item and returns the number completed so far.
func (s *Summary) Record(item models.Item) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed++
	switch item.Status {
	case models.StatusSuccess:
		s.success++
		s.duration += item.Duration
	case models.StatusMissingLocalAudio:
		s.missing++
	case models.StatusAbandoned:
		s.abandoned++
	default:
		s.failed++
	}
	return s.completed
}

// Snapshot returns the current totals.
func (s *Summary) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total:         s.total,
		Completed:     s.completed,
		Success:       s.success,
		Failed:        s.failed,
		Missing:       s.missing,
		Abandoned:     s.abandoned,
		Remaining:     max(s.total-s.completed, 0),
		TotalDuration: s.duration,
		Elapsed:       s.now().Sub(s.started),
		Started:       s.started,
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.success) / float64(s.total) * 100
	}
	if s.success > 0 {
		snap.AvgPerSuccess = snap.Elapsed / time.Duration(s.success)
	}
	return snap
}
