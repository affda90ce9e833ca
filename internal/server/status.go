package server

import (
	"context"
	"net/http"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/desertthunder/ytaudio/internal/tasks"
)

// SnapshotSource reports the live orchestrator summary.
type SnapshotSource interface {
	Snapshot() (tasks.Snapshot, bool)
}

// SweepSource reports the latest sweep.
type SweepSource interface {
	Last() (tasks.SweepResult, bool)
}

// StatusCounter reports record counts per status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.Status]int, error)
}

// StatusHandler serves /healthz and /stats. Every source is optional.
type StatusHandler struct {
	Run     SnapshotSource
	Sweep   SweepSource
	Records StatusCounter
	started time.Time
}

var _ Handler = (*StatusHandler)(nil)

// NewStatusHandler creates a status handler. Pass nil for sources the process does not have.
func NewStatusHandler(run SnapshotSource, sweep SweepSource, records StatusCounter) *StatusHandler {
	return &StatusHandler{Run: run, Sweep: sweep, Records: records, started: time.Now()}
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	Uptime  string                `json:"uptime"`
	Run     *tasks.Snapshot       `json:"run,omitempty"`
	Sweep   *tasks.SweepResult    `json:"sweep,omitempty"`
	Records map[models.Status]int `json:"records,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Routes returns the HTTP routes this handler serves.
func (h *StatusHandler) Routes() []string {
	return []string{"/healthz", "/stats"}
}

// ServeHTTP dispatches on path.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/healthz":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case "/stats":
		h.stats(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *StatusHandler) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Uptime: time.Since(h.started).Round(time.Second).String()}

	if h.Run != nil {
		if snap, ok := h.Run.Snapshot(); ok {
			resp.Run = &snap
		}
	}
	if h.Sweep != nil {
		if res, ok := h.Sweep.Last(); ok {
			resp.Sweep = &res
		}
	}

	status := http.StatusOK
	if h.Records != nil {
		counts, err := h.Records.CountByStatus(r.Context())
		if err != nil {
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		resp.Records = counts
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := shared.MarshalJSON(v, true)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
