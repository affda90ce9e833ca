package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/desertthunder/ytaudio/internal/tasks"
)

type fixedSnapshot struct {
	snap tasks.Snapshot
	ok   bool
}

func (f fixedSnapshot) Snapshot() (tasks.Snapshot, bool) { return f.snap, f.ok }

type fixedSweep struct{ res tasks.SweepResult }

func (f fixedSweep) Last() (tasks.SweepResult, bool) { return f.res, true }

type fixedCounts struct {
	counts map[models.Status]int
	err    error
}

func (f fixedCounts) CountByStatus(context.Context) (map[models.Status]int, error) {
	return f.counts, f.err
}

func TestStatusHandler(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("healthz", func(t *testing.T) {
		srv := httptest.NewServer(NewStatusRouter(logger, NewStatusHandler(nil, nil, nil)))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %s", ct)
		}
	})

	t.Run("stats includes every source", func(t *testing.T) {
		h := NewStatusHandler(
			fixedSnapshot{snap: tasks.Snapshot{Total: 10, Completed: 4, Success: 3}, ok: true},
			fixedSweep{res: tasks.SweepResult{Found: 2, Recovered: 1}},
			fixedCounts{counts: map[models.Status]int{models.StatusSuccess: 7}},
		)
		srv := httptest.NewServer(NewStatusRouter(logger, h))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/stats")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body StatsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}

		if body.Run == nil || body.Run.Success != 3 || body.Run.Total != 10 {
			t.Errorf("unexpected run: %+v", body.Run)
		}
		if body.Sweep == nil || body.Sweep.Recovered != 1 {
			t.Errorf("unexpected sweep: %+v", body.Sweep)
		}
		if body.Records[models.StatusSuccess] != 7 {
			t.Errorf("unexpected records: %+v", body.Records)
		}
	})

	t.Run("stats before first run omits run", func(t *testing.T) {
		h := NewStatusHandler(fixedSnapshot{}, nil, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

		if strings.Contains(rec.Body.String(), `"run"`) {
			t.Errorf("expected no run section, got %s", rec.Body.String())
		}
	})

	t.Run("metadata store errors surface as 503", func(t *testing.T) {
		h := NewStatusHandler(nil, nil, fixedCounts{err: errors.New("database is locked")})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "database is locked") {
			t.Errorf("expected error in body, got %s", rec.Body.String())
		}
	})

	t.Run("rejects writes", func(t *testing.T) {
		h := NewStatusHandler(nil, nil, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

func TestBasicRouter(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("method patterns", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle("get", "/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("pong"))
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if rec.Body.String() != "pong" {
			t.Errorf("expected pong, got %q", rec.Body.String())
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second" {
			t.Errorf("unexpected middleware order: %v", order)
		}
	})

	t.Run("recover middleware", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recover(logger))
		r.Handle(http.MethodGet, "/panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestServeListener(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeListener(ctx, ln, NewStatusRouter(logger, NewStatusHandler(nil, nil, nil)), logger)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
