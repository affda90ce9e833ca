package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/ytaudio/internal/shared"
	tu "github.com/desertthunder/ytaudio/internal/testing"
)

func TestDownloader(t *testing.T) {
	ctx := context.Background()

	t.Run("New", func(t *testing.T) {
		d := NewDownloader(nil, 0, "")
		if d.timeout != defaultDownloadTimeout {
			t.Errorf("expected default timeout, got %v", d.timeout)
		}
		transport, ok := d.httpClient.Transport.(*http.Transport)
		if !ok {
			t.Fatalf("expected *http.Transport, got %T", d.httpClient.Transport)
		}
		if transport.ResponseHeaderTimeout != defaultDownloadTimeout {
			t.Errorf("ResponseHeaderTimeout = %v, want %v", transport.ResponseHeaderTimeout, defaultDownloadTimeout)
		}
	})

	t.Run("Successful Download", func(t *testing.T) {
		body := strings.Repeat("a", 3*downloadChunkSize+17)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("User-Agent") != "test-agent" {
				t.Errorf("expected user agent header, got %q", r.Header.Get("User-Agent"))
			}
			w.Write([]byte(body))
		}))
		defer server.Close()

		dest := filepath.Join(t.TempDir(), "abc123.mp3")
		n, err := NewDownloader(server.Client(), time.Second, "test-agent").Download(ctx, server.URL, dest)
		if err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if n != int64(len(body)) {
			t.Errorf("Download() = %d bytes, want %d", n, len(body))
		}
		if got := tu.MustReadFile(t, dest); got != body {
			t.Error("file content mismatch")
		}
		if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
			t.Error("part file should not remain")
		}
	})

	tc := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "Non 200 Status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		},
		{
			name:    "Empty Body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
		},
		{
			name: "Truncated Body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "100")
				w.Write([]byte("short"))
			},
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			dest := filepath.Join(t.TempDir(), "x.mp3")
			_, err := NewDownloader(server.Client(), time.Second, "").Download(ctx, server.URL, dest)
			if !errors.Is(err, shared.ErrDownloadFailed) {
				t.Fatalf("Download() error = %v, want ErrDownloadFailed", err)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Error("destination must not exist after a failed download")
			}
			if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
				t.Error("part file must be removed after a failed download")
			}
		})
	}

	t.Run("Transport Error", func(t *testing.T) {
		client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection reset"))}
		dest := filepath.Join(t.TempDir(), "x.mp3")

		_, err := NewDownloader(client, time.Second, "").Download(ctx, "http://example.com/a.mp3", dest)
		if !errors.Is(err, shared.ErrDownloadFailed) {
			t.Fatalf("Download() error = %v, want ErrDownloadFailed", err)
		}
	})

	t.Run("Body Read Error", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Body: &tu.FCloser{}, ContentLength: -1, Header: http.Header{}}
		client := &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}
		dest := filepath.Join(t.TempDir(), "x.mp3")

		_, err := NewDownloader(client, time.Second, "").Download(ctx, "http://example.com/a.mp3", dest)
		if !errors.Is(err, shared.ErrDownloadFailed) {
			t.Fatalf("Download() error = %v, want ErrDownloadFailed", err)
		}
		if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
			t.Error("part file must be removed")
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		dest := filepath.Join(t.TempDir(), "x.mp3")
		_, err := NewDownloader(server.Client(), 50*time.Millisecond, "").Download(ctx, server.URL, dest)
		if !errors.Is(err, shared.ErrDownloadFailed) {
			t.Fatalf("Download() error = %v, want ErrDownloadFailed", err)
		}
	})

	t.Run("Slow Steady Stream", func(t *testing.T) {
		chunk := strings.Repeat("b", 1024)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "6144")
			for range 6 {
				w.Write([]byte(chunk))
				w.(http.Flusher).Flush()
				time.Sleep(100 * time.Millisecond)
			}
		}))
		defer server.Close()

		dest := filepath.Join(t.TempDir(), "slow.mp3")
		n, err := NewDownloader(server.Client(), 300*time.Millisecond, "").Download(ctx, server.URL, dest)
		if err != nil {
			t.Fatalf("Download() error = %v, a steady stream must not hit the idle timeout", err)
		}
		if n != 6144 {
			t.Errorf("Download() = %d bytes, want 6144", n)
		}
	})

	t.Run("Stalled Stream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "4096")
			w.Write([]byte(strings.Repeat("c", 1024)))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		dest := filepath.Join(t.TempDir(), "stalled.mp3")
		_, err := NewDownloader(server.Client(), 100*time.Millisecond, "").Download(ctx, server.URL, dest)
		if !errors.Is(err, shared.ErrDownloadFailed) || !errors.Is(err, errStalled) {
			t.Fatalf("Download() error = %v, want stalled ErrDownloadFailed", err)
		}
		if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
			t.Error("part file must be removed after a stall")
		}
	})
}
