package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/desertthunder/ytaudio/internal/shared"
)

const (
	downloadChunkSize      = 8192
	defaultDownloadTimeout = 30 * time.Second
)

// errStalled is the cancellation cause when no bytes arrive within the idle timeout.
var errStalled = errors.New("no data received within idle timeout")

// Downloader streams remote audio to local files.
//
// Bytes are written to "<dest>.part" and renamed into place only after the body has been read
// completely and matches the advertised length, so dest never holds a partial file.
//
// The timeout is an idle timeout: a transfer of any length succeeds as long as the server
// keeps sending, and fails once it goes quiet for longer than the timeout.
type Downloader struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

var _ Fetcher = (*Downloader)(nil)

// NewDownloader creates a Downloader. A nil client gets a transport whose response header
// timeout matches the idle timeout; a zero timeout uses 30s.
func NewDownloader(client *http.Client, timeout time.Duration, userAgent string) *Downloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		client = &http.Client{Transport: transport}
	}
	return &Downloader{httpClient: client, timeout: timeout, userAgent: userAgent}
}

// idleReader pushes the watchdog deadline back every time bytes arrive.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.timeout)
	}
	return n, err
}

// Download fetches url into dest and returns the size written.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watchdog := time.AfterFunc(d.timeout, func() { cancel(errStalled) })
	defer watchdog.Stop()

	n, err := d.fetch(ctx, url, dest, watchdog)
	if err != nil && errors.Is(context.Cause(ctx), errStalled) {
		return 0, fmt.Errorf("%w: %w after %s", shared.ErrDownloadFailed, errStalled, d.timeout)
	}
	return n, err
}

func (d *Downloader) fetch(ctx context.Context, url, dest string, watchdog *time.Timer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %w", shared.ErrDownloadFailed, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: request failed: %w", shared.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status %d", shared.ErrDownloadFailed, resp.StatusCode)
	}

	watchdog.Reset(d.timeout)

	part := dest + ".part"
	n, err := writePart(part, &idleReader{r: resp.Body, timer: watchdog, timeout: d.timeout})
	if err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("%w: %w", shared.ErrDownloadFailed, err)
	}

	switch {
	case n == 0:
		os.Remove(part)
		return 0, fmt.Errorf("%w: empty body", shared.ErrDownloadFailed)
	case resp.ContentLength >= 0 && n != resp.ContentLength:
		os.Remove(part)
		return 0, fmt.Errorf("%w: got %d of %d bytes", shared.ErrDownloadFailed, n, resp.ContentLength)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("%w: failed to move download into place: %w", shared.ErrDownloadFailed, err)
	}
	return n, nil
}

func writePart(path string, body io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.CopyBuffer(f, body, make([]byte, downloadChunkSize))
	if err != nil {
		f.Close()
		return n, fmt.Errorf("failed to read response: %w", err)
	}

	if err := f.Close(); err != nil {
		return n, fmt.Errorf("failed to close file: %w", err)
	}
	return n, nil
}
