package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/lrstanley/go-ytdlp"
)

const defaultExtractorTimeout = 10 * time.Minute

// ExtractorRunner executes a configured yt-dlp command against url.
type ExtractorRunner func(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error)

// RunExtractor runs cmd with the yt-dlp binary it was configured with.
func RunExtractor(ctx context.Context, cmd *ytdlp.Command, url string) (*ytdlp.Result, error) {
	return cmd.Run(ctx, url)
}

// ExtractorOptions configures [ExtractorStrategy].
type ExtractorOptions struct {
	Binary      string
	OutputDir   string
	AudioFormat string
	Timeout     time.Duration
}

// ExtractorStrategy is the fallback acquisition strategy: one yt-dlp invocation that
// extracts audio straight into the download directory.
type ExtractorStrategy struct {
	opts   ExtractorOptions
	run    ExtractorRunner
	logger *log.Logger
}

var _ FallbackStrategy = (*ExtractorStrategy)(nil)

// NewExtractorStrategy creates an ExtractorStrategy. A nil runner uses [RunExtractor].
func NewExtractorStrategy(opts ExtractorOptions, run ExtractorRunner, logger *log.Logger) *ExtractorStrategy {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "mp3"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultExtractorTimeout
	}
	if run == nil {
		run = RunExtractor
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &ExtractorStrategy{opts: opts, run: run, logger: logger}
}

// OutputPath is where Acquire leaves the artifact for id.
func (e *ExtractorStrategy) OutputPath(id string) string {
	return filepath.Join(e.opts.OutputDir, id+"."+e.opts.AudioFormat)
}

// OutputTemplate is the yt-dlp output template for id. The file is named by item id, not the platform id.
func (e *ExtractorStrategy) OutputTemplate(id string) string {
	return filepath.Join(e.opts.OutputDir, id+".%(ext)s")
}

func (e *ExtractorStrategy) command() *ytdlp.Command {
	return ytdlp.New().SetExecutable(e.opts.Binary)
}

func extractorError(res *ytdlp.Result, err error) string {
	if res != nil && strings.TrimSpace(res.Stderr) != "" {
		return fmt.Sprintf("%v: %s", err, strings.TrimSpace(res.Stderr))
	}
	return err.Error()
}

// Acquire runs yt-dlp for the item and returns the path of the extracted audio.
func (e *ExtractorStrategy) Acquire(ctx context.Context, item models.Item) (string, error) {
	if strings.TrimSpace(item.URL) == "" {
		return "", fmt.Errorf("%w: item %s has no url", shared.ErrExtractorFailed, item.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	dl := e.command().
		ExtractAudio().
		AudioFormat(e.opts.AudioFormat).
		NoPlaylist().
		Output(e.OutputTemplate(item.ID))

	e.logger.Debug("running extractor", "item_id", item.ID, "binary", e.opts.Binary)
	if res, err := e.run(ctx, dl, item.URL); err != nil {
		return "", fmt.Errorf("%w: %s failed: %s", shared.ErrExtractorFailed, e.opts.Binary, extractorError(res, err))
	}

	path := e.OutputPath(item.ID)
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return "", fmt.Errorf("%w: expected output %s: %w", shared.ErrExtractorFailed, path, err)
	case info.Size() == 0:
		return "", fmt.Errorf("%w: output %s is empty", shared.ErrExtractorFailed, path)
	}
	return path, nil
}

type flatPlaylist struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Entries []flatListEntry `json:"entries"`
}

type flatListEntry struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

// FlatPlaylist lists the entries of a playlist or channel URL without downloading anything.
func (e *ExtractorStrategy) FlatPlaylist(ctx context.Context, sourceURL string) ([]models.Item, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, fmt.Errorf("%w: source URL is required", shared.ErrMissingArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	dl := e.command().
		FlatPlaylist().
		DumpSingleJSON()

	res, err := e.run(ctx, dl, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %s", e.opts.Binary, extractorError(res, err))
	}
	if res == nil || strings.TrimSpace(res.Stdout) == "" {
		return nil, fmt.Errorf("%s returned empty output", e.opts.Binary)
	}

	var pl flatPlaylist
	if err := json.Unmarshal([]byte(res.Stdout), &pl); err != nil {
		return nil, fmt.Errorf("failed to parse playlist JSON: %w", err)
	}

	items := make([]models.Item, 0, len(pl.Entries))
	for _, entry := range pl.Entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		items = append(items, models.Item{
			ID:       id,
			URL:      WatchURL(id),
			Title:    strings.TrimSpace(entry.Title),
			Duration: time.Duration(entry.Duration * float64(time.Second)),
			Status:   models.StatusPending,
		})
	}
	return items, nil
}

// DependencyReport lists the external programs the pipeline can use.
type DependencyReport struct {
	ExtractorFound bool   `json:"extractor_found"`
	ExtractorPath  string `json:"extractor_path,omitempty"`
	FFmpegFound    bool   `json:"ffmpeg_found"`
	FFmpegPath     string `json:"ffmpeg_path,omitempty"`
	ChromeFound    bool   `json:"chrome_found"`
	ChromePath     string `json:"chrome_path,omitempty"`
}

var chromeCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"}

// DependencyStatus looks up the extractor, ffmpeg and a Chrome binary. chromePath wins over PATH lookup when set.
func DependencyStatus(extractor, chromePath string) DependencyReport {
	var report DependencyReport
	if path, err := exec.LookPath(extractor); err == nil {
		report.ExtractorFound = true
		report.ExtractorPath = path
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}

	candidates := chromeCandidates
	if chromePath != "" {
		candidates = []string{chromePath}
	}
	for _, bin := range candidates {
		if path, err := exec.LookPath(bin); err == nil {
			report.ChromeFound = true
			report.ChromePath = path
			break
		}
	}
	return report
}

// CheckDependencies fails when the report is missing a program the configured pipeline needs.
func (r DependencyReport) CheckDependencies(needExtractor bool) error {
	var errs []error
	if !r.ChromeFound {
		errs = append(errs, fmt.Errorf("missing dependency: chrome or chromium is not installed or not on PATH"))
	}
	if needExtractor && !r.ExtractorFound {
		errs = append(errs, fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH"))
	}
	if needExtractor && !r.FFmpegFound {
		errs = append(errs, fmt.Errorf("missing dependency: ffmpeg is required for audio extraction and was not found on PATH"))
	}
	return errors.Join(errs...)
}
