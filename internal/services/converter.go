package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
)

// Selectors for the conversion site. Every selector is evaluated with DOM search,
// so CSS and XPath are both accepted.
const (
	consentRootSelector   = "div.fc-consent-root"
	consentAcceptSelector = "button.fc-cta-consent"
	searchInputSelector   = "input.search-input"
	submitSelector        = "//button[contains(normalize-space(.), 'Get Video')]"
	titleSelector         = "h3.text-left"
	qualitySelector       = "select#quality"
	getLinkSelector       = "//button[contains(normalize-space(.), 'Get Link')]"
	downloadLinkSelector  = "//a[contains(concat(' ', normalize-space(@class), ' '), ' text-white ') and contains(normalize-space(.), 'Download')]"
	startDownloadPath     = "/start-download"
)

// ResultSelectors are tried in order after submission; the first one to appear wins.
var ResultSelectors = []string{
	"#resultSection",
	"#downloadSection",
	".download-area",
	".result-area",
	"#result-section",
	"#download-section",
	".result-section",
	".download-section",
}

// notFoundMarkers are matched case-insensitively against the page text.
var notFoundMarkers = []string{
	"no video found",
	"not found",
	"youtube shorts video download",
}

const shortsLandingTitle = "Download YouTube Shorts Video - YouTube Shorts Downloader"

// State is a step of the conversion site state machine.
type State int

const (
	StateInit State = iota
	StateNavigated
	StateConsentHandled
	StateSubmitted
	StateResultLocated
	StateQualitySelected
	StateLinkResolved
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNavigated:
		return "navigated"
	case StateConsentHandled:
		return "consent_handled"
	case StateSubmitted:
		return "submitted"
	case StateResultLocated:
		return "result_located"
	case StateQualitySelected:
		return "quality_selected"
	case StateLinkResolved:
		return "link_resolved"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

func (s State) next() State {
	if s >= StateDone {
		return s
	}
	return s + 1
}

// AttemptError records the state an attempt was entering when it aborted.
type AttemptError struct {
	State State
	Err   error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("aborted entering %s: %v", e.State, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Page is one browser tab. Methods block until the condition holds or ctx ends.
type Page interface {
	Navigate(ctx context.Context, url string) (int, error)
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, label string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	WaitURL(ctx context.Context, substr string) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// SessionFactory opens a fresh, unshared [Page] per attempt.
type SessionFactory interface {
	Open(ctx context.Context) (Page, error)
}

// ConverterOptions holds the entry point and per-step timeouts.
type ConverterOptions struct {
	EntryURL        string
	QualityLabel    string
	NavigateTimeout time.Duration
	ConsentTimeout  time.Duration
	SubmitTimeout   time.Duration
	ResultTimeout   time.Duration
	LinkTimeout     time.Duration
	ReadyTimeout    time.Duration
}

// ConverterOptionsFromConfig maps the acquisition section of the config.
func ConverterOptionsFromConfig(c shared.AcquisitionConfig) ConverterOptions {
	return ConverterOptions{
		EntryURL:        c.EntryURL,
		QualityLabel:    c.QualityLabel,
		NavigateTimeout: c.NavigateTimeout.Duration,
		ConsentTimeout:  c.ConsentTimeout.Duration,
		SubmitTimeout:   c.SubmitTimeout.Duration,
		ResultTimeout:   c.ResultTimeout.Duration,
		LinkTimeout:     c.LinkTimeout.Duration,
		ReadyTimeout:    c.ReadyTimeout.Duration,
	}
}

// ConverterStrategy is the primary acquisition strategy. Each call to Resolve is one attempt
// with its own session; retries belong to the caller.
type ConverterStrategy struct {
	sessions SessionFactory
	opts     ConverterOptions
	logger   *log.Logger
}

var _ PrimaryStrategy = (*ConverterStrategy)(nil)

// NewConverterStrategy creates a ConverterStrategy.
func NewConverterStrategy(sessions SessionFactory, opts ConverterOptions, logger *log.Logger) *ConverterStrategy {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if opts.QualityLabel == "" {
		opts.QualityLabel = "MP3 320kbps"
	}
	return &ConverterStrategy{sessions: sessions, opts: opts, logger: logger}
}

// Resolve walks the site from the entry page to the download link. The session is closed on every path.
func (c *ConverterStrategy) Resolve(ctx context.Context, item models.Item) (models.Resolution, error) {
	logger := shared.WithLogger(c.logger, "item_id", item.ID)

	page, err := c.sessions.Open(ctx)
	if err != nil {
		return models.Resolution{}, &AttemptError{State: StateInit, Err: fmt.Errorf("%w: %w", shared.ErrSessionFailed, err)}
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug("failed to close session", "error", err)
		}
	}()

	res := models.Resolution{Title: item.Title}
	for state := StateNavigated; state != StateDone; state = state.next() {
		if err := ctx.Err(); err != nil {
			return models.Resolution{}, &AttemptError{State: state, Err: err}
		}
		if err := c.enter(ctx, page, state, item, &res, logger); err != nil {
			return models.Resolution{}, &AttemptError{State: state, Err: err}
		}
		logger.Debug("converter state reached", "state", state)
	}

	res.Title = shared.CleanTitle(res.Title)
	if res.Title == "" {
		res.Title = item.ID
	}
	return res, nil
}

func (c *ConverterStrategy) enter(ctx context.Context, page Page, state State, item models.Item, res *models.Resolution, logger *log.Logger) error {
	switch state {
	case StateNavigated:
		return c.navigate(ctx, page)
	case StateConsentHandled:
		c.handleConsent(ctx, page, logger)
		return nil
	case StateSubmitted:
		return c.submit(ctx, page, item.URL)
	case StateResultLocated:
		return c.locateResult(ctx, page)
	case StateQualitySelected:
		if title, err := withTimeout(ctx, c.opts.ResultTimeout, func(ctx context.Context) (string, error) {
			return page.Text(ctx, titleSelector)
		}); err != nil || strings.TrimSpace(title) == "" {
			logger.Debug("title unavailable, keeping item title", "error", err)
		} else {
			res.Title = title
		}
		return c.step(ctx, c.opts.ReadyTimeout, func(ctx context.Context) error {
			return page.SelectOption(ctx, qualitySelector, c.opts.QualityLabel)
		}, "select quality %q", c.opts.QualityLabel)
	case StateLinkResolved:
		href, err := c.resolveLink(ctx, page)
		if err != nil {
			return err
		}
		res.URL = href
		return nil
	}
	return fmt.Errorf("unexpected state %s", state)
}

func (c *ConverterStrategy) navigate(ctx context.Context, page Page) error {
	status, err := withTimeout(ctx, c.opts.NavigateTimeout, func(ctx context.Context) (int, error) {
		return page.Navigate(ctx, c.opts.EntryURL)
	})
	if err != nil {
		return fmt.Errorf("%w: navigate to %s: %w", shared.ErrTransient, c.opts.EntryURL, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: entry page returned status %d", shared.ErrBadResponse, status)
	}
	return nil
}

// handleConsent accepts the consent dialog when it appears. Its absence is not an error.
func (c *ConverterStrategy) handleConsent(ctx context.Context, page Page, logger *log.Logger) {
	err := c.step(ctx, c.opts.ConsentTimeout, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, consentRootSelector); err != nil {
			return err
		}
		return page.Click(ctx, consentAcceptSelector)
	}, "consent")
	if err != nil {
		logger.Debug("no consent dialog handled", "error", err)
	}
}

func (c *ConverterStrategy) submit(ctx context.Context, page Page, sourceURL string) error {
	return c.step(ctx, c.opts.SubmitTimeout, func(ctx context.Context) error {
		if err := page.WaitVisible(ctx, searchInputSelector); err != nil {
			return err
		}
		if err := page.Fill(ctx, searchInputSelector, sourceURL); err != nil {
			return err
		}
		return page.Click(ctx, submitSelector)
	}, "submit source url")
}

func (c *ConverterStrategy) locateResult(ctx context.Context, page Page) error {
	for _, sel := range ResultSelectors {
		err := c.step(ctx, c.opts.ResultTimeout, func(ctx context.Context) error {
			return page.WaitVisible(ctx, sel)
		}, "result %s", sel)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	html, err := withTimeout(ctx, c.opts.ReadyTimeout, page.HTML)
	if err != nil {
		return fmt.Errorf("%w: failed to read page after result timeout: %w", shared.ErrResultTimeout, err)
	}
	return ClassifyPage(html)
}

func (c *ConverterStrategy) resolveLink(ctx context.Context, page Page) (string, error) {
	err := c.step(ctx, c.opts.LinkTimeout, func(ctx context.Context) error {
		if err := page.Click(ctx, getLinkSelector); err != nil {
			return err
		}
		return page.WaitURL(ctx, startDownloadPath)
	}, "reach %s", startDownloadPath)
	if err != nil {
		return "", err
	}

	href, err := withTimeout(ctx, c.opts.ReadyTimeout, func(ctx context.Context) (string, error) {
		if err := page.WaitVisible(ctx, downloadLinkSelector); err != nil {
			return "", err
		}
		return page.Attribute(ctx, downloadLinkSelector, "href")
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", shared.ErrLinkUnavailable, err)
	}

	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("%w: empty href", shared.ErrLinkUnavailable)
	}
	return href, nil
}

// step runs fn under timeout and tags failures as selector timeouts.
func (c *ConverterStrategy) step(ctx context.Context, timeout time.Duration, fn func(context.Context) error, format string, args ...any) error {
	_, err := withTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", shared.ErrSelectorTimeout, fmt.Sprintf(format, args...), err)
	}
	return nil
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

// ClassifyPage decides why no result section appeared. A page that says the source does not
// exist yields [shared.ErrSourceNotFound]; anything else is a transient [shared.ErrResultTimeout].
func ClassifyPage(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("%w: failed to parse page: %w", shared.ErrResultTimeout, err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == shortsLandingTitle {
		return fmt.Errorf("%w: landed on shorts page", shared.ErrSourceNotFound)
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, marker := range notFoundMarkers {
		if strings.Contains(text, marker) {
			return fmt.Errorf("%w: page says %q", shared.ErrSourceNotFound, marker)
		}
	}

	return fmt.Errorf("%w: none of %d result selectors appeared", shared.ErrResultTimeout, len(ResultSelectors))
}

// IsDefinitive reports whether err means the converter will never find this source.
func IsDefinitive(err error) bool {
	return errors.Is(err, shared.ErrSourceNotFound)
}
