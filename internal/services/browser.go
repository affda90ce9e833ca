package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/desertthunder/ytaudio/internal/shared"
)

const (
	viewportWidth  = 1280
	viewportHeight = 720
	urlPollEvery   = 250 * time.Millisecond
)

// BrowserOptions configures every session opened by [BrowserSessions].
type BrowserOptions struct {
	Headless       bool
	ExecPath       string
	UserAgents     []string
	BlockedDomains []string
}

// BrowserOptionsFromConfig maps the acquisition section of the config.
func BrowserOptionsFromConfig(c shared.AcquisitionConfig) BrowserOptions {
	return BrowserOptions{
		Headless:       c.Headless,
		ExecPath:       c.ChromePath,
		UserAgents:     c.UserAgents,
		BlockedDomains: c.BlockedDomains,
	}
}

// BrowserSessions launches one headless Chrome per session with chromedp.
type BrowserSessions struct {
	opts   BrowserOptions
	logger *log.Logger
}

var _ SessionFactory = (*BrowserSessions)(nil)

// NewBrowserSessions creates a SessionFactory backed by a local Chrome binary.
func NewBrowserSessions(opts BrowserOptions, logger *log.Logger) *BrowserSessions {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &BrowserSessions{opts: opts, logger: logger}
}

// Open starts a browser with a random user agent and ad domains blocked. The browser
// is tied to ctx and is torn down by [Page.Close] or when ctx ends.
func (b *BrowserSessions) Open(ctx context.Context) (Page, error) {
	ua := b.userAgent()
	session := shared.GenerateID()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(viewportWidth, viewportHeight),
		chromedp.UserAgent(ua),
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("mute-audio", true),
	)
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}

	logger := shared.WithLogger(b.logger, "session", session)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf))

	page := &chromePage{ctx: tabCtx, cancels: []context.CancelFunc{tabCancel, allocCancel}}

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		blockRequests(b.opts.BlockedDomains),
		chromedp.EmulateViewport(viewportWidth, viewportHeight),
	); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debug("browser session opened", "user_agent", ua)
	return page, nil
}

func (b *BrowserSessions) userAgent() string {
	if len(b.opts.UserAgents) == 0 {
		return ""
	}
	return b.opts.UserAgents[rand.IntN(len(b.opts.UserAgents))]
}

// blockRequests blocks every request whose URL matches one of domains.
func blockRequests(domains []string) *network.SetBlockedURLSParams {
	return network.SetBlockedURLS(blockedPatterns(domains))
}

func blockedPatterns(domains []string) []string {
	patterns := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			patterns = append(patterns, "*"+d+"*")
		}
	}
	return patterns
}

// chromePage implements [Page] on a chromedp tab.
type chromePage struct {
	ctx     context.Context
	cancels []context.CancelFunc
	once    sync.Once
}

// derive returns a context that carries the tab and ends with either the caller's ctx or the tab.
func (p *chromePage) derive(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, dl)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.derive(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) (int, error) {
	runCtx, cancel := p.derive(ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, fmt.Errorf("no response for %s", url)
	}
	return int(resp.Status), nil
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.BySearch))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.BySearch, chromedp.NodeVisible))
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	)
}

// SelectOption picks the option whose label or text equals label and fires a change event.
func (p *chromePage) SelectOption(ctx context.Context, selector, label string) error {
	sel, _ := json.Marshal(selector)
	want, _ := json.Marshal(label)
	script := fmt.Sprintf(`(() => {
	const s = document.querySelector(%s);
	if (!s) return false;
	const o = Array.from(s.options).find(o => o.label.trim() === %s || o.text.trim() === %s);
	if (!o) return false;
	s.value = o.value;
	s.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})()`, sel, want, want)

	var ok bool
	if err := p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Evaluate(script, &ok),
	); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not found in %s", label, selector)
	}
	return nil
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Text(selector, &text, chromedp.BySearch, chromedp.NodeVisible))
	return strings.TrimSpace(text), err
}

func (p *chromePage) Attribute(ctx context.Context, selector, name string) (string, error) {
	var (
		value string
		ok    bool
	)
	if err := p.run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.BySearch)); err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("attribute %s missing on %s", name, selector)
	}
	return value, nil
}

// WaitURL polls the tab location until it contains substr.
func (p *chromePage) WaitURL(ctx context.Context, substr string) error {
	runCtx, cancel := p.derive(ctx)
	defer cancel()

	ticker := time.NewTicker(urlPollEvery)
	defer ticker.Stop()

	for {
		var location string
		if err := chromedp.Run(runCtx, chromedp.Location(&location)); err != nil {
			return err
		}
		if strings.Contains(location, substr) {
			return nil
		}

		select {
		case <-runCtx.Done():
			return fmt.Errorf("url never contained %q: %w", substr, runCtx.Err())
		case <-ticker.C:
		}
	}
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Close shuts the browser down. It is safe to call more than once.
func (p *chromePage) Close() error {
	var err error
	p.once.Do(func() {
		err = chromedp.Cancel(p.ctx)
		for _, cancel := range p.cancels {
			cancel()
		}
	})
	return err
}
