// Package fetcher drives a headless Chrome session to capture the rendered
// fare-search page. The target page builds its results client-side, so a
// plain HTTP GET returns an empty shell; the session first visits the site
// root to pick up anti-bot cookies, then navigates to the search URL with
// bounded retries and waits for the results to render.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Selectors the content-wait phase polls for.
const (
	containerSelector = "#flightInfoListDC"
	rowSelector       = "#flightInfoListDC table.tblRouteList tr.flightTr"
)

// Defaults reflect how slowly the target page renders: navigation budgets are
// generous and the results container gets a full minute to appear.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"

	DefaultMaxRetries     = 1
	DefaultRetryDelay     = 5 * time.Second
	DefaultLandingTimeout = 120 * time.Second
	DefaultTargetTimeout  = 150 * time.Second
	DefaultContainerWait  = 60 * time.Second
	DefaultRowWait        = 30 * time.Second
	DefaultLandingSettle  = 5 * time.Second

	DefaultScreenshotPath  = "debug_screenshot.png"
	DefaultLandingShotPath = "debug_landing_fail.png"

	screenshotTimeout = 15 * time.Second
)

// Config controls the fetch session. Zero values take the defaults above.
type Config struct {
	// Headless toggles the Chrome headless flag. Automated CI runs
	// headless; local runs keep the window so failures can be watched.
	Headless  bool
	UserAgent string

	// MaxRetries is the number of additional target-navigation attempts
	// after the first, so MaxRetries+1 attempts total.
	MaxRetries int
	RetryDelay time.Duration

	LandingTimeout time.Duration
	TargetTimeout  time.Duration
	ContainerWait  time.Duration
	RowWait        time.Duration
	LandingSettle  time.Duration

	ScreenshotPath  string
	LandingShotPath string
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.LandingTimeout <= 0 {
		c.LandingTimeout = DefaultLandingTimeout
	}
	if c.TargetTimeout <= 0 {
		c.TargetTimeout = DefaultTargetTimeout
	}
	if c.ContainerWait <= 0 {
		c.ContainerWait = DefaultContainerWait
	}
	if c.RowWait <= 0 {
		c.RowWait = DefaultRowWait
	}
	if c.LandingSettle <= 0 {
		c.LandingSettle = DefaultLandingSettle
	}
	if c.ScreenshotPath == "" {
		c.ScreenshotPath = DefaultScreenshotPath
	}
	if c.LandingShotPath == "" {
		c.LandingShotPath = DefaultLandingShotPath
	}
	return c
}

// Result is the outcome of one fetch. When OK is false the HTML may still be
// non-empty (a partial capture) but must not be treated as complete.
type Result struct {
	HTML string
	OK   bool

	// ScreenshotPath names the diagnostic screenshot written during this
	// fetch, empty when none could be captured.
	ScreenshotPath string
}

// Fetcher owns a fetch session's configuration. One Fetch call acquires and
// releases a full browser/tab pair; nothing is shared between calls.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{cfg: cfg.withDefaults(), logger: logger}
}

// Fetch visits landingURL to establish session state, then navigates to
// targetURL and returns the rendered markup. The browser, its context, and
// the tab are released on every exit path.
func (f *Fetcher) Fetch(ctx context.Context, targetURL, landingURL string) Result {
	f.logger.Info("starting browser session",
		zap.Bool("headless", f.cfg.Headless),
		zap.String("landing_url", landingURL),
		zap.String("target_url", targetURL))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(f.cfg.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	console := &consoleLog{}
	chromedp.ListenTarget(tabCtx, console.capture)
	defer console.flush(f.logger)

	if err := f.setupNetwork(tabCtx); err != nil {
		f.logger.Error("browser setup failed", zap.Error(err))
		return Result{ScreenshotPath: f.screenshot(tabCtx, f.cfg.ScreenshotPath)}
	}

	f.visitLanding(tabCtx, landingURL)

	if !f.navigateTarget(tabCtx, targetURL) {
		return Result{ScreenshotPath: f.screenshot(tabCtx, f.cfg.ScreenshotPath)}
	}

	return f.captureContent(tabCtx)
}

// setupNetwork starts the browser and applies the header set a real desktop
// Chrome would send, which keeps the site's anti-automation checks quiet.
func (f *Fetcher) setupNetwork(tabCtx context.Context) error {
	return chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := network.SetExtraHTTPHeaders(browserHeaders()).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	}))
}

func browserHeaders() network.Headers {
	return network.Headers{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Accept-Language":           "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7",
		"Sec-CH-UA":                 `"Chromium";v="135", "Not(A:Brand";v="99", "Google Chrome";v="135"`,
		"Sec-CH-UA-Mobile":          "?0",
		"Sec-CH-UA-Platform":        `"Windows"`,
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
	}
}

// visitLanding opens the site root so any client-side anti-bot script can run
// and set cookies. Failure here is not fatal, it only lowers the odds of the
// target navigation succeeding.
func (f *Fetcher) visitLanding(tabCtx context.Context, landingURL string) {
	f.logger.Info("landing phase: visiting site root", zap.String("url", landingURL))

	lctx, cancel := context.WithTimeout(tabCtx, f.cfg.LandingTimeout)
	defer cancel()

	err := chromedp.Run(lctx,
		chromedp.Navigate(landingURL),
		chromedp.Sleep(f.cfg.LandingSettle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return fmt.Errorf("list cookies: %w", err)
			}
			names := make([]string, 0, len(cookies))
			for _, c := range cookies {
				names = append(names, c.Name)
			}
			f.logger.Info("landing cookies acquired", zap.Strings("cookies", names))
			return nil
		}),
	)
	if err != nil {
		f.logger.Error("landing navigation failed, continuing to target anyway",
			zap.String("url", landingURL), zap.Error(err))
		f.screenshot(tabCtx, f.cfg.LandingShotPath)
	}
}

// navigateTarget tries the search-results URL up to MaxRetries+1 times. An
// attempt succeeds only when a document response arrived with a 2xx status.
func (f *Fetcher) navigateTarget(tabCtx context.Context, targetURL string) bool {
	attempts := f.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		f.logger.Info("target phase: navigating",
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.String("url", targetURL))

		status, err := f.attemptNavigate(tabCtx, targetURL)
		switch {
		case err != nil:
			f.logger.Error("target navigation attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("last_status", status),
				zap.Error(err))
		case status == 0:
			f.logger.Warn("navigation returned no document response",
				zap.Int("attempt", attempt))
		case status < 200 || status > 299:
			f.logger.Warn("navigation completed with non-success status",
				zap.Int("attempt", attempt),
				zap.Int("status", status))
		default:
			f.logger.Info("target navigation succeeded", zap.Int("status", status))
			return true
		}

		if attempt == attempts {
			f.logger.Error("target navigation retries exhausted",
				zap.Int("attempts", attempts))
			return false
		}

		f.logger.Info("retrying after delay", zap.Duration("delay", f.cfg.RetryDelay))
		select {
		case <-time.After(f.cfg.RetryDelay):
		case <-tabCtx.Done():
			f.logger.Error("session canceled while waiting to retry", zap.Error(tabCtx.Err()))
			return false
		}
	}
	return false
}

func (f *Fetcher) attemptNavigate(tabCtx context.Context, targetURL string) (int, error) {
	actx, cancel := context.WithTimeout(tabCtx, f.cfg.TargetTimeout)
	defer cancel()

	meta := &navMeta{}
	chromedp.ListenTarget(actx, meta.capture)

	err := chromedp.Run(actx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	return meta.status(), err
}

// captureContent waits for the results container and at least one flight row,
// then returns the rendered markup. Timeouts here degrade the result instead
// of aborting: whatever markup is present still goes to the extractor.
func (f *Fetcher) captureContent(tabCtx context.Context) Result {
	f.logger.Info("content phase: waiting for results container",
		zap.String("selector", containerSelector))

	containerVisible := true
	cctx, cancelContainer := context.WithTimeout(tabCtx, f.cfg.ContainerWait)
	err := chromedp.Run(cctx, chromedp.WaitVisible(containerSelector, chromedp.ByQuery))
	cancelContainer()
	if err != nil {
		containerVisible = false
		f.logger.Error("results container never became visible",
			zap.String("selector", containerSelector), zap.Error(err))
	} else {
		f.logger.Info("results container visible")

		rctx, cancelRow := context.WithTimeout(tabCtx, f.cfg.RowWait)
		err = chromedp.Run(rctx, chromedp.WaitReady(rowSelector, chromedp.ByQuery))
		cancelRow()
		if err != nil {
			f.logger.Warn("container visible but no flight row attached in time",
				zap.String("selector", rowSelector), zap.Error(err))
		} else {
			f.logger.Info("flight row attached")
		}
	}

	shot := f.screenshot(tabCtx, f.cfg.ScreenshotPath)

	var html string
	hctx, cancelHTML := context.WithTimeout(tabCtx, screenshotTimeout)
	err = chromedp.Run(hctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	cancelHTML()
	if err != nil {
		f.logger.Error("capturing rendered markup failed", zap.Error(err))
		return Result{ScreenshotPath: shot}
	}

	if !containerVisible {
		f.logger.Warn("returning partial markup after container timeout",
			zap.Int("markup_bytes", len(html)))
		return Result{HTML: html, ScreenshotPath: shot}
	}
	f.logger.Info("rendered markup captured", zap.Int("markup_bytes", len(html)))
	return Result{HTML: html, OK: true, ScreenshotPath: shot}
}

// screenshot writes a best-effort diagnostic capture, returning the path on
// success and "" otherwise. The file is overwritten on every notable event.
func (f *Fetcher) screenshot(tabCtx context.Context, path string) string {
	sctx, cancel := context.WithTimeout(tabCtx, screenshotTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(sctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		f.logger.Warn("screenshot capture failed", zap.Error(err))
		return ""
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		f.logger.Warn("screenshot write failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	f.logger.Info("screenshot saved", zap.String("path", path))
	return path
}

// navMeta records the main document response for one navigation attempt.
type navMeta struct {
	mu         sync.Mutex
	statusCode int
}

func (m *navMeta) capture(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.statusCode = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *navMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}

// consoleLog collects browser console output for diagnostics only.
type consoleLog struct {
	mu       sync.Mutex
	messages []string
}

func (c *consoleLog) capture(ev any) {
	call, ok := ev.(*runtime.EventConsoleAPICalled)
	if !ok {
		return
	}
	parts := make([]string, 0, len(call.Args))
	for _, arg := range call.Args {
		switch {
		case len(arg.Value) > 0:
			parts = append(parts, string(arg.Value))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		}
	}
	c.mu.Lock()
	c.messages = append(c.messages, fmt.Sprintf("[%s] %s", call.Type, strings.Join(parts, " ")))
	c.mu.Unlock()
}

func (c *consoleLog) flush(logger *zap.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		logger.Info("no browser console messages captured")
		return
	}
	logger.Info("browser console messages", zap.Strings("messages", c.messages))
}
