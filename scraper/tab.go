package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
	"github.com/ysmood/gson"
)

// Tab is the page surface the resolver and extractor drive. Reads go through
// HTML snapshots so that parsing never needs a live browser.
type Tab interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// WaitIdle waits until the page stops issuing requests, bounded by the
	// idle timeout. Requests started by the last Navigate are counted. A
	// timeout is not an error worth aborting for.
	WaitIdle(ctx context.Context) error

	// URL returns the current document URL, or "" if it cannot be read.
	URL() string

	// HTML snapshots the rendered document.
	HTML(ctx context.Context) (string, error)

	// Click clicks the first element matching selector whose text matches
	// textPattern (any text when empty). It reports false when nothing matches.
	Click(ctx context.Context, selector, textPattern string) (bool, error)

	// ClickNth clicks the n-th element matching selector.
	ClickNth(ctx context.Context, selector string, n int) error

	// Download clicks the element like Click and saves the file the browser
	// downloads as dir/filename. It returns the download URL and whether the
	// element existed.
	Download(ctx context.Context, selector, textPattern, dir, filename string) (string, bool, error)
}

// ErrNoDownload is returned when a click did not complete a download in time.
var ErrNoDownload = errors.New("no download completed")

// rodTab is the Tab implementation backed by a live rod page.
type rodTab struct {
	page      *rod.Page
	contextID proto.BrowserBrowserContextID
	timeouts  config.HarvestConfig

	// idle is nil on hijacked pages, which wait for DOM stability instead.
	idle *idleGate
}

var _ Tab = (*rodTab)(nil)

func (t *rodTab) Navigate(ctx context.Context, url string) error {
	return t.idle.around(ctx, func() error {
		navCtx, cancel := context.WithTimeout(ctx, t.timeouts.NavTimeout)
		defer cancel()

		p := t.page.Context(navCtx)
		if err := p.Navigate(url); err != nil {
			return categorizeError(err, "navigation failed")
		}
		if err := p.WaitLoad(); err != nil {
			return categorizeError(err, "page load did not complete")
		}
		return nil
	})
}

func (t *rodTab) WaitIdle(ctx context.Context) error {
	// WaitRequestIdle conflicts with a running HijackRouter on recent
	// Chromium. Fall back to DOM stability when requests are hijacked.
	if t.idle == nil {
		idleCtx, cancel := context.WithTimeout(ctx, t.timeouts.IdleTimeout)
		defer cancel()
		return t.page.Context(idleCtx).WaitDOMStable(300*time.Millisecond, 0.1)
	}
	return t.idle.Wait(ctx, t.timeouts.IdleTimeout)
}

// requestIdleGate arms rod's request-idle listener on page.
func requestIdleGate(page *rod.Page) *idleGate {
	return &idleGate{arm: func(ctx context.Context) func() {
		return page.Context(ctx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	}}
}

// idleGate holds a request-idle waiter that is armed before a navigation
// starts. A listener registered after the load would miss the requests
// already in flight and report idle at once.
type idleGate struct {
	// arm subscribes to request events and returns the blocking wait. The
	// wait must return once ctx is canceled.
	arm func(ctx context.Context) func()

	wait   func()
	cancel context.CancelFunc
}

// around arms the gate, then runs load. A failed load disarms it. A nil
// gate just runs load.
func (g *idleGate) around(ctx context.Context, load func() error) error {
	if g == nil {
		return load()
	}
	g.Arm(ctx)
	if err := load(); err != nil {
		g.Disarm()
		return err
	}
	return nil
}

// Arm replaces any pending waiter with a fresh one.
func (g *idleGate) Arm(ctx context.Context) {
	g.Disarm()
	armCtx, cancel := context.WithCancel(ctx)
	g.wait, g.cancel = g.arm(armCtx), cancel
}

// Disarm drops the pending waiter.
func (g *idleGate) Disarm() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wait, g.cancel = nil, nil
}

// Armed reports whether a waiter is pending.
func (g *idleGate) Armed() bool { return g.wait != nil }

// Wait consumes the pending waiter, arming one first if there is none, and
// blocks until the page is idle, timeout passes or ctx ends.
func (g *idleGate) Wait(ctx context.Context, timeout time.Duration) error {
	if g.wait == nil {
		g.Arm(ctx)
	}
	wait, cancel := g.wait, g.cancel
	g.wait, g.cancel = nil, nil
	defer cancel()

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		// The waiter also returns when its context ends.
		return ctx.Err()
	case <-timer.C:
		cancel()
		<-done
		return context.DeadlineExceeded
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (t *rodTab) URL() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (t *rodTab) HTML(ctx context.Context) (string, error) {
	html, err := t.page.Context(ctx).HTML()
	if err != nil {
		return "", models.NewHarvestError(models.ErrCodePageUnreadable, "failed to snapshot page HTML", err)
	}
	return html, nil
}

// configurePage applies identity, viewport, locale and stealth to a fresh page.
// Every step is best effort: a page that misses one still scrapes.
func configurePage(page *rod.Page, id Identity) {
	// ── 1. Stealth (must precede any navigation) ─────────────────────
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}

	// ── 2. User agent + viewport ─────────────────────────────────────
	if id.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      id.UserAgent,
			AcceptLanguage: "en-US,en;q=0.9",
		}); err != nil {
			slog.Warn("user agent override failed", "error", err)
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	}); err != nil {
		slog.Warn("viewport override failed", "error", err)
	}

	// ── 3. Locale + timezone ─────────────────────────────────────────
	_ = proto.EmulationSetLocaleOverride{Locale: "en_US"}.Call(page)
	_ = proto.EmulationSetTimezoneOverride{TimezoneID: "America/New_York"}.Call(page)

	// ── 4. Extra headers ─────────────────────────────────────────────
	_ = proto.NetworkEnable{}.Call(page)
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(defaultHeaders),
	}.Call(page)
}

// defaultHeaders are sent with every browser request.
var defaultHeaders = map[string]string{
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept-Encoding":           "gzip, deflate, br",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw rod errors into typed HarvestErrors.
func categorizeError(err error, msg string) *models.HarvestError {
	switch {
	case errors.Is(err, context.Canceled):
		return models.NewHarvestError(models.ErrCodeInterrupted, "operation canceled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewHarvestError(models.ErrCodeNavigation, msg+" (timeout)", err)
	default:
		return models.NewHarvestError(models.ErrCodeNavigation, msg, err)
	}
}
