package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/partharvest/models"
)

// actionTimeout is the per-action deadline.
const actionTimeout = 10 * time.Second

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// find looks up the first element matching selector (and textPattern when
// set) without waiting for it to appear.
func (t *rodTab) find(p *rod.Page, selector, textPattern string) (*rod.Element, error) {
	var (
		has bool
		el  *rod.Element
		err error
	)
	if textPattern == "" {
		has, el, err = p.Has(selector)
	} else {
		has, el, err = p.HasR(selector, textPattern)
	}
	if err != nil || !has {
		return nil, err
	}
	return el, nil
}

func (t *rodTab) Click(ctx context.Context, selector, textPattern string) (bool, error) {
	actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	p := t.page.Context(actionCtx)
	el, err := t.find(p, selector, textPattern)
	if err != nil {
		return false, fmt.Errorf("find %q: %w", selector, err)
	}
	if el == nil {
		return false, nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return true, fmt.Errorf("click %q: %w", selector, err)
	}
	return true, nil
}

func (t *rodTab) ClickNth(ctx context.Context, selector string, n int) error {
	actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	els, err := t.page.Context(actionCtx).Elements(selector)
	if err != nil {
		return fmt.Errorf("elements %q: %w", selector, err)
	}
	if n < 0 || n >= len(els) {
		return fmt.Errorf("element %q #%d not found (have %d)", selector, n, len(els))
	}
	return els[n].Click(proto.InputMouseButtonLeft, 1)
}

// Download arms browser download events for the tab's context, clicks the
// trigger and waits for completion. Chrome saves the file under its GUID,
// which is renamed to filename once the download completes.
func (t *rodTab) Download(ctx context.Context, selector, textPattern, dir, filename string) (string, bool, error) {
	dlCtx, cancel := context.WithTimeout(ctx, t.timeouts.DatasheetTimeout)
	defer cancel()

	p := t.page.Context(dlCtx)
	el, err := t.find(p, selector, textPattern)
	if err != nil {
		return "", false, fmt.Errorf("find %q: %w", selector, err)
	}
	if el == nil {
		return "", false, nil
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", true, fmt.Errorf("resolve download dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", true, fmt.Errorf("create download dir: %w", err)
	}

	browser := t.page.Browser()
	if err := (proto.BrowserSetDownloadBehavior{
		Behavior:         proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		BrowserContextID: t.contextID,
		DownloadPath:     absDir,
		EventsEnabled:    true,
	}).Call(browser); err != nil {
		return "", true, models.NewHarvestError(models.ErrCodeDownload, "enable downloads", err)
	}

	// ── Listener MUST be armed before the click ──────────────────────
	var (
		begin     *proto.BrowserDownloadWillBegin
		completed bool
	)
	wait := browser.Context(dlCtx).EachEvent(
		func(e *proto.BrowserDownloadWillBegin) {
			if begin == nil {
				begin = e
			}
		},
		func(e *proto.BrowserDownloadProgress) bool {
			if begin == nil || e.GUID != begin.GUID {
				return false
			}
			switch e.State {
			case proto.BrowserDownloadProgressStateCompleted:
				completed = true
				return true
			case proto.BrowserDownloadProgressStateCanceled:
				return true
			}
			return false
		},
	)

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", true, fmt.Errorf("click %q: %w", selector, err)
	}
	wait()

	if !completed || begin == nil {
		return "", true, models.NewHarvestError(models.ErrCodeDownload, "datasheet download", ErrNoDownload)
	}
	if err := os.Rename(filepath.Join(absDir, begin.GUID), filepath.Join(absDir, filename)); err != nil {
		return begin.URL, true, models.NewHarvestError(models.ErrCodeDownload, "rename downloaded file", err)
	}
	return begin.URL, true, nil
}
