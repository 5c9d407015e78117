// Package scrapertest provides an in-memory browser tab for tests.
package scrapertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoPage is returned when a test navigates to a URL without a fixture.
var ErrNoPage = errors.New("scrapertest: no fixture for url")

// Download is the canned result of a download trigger.
type Download struct {
	URL     string
	Content []byte
	Err     error
}

// Tab serves HTML fixtures and records interactions. Fields are set up by
// the test before use; the zero value serves nothing.
type Tab struct {
	mu sync.Mutex

	// Pages maps a URL to the HTML shown after navigating there.
	Pages map[string]string

	// Redirects maps a requested URL to the URL the tab lands on.
	Redirects map[string]string

	// NavFailures makes the next n navigations to a URL fail.
	NavFailures map[string]int

	// Clicks maps "selector|text" to the HTML shown after the click.
	// A missing key means no such element.
	Clicks map[string]string

	// NthClicks maps "selector#n" to the HTML shown after clicking the
	// n-th match. A missing key means the click fails.
	NthClicks map[string]string

	// Downloads maps "selector|text" to a download the click produces.
	Downloads map[string]Download

	// HTMLErr, when set, is returned by every HTML call.
	HTMLErr error

	current string
	html    string

	Navigated []string
	Clicked   []string
}

// Load puts the tab on url showing html without recording a navigation.
func (t *Tab) Load(url, html string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current, t.html = url, html
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Navigated = append(t.Navigated, url)
	if n := t.NavFailures[url]; n > 0 {
		t.NavFailures[url] = n - 1
		return fmt.Errorf("scrapertest: navigation to %s failed", url)
	}
	landed := url
	if to, ok := t.Redirects[url]; ok {
		landed = to
	}
	html, ok := t.Pages[landed]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPage, landed)
	}
	t.current, t.html = landed, html
	return nil
}

func (t *Tab) WaitIdle(ctx context.Context) error { return ctx.Err() }

func (t *Tab) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.HTMLErr != nil {
		return "", t.HTMLErr
	}
	return t.html, nil
}

func (t *Tab) Click(ctx context.Context, selector, textPattern string) (bool, error) {
	key := selector + "|" + textPattern
	t.mu.Lock()
	defer t.mu.Unlock()
	html, ok := t.Clicks[key]
	if !ok {
		return false, nil
	}
	t.Clicked = append(t.Clicked, key)
	t.html = html
	return true, nil
}

func (t *Tab) ClickNth(ctx context.Context, selector string, n int) error {
	key := fmt.Sprintf("%s#%d", selector, n)
	t.mu.Lock()
	defer t.mu.Unlock()
	html, ok := t.NthClicks[key]
	if !ok {
		return fmt.Errorf("scrapertest: %s not clickable", key)
	}
	t.Clicked = append(t.Clicked, key)
	t.html = html
	return nil
}

func (t *Tab) Download(ctx context.Context, selector, textPattern, dir, filename string) (string, bool, error) {
	key := selector + "|" + textPattern
	t.mu.Lock()
	d, ok := t.Downloads[key]
	if ok {
		t.Clicked = append(t.Clicked, key)
	}
	t.mu.Unlock()

	if !ok {
		return "", false, nil
	}
	if d.Err != nil {
		return "", true, d.Err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", true, err
	}
	if err := os.WriteFile(filepath.Join(dir, filename), d.Content, 0o644); err != nil {
		return "", true, err
	}
	return d.URL, true, nil
}
