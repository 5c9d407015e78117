package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/models"
)

// ErrNotFound means the search produced no product page for the identifier.
var ErrNotFound = errors.New("product not found")

// consentSettle is the pause after dismissing the cookie banner.
const consentSettle = time.Second

// Resolver turns an identifier into a loaded product page.
type Resolver struct {
	site    config.SiteConfig
	harvest config.HarvestConfig
	links   []linkStrategy

	// sleep is swapped in tests to skip real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a resolver for the configured site.
func NewResolver(site config.SiteConfig, harvest config.HarvestConfig) *Resolver {
	return &Resolver{
		site:    site,
		harvest: harvest,
		links:   linkStrategies(site.ProductMarker),
		sleep:   Sleep,
	}
}

// SearchURL builds the search page URL for an identifier.
func (r *Resolver) SearchURL(identifier string) string {
	return r.site.Origin + r.site.SearchPath + url.QueryEscape(identifier)
}

// Resolve navigates tab to the product page of identifier and returns its URL.
//
// Steps (numbered to match the inline comments):
//
//  1. Search navigation   – bounded retries with a fixed pause
//  2. Consent             – best-effort banner dismissal
//  3. Settle              – network idle + fixed delay
//  4. Result link         – ordered strategies, then the archive tab once
//  5. Product navigation  – absolute URL, network idle
func (r *Resolver) Resolve(ctx context.Context, tab Tab, identifier string) (string, error) {
	log := slog.With("identifier", identifier)

	// ── 1. Search navigation ─────────────────────────────────────────
	searchURL := r.SearchURL(identifier)
	var navErr error
	for attempt := 1; attempt <= r.harvest.NavAttempts; attempt++ {
		if navErr = tab.Navigate(ctx, searchURL); navErr == nil {
			break
		}
		if ctx.Err() != nil {
			return "", models.NewHarvestError(models.ErrCodeInterrupted, "search navigation interrupted", ctx.Err())
		}
		if attempt < r.harvest.NavAttempts {
			log.Warn("search navigation failed, retrying", "attempt", attempt, "error", navErr)
			if err := r.sleep(ctx, r.harvest.NavRetryDelay); err != nil {
				return "", models.NewHarvestError(models.ErrCodeInterrupted, "search navigation interrupted", err)
			}
		}
	}
	if navErr != nil {
		return "", models.NewHarvestError(models.ErrCodeNavigation, "search page unreachable after retries", navErr)
	}

	// ── 2. Consent ───────────────────────────────────────────────────
	r.dismissConsent(ctx, tab, log)

	// ── 3. Settle ────────────────────────────────────────────────────
	r.settle(ctx, tab, log)
	if err := r.sleep(ctx, r.harvest.SettleDelay); err != nil {
		return "", models.NewHarvestError(models.ErrCodeInterrupted, "settle interrupted", err)
	}

	current := tab.URL()
	if strings.Contains(current, r.site.ProductMarker) {
		return current, nil
	}

	// ── 4. Result link ───────────────────────────────────────────────
	log.Info("not on a product page, searching results", "url", current)
	href, err := r.searchResults(ctx, tab, log)
	if err != nil {
		return "", err
	}
	if href == "" {
		return "", models.NewHarvestError(models.ErrCodeResolution, "no result link for "+identifier, ErrNotFound)
	}

	// ── 5. Product navigation ────────────────────────────────────────
	target := AbsoluteURL(r.site.Origin, href)
	if err := tab.Navigate(ctx, target); err != nil {
		return "", models.NewHarvestError(models.ErrCodeNavigation, "product page unreachable", err)
	}
	r.settle(ctx, tab, log)

	if final := tab.URL(); final != "" {
		return final, nil
	}
	return target, nil
}

// searchResults looks for a result link, opening the archive tab once when
// the live results have none. It returns "" when nothing was found.
func (r *Resolver) searchResults(ctx context.Context, tab Tab, log *slog.Logger) (string, error) {
	href, err := r.resultLink(ctx, tab, log)
	if err != nil || href != "" {
		return href, err
	}

	clicked, err := tab.Click(ctx, archiveStrategy.selector, archiveStrategy.text)
	if err != nil {
		log.Debug("archive probe failed", "error", err)
	}
	if !clicked {
		return "", nil
	}
	log.Info("checking archive tab")
	if err := r.sleep(ctx, r.harvest.SettleDelay); err != nil {
		return "", models.NewHarvestError(models.ErrCodeInterrupted, "archive wait interrupted", err)
	}
	return r.resultLink(ctx, tab, log)
}

func (r *Resolver) resultLink(ctx context.Context, tab Tab, log *slog.Logger) (string, error) {
	html, err := tab.HTML(ctx)
	if err != nil {
		return "", models.NewHarvestError(models.ErrCodePageUnreadable, "search results unreadable", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", models.NewHarvestError(models.ErrCodePageUnreadable, "search results unparsable", err)
	}
	href, strategy, ok := findResultLink(doc, r.links)
	if !ok {
		return "", nil
	}
	log.Debug("result link found", "strategy", strategy, "href", href)
	return href, nil
}

func (r *Resolver) dismissConsent(ctx context.Context, tab Tab, log *slog.Logger) {
	for _, s := range consentStrategies {
		clicked, err := tab.Click(ctx, s.selector, s.text)
		if err != nil {
			log.Debug("consent strategy failed", "strategy", s.name, "error", err)
			continue
		}
		if clicked {
			log.Debug("consent dismissed", "strategy", s.name)
			_ = r.sleep(ctx, consentSettle)
			return
		}
	}
}

func (r *Resolver) settle(ctx context.Context, tab Tab, log *slog.Logger) {
	if err := tab.WaitIdle(ctx); err != nil {
		log.Debug("network idle wait ended early", "error", err)
	}
}
