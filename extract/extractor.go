package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/media"
	"github.com/use-agent/partharvest/models"
	"github.com/use-agent/partharvest/scraper"
)

const (
	// drawingsSettle is the pause after expanding the drawings accordion.
	drawingsSettle = time.Second

	datasheetSelector = "button.action-button, a.action-button"
	datasheetText     = "English"
)

// Extractor reads a loaded product page into a ProductRecord.
type Extractor struct {
	site       config.SiteConfig
	harvest    config.HarvestConfig
	output     config.OutputConfig
	downloader Downloader

	sleep func(ctx context.Context, d time.Duration) error
}

// NewExtractor creates an extractor that stores media below output.
func NewExtractor(site config.SiteConfig, harvest config.HarvestConfig, output config.OutputConfig, dl Downloader) *Extractor {
	return &Extractor{
		site:       site,
		harvest:    harvest,
		output:     output,
		downloader: dl,
		sleep:      scraper.Sleep,
	}
}

// Extract builds the record for identifier from the page tab currently shows.
// Only an unreadable page is an error; every field that cannot be read keeps
// its default and is logged.
func (e *Extractor) Extract(ctx context.Context, tab scraper.Tab, identifier string) (*models.ProductRecord, error) {
	log := slog.With("identifier", identifier)

	doc, err := e.snapshot(ctx, tab)
	if err != nil {
		return nil, err
	}
	pageURL := tab.URL()
	if pageURL == "" {
		return nil, models.NewHarvestError(models.ErrCodePageUnreadable, "page url unavailable", nil)
	}

	rec := models.NewProductRecord(identifier)
	rec.URL = pageURL

	rec.Name = field(log, "name", firstOf(doc, models.NotAvailable, nameStrategies...))
	rec.Description = field(log, "description", firstOf(doc, models.NotAvailable, descriptionStrategies...))
	rec.PartNumber = field(log, "part_number", firstOf(doc, models.NotAvailable, partNumberStrategies...))
	rec.Category = field(log, "category", firstOf(doc, models.NotAvailable, categoryStrategies...))
	rec.PriceTeaser = field(log, "price_teaser", firstOf(doc, models.NotAvailable, teaserStrategies...))

	life := field(log, "lifecycle", readLifecycle(doc, e.site.Origin, e.site.ProductMarker))
	rec.PhasedOut = life.PhasedOut
	rec.Successor = life.Successor

	rec.Certificates = field(log, "certificates", readCertificates(doc))
	rec.Accessories = field(log, "accessories", readAccessories(doc))

	// Media and datasheet links come from the page as first loaded; the
	// specification tabs below replace the live DOM.
	ms := field(log, "media", guard(newMediaSet(), func() models.Outcome[mediaSet] {
		return e.readMedia(ctx, tab, doc, identifier, log)
	}))
	rec.ImageURLs, rec.ImagePaths = ms.ImageURLs, ms.ImagePaths
	rec.DrawingURLs, rec.DrawingPaths = ms.DrawingURLs, ms.DrawingPaths

	rec.DatasheetURL = field(log, "datasheet", guard(models.NotAvailable, func() models.Outcome[string] {
		return e.readDatasheet(ctx, tab, doc, identifier, log)
	}))

	rec.Specifications = field(log, "specifications", guard(models.NewSpecifications(), func() models.Outcome[*models.Specifications] {
		return e.readSpecs(ctx, tab, doc, log)
	}))

	if err := ctx.Err(); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInterrupted, "extraction interrupted", err)
	}
	return rec, nil
}

// snapshot reads and parses the current document.
func (e *Extractor) snapshot(ctx context.Context, tab scraper.Tab) (*goquery.Document, error) {
	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodePageUnreadable, "page snapshot failed", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodePageUnreadable, "page snapshot unparsable", err)
	}
	return doc, nil
}

// readSpecs clicks through the data tabs and merges their rows. Pages
// without tabs fall back to a flat table scan.
func (e *Extractor) readSpecs(ctx context.Context, tab scraper.Tab, doc *goquery.Document, log *slog.Logger) models.Outcome[*models.Specifications] {
	specs := models.NewSpecifications()

	names := tabNames(doc)
	if len(names) == 0 {
		mergeSpecs(specs, flatSpecs(doc))
		if specs.Len() == 0 {
			return models.Missing(specs)
		}
		return models.Found(specs, "flat-table")
	}

	for i, name := range names {
		if skippedTabs[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return models.Failed(specs, err)
		}
		if err := tab.ClickNth(ctx, tabSelector, i); err != nil {
			log.Warn("specification tab click failed", "tab", name, "error", err)
			continue
		}
		if err := e.sleep(ctx, e.harvest.TabSettle); err != nil {
			return models.Failed(specs, err)
		}
		tabDoc, err := e.snapshot(ctx, tab)
		if err != nil {
			log.Warn("specification tab unreadable", "tab", name, "error", err)
			continue
		}
		entries, strategy := tabSpecs(tabDoc, name)
		log.Debug("specification tab read", "tab", name, "strategy", strategy, "rows", len(entries))
		mergeSpecs(specs, entries)
	}

	if specs.Len() == 0 {
		return models.Missing(specs)
	}
	return models.Found(specs, "tabs")
}

// readMedia downloads gallery images, then technical drawings, numbering
// both with one counter.
func (e *Extractor) readMedia(ctx context.Context, tab scraper.Tab, doc *goquery.Document, identifier string, log *slog.Logger) models.Outcome[mediaSet] {
	ms := newMediaSet()
	c := newMediaCollector(e.downloader, e.output.ImagesDir(), e.site.Origin, identifier, log)

	ms.ImageURLs, ms.ImagePaths = c.collect(ctx, gallerySources(doc))

	section, ok := findDrawings(doc)
	if ok && section.needsExpand() {
		clicked, err := tab.Click(ctx, section.selector, section.text)
		switch {
		case err != nil:
			log.Debug("drawings expand failed", "error", err)
		case clicked:
			if err := e.sleep(ctx, drawingsSettle); err != nil {
				return models.Failed(ms, err)
			}
			if expanded, err := e.snapshot(ctx, tab); err == nil {
				if s, found := findDrawings(expanded); found {
					section = s
				}
			}
		}
	}
	if ok {
		ms.DrawingURLs, ms.DrawingPaths = c.collect(ctx, section.sources())
	}

	if len(ms.ImageURLs) == 0 && len(ms.DrawingURLs) == 0 {
		return models.Missing(ms)
	}
	return models.Found(ms, "gallery")
}

// readDatasheet tries the browser download button first and falls back to a
// direct PDF link fetched over HTTP.
func (e *Extractor) readDatasheet(ctx context.Context, tab scraper.Tab, doc *goquery.Document, identifier string, log *slog.Logger) models.Outcome[string] {
	dir := e.output.PDFsDir()
	name := media.DatasheetName(identifier)

	url, found, err := tab.Download(ctx, datasheetSelector, datasheetText, dir, name)
	if found && err == nil {
		if url == "" {
			url = models.NotAvailable
		}
		return models.Found(url, "download-action")
	}
	if found {
		log.Warn("datasheet download action failed", "error", err)
	}

	href, ok := pdfLink(doc)
	if !ok {
		if err != nil {
			return models.Failed(models.NotAvailable, err)
		}
		return models.Missing(models.NotAvailable)
	}
	full := scraper.AbsoluteURL(e.site.Origin, href)
	if err := e.downloader.Download(ctx, full, filepath.Join(dir, name)); err != nil {
		log.Warn("datasheet download failed", "url", full, "error", err)
	}
	return models.Found(full, "direct-link")
}

// field logs how a sub-extraction ended and returns its value.
func field[T any](log *slog.Logger, name string, o models.Outcome[T]) T {
	switch o.Status {
	case models.OutcomeFound:
		log.Debug("field extracted", "field", name, "strategy", o.Strategy)
	case models.OutcomeMissing:
		log.Debug("field not found", "field", name)
	default:
		log.Warn("field extraction failed", "field", name, "error", o.Err)
	}
	return o.Value
}

// guard runs fn and turns a panic into a failed outcome.
func guard[T any](fallback T, fn func() models.Outcome[T]) (out models.Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = models.Failed(fallback, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}
