package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/partharvest/models"
	"github.com/use-agent/partharvest/scraper"
)

const (
	priceGatePhrase = "Log in to get your price"
	partNumberKey   = "Part no.:"
	defaultGroup    = "General"
	tabSelector     = "li[role='tab']"
)

var (
	nameStrategies = []Strategy[string]{
		{Name: "headline", Read: firstText("h1.headline")},
	}
	descriptionStrategies = []Strategy[string]{
		{Name: "category-span", Read: firstText("span.category")},
	}
	partNumberStrategies = []Strategy[string]{
		{Name: "part-number", Read: firstText("ui-product-part-number, .part-no")},
	}
	categoryStrategies = []Strategy[string]{
		{Name: "breadcrumbs", Read: breadcrumbTrail},
		{Name: "category-field", Read: firstText("span.category")},
	}
	teaserStrategies = []Strategy[string]{
		{Name: "teaser-cell", Read: teaserCell},
		{Name: "teaser-text", Read: teaserText},
	}
)

// genericCrumbs are breadcrumb entries every product shares.
var genericCrumbs = map[string]bool{"Home": true, "Products": true}

func breadcrumbTrail(doc *goquery.Document) (string, bool) {
	var parts []string
	doc.Find("syn-breadcrumb-item, .breadcrumb-item").Each(func(_ int, s *goquery.Selection) {
		if text := textOf(s); text != "" && !genericCrumbs[text] {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, " > "), true
}

func teaserCell(doc *goquery.Document) (string, bool) {
	var out string
	doc.Find("td").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := textOf(s); strings.Contains(text, priceGatePhrase) {
			out = text
			return false
		}
		return true
	})
	return out, out != ""
}

func teaserText(doc *goquery.Document) (string, bool) {
	var out string
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(ownText(s.Get(0)), priceGatePhrase) {
			out = textOf(s)
			return false
		}
		return true
	})
	return out, out != ""
}

// lifecycle is the phased-out flag and, when linked, the successor.
type lifecycle struct {
	PhasedOut bool
	Successor *models.Successor
}

var (
	alertMatcher = cascadia.MustCompile("syn-alert[variant='primary'], syn-alert[variant='warning'], div.alert, div[role='alert']")

	discontinuedKeywords = []string{"phased out", "discontinued", "no longer available", "replaced by", "successor"}
)

// readLifecycle scans alert regions for discontinuation wording. The first
// matching alert decides; its product link, if any, names the successor.
func readLifecycle(doc *goquery.Document, origin, marker string) models.Outcome[lifecycle] {
	return firstOf(doc, lifecycle{}, Strategy[lifecycle]{
		Name: "alert",
		Read: func(doc *goquery.Document) (lifecycle, bool) {
			var out lifecycle
			found := false
			doc.FindMatcher(alertMatcher).EachWithBreak(func(_ int, alert *goquery.Selection) bool {
				text := strings.ToLower(textOf(alert))
				if !containsAny(text, discontinuedKeywords) {
					return true
				}
				found = true
				out.PhasedOut = true
				out.Successor = successorIn(alert, origin, marker)
				return false
			})
			return out, found
		},
	})
}

func successorIn(alert *goquery.Selection, origin, marker string) *models.Successor {
	link := alert.Find("a[href*='" + marker + "']").First()
	if link.Length() == 0 {
		return nil
	}
	part := models.NotAvailable
	if el := alert.Find("ui-product-part-number, .part-no, span:contains('Part')").First(); el.Length() > 0 {
		if text := textOf(el); text != "" {
			part = text
		}
	}
	return &models.Successor{
		Name:       textOf(link),
		PartNumber: part,
		URL:        scraper.AbsoluteURL(origin, link.AttrOr("href", "")),
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// certificateVocabulary lists the marks recognized in image alt/title text.
var certificateVocabulary = []string{"CE", "ECOLAB", "IO-Link", "cULus", "RCM", "UKCA", "RoHS"}

func readCertificates(doc *goquery.Document) models.Outcome[[]string] {
	return firstOf(doc, []string{}, Strategy[[]string]{
		Name: "image-labels",
		Read: func(doc *goquery.Document) ([]string, bool) {
			certs := []string{}
			seen := make(map[string]bool)
			doc.Find("img[alt], img[title]").Each(func(_ int, img *goquery.Selection) {
				alt := strings.ToLower(img.AttrOr("alt", ""))
				title := strings.ToLower(img.AttrOr("title", ""))
				for _, cert := range certificateVocabulary {
					needle := strings.ToLower(cert)
					if seen[cert] || !(strings.Contains(alt, needle) || strings.Contains(title, needle)) {
						continue
					}
					seen[cert] = true
					certs = append(certs, cert)
				}
			})
			return certs, len(certs) > 0
		},
	})
}

func readAccessories(doc *goquery.Document) models.Outcome[[]models.Accessory] {
	return firstOf(doc, []models.Accessory{}, Strategy[[]models.Accessory]{
		Name: "teaser-tiles",
		Read: func(doc *goquery.Document) ([]models.Accessory, bool) {
			items := []models.Accessory{}
			doc.Find("div.swiper-slide ui-product-teaser-tile").Each(func(_ int, tile *goquery.Selection) {
				name := textOf(tile.Find("h4.format-xs").First())
				part := textOf(tile.Find("span.text-semibold").First())
				if name != "" && part != "" {
					items = append(items, models.Accessory{Name: name, PartNumber: part})
				}
			})
			return items, len(items) > 0
		},
	})
}

// specEntry is one specification row in page order.
type specEntry struct {
	Key, Value string
}

// skippedTabs hold no technical data.
var skippedTabs = map[string]bool{
	"Accessories":  true,
	"Downloads":    true,
	"Applications": true,
	"Service":      true,
}

// tabNames lists the product tabs in page order.
func tabNames(doc *goquery.Document) []string {
	var names []string
	doc.Find(tabSelector).Each(func(_ int, s *goquery.Selection) {
		names = append(names, textOf(s))
	})
	return names
}

var activePanelMatcher = cascadia.MustCompile("[role='tabpanel']:not([hidden]):not([aria-hidden='true'])")

// tabSpecs reads the rows of the tab that is currently shown. Rows inside
// the visible panel win; without one the whole document is scanned.
func tabSpecs(doc *goquery.Document, tab string) ([]specEntry, string) {
	if panel := doc.FindMatcher(activePanelMatcher).First(); panel.Length() > 0 {
		if entries := groupedRows(panel, tab); len(entries) > 0 {
			return entries, "active-panel"
		}
	}
	return groupedRows(doc.Selection, tab), "document"
}

// groupedRows walks grid and table rows. Header rows switch the current
// group; data rows become "tab > group > key" (or "tab > key" in the
// default group).
func groupedRows(scope *goquery.Selection, tab string) []specEntry {
	var entries []specEntry
	group := defaultGroup
	scope.Find(".grid-row, tr.attribute-row, tr").Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("group-header") || goquery.NodeName(row) == "th" {
			group = textOf(row)
			return
		}
		cells := row.Find("td, .grid-cell")
		if cells.Length() < 2 {
			return
		}
		key := textOf(cells.Eq(0))
		value := textOf(cells.Eq(1))
		if key == "" || key == partNumberKey {
			return
		}
		full := tab + " > " + key
		if group != defaultGroup {
			full = tab + " > " + group + " > " + key
		}
		entries = append(entries, specEntry{Key: full, Value: value})
	})
	return entries
}

// flatSpecs reads plain table rows on pages without tabs.
func flatSpecs(doc *goquery.Document) []specEntry {
	var entries []specEntry
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		key := textOf(cells.Eq(0))
		if key == "" || strings.Contains(key, "Part no") {
			return
		}
		entries = append(entries, specEntry{Key: key, Value: textOf(cells.Eq(1))})
	})
	return entries
}

// mergeSpecs adds entries to specs; the first write of a key wins.
func mergeSpecs(specs *models.Specifications, entries []specEntry) {
	for _, e := range entries {
		if _, exists := specs.Get(e.Key); !exists {
			specs.Set(e.Key, e.Value)
		}
	}
}

var galleryMatcher = cascadia.MustCompile(strings.Join([]string{
	"ui-product-image-gallery img",
	"syn-product-image-gallery img",
	".product-image-gallery img",
	".product-image img",
	"div.gallery img",
	"div.main-product-image img",
	"div.product-detail-image img",
}, ", "))

// imageSources returns src (or data-src) of every image in sel, in order.
func imageSources(sel *goquery.Selection) []string {
	var srcs []string
	sel.Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(img.AttrOr("data-src", ""))
		}
		if src != "" {
			srcs = append(srcs, src)
		}
	})
	return srcs
}

func gallerySources(doc *goquery.Document) []string {
	return imageSources(doc.FindMatcher(galleryMatcher))
}

// drawingsSection locates the technical drawings accordion. The returned
// strategy doubles as the click target for the browser.
type drawingsSection struct {
	sel      *goquery.Selection
	selector string
	text     string
}

func findDrawings(doc *goquery.Document) (drawingsSection, bool) {
	if s := doc.Find("#technical-drawings").First(); s.Length() > 0 {
		return drawingsSection{sel: s, selector: "#technical-drawings"}, true
	}
	var found drawingsSection
	ok := false
	doc.Find("ui-accordion").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(textOf(s), "Technical drawings") {
			found = drawingsSection{sel: s, selector: "ui-accordion", text: "Technical drawings"}
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// needsExpand reports whether the accordion carries a class list without
// the open marker.
func (d drawingsSection) needsExpand() bool {
	class, has := d.sel.Attr("class")
	return has && class != "" && !strings.Contains(class, "is-open")
}

func (d drawingsSection) sources() []string {
	return imageSources(d.sel.Find("ui-technical-drawings img, .technical-drawings img"))
}

// pdfLink returns the first href pointing at a PDF.
func pdfLink(doc *goquery.Document) (string, bool) {
	href := strings.TrimSpace(doc.Find("a[href*='.pdf']").First().AttrOr("href", ""))
	return href, href != ""
}
