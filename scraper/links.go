package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// selectorStrategy is one named way of locating an element. Strategies are
// tried in declaration order and the first match wins.
type selectorStrategy struct {
	name     string
	selector string
	text     string // required text, matched by the browser; "" for any
}

// consentStrategies dismiss the cookie banner.
var consentStrategies = []selectorStrategy{
	{name: "onetrust-button", selector: "#onetrust-accept-btn-handler"},
	{name: "accept-all-cookies", selector: "button", text: "Accept all cookies"},
	{name: "accept-all", selector: "button", text: "Accept All"},
}

// archiveStrategy reveals results for products that only live in the archive.
var archiveStrategy = selectorStrategy{name: "archive", selector: "div.tabs-header, a", text: "Archive"}

// linkStrategy finds a product link on a search results page.
type linkStrategy struct {
	name    string
	matcher cascadia.Selector
}

// linkStrategies builds the ordered result-link strategies for a product
// path marker such as "/p/".
func linkStrategies(marker string) []linkStrategy {
	return []linkStrategy{
		{name: "result-name", matcher: cascadia.MustCompile("a.name")},
		{name: "product-path", matcher: cascadia.MustCompile(fmt.Sprintf("a[href*=%q]", marker))},
	}
}

// findResultLink returns the href of the first link matched by the first
// strategy that yields a non-empty href.
func findResultLink(doc *goquery.Document, strategies []linkStrategy) (href, strategy string, ok bool) {
	for _, s := range strategies {
		found := false
		doc.FindMatcher(s.matcher).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if v := strings.TrimSpace(a.AttrOr("href", "")); v != "" {
				href, found = v, true
			}
			return false
		})
		if found {
			return href, s.name, true
		}
	}
	return "", "", false
}

// AbsoluteURL resolves ref against origin the way the site links behave:
// protocol-relative refs get https, absolute http(s) refs are kept, and
// everything else is joined to the origin.
func AbsoluteURL(origin, ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "/"):
		return strings.TrimRight(origin, "/") + ref
	default:
		return strings.TrimRight(origin, "/") + "/" + ref
	}
}
