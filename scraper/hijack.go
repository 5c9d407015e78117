package scraper

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to Rod protocol resource types.
var resourceTypes = map[string]proto.NetworkResourceType{
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
}

// trackerDomains are analytics and ad hosts the product pages pull in.
// The consent manager (onetrust) is deliberately absent: its banner must
// load so it can be dismissed.
var trackerDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googleadservices.com":  {},
	"googlesyndication.com": {},
	"facebook.net":          {},
	"linkedin.com":          {},
	"licdn.com":             {},
	"ads.linkedin.com":      {},
	"bing.com":              {},
	"clarity.ms":            {},
	"hotjar.com":            {},
	"demdex.net":            {},
	"omtrdc.net":            {},
	"adobedtm.com":          {},
	"6sc.co":                {},
	"6sense.com":            {},
	"bizible.com":           {},
	"marketo.net":           {},
	"mktoresp.com":          {},
	"pardot.com":            {},
	"crazyegg.com":          {},
	"mouseflow.com":         {},
	"quantserve.com":        {},
	"scorecardresearch.com": {},
}

// isTrackerHost checks a hostname and each of its parent domains against
// the blocklist ("px.ads.linkedin.com" → "ads.linkedin.com" → "linkedin.com").
func isTrackerHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for host != "" {
		if _, ok := trackerDomains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return false
}

// blockedTypes builds the lookup set for the configured resource types,
// ignoring unknown names.
func blockedTypes(names []string) map[proto.NetworkResourceType]struct{} {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, name := range names {
		if rt, ok := resourceTypes[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	return blocked
}

// setupHijack installs a request interceptor that fails tracker requests
// and the configured resource types. Images are never blocked because
// lazy galleries only fill src once the image request is issued.
//
// Returns the running HijackRouter so the caller can Stop it with the page.
// Returns nil if there is nothing to block.
func setupHijack(page *rod.Page, resourceNames []string, blockTrackers bool) *rod.HijackRouter {
	blocked := blockedTypes(resourceNames)
	if len(blocked) == 0 && !blockTrackers {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if _, ok := blocked[h.Request.Type()]; ok {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if blockTrackers {
			if u, err := url.Parse(h.Request.URL().String()); err == nil && isTrackerHost(u.Hostname()) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks until router.Stop().
	go router.Run()

	return router
}
