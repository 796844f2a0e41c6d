package scraper

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceTypes maps config names to protocol resource types. Scripts and
// XHR are never blockable: the listing is rendered client-side.
var resourceTypes = map[string]proto.NetworkResourceType{
	"image":      proto.NetworkResourceTypeImage,
	"stylesheet": proto.NetworkResourceTypeStylesheet,
	"font":       proto.NetworkResourceTypeFont,
	"media":      proto.NetworkResourceTypeMedia,
}

// trackerHosts are ad and analytics hosts dropped when BlockAds is set.
// Challenge providers must never be listed here.
var trackerHosts = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"facebook.net":          {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"taboola.com":           {},
	"outbrain.com":          {},
	"scorecardresearch.com": {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"segment.com":           {},
	"ads-twitter.com":       {},
	"coinzilla.io":          {},
	"bitmedia.io":           {},
	"a-ads.com":             {},
	"cointraffic.io":        {},
}

// isTrackerHost reports whether host or any parent domain is a tracker.
func isTrackerHost(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := trackerHosts[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return false
}

// blockedSet resolves config names case-insensitively; unknown names are
// ignored.
func blockedSet(names []string) map[proto.NetworkResourceType]struct{} {
	set := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, n := range names {
		if rt, ok := resourceTypes[strings.ToLower(strings.TrimSpace(n))]; ok {
			set[rt] = struct{}{}
		}
	}
	return set
}

// setupHijack intercepts the page's requests and fails the blocked ones. It
// returns nil when there is nothing to block; otherwise the caller must Stop
// the returned router.
func setupHijack(page *rod.Page, blockedTypes []string, blockAds bool) *rod.HijackRouter {
	blocked := blockedSet(blockedTypes)
	if len(blocked) == 0 && !blockAds {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if _, ok := blocked[h.Request.Type()]; ok {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if blockAds {
			if u, err := url.Parse(h.Request.URL().String()); err == nil && isTrackerHost(u.Hostname()) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// Run blocks until Stop.
	go router.Run()
	return router
}
