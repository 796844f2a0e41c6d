// Package contracts pulls chain-scoped contract identifiers out of rendered
// listing markup.
package contracts

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Set is a deduplicated set of contract identifiers. Order is irrelevant;
// use Sorted for a stable listing.
type Set map[string]struct{}

// Add inserts id into the set.
func (s Set) Add(id string) { s[id] = struct{}{} }

// Contains reports whether id is in the set.
func (s Set) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of identifiers.
func (s Set) Len() int { return len(s) }

// Sorted returns the identifiers in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Extract parses markup and collects the trailing path segment of every
// hyperlink whose target contains "/{chain}/". Anchors without a usable
// href are skipped. It performs no I/O and never fails: unparseable markup
// yields an empty set.
func Extract(markup, chain string) Set {
	set := make(Set)
	if chain == "" {
		return set
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		slog.Warn("contracts: markup could not be parsed", "chain", chain, "error", err)
		return set
	}

	marker := "/" + chain + "/"
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if id := contractFromHref(href, marker); id != "" {
			set.Add(id)
		}
	})
	return set
}

// contractFromHref returns the last path segment of href when its path
// contains marker, or "" when it does not or nothing follows.
func contractFromHref(href, marker string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	if !strings.Contains(href, marker) {
		return ""
	}
	href = strings.TrimRight(href, "/")
	seg := href[strings.LastIndexByte(href, '/')+1:]
	if seg == "" || "/"+seg+"/" == marker {
		return ""
	}
	return strings.TrimSpace(seg)
}
