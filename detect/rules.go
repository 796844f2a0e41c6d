// Package detect inspects rendered-document snapshots. It answers two
// independent questions: is an anti-automation challenge showing, and has
// the listing content rendered. Both are heuristics driven by rule sets that
// map a signal name to a matcher, so signals can be added or revised without
// touching any control flow.
package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Snapshot is a read-only view of the document at one instant. The page
// mutates on its own, so a Snapshot is taken fresh for every decision and
// never reused across waits.
type Snapshot struct {
	Markup string
	URL    string
}

// ChallengeMatcher reports whether lower-cased markup shows a challenge.
type ChallengeMatcher func(lowerMarkup string) bool

// StructuralMatcher reports whether a parsed document carries one
// structural sign of rendered listing content.
type StructuralMatcher func(doc *goquery.Document) bool

// DefaultChallengeIndicators are substrings left by common verification
// interstitials.
var DefaultChallengeIndicators = []string{
	"cloudflare",
	"checking your browser",
	"security check",
	"cf-challenge",
	"hcaptcha",
	"turnstile",
}

// DefaultURLSegments are the path shapes of the listing views we accept as
// the real target.
var DefaultURLSegments = []string{
	"dexscreener.com/ethereum",
	"dexscreener.com/bsc",
	"dexscreener.com/polygon",
	"dexscreener.com/avalanche",
	"dexscreener.com/new-pairs",
}

// Rules is a versioned set of detection heuristics.
type Rules struct {
	indicators  map[string]ChallengeMatcher
	signals     map[string]StructuralMatcher
	urlSegments []string
}

// NewRules builds a rule set from challenge substrings and known-good URL
// segments, with the default structural signals installed. Empty inputs
// fall back to the defaults.
func NewRules(indicators, urlSegments []string) *Rules {
	if len(indicators) == 0 {
		indicators = DefaultChallengeIndicators
	}
	if len(urlSegments) == 0 {
		urlSegments = DefaultURLSegments
	}

	r := &Rules{
		indicators: make(map[string]ChallengeMatcher, len(indicators)),
		signals:    make(map[string]StructuralMatcher, 4),
	}
	for _, ind := range indicators {
		r.AddIndicator(ind, SubstringIndicator(ind))
	}
	for _, seg := range urlSegments {
		if seg = strings.ToLower(strings.TrimSpace(seg)); seg != "" {
			r.urlSegments = append(r.urlSegments, seg)
		}
	}

	r.AddSignal("price_elements", priceSignal())
	r.AddSignal("token_pair_links", SelectorSignal(`a[href*="/0x"]`, 4))
	r.AddSignal("data_grid", SelectorSignal(`div[class*="table"], div[class*="grid"]`, 1))
	r.AddSignal("site_ui", SelectorSignal(`div[class*="dexscreener"], div[class*="tokendata"]`, 1))
	return r
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return NewRules(nil, nil)
}

// AddIndicator registers (or replaces) a challenge indicator.
func (r *Rules) AddIndicator(name string, m ChallengeMatcher) {
	if name = strings.TrimSpace(name); name != "" && m != nil {
		r.indicators[name] = m
	}
}

// AddSignal registers (or replaces) a structural content signal.
func (r *Rules) AddSignal(name string, m StructuralMatcher) {
	if name = strings.TrimSpace(name); name != "" && m != nil {
		r.signals[name] = m
	}
}

// AddSelectorSignals registers one signal per CSS selector, each satisfied
// by a single match. Invalid selectors are rejected before any is added.
func (r *Rules) AddSelectorSignals(selectors []string) error {
	compiled := make(map[string]cascadia.Selector, len(selectors))
	for _, s := range selectors {
		sel, err := cascadia.Compile(s)
		if err != nil {
			return fmt.Errorf("detect: invalid selector %q: %w", s, err)
		}
		compiled[s] = sel
	}
	for s, sel := range compiled {
		r.AddSignal("selector:"+s, matchAtLeast(sel, 1))
	}
	return nil
}

// Indicators returns the registered indicator names, sorted.
func (r *Rules) Indicators() []string { return sortedKeys(r.indicators) }

// Signals returns the registered structural signal names, sorted.
func (r *Rules) Signals() []string { return sortedKeys(r.signals) }

// URLSegments returns the known-good URL segments.
func (r *Rules) URLSegments() []string {
	return append([]string(nil), r.urlSegments...)
}

// SubstringIndicator matches when needle appears in the markup, ignoring case.
func SubstringIndicator(needle string) ChallengeMatcher {
	needle = strings.ToLower(needle)
	return func(lowerMarkup string) bool {
		return needle != "" && strings.Contains(lowerMarkup, needle)
	}
}

// SelectorSignal is satisfied when selector matches at least min elements.
// It panics on an invalid selector; use it with literals only.
func SelectorSignal(selector string, min int) StructuralMatcher {
	return matchAtLeast(cascadia.MustCompile(selector), min)
}

func matchAtLeast(m goquery.Matcher, min int) StructuralMatcher {
	return func(doc *goquery.Document) bool {
		return doc.FindMatcher(m).Length() >= min
	}
}

// priceSignal matches a div whose class mentions "price" or whose first
// text child carries a dollar sign.
func priceSignal() StructuralMatcher {
	byClass := cascadia.MustCompile(`div[class*="price"]`)
	div := cascadia.MustCompile(`div`)
	return func(doc *goquery.Document) bool {
		if doc.FindMatcher(byClass).Length() > 0 {
			return true
		}
		found := false
		doc.FindMatcher(div).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if firstTextContains(s.Nodes[0], "$") {
				found = true
				return false
			}
			return true
		})
		return found
	}
}

func firstTextContains(n *html.Node, needle string) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			return strings.Contains(c.Data, needle)
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
