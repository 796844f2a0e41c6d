package detect

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HasChallengeMarkers reports whether any challenge indicator matches the
// snapshot's markup, case-insensitively.
func (r *Rules) HasChallengeMarkers(s Snapshot) bool {
	return len(r.MatchedIndicators(s)) > 0
}

// MatchedIndicators returns the names of the indicators present in the
// snapshot, sorted. A panicking matcher counts as not matched.
func (r *Rules) MatchedIndicators(s Snapshot) []string {
	lower := strings.ToLower(s.Markup)
	var matched []string
	for _, name := range r.Indicators() {
		if r.matchIndicator(name, lower) {
			matched = append(matched, name)
		}
	}
	return matched
}

func (r *Rules) matchIndicator(name, lower string) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("challenge indicator panicked, skipping", "indicator", name, "panic", rec)
			ok = false
		}
	}()
	return r.indicators[name](lower)
}

// HasTargetContent reports whether the snapshot shows rendered listing
// content: at least one structural signal must be present AND the URL must
// contain a known-good segment. Structural signals alone also show up on
// error and interstitial pages, and a good URL alone does not prove the
// client-side render finished.
//
// It fails closed: any failure while querying the document counts as
// "not loaded".
func (r *Rules) HasTargetContent(s Snapshot) bool {
	if !r.ValidURL(s.URL) {
		return false
	}
	signals, err := r.ContentSignals(s)
	if err != nil {
		slog.Warn("content inspection failed, treating as not loaded",
			"url", s.URL, "error", err,
		)
		return false
	}
	return len(signals) > 0
}

// ValidURL reports whether u contains one of the known-good segments.
func (r *Rules) ValidURL(u string) bool {
	lower := strings.ToLower(u)
	for _, seg := range r.urlSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}
	return false
}

// ContentSignals returns the names of the structural signals present in the
// snapshot, sorted. A panicking matcher is reported as an error.
func (r *Rules) ContentSignals(s Snapshot) (signals []string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.Markup))
	if err != nil {
		return nil, fmt.Errorf("detect: parse markup: %w", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			signals = nil
			err = fmt.Errorf("detect: signal matcher panicked: %v", rec)
		}
	}()

	for _, name := range r.Signals() {
		if r.signals[name](doc) {
			signals = append(signals, name)
		}
	}
	return signals, nil
}
