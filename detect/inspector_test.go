package detect

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const listingURL = "https://dexscreener.com/new-pairs/ethereum?rankBy=trendingScoreH6&order=desc"

func TestHasChallengeMarkers(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name   string
		markup string
		want   bool
	}{
		{"plain listing", `<html><body><div class="ds-table">pairs</div></body></html>`, false},
		{"empty", ``, false},
		{"cloudflare upper", `<title>Just a moment...</title><p>CLOUDFLARE Ray ID</p>`, true},
		{"checking browser mixed", `<h1>Checking Your Browser before accessing</h1>`, true},
		{"security check", `<div>Security Check</div>`, true},
		{"cf challenge id", `<div id="CF-Challenge-Running"></div>`, true},
		{"hcaptcha widget", `<iframe src="https://hCaptcha.com/x"></iframe>`, true},
		{"turnstile widget", `<div class="cf-Turnstile"></div>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.HasChallengeMarkers(Snapshot{Markup: tt.markup, URL: listingURL})
			if got != tt.want {
				t.Errorf("HasChallengeMarkers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasChallengeMarkers_EveryIndicatorAnyCase(t *testing.T) {
	rules := DefaultRules()
	for _, ind := range DefaultChallengeIndicators {
		for _, variant := range []string{ind, strings.ToUpper(ind), strings.ToUpper(ind[:1]) + ind[1:]} {
			markup := "<html><body><p>" + variant + "</p></body></html>"
			if !rules.HasChallengeMarkers(Snapshot{Markup: markup}) {
				t.Errorf("indicator %q not detected in %q", ind, variant)
			}
		}
	}
}

func TestMatchedIndicators(t *testing.T) {
	rules := DefaultRules()
	got := rules.MatchedIndicators(Snapshot{Markup: "Cloudflare Turnstile security check"})
	want := []string{"cloudflare", "security check", "turnstile"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("MatchedIndicators() = %v, want %v", got, want)
	}
}

func TestHasTargetContent_Signals(t *testing.T) {
	rules := DefaultRules()

	pairLinks := func(n int) string {
		var b strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, `<a href="/ethereum/0x%04d">pair</a>`, i)
		}
		return b.String()
	}

	tests := []struct {
		name   string
		markup string
		want   bool
	}{
		{"nothing", `<html><body><p>hello</p></body></html>`, false},
		{"price class", `<div class="token-price">1.2</div>`, true},
		{"dollar text", `<div>$0.0042</div>`, true},
		{"dollar in nested span only", `<div><span>$1</span></div>`, false},
		{"three pair links", pairLinks(3), false},
		{"four pair links", pairLinks(4), true},
		{"table class", `<div class="ds-dex-table-row"></div>`, true},
		{"grid class", `<div class="grid-cols-3"></div>`, true},
		{"site ui", `<div class="custom-dexscreener-header"></div>`, true},
		{"tokendata", `<div class="tokendata-panel"></div>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rules.HasTargetContent(Snapshot{Markup: tt.markup, URL: listingURL})
			if got != tt.want {
				t.Errorf("HasTargetContent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasTargetContent_RequiresKnownURL(t *testing.T) {
	rules := DefaultRules()
	rich := `<div class="token-price">$1</div><div class="ds-table"></div><div class="dexscreener"></div>`

	urls := []string{
		"",
		"https://example.com/new-pairs/ethereum",
		"https://dexscreener.com/solana",
		"https://challenges.cloudflare.com/cdn-cgi/challenge-platform",
	}
	for _, u := range urls {
		if rules.HasTargetContent(Snapshot{Markup: rich, URL: u}) {
			t.Errorf("HasTargetContent() = true for url %q, want false", u)
		}
	}

	if !rules.HasTargetContent(Snapshot{Markup: rich, URL: "https://DexScreener.com/BSC/0xabc"}) {
		t.Error("HasTargetContent() = false for known segment with signals, want true")
	}
	if rules.HasTargetContent(Snapshot{Markup: `<p>nothing</p>`, URL: listingURL}) {
		t.Error("HasTargetContent() = true for known URL without signals, want false")
	}
}

func TestHasTargetContent_FailsClosedOnPanic(t *testing.T) {
	rules := NewRules(nil, nil)
	rules.AddSignal("boom", func(*goquery.Document) bool { panic("broken matcher") })

	if rules.HasTargetContent(Snapshot{Markup: `<div class="token-price"></div>`, URL: listingURL}) {
		t.Error("HasTargetContent() = true after matcher panic, want false")
	}
}

func TestMatchedIndicators_PanickingMatcher(t *testing.T) {
	rules := NewRules([]string{"just a moment"}, nil)
	rules.AddIndicator("boom", func(string) bool { panic("broken matcher") })

	got := rules.MatchedIndicators(Snapshot{Markup: "Just a moment..."})
	if len(got) != 1 || got[0] != "just a moment" {
		t.Errorf("MatchedIndicators() = %v, want [just a moment]", got)
	}
	if rules.HasChallengeMarkers(Snapshot{Markup: "listing"}) {
		t.Error("HasChallengeMarkers() = true, want false when only the broken matcher ran")
	}
}

func TestNewRules_Overrides(t *testing.T) {
	rules := NewRules([]string{"Are you human"}, []string{" Example.org/Listing "})

	if !rules.HasChallengeMarkers(Snapshot{Markup: "ARE YOU HUMAN?"}) {
		t.Error("custom indicator not detected")
	}
	if rules.HasChallengeMarkers(Snapshot{Markup: "cloudflare"}) {
		t.Error("default indicator should be replaced by the custom list")
	}
	if !rules.ValidURL("https://example.org/listing/1") {
		t.Error("custom segment not accepted")
	}
	if got := rules.URLSegments(); len(got) != 1 || got[0] != "example.org/listing" {
		t.Errorf("URLSegments() = %v, want [example.org/listing]", got)
	}
}

func TestAddSelectorSignals(t *testing.T) {
	rules := NewRules(nil, nil)

	if err := rules.AddSelectorSignals([]string{"div["}); err == nil {
		t.Fatal("expected error for invalid selector")
	}
	if err := rules.AddSelectorSignals([]string{"section.pairs"}); err != nil {
		t.Fatalf("AddSelectorSignals() error = %v", err)
	}

	signals, err := rules.ContentSignals(Snapshot{Markup: `<section class="pairs"></section>`})
	if err != nil {
		t.Fatalf("ContentSignals() error = %v", err)
	}
	if len(signals) != 1 || signals[0] != "selector:section.pairs" {
		t.Errorf("ContentSignals() = %v, want [selector:section.pairs]", signals)
	}
}
