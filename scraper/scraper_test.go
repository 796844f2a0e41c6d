package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/pairscout/challenge"
	"github.com/use-agent/pairscout/engine"
	"github.com/use-agent/pairscout/models"
	"github.com/use-agent/pairscout/sink"
)

const listingMarkup = `<html><body><div class="ds-dex-table">
	<a href="/ethereum/0xAAA">A</a>
	<a href="/ethereum/0xBBB">B</a>
	<a href="/bsc/0xCCC">C</a>
</div></body></html>`

const challengeMarkup = `<html><head><title>Just a moment...</title></head><body>Checking your browser before accessing</body></html>`

// ── fakes ──

type fakeSession struct {
	mu           sync.Mutex
	markup       string
	url          string
	ready        string
	navErr       error
	markupErr    error
	releaseErr   error
	releasePanic bool
	navigated    []string
	released     int
}

func (f *fakeSession) Navigate(_ context.Context, u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, u)
	if f.navErr == nil && f.url == "" {
		f.url = u
	}
	return f.navErr
}

func (f *fakeSession) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeSession) ReadyState(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready, nil
}

func (f *fakeSession) Markup(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markup, f.markupErr
}

func (f *fakeSession) Release() error {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
	if f.releasePanic {
		panic("driver already gone")
	}
	return f.releaseErr
}

type fakeProvider struct {
	sess  Session
	err   error
	calls int
}

func (p *fakeProvider) Create(context.Context) (Session, error) {
	p.calls++
	return p.sess, p.err
}

type fakeSink struct {
	err    error
	writes [][]string
	chains []string
	closed int
}

func (s *fakeSink) Write(_ context.Context, chain string, ids []string) error {
	s.chains = append(s.chains, chain)
	s.writes = append(s.writes, ids)
	return s.err
}

func (s *fakeSink) Close() error {
	s.closed++
	return nil
}

type fakeFetcher struct {
	res   *engine.FetchResult
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context, *engine.FetchRequest) (*engine.FetchResult, error) {
	f.calls++
	return f.res, f.err
}

type recordingNotifier struct{ reports []*models.RunReport }

func (n *recordingNotifier) Notify(_ context.Context, r *models.RunReport) {
	n.reports = append(n.reports, r)
}

func newTestScraper(p Provider, op challenge.Operator, snk *fakeSink) (*Scraper, *int) {
	resolver := challenge.NewResolver(nil, op, challenge.Options{MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond})
	s := New(p, resolver, nil, Options{
		LoadTimeout:  50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	opened := 0
	s.SetSinkOpener(func(context.Context, string) (sink.Sink, error) {
		opened++
		return snk, nil
	})
	return s, &opened
}

func hasWarning(r *models.RunReport, code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// ── tests ──

func TestRun_Success(t *testing.T) {
	sess := &fakeSession{markup: listingMarkup, ready: "complete"}
	snk := &fakeSink{}
	s, _ := newTestScraper(&fakeProvider{sess: sess}, nil, snk)

	report := s.Run(context.Background(), models.NewScrapeRequest())

	if !report.Success || report.Error != nil {
		t.Fatalf("Success = %v Error = %+v, want success", report.Success, report.Error)
	}
	if fmt.Sprint(report.Contracts) != "[0xAAA 0xBBB]" {
		t.Errorf("Contracts = %v, want [0xAAA 0xBBB]", report.Contracts)
	}
	if report.ChallengeState != "none" {
		t.Errorf("ChallengeState = %s, want none", report.ChallengeState)
	}
	if len(snk.writes) != 1 || snk.chains[0] != "ethereum" || snk.closed != 1 {
		t.Errorf("sink writes = %v chains = %v closed = %d", snk.writes, snk.chains, snk.closed)
	}
	want := "https://dexscreener.com/new-pairs/ethereum?rankBy=trendingScoreH6&order=desc&minLiq=25000&maxAge=720"
	if len(sess.navigated) != 1 || sess.navigated[0] != want {
		t.Errorf("navigated = %v, want [%s]", sess.navigated, want)
	}
	if report.TargetURL != want || report.Output != "ethereum_contracts.txt" {
		t.Errorf("TargetURL = %s Output = %s", report.TargetURL, report.Output)
	}
	if sess.released != 1 {
		t.Errorf("released = %d, want 1", sess.released)
	}
	if report.RunID == "" {
		t.Error("RunID empty")
	}
}

func TestRun_WritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "eth.txt")
	sess := &fakeSession{markup: listingMarkup, ready: "complete"}
	s := New(&fakeProvider{sess: sess}, nil, nil, Options{PollInterval: time.Millisecond})

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum", Output: out})
	if !report.Success {
		t.Fatalf("run failed: %+v", report.Error)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "0xAAA\n0xBBB\n" {
		t.Errorf("file = %q", got)
	}
}

func TestRun_SessionInitFailure(t *testing.T) {
	initErr := errors.New("chrome not found")

	t.Run("partial session released", func(t *testing.T) {
		partial := &fakeSession{}
		snk := &fakeSink{}
		s, opened := newTestScraper(&fakeProvider{sess: partial, err: initErr}, nil, snk)

		report := s.Run(context.Background(), models.ScrapeRequest{})

		if report.Success || report.Error == nil || report.Error.Code != models.ErrCodeSessionInit {
			t.Fatalf("Error = %+v, want %s", report.Error, models.ErrCodeSessionInit)
		}
		if *opened != 0 || len(snk.writes) != 0 {
			t.Errorf("sink used %d times, want never", *opened)
		}
		if partial.released != 1 {
			t.Errorf("partial session released %d times, want 1", partial.released)
		}
		if len(partial.navigated) != 0 {
			t.Error("navigated on a failed session")
		}
	})

	t.Run("nothing to release", func(t *testing.T) {
		snk := &fakeSink{}
		s, opened := newTestScraper(&fakeProvider{err: initErr}, nil, snk)

		report := s.Run(context.Background(), models.ScrapeRequest{})
		if report.Error == nil || report.Error.Code != models.ErrCodeSessionInit {
			t.Fatalf("Error = %+v, want %s", report.Error, models.ErrCodeSessionInit)
		}
		if *opened != 0 {
			t.Error("sink opened after init failure")
		}
	})
}

func TestRun_LoadTimeoutIsSoft(t *testing.T) {
	sess := &fakeSession{markup: listingMarkup, ready: "loading"}
	snk := &fakeSink{}
	s, _ := newTestScraper(&fakeProvider{sess: sess}, nil, snk)

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})

	if !report.Success {
		t.Fatalf("run failed: %+v", report.Error)
	}
	if !hasWarning(report, models.ErrCodeLoadTimeout) {
		t.Errorf("Warnings = %+v, want %s", report.Warnings, models.ErrCodeLoadTimeout)
	}
	if len(snk.writes) != 1 || len(snk.writes[0]) == 0 {
		t.Errorf("sink writes = %v, want one non-empty write", snk.writes)
	}
}

func TestRun_ReleaseFailureSwallowed(t *testing.T) {
	tests := []struct {
		name string
		sess *fakeSession
	}{
		{"error", &fakeSession{markup: listingMarkup, ready: "complete", releaseErr: errors.New("kill: no such process")}},
		{"panic", &fakeSession{markup: listingMarkup, ready: "complete", releasePanic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScraper(&fakeProvider{sess: tt.sess}, nil, &fakeSink{})

			report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})

			if !report.Success || report.Error != nil {
				t.Errorf("Success = %v Error = %+v, want success", report.Success, report.Error)
			}
			if !hasWarning(report, models.ErrCodeRelease) {
				t.Errorf("Warnings = %+v, want %s", report.Warnings, models.ErrCodeRelease)
			}
			if tt.sess.released != 1 {
				t.Errorf("released = %d, want 1", tt.sess.released)
			}
		})
	}
}

func TestRun_NavigationFailure(t *testing.T) {
	sess := &fakeSession{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	snk := &fakeSink{}
	s, opened := newTestScraper(&fakeProvider{sess: sess}, nil, snk)

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})

	if report.Error == nil || report.Error.Code != models.ErrCodeNavigation {
		t.Fatalf("Error = %+v, want %s", report.Error, models.ErrCodeNavigation)
	}
	if *opened != 0 {
		t.Error("sink opened after navigation failure")
	}
	if sess.released != 1 {
		t.Errorf("released = %d, want 1", sess.released)
	}
}

func TestRun_ExtractionReadFailure(t *testing.T) {
	sess := &fakeSession{ready: "complete", markupErr: errors.New("target closed")}
	s, opened := newTestScraper(&fakeProvider{sess: sess}, nil, &fakeSink{})

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})

	if report.Error == nil || report.Error.Code != models.ErrCodeExtraction {
		t.Fatalf("Error = %+v, want %s", report.Error, models.ErrCodeExtraction)
	}
	if *opened != 0 || sess.released != 1 {
		t.Errorf("opened = %d released = %d, want 0/1", *opened, sess.released)
	}
}

func TestRun_PersistenceFailure(t *testing.T) {
	sess := &fakeSession{markup: listingMarkup, ready: "complete"}
	snk := &fakeSink{err: errors.New("disk full")}
	s, _ := newTestScraper(&fakeProvider{sess: sess}, nil, snk)

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})

	if report.Success || report.Error == nil || report.Error.Code != models.ErrCodePersistence {
		t.Fatalf("Error = %+v, want %s", report.Error, models.ErrCodePersistence)
	}
	if len(report.Contracts) != 2 {
		t.Errorf("Contracts = %v, want the extracted pair kept on the report", report.Contracts)
	}
	if sess.released != 1 || snk.closed != 1 {
		t.Errorf("released = %d closed = %d, want 1/1", sess.released, snk.closed)
	}
}

func TestRun_ManualChallenge(t *testing.T) {
	sess := &fakeSession{markup: challengeMarkup, ready: "complete"}
	snk := &fakeSink{}
	prompts := 0
	op := challenge.OperatorFunc(func(string) error {
		prompts++
		return nil
	})
	s, _ := newTestScraper(&fakeProvider{sess: sess}, op, snk)

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})

	if prompts != 1 {
		t.Errorf("operator prompted %d times, want 1", prompts)
	}
	if report.ChallengeState != "resolved" || !report.ManualFallback {
		t.Errorf("ChallengeState = %s ManualFallback = %v, want resolved/true", report.ChallengeState, report.ManualFallback)
	}
	// Operator is trusted; the empty extraction is a warning, not a failure.
	if !report.Success || !hasWarning(report, models.ErrCodeExtraction) {
		t.Errorf("Success = %v Warnings = %+v", report.Success, report.Warnings)
	}
	if len(snk.writes) != 1 || len(snk.writes[0]) != 0 {
		t.Errorf("sink writes = %v, want one empty write", snk.writes)
	}
}

func TestRun_OperatorFailureStillExtracts(t *testing.T) {
	sess := &fakeSession{markup: challengeMarkup, ready: "complete"}
	snk := &fakeSink{}
	op := challenge.OperatorFunc(func(string) error { return errors.New("stdin: EOF") })
	s, _ := newTestScraper(&fakeProvider{sess: sess}, op, snk)

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})

	if report.ChallengeState != "unresolved" {
		t.Errorf("ChallengeState = %s, want unresolved", report.ChallengeState)
	}
	if !hasWarning(report, models.ErrCodeInspection) {
		t.Errorf("Warnings = %+v, want %s", report.Warnings, models.ErrCodeInspection)
	}
	if len(snk.writes) != 1 {
		t.Errorf("sink writes = %d, want 1", len(snk.writes))
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	p := &fakeProvider{sess: &fakeSession{}}
	s, _ := newTestScraper(p, nil, &fakeSink{})

	report := s.Run(context.Background(), models.ScrapeRequest{Chain: "eth/../x"})

	if report.Error == nil || report.Error.Code != models.ErrCodeInvalidInput {
		t.Fatalf("Error = %+v, want %s", report.Error, models.ErrCodeInvalidInput)
	}
	if p.calls != 0 {
		t.Error("provider called for an invalid request")
	}
}

func TestRun_Notifies(t *testing.T) {
	n := &recordingNotifier{}
	s, _ := newTestScraper(&fakeProvider{err: errors.New("boom")}, nil, &fakeSink{})
	s.SetNotifier(n)

	report := s.Run(context.Background(), models.ScrapeRequest{})
	if len(n.reports) != 1 || n.reports[0] != report {
		t.Errorf("notified %d times, want once with the report", len(n.reports))
	}
	if report.Timing.TotalMs < 0 {
		t.Errorf("TotalMs = %d", report.Timing.TotalMs)
	}
}

func TestRun_AutoPrefetch(t *testing.T) {
	target := "https://dexscreener.com/new-pairs/ethereum?rankBy=trendingScoreH6&order=desc&minLiq=25000&maxAge=720"

	t.Run("static listing used", func(t *testing.T) {
		p := &fakeProvider{sess: &fakeSession{}}
		snk := &fakeSink{}
		s, _ := newTestScraper(p, nil, snk)
		s.opts.FetchMode = FetchModeAuto
		hosts := engine.NewHostMemory(time.Hour)
		defer hosts.Stop()
		s.SetPrefetcher(&fakeFetcher{res: &engine.FetchResult{HTML: listingMarkup, FinalURL: target}}, hosts)

		report := s.Run(context.Background(), models.NewScrapeRequest())

		if !report.Success || report.FetchMethod != "http" {
			t.Fatalf("Success = %v FetchMethod = %s, want true/http", report.Success, report.FetchMethod)
		}
		if p.calls != 0 {
			t.Error("browser session created although prefetch succeeded")
		}
		if fmt.Sprint(snk.writes) != "[[0xAAA 0xBBB]]" {
			t.Errorf("sink writes = %v", snk.writes)
		}
	})

	t.Run("challenge falls back and is remembered", func(t *testing.T) {
		sess := &fakeSession{markup: listingMarkup, ready: "complete"}
		p := &fakeProvider{sess: sess}
		s, _ := newTestScraper(p, nil, &fakeSink{})
		s.opts.FetchMode = FetchModeAuto
		hosts := engine.NewHostMemory(time.Hour)
		defer hosts.Stop()
		f := &fakeFetcher{res: &engine.FetchResult{HTML: challengeMarkup, FinalURL: target}}
		s.SetPrefetcher(f, hosts)

		report := s.Run(context.Background(), models.NewScrapeRequest())

		if !report.Success || report.FetchMethod != FetchModeBrowser || p.calls != 1 {
			t.Fatalf("Success = %v FetchMethod = %s provider calls = %d", report.Success, report.FetchMethod, p.calls)
		}
		if !hosts.NeedsBrowser("dexscreener.com") {
			t.Error("host not remembered as browser-only")
		}

		s.Run(context.Background(), models.NewScrapeRequest())
		if f.calls != 1 {
			t.Errorf("fetcher calls = %d, want 1 (second run skips prefetch)", f.calls)
		}
	})

	t.Run("browser mode never prefetches", func(t *testing.T) {
		s, _ := newTestScraper(&fakeProvider{sess: &fakeSession{markup: listingMarkup, ready: "complete"}}, nil, &fakeSink{})
		f := &fakeFetcher{err: errors.New("unused")}
		s.SetPrefetcher(f, nil)

		s.Run(context.Background(), models.ScrapeRequest{Chain: "ethereum"})
		if f.calls != 0 {
			t.Errorf("fetcher calls = %d, want 0", f.calls)
		}
	})
}

func TestWaitForLoad(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		if err := WaitForLoad(context.Background(), &fakeSession{ready: "complete"}, time.Second, time.Millisecond); err != nil {
			t.Errorf("WaitForLoad() error = %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := WaitForLoad(context.Background(), &fakeSession{ready: "interactive"}, 20*time.Millisecond, 5*time.Millisecond)
		var se *models.ScrapeError
		if !errors.As(err, &se) || se.Code != models.ErrCodeLoadTimeout {
			t.Errorf("WaitForLoad() error = %v, want %s", err, models.ErrCodeLoadTimeout)
		}
	})

	t.Run("parent cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WaitForLoad(ctx, &fakeSession{ready: "loading"}, time.Second, 5*time.Millisecond)
		var se *models.ScrapeError
		if !errors.As(err, &se) || se.Code != models.ErrCodeTimeout {
			t.Errorf("WaitForLoad() error = %v, want %s", err, models.ErrCodeTimeout)
		}
	})
}

func TestEnvWithoutProxy(t *testing.T) {
	env := []string{"PATH=/bin", "http_proxy=http://p:1", "HTTPS_PROXY=http://p:2", "HOME=/root", "ALL_PROXY=socks5://x"}
	got := envWithoutProxy(env)
	if fmt.Sprint(got) != "[PATH=/bin HOME=/root]" {
		t.Errorf("envWithoutProxy() = %v", got)
	}
}

func TestTrackerHosts(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"googletagmanager.com", true},
		{"www.GoogleTagManager.com", true},
		{"pagead2.googlesyndication.com", true},
		{"dexscreener.com", false},
		{"challenges.cloudflare.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isTrackerHost(tt.host); got != tt.want {
			t.Errorf("isTrackerHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestBlockedSet(t *testing.T) {
	set := blockedSet([]string{"Image", " font ", "Script", "bogus"})
	if len(set) != 2 {
		t.Errorf("blockedSet() size = %d, want 2 (scripts are never blockable)", len(set))
	}
}
