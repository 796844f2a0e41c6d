// Package scraper drives one end-to-end run: build the listing URL, acquire
// a browser session, wait for the document, resolve any challenge, extract
// contracts, persist them and release the session on every exit path.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/pairscout/challenge"
	"github.com/use-agent/pairscout/contracts"
	"github.com/use-agent/pairscout/detect"
	"github.com/use-agent/pairscout/diagnostics"
	"github.com/use-agent/pairscout/engine"
	"github.com/use-agent/pairscout/metrics"
	"github.com/use-agent/pairscout/models"
	"github.com/use-agent/pairscout/sink"
)

// Fetch modes.
const (
	FetchModeBrowser = "browser"
	FetchModeAuto    = "auto"
)

// Options tunes the orchestrator. Zero durations select the defaults.
type Options struct {
	BaseURL           string
	NavigationTimeout time.Duration // default 30s
	LoadTimeout       time.Duration // default 10s
	PollInterval      time.Duration // default 500ms
	SnapshotTimeout   time.Duration // default 10s
	RunTimeout        time.Duration // 0 = unbounded
	FetchMode         string
	EVMOnly           bool
}

// Notifier receives every finished report.
type Notifier interface {
	Notify(ctx context.Context, report *models.RunReport)
}

// SinkOpener resolves an output target to a sink.
type SinkOpener func(ctx context.Context, target string) (sink.Sink, error)

// Scraper runs scrapes. It holds no per-run state, but runs sharing one
// Operator must not overlap; callers serialize them.
type Scraper struct {
	provider Provider
	resolver *challenge.Resolver
	rules    *detect.Rules
	opts     Options

	openSink SinkOpener
	fetcher  engine.Fetcher
	hosts    *engine.HostMemory
	dumper   *diagnostics.Dumper
	metrics  *metrics.Metrics
	notifier Notifier
}

// New creates a Scraper. rules must be the same set the resolver uses.
func New(provider Provider, resolver *challenge.Resolver, rules *detect.Rules, opts Options) *Scraper {
	if rules == nil {
		rules = detect.DefaultRules()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://dexscreener.com"
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = 10 * time.Second
	}
	if opts.FetchMode == "" {
		opts.FetchMode = FetchModeBrowser
	}
	if resolver == nil {
		resolver = challenge.NewResolver(rules, nil, challenge.Options{})
	}
	return &Scraper{
		provider: provider,
		resolver: resolver,
		rules:    rules,
		opts:     opts,
		openSink: sink.Open,
	}
}

// SetSinkOpener replaces how output targets are opened.
func (s *Scraper) SetSinkOpener(open SinkOpener) { s.openSink = open }

// SetPrefetcher enables the HTTP-first path of "auto" fetch mode.
func (s *Scraper) SetPrefetcher(f engine.Fetcher, hosts *engine.HostMemory) {
	s.fetcher = f
	s.hosts = hosts
}

// SetDumper enables diagnostic snapshot dumps.
func (s *Scraper) SetDumper(d *diagnostics.Dumper) { s.dumper = d }

// SetMetrics enables Prometheus recording.
func (s *Scraper) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetNotifier enables completion notifications.
func (s *Scraper) SetNotifier(n Notifier) { s.notifier = n }

// TargetURL returns the listing URL req resolves to.
func (s *Scraper) TargetURL(req models.ScrapeRequest) string {
	req.Defaults()
	return req.TargetURL(s.opts.BaseURL)
}

// Run performs one scrape. It never returns an error: the report carries
// the terminating condition in Error and soft conditions in Warnings.
//
// Lifecycle:
//
//  1. Validate        – apply defaults, reject bad requests
//  2. Prefetch        – "auto" mode only; may finish the run without a browser
//  3. Acquire session – SESSION_INIT_FAILED is fatal; partial sessions are released
//  4. DEFER: release  – always attempted, failure only logged
//  5. Navigate
//  6. Wait for load   – LOAD_TIMEOUT is soft
//  7. Challenge       – resolver runs at most once
//  8. Extract         – fresh snapshot, chain-scoped anchors
//  9. Persist         – overwrite the output target
func (s *Scraper) Run(ctx context.Context, req models.ScrapeRequest) (report *models.RunReport) {
	start := time.Now()
	req.Defaults()
	report = &models.RunReport{
		RunID:          uuid.NewString(),
		Chain:          req.Chain,
		Output:         req.Output,
		ChallengeState: string(challenge.StateNone),
		FetchMethod:    FetchModeBrowser,
		Contracts:      []string{},
	}
	log := slog.With("run_id", report.RunID, "chain", req.Chain)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("scrape run panicked", "panic", rec)
			report.Fail(models.NewScrapeError(models.ErrCodeInternal, fmt.Sprintf("unexpected failure: %v", rec), nil))
		}
		s.finish(ctx, report, start, log)
	}()

	// ── 1. Validate ──
	if err := req.Validate(); err != nil {
		var se *models.ScrapeError
		if errors.As(err, &se) {
			report.Fail(se)
		} else {
			report.Fail(models.NewScrapeError(models.ErrCodeInvalidInput, "invalid request", err))
		}
		return report
	}
	report.TargetURL = req.TargetURL(s.opts.BaseURL)

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	// ── 2. Prefetch ──
	if s.prefetch(ctx, req, report, log) {
		return report
	}

	s.runBrowser(ctx, req, report, log)
	return report
}

func (s *Scraper) runBrowser(ctx context.Context, req models.ScrapeRequest, report *models.RunReport, log *slog.Logger) {
	loadStart := time.Now()

	// ── 3. Acquire session ──
	sess, err := s.provider.Create(ctx)

	// ── 4. DEFER: release, on every path including partial acquisition ──
	defer s.release(sess, report, log)

	if err != nil {
		log.Error("session init failed", "error", err)
		report.Fail(categorizeError(err, models.ErrCodeSessionInit, "failed to create browser session"))
		return
	}

	// ── 5. Navigate ──
	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	err = sess.Navigate(navCtx, report.TargetURL)
	cancel()
	if err != nil {
		log.Error("navigation failed", "url", report.TargetURL, "error", err)
		report.Fail(categorizeError(err, models.ErrCodeNavigation, "navigation to listing failed"))
		return
	}

	// ── 6. Wait for load (soft) ──
	if err := WaitForLoad(ctx, sess, s.opts.LoadTimeout, s.opts.PollInterval); err != nil {
		log.Warn("document did not report complete, continuing", "error", err)
		report.Warn(models.ErrCodeLoadTimeout, err.Error())
	}
	report.Timing.LoadMs = time.Since(loadStart).Milliseconds()

	// ── 7. Challenge ──
	out := s.resolver.Resolve(ctx, s.snapshotFunc(sess))
	report.Timing.ChallengeMs = out.Elapsed.Milliseconds()
	report.ManualFallback = out.ManualFallback
	report.ChallengeState = terminalState(out.State)
	s.metrics.ObserveChallenge(report.ChallengeState)
	if out.Err != nil {
		report.Warn(models.ErrCodeInspection, "challenge unresolved: "+out.Err.Error())
	}

	// ── 8. Extract ──
	snap, err := s.snapshotFunc(sess)(ctx)
	if err != nil {
		log.Error("failed to read rendered document", "error", err)
		report.Fail(categorizeError(err, models.ErrCodeExtraction, "failed to read rendered document"))
		return
	}
	report.FinalURL = snap.URL

	// ── 9. Persist ──
	s.complete(ctx, req, snap, s.extract(snap, req.Chain), report, log)
}

// prefetch tries the HTTP path in "auto" mode. It reports whether the run
// was completed without a browser.
func (s *Scraper) prefetch(ctx context.Context, req models.ScrapeRequest, report *models.RunReport, log *slog.Logger) bool {
	if s.opts.FetchMode != FetchModeAuto || s.fetcher == nil {
		return false
	}
	host := engine.HostOf(report.TargetURL)
	if s.hosts != nil && s.hosts.NeedsBrowser(host) {
		log.Debug("host remembered as browser-only, skipping prefetch", "host", host)
		s.metrics.ObservePrefetch("skipped")
		return false
	}

	reject := func(result, reason string, args ...any) bool {
		log.Info("prefetch not usable, falling back to browser", append([]any{"reason", reason}, args...)...)
		s.metrics.ObservePrefetch(result)
		if s.hosts != nil {
			s.hosts.MarkBrowser(host)
		}
		return false
	}

	res, err := s.fetcher.Fetch(ctx, &engine.FetchRequest{URL: report.TargetURL, Timeout: s.opts.NavigationTimeout})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return reject("error", "fetch failed", "error", err)
	}

	snap := detect.Snapshot{Markup: res.HTML, URL: res.FinalURL}
	if s.rules.HasChallengeMarkers(snap) {
		return reject("rejected", "challenge served", "title", res.Title)
	}
	if !s.rules.HasTargetContent(snap) {
		if _, err := s.dumper.Dump(diagnostics.ReasonPrefetchReject, snap); err != nil {
			log.Warn("diagnostic dump failed", "error", err)
		}
		return reject("rejected", "no listing content", "title", res.Title)
	}
	ids := s.extract(snap, req.Chain)
	if len(ids) == 0 {
		return reject("rejected", "no contracts in static markup")
	}

	s.metrics.ObservePrefetch("used")
	if s.hosts != nil {
		s.hosts.Forget(host)
	}
	report.FetchMethod = "http"
	report.FinalURL = res.FinalURL
	s.complete(ctx, req, snap, ids, report, log)
	return true
}

func (s *Scraper) extract(snap detect.Snapshot, chain string) []string {
	set := contracts.Extract(snap.Markup, chain)
	if s.opts.EVMOnly {
		set = contracts.FilterEVM(set)
	}
	return set.Sorted()
}

// complete records ids on the report and persists them.
func (s *Scraper) complete(ctx context.Context, req models.ScrapeRequest, snap detect.Snapshot, ids []string, report *models.RunReport, log *slog.Logger) {
	report.Contracts = ids
	if len(ids) == 0 {
		log.Warn("no contracts found", "url", snap.URL)
		report.Warn(models.ErrCodeExtraction, "no contracts found in rendered document")
		if _, err := s.dumper.Dump(diagnostics.ReasonZeroContracts, snap); err != nil {
			log.Warn("diagnostic dump failed", "error", err)
		}
	}

	if err := s.persist(ctx, req, ids); err != nil {
		log.Error("persisting contracts failed", "output", req.Output, "error", err)
		report.Fail(categorizeError(err, models.ErrCodePersistence, "failed to persist contracts"))
		return
	}
	report.Success = true
}

func (s *Scraper) persist(ctx context.Context, req models.ScrapeRequest, ids []string) error {
	out, err := s.openSink(ctx, req.Output)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			slog.Warn("closing sink failed", "output", req.Output, "error", err)
		}
	}()
	return out.Write(ctx, req.Chain, ids)
}

// release is the single place session teardown happens. Its failures and
// panics are logged and recorded as warnings, never escalated.
func (s *Scraper) release(sess Session, report *models.RunReport, log *slog.Logger) {
	if sess == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("session release panicked", "panic", rec)
			report.Warn(models.ErrCodeRelease, fmt.Sprintf("release panicked: %v", rec))
		}
	}()
	if err := sess.Release(); err != nil {
		log.Warn("session release failed", "error", err)
		report.Warn(models.ErrCodeRelease, err.Error())
	}
}

func (s *Scraper) snapshotFunc(sess Session) challenge.SnapshotFunc {
	return func(ctx context.Context) (detect.Snapshot, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.SnapshotTimeout)
		defer cancel()

		markup, err := sess.Markup(ctx)
		if err != nil {
			return detect.Snapshot{}, fmt.Errorf("read markup: %w", err)
		}
		u, err := sess.CurrentURL(ctx)
		if err != nil {
			return detect.Snapshot{}, fmt.Errorf("read url: %w", err)
		}
		return detect.Snapshot{Markup: markup, URL: u}, nil
	}
}

func (s *Scraper) finish(ctx context.Context, report *models.RunReport, start time.Time, log *slog.Logger) {
	elapsed := time.Since(start)
	report.Timing.TotalMs = elapsed.Milliseconds()

	status := metrics.StatusSuccess
	if !report.Success {
		status = metrics.StatusFailure
	}
	s.metrics.ObserveRun(report.Chain, status, report.FetchMethod, len(report.Contracts), elapsed)

	log.Info("scrape run finished",
		"success", report.Success,
		"contracts", len(report.Contracts),
		"challenge", report.ChallengeState,
		"fetch_method", report.FetchMethod,
		"warnings", len(report.Warnings),
		"total_ms", report.Timing.TotalMs,
	)

	if s.notifier != nil {
		s.notifier.Notify(context.WithoutCancel(ctx), report)
	}
}

// terminalState folds the resolver state into what a report shows: a
// challenge that never reached Resolved is unresolved.
func terminalState(st challenge.State) string {
	switch st {
	case challenge.StateNone, challenge.StateResolved:
		return string(st)
	default:
		return string(challenge.StateUnresolved)
	}
}
