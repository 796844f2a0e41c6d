// Package challenge drives the recovery protocol that runs when an
// anti-automation interstitial is detected: a randomized passive wait, one
// recheck, and, failing that, a blocking hand-off to a human operator.
package challenge

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/use-agent/pairscout/detect"
)

// Phase is a state of the resolution machine.
type Phase string

const (
	PhaseChecking          Phase = "checking"
	PhaseChallengeDetected Phase = "challenge_detected"
	PhaseAutoWaiting       Phase = "auto_waiting"
	PhaseManualWait        Phase = "manual_wait"
	PhaseResolved          Phase = "resolved"
	PhaseNoChallenge       Phase = "no_challenge"
)

// State summarizes the challenge as seen by the orchestrator.
type State string

const (
	StateNone       State = "none"
	StateActive     State = "active"
	StateResolved   State = "resolved"
	StateUnresolved State = "unresolved"
)

// Default bounds of the randomized passive wait.
const (
	DefaultMinWait = 5 * time.Second
	DefaultMaxWait = 10 * time.Second
)

// ErrNoOperator is returned in an Outcome when a manual wait is required but
// no operator was configured.
var ErrNoOperator = errors.New("challenge: manual confirmation required but no operator configured")

// SnapshotFunc takes a fresh snapshot of the live document.
type SnapshotFunc func(ctx context.Context) (detect.Snapshot, error)

// Options tunes a Resolver. Zero values select the defaults.
type Options struct {
	MinWait time.Duration
	MaxWait time.Duration

	// SnapshotTimeout bounds each snapshot acquisition. Zero means the
	// caller's context is the only bound.
	SnapshotTimeout time.Duration

	// OnManualWait, if set, receives the recheck snapshot right before the
	// machine suspends on the operator.
	OnManualWait func(detect.Snapshot)
}

// Outcome is the terminal result of one Resolve call.
type Outcome struct {
	State          State
	ManualFallback bool
	Indicators     []string
	Phases         []Phase
	Waited         time.Duration // passive wait actually slept
	Elapsed        time.Duration
	Err            error // why the machine ended Unresolved, if it did
}

// Final returns the last phase entered.
func (o *Outcome) Final() Phase {
	if len(o.Phases) == 0 {
		return ""
	}
	return o.Phases[len(o.Phases)-1]
}

func (o *Outcome) enter(p Phase) {
	o.Phases = append(o.Phases, p)
	slog.Debug("challenge phase", "phase", p)
}

// Resolver runs the challenge state machine. It is not safe for concurrent
// Resolve calls that share one Operator.
type Resolver struct {
	rules    *detect.Rules
	operator Operator
	opts     Options

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// NewResolver creates a Resolver. rules may be nil for the defaults.
func NewResolver(rules *detect.Rules, op Operator, opts Options) *Resolver {
	if rules == nil {
		rules = detect.DefaultRules()
	}
	if opts.MinWait <= 0 {
		opts.MinWait = DefaultMinWait
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.MaxWait < opts.MinWait {
		opts.MaxWait = opts.MinWait
	}
	return &Resolver{
		rules:    rules,
		operator: op,
		opts:     opts,
		sleep:    sleepCtx,
		jitter:   rand.Int64N,
	}
}

// WaitDuration draws the passive wait uniformly from [MinWait, MaxWait].
func (r *Resolver) WaitDuration() time.Duration {
	span := int64(r.opts.MaxWait - r.opts.MinWait)
	if span <= 0 {
		return r.opts.MinWait
	}
	return r.opts.MinWait + time.Duration(r.jitter(span+1))
}

// Resolve takes a fresh snapshot and, if it shows a challenge, runs the
// wait, recheck and manual fallback sequence to a terminal phase. It runs
// at most once per scrape and never re-enters after a terminal phase.
//
// The manual wait is not bound by ctx: it returns only when
// the operator confirms or the operator channel fails.
func (r *Resolver) Resolve(ctx context.Context, snap SnapshotFunc) (out Outcome) {
	start := time.Now()
	out.State = StateNone
	defer func() { out.Elapsed = time.Since(start) }()

	// ── 1. Checking ──
	out.enter(PhaseChecking)
	first, err := r.snapshot(ctx, snap)
	if err != nil {
		slog.Warn("challenge check snapshot failed, assuming no challenge", "error", err)
		out.enter(PhaseNoChallenge)
		return out
	}
	out.Indicators = r.rules.MatchedIndicators(first)
	if len(out.Indicators) == 0 {
		out.enter(PhaseNoChallenge)
		return out
	}

	out.enter(PhaseChallengeDetected)
	out.State = StateActive
	slog.Info("challenge detected", "url", first.URL, "indicators", out.Indicators)

	// ── 2. Passive wait, then one recheck ──
	out.enter(PhaseAutoWaiting)
	wait := r.WaitDuration()
	slog.Info("waiting for challenge to clear", "wait", wait)
	if err := r.sleep(ctx, wait); err != nil {
		out.State = StateUnresolved
		out.Err = err
		return out
	}
	out.Waited = wait

	second, err := r.snapshot(ctx, snap)
	if err != nil {
		slog.Warn("challenge recheck snapshot failed, treating as not loaded", "error", err)
	} else {
		slog.Debug("document change across wait",
			"dom_distance", detect.StructureDistance(first, second),
			"url", second.URL,
		)
		if r.rules.HasTargetContent(second) {
			out.enter(PhaseResolved)
			out.State = StateResolved
			slog.Info("challenge cleared automatically", "url", second.URL)
			return out
		}
	}

	// ── 3. Manual fallback ──
	out.enter(PhaseManualWait)
	out.ManualFallback = true
	if r.opts.OnManualWait != nil {
		r.opts.OnManualWait(second)
	}
	if r.operator == nil {
		out.State = StateUnresolved
		out.Err = ErrNoOperator
		return out
	}

	slog.Warn("challenge still showing, waiting for operator confirmation")
	if err := r.operator.AwaitConfirmation(manualPrompt); err != nil {
		slog.Error("operator confirmation failed", "error", err)
		out.State = StateUnresolved
		out.Err = err
		return out
	}

	out.enter(PhaseResolved)
	out.State = StateResolved
	slog.Info("operator confirmed challenge completion")
	return out
}

const manualPrompt = "Verification challenge detected. Complete it in the browser window, then confirm to continue."

func (r *Resolver) snapshot(ctx context.Context, snap SnapshotFunc) (detect.Snapshot, error) {
	if r.opts.SnapshotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.SnapshotTimeout)
		defer cancel()
	}
	return snap(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
