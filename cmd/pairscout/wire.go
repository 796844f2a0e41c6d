package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/use-agent/pairscout/challenge"
	"github.com/use-agent/pairscout/config"
	"github.com/use-agent/pairscout/detect"
	"github.com/use-agent/pairscout/diagnostics"
	"github.com/use-agent/pairscout/engine"
	"github.com/use-agent/pairscout/metrics"
	"github.com/use-agent/pairscout/scraper"
	"github.com/use-agent/pairscout/webhook"
)

// components is everything a command needs to tear down after use.
type components struct {
	scraper *scraper.Scraper
	hosts   *engine.HostMemory
}

func (c *components) Close() {
	if c.hosts != nil {
		c.hosts.Stop()
	}
}

// buildRules assembles the detection heuristics from configuration.
func buildRules(cfg config.DetectConfig) (*detect.Rules, error) {
	rules := detect.NewRules(cfg.ChallengeIndicators, cfg.URLSegments)
	if len(cfg.ExtraSelectors) > 0 {
		if err := rules.AddSelectorSignals(cfg.ExtraSelectors); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// buildScraper wires the orchestrator. reg may be nil to skip metrics;
// asyncWebhook selects background delivery with retries.
func buildScraper(cfg *config.Config, op challenge.Operator, reg prometheus.Registerer, asyncWebhook bool) (*components, error) {
	rules, err := buildRules(cfg.Detect)
	if err != nil {
		return nil, fmt.Errorf("detection rules: %w", err)
	}

	dumper := diagnostics.NewDumper(cfg.Scraper.DumpDir, rules)

	resolver := challenge.NewResolver(rules, op, challenge.Options{
		MinWait:         cfg.Challenge.MinWait,
		MaxWait:         cfg.Challenge.MaxWait,
		SnapshotTimeout: cfg.Scraper.SnapshotTimeout,
		OnManualWait: func(snap detect.Snapshot) {
			files, err := dumper.Dump(diagnostics.ReasonManualWait, snap)
			if err != nil {
				slog.Warn("diagnostic dump failed", "error", err)
				return
			}
			if files.HTML != "" {
				slog.Info("challenge snapshot dumped", "html", files.HTML, "markdown", files.Markdown)
			}
		},
	})

	sc := scraper.New(scraper.NewRodProvider(cfg.Browser), resolver, rules, scraper.Options{
		BaseURL:           cfg.Scraper.BaseURL,
		NavigationTimeout: cfg.Scraper.NavigationTimeout,
		LoadTimeout:       cfg.Scraper.LoadTimeout,
		PollInterval:      cfg.Scraper.PollInterval,
		SnapshotTimeout:   cfg.Scraper.SnapshotTimeout,
		RunTimeout:        cfg.Scraper.RunTimeout,
		FetchMode:         cfg.Scraper.FetchMode,
		EVMOnly:           cfg.Scraper.EVMOnly,
	})
	sc.SetDumper(dumper)

	c := &components{scraper: sc}

	switch cfg.Scraper.FetchMode {
	case scraper.FetchModeBrowser:
	case scraper.FetchModeAuto:
		c.hosts = engine.NewHostMemory(24 * time.Hour)
		sc.SetPrefetcher(engine.NewHTTPFetcher(cfg.Browser.Proxy), c.hosts)
		slog.Info("http prefetch enabled", "host_memory_ttl", "24h")
	default:
		return nil, fmt.Errorf("unknown fetch mode %q: want %s or %s", cfg.Scraper.FetchMode, scraper.FetchModeBrowser, scraper.FetchModeAuto)
	}

	if reg != nil {
		sc.SetMetrics(metrics.New(reg))
	}
	if n := webhook.NewNotifier(cfg.Scraper.WebhookURL, cfg.Scraper.WebhookSecret, asyncWebhook); n != nil {
		sc.SetNotifier(n)
	}

	return c, nil
}
