package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/pairscout/challenge"
	"github.com/use-agent/pairscout/config"
	"github.com/use-agent/pairscout/models"
)

// Exit codes of the run command.
const (
	exitFailed = 1
	exitUsage  = 2
)

type runFlags struct {
	chain         string
	rankBy        string
	order         string
	minLiquidity  int
	maxAgeMinutes int
	output        string

	headless  bool
	proxy     string
	fetchMode string
	evmOnly   bool
	dumpDir   string
	timeout   time.Duration
	quiet     bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape the new-pairs listing once and write the contracts",
		Long: `Opens a visible browser on the new-pairs view, waits out or hands off any
verification challenge, and writes one contract identifier per line to the
output target (a file path or a postgres:// DSN). The run report is printed
to stdout as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			f.applyConfig(cmd, cfg)
			initLogger(cfg.Log, os.Stderr)

			report, err := runOnce(cmd.Context(), cfg, f.request())
			if err != nil {
				return err
			}
			if !f.quiet {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			if !report.Success {
				os.Exit(exitFailed)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.chain, "chain", "c", models.DefaultChain, "Chain identifier (ethereum, bsc, ...)")
	fl.StringVar(&f.rankBy, "rank-by", models.DefaultRankBy, "Ranking column")
	fl.StringVar(&f.order, "order", string(models.DefaultOrder), "Sort order: asc or desc")
	fl.IntVar(&f.minLiquidity, "min-liquidity", models.DefaultMinLiquidity, "Minimum pair liquidity")
	fl.IntVar(&f.maxAgeMinutes, "max-age", models.DefaultMaxAgeMinutes, "Maximum pair age in minutes")
	fl.StringVarP(&f.output, "output", "o", "", "Output target (default {chain}_contracts.txt)")
	fl.BoolVar(&f.headless, "headless", false, "Run the browser headless (manual challenge completion needs a window)")
	fl.StringVarP(&f.proxy, "proxy", "p", "", "Proxy URL for the browser, defaults to PAIRSCOUT_PROXY")
	fl.StringVar(&f.fetchMode, "fetch-mode", "browser", "browser, or auto to try a plain HTTP fetch first")
	fl.BoolVar(&f.evmOnly, "evm-only", false, "Keep only EVM hex addresses, checksummed")
	fl.StringVar(&f.dumpDir, "dump-dir", "", "Write diagnostic snapshots here")
	fl.DurationVarP(&f.timeout, "timeout", "t", 0, "Bound the whole run (0 = unbounded)")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "Do not print the run report")

	return cmd
}

// applyConfig lets explicitly set flags override the environment.
func (f *runFlags) applyConfig(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	if changed("proxy") {
		cfg.Browser.Proxy = f.proxy
	}
	if changed("fetch-mode") {
		cfg.Scraper.FetchMode = f.fetchMode
	}
	if changed("evm-only") {
		cfg.Scraper.EVMOnly = f.evmOnly
	}
	if changed("dump-dir") {
		cfg.Scraper.DumpDir = f.dumpDir
	}
	if changed("timeout") {
		cfg.Scraper.RunTimeout = f.timeout
	}
}

func (f *runFlags) request() models.ScrapeRequest {
	return models.ScrapeRequest{
		Chain:         f.chain,
		RankBy:        f.rankBy,
		Order:         models.Order(f.order),
		MinLiquidity:  f.minLiquidity,
		MaxAgeMinutes: f.maxAgeMinutes,
		Output:        f.output,
	}
}

func runOnce(parent context.Context, cfg *config.Config, req models.ScrapeRequest) (*models.RunReport, error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// A second signal kills the process, e.g. while blocked on stdin.
		stop()
	}()

	op := challenge.NewConsoleOperator(os.Stdin, os.Stderr)
	c, err := buildScraper(cfg, op, nil, false)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	slog.Info("pairscout run starting", "chain", req.Chain, "fetch_mode", cfg.Scraper.FetchMode, "headless", cfg.Browser.Headless)
	return c.scraper.Run(ctx, req), nil
}
