package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/use-agent/pairscout/api"
	"github.com/use-agent/pairscout/cache"
	"github.com/use-agent/pairscout/challenge"
	"github.com/use-agent/pairscout/config"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose scrape runs and challenge confirmation over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			initLogger(cfg.Log, os.Stdout)
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Listen address, defaults to PAIRSCOUT_HOST")
	cmd.Flags().IntVar(&port, "port", 8080, "Listen port, defaults to PAIRSCOUT_PORT")
	return cmd
}

func serve(cfg *config.Config) error {
	slog.Info("pairscout starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"fetch_mode", cfg.Scraper.FetchMode,
		"auth", cfg.Auth.Enabled,
	)
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth enabled but PAIRSCOUT_API_KEYS is empty, API is open")
	}

	// ── 1. Metrics registry ──
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// ── 2. Scraper with the HTTP-driven operator ──
	op := challenge.NewChannelOperator()
	c, err := buildScraper(cfg, op, reg, true)
	if err != nil {
		return err
	}
	defer c.Close()

	// ── 3. Cache ──
	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Stop()

	// ── 4. Router ──
	done := make(chan struct{})
	defer close(done)
	router := api.NewRouter(api.Deps{
		Runner:   c.scraper,
		Operator: op,
		Config:   cfg,
		Cache:    cc,
		Gatherer: reg,
		Started:  time.Now(),
		Done:     done,
	})

	// ── 5. Start HTTP server ──
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── 6. Graceful shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// A run parked in manual wait would otherwise hold shutdown open.
	op.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("pairscout stopped")
	return nil
}
