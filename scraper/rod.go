package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/pairscout/config"
)

// RodProvider launches a dedicated Chromium per session.
type RodProvider struct {
	cfg config.BrowserConfig
}

// NewRodProvider creates a RodProvider.
func NewRodProvider(cfg config.BrowserConfig) *RodProvider {
	return &RodProvider{cfg: cfg}
}

// Create launches the browser, connects to it and opens one page with
// stealth and resource blocking installed. Anything set up before a
// failure is returned so the caller can release it.
func (p *RodProvider) Create(ctx context.Context) (Session, error) {
	l := p.newLauncher()

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	slog.Debug("browser launched", "controlURL", controlURL)

	s := &rodSession{launcher: l, acceptLanguage: p.cfg.AcceptLanguage}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return s, fmt.Errorf("connect browser: %w", err)
	}
	s.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return s, fmt.Errorf("open page: %w", err)
	}
	s.page = page

	// Stealth and hijack only apply to navigations made after they are
	// installed, so both go in before Navigate.
	if p.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	s.router = setupHijack(page, p.cfg.BlockedResourceTypes, p.cfg.BlockAds)

	return s, nil
}

func (p *RodProvider) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(p.cfg.Headless).
		NoSandbox(p.cfg.NoSandbox).
		Env(envWithoutProxy(os.Environ())...)

	if p.cfg.BrowserBin != "" {
		l = l.Bin(p.cfg.BrowserBin)
	}
	if p.cfg.Proxy != "" {
		l = l.Proxy(p.cfg.Proxy)
	} else {
		l.Set(flags.Flag("no-proxy-server"))
	}

	// ── Stealth flags ──
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "TranslateUI")
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	return l
}

// envWithoutProxy drops proxy variables so the browser never picks up an
// ambient proxy.
func envWithoutProxy(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		switch strings.ToLower(name) {
		case "http_proxy", "https_proxy", "all_proxy", "no_proxy":
			continue
		}
		out = append(out, kv)
	}
	return out
}

type rodSession struct {
	launcher       *launcher.Launcher
	browser        *rod.Browser
	page           *rod.Page
	router         *rod.HijackRouter
	acceptLanguage string
}

func (s *rodSession) Navigate(ctx context.Context, target string) error {
	headers := map[string]string{}
	if s.acceptLanguage != "" {
		headers["Accept-Language"] = s.acceptLanguage
	}
	if u, err := url.Parse(target); err == nil {
		headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(headers)}).Call(s.page); err != nil {
		slog.Debug("failed to set extra headers", "error", err)
	}
	return s.page.Context(ctx).Navigate(target)
}

func (s *rodSession) CurrentURL(ctx context.Context) (string, error) {
	return s.evalString(ctx, `() => window.location.href`)
}

func (s *rodSession) ReadyState(ctx context.Context) (string, error) {
	return s.evalString(ctx, `() => document.readyState`)
}

func (s *rodSession) Markup(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *rodSession) evalString(ctx context.Context, js string) (string, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// Release tears down in reverse order of Create. Every step runs even if an
// earlier one fails.
func (s *rodSession) Release() error {
	var errs []error
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop hijack router: %w", err))
		}
	}
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	return errors.Join(errs...)
}

// toHeadersMap converts a plain string map to proto.NetworkHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
