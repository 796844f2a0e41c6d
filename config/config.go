package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scraper   ScraperConfig
	Challenge ChallengeConfig
	Detect    DetectConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// CacheConfig controls the run report cache used in server mode.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached reports.
	MaxEntries int // default: 100
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the browser session.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless. Manual challenge
	// completion needs a visible window, so the default is false.
	Headless bool // default: false

	// Proxy is an explicit proxy URL. Proxy environment variables are never
	// inherited by the browser.
	Proxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth injects the stealth evasion script into every page.
	Stealth bool // default: true

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// BlockAds drops requests to known ad and tracking hosts.
	BlockAds bool // default: true

	// AcceptLanguage is sent with every navigation.
	AcceptLanguage string // default: "en-US,en;q=0.9"
}

// ScraperConfig controls one scrape run.
type ScraperConfig struct {
	// BaseURL is the listing site root.
	BaseURL string // default: "https://dexscreener.com"

	// NavigationTimeout bounds session.Navigate.
	NavigationTimeout time.Duration // default: 30s

	// LoadTimeout bounds the wait for document.readyState == "complete".
	LoadTimeout time.Duration // default: 10s

	// PollInterval is the ready-state polling cadence.
	PollInterval time.Duration // default: 500ms

	// SnapshotTimeout bounds each document snapshot.
	SnapshotTimeout time.Duration // default: 10s

	// RunTimeout bounds a whole run; 0 means unbounded. The manual
	// challenge wait is never interrupted by it.
	RunTimeout time.Duration // default: 0

	// FetchMode is "browser" (always drive the browser) or "auto" (try a
	// plain HTTP fetch first).
	FetchMode string // default: "browser"

	// EVMOnly keeps only 20-byte hex addresses, checksummed.
	EVMOnly bool // default: false

	// DumpDir receives diagnostic snapshots; empty disables dumps.
	DumpDir string

	// WebhookURL receives run completion events; empty disables them.
	WebhookURL    string
	WebhookSecret string
}

// ChallengeConfig bounds the randomized passive wait.
type ChallengeConfig struct {
	MinWait time.Duration // default: 5s
	MaxWait time.Duration // default: 10s
}

// DetectConfig overrides the detection heuristics. Empty lists keep the
// built-in rules.
type DetectConfig struct {
	ChallengeIndicators []string
	URLSegments         []string
	ExtraSelectors      []string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 5
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"

	// File, when set, also writes logs to a size-rotated file.
	File       string
	MaxSizeMB  int // default: 50
	MaxBackups int // default: 3
	MaxAgeDays int // default: 28
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is applied first if present.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return &Config{
		Server: ServerConfig{
			Host: envOr("PAIRSCOUT_HOST", "0.0.0.0"),
			Port: envIntOr("PAIRSCOUT_PORT", 8080),
			Mode: envOr("PAIRSCOUT_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:             envBoolOr("PAIRSCOUT_HEADLESS", false),
			Proxy:                os.Getenv("PAIRSCOUT_PROXY"),
			NoSandbox:            envBoolOr("PAIRSCOUT_NO_SANDBOX", false),
			BrowserBin:           os.Getenv("PAIRSCOUT_BROWSER_BIN"),
			Stealth:              envBoolOr("PAIRSCOUT_STEALTH", true),
			BlockedResourceTypes: envSliceOr("PAIRSCOUT_BLOCKED_RESOURCES", []string{"Image", "Font", "Media"}),
			BlockAds:             envBoolOr("PAIRSCOUT_BLOCK_ADS", true),
			AcceptLanguage:       envOr("PAIRSCOUT_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
		},
		Scraper: ScraperConfig{
			BaseURL:           envOr("PAIRSCOUT_BASE_URL", "https://dexscreener.com"),
			NavigationTimeout: envDurationOr("PAIRSCOUT_NAV_TIMEOUT", 30*time.Second),
			LoadTimeout:       envDurationOr("PAIRSCOUT_LOAD_TIMEOUT", 10*time.Second),
			PollInterval:      envDurationOr("PAIRSCOUT_POLL_INTERVAL", 500*time.Millisecond),
			SnapshotTimeout:   envDurationOr("PAIRSCOUT_SNAPSHOT_TIMEOUT", 10*time.Second),
			RunTimeout:        envDurationOr("PAIRSCOUT_RUN_TIMEOUT", 0),
			FetchMode:         envOr("PAIRSCOUT_FETCH_MODE", "browser"),
			EVMOnly:           envBoolOr("PAIRSCOUT_EVM_ONLY", false),
			DumpDir:           os.Getenv("PAIRSCOUT_DUMP_DIR"),
			WebhookURL:        os.Getenv("PAIRSCOUT_WEBHOOK_URL"),
			WebhookSecret:     os.Getenv("PAIRSCOUT_WEBHOOK_SECRET"),
		},
		Challenge: ChallengeConfig{
			MinWait: envDurationOr("PAIRSCOUT_CHALLENGE_MIN_WAIT", 5*time.Second),
			MaxWait: envDurationOr("PAIRSCOUT_CHALLENGE_MAX_WAIT", 10*time.Second),
		},
		Detect: DetectConfig{
			ChallengeIndicators: envSliceOr("PAIRSCOUT_CHALLENGE_INDICATORS", nil),
			URLSegments:         envSliceOr("PAIRSCOUT_URL_SEGMENTS", nil),
			ExtraSelectors:      envSliceOr("PAIRSCOUT_EXTRA_CONTENT_SELECTORS", nil),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PAIRSCOUT_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PAIRSCOUT_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PAIRSCOUT_RATE_RPS", 1.0),
			Burst:             envIntOr("PAIRSCOUT_RATE_BURST", 5),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("PAIRSCOUT_CACHE_MAX_ENTRIES", 100),
		},
		Log: LogConfig{
			Level:      envOr("PAIRSCOUT_LOG_LEVEL", "info"),
			Format:     envOr("PAIRSCOUT_LOG_FORMAT", "text"),
			File:       os.Getenv("PAIRSCOUT_LOG_FILE"),
			MaxSizeMB:  envIntOr("PAIRSCOUT_LOG_MAX_SIZE_MB", 50),
			MaxBackups: envIntOr("PAIRSCOUT_LOG_MAX_BACKUPS", 3),
			MaxAgeDays: envIntOr("PAIRSCOUT_LOG_MAX_AGE_DAYS", 28),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
