package handler

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pairscout/cache"
	"github.com/use-agent/pairscout/models"
)

// Runner is the part of the scraper the HTTP layer drives.
type Runner interface {
	Run(ctx context.Context, req models.ScrapeRequest) *models.RunReport
	TargetURL(req models.ScrapeRequest) string
}

// Gate serializes runs: the browser profile and the operator channel are
// single-tenant, so a second request is refused rather than queued.
type Gate struct {
	mu      sync.Mutex
	running atomic.Bool
	served  atomic.Int64
}

// TryRun runs fn unless another run holds the gate. It reports whether fn ran.
func (g *Gate) TryRun(fn func()) bool {
	if !g.mu.TryLock() {
		return false
	}
	defer g.mu.Unlock()
	g.running.Store(true)
	defer g.running.Store(false)
	fn()
	g.served.Add(1)
	return true
}

// Running reports whether a run currently holds the gate.
func (g *Gate) Running() bool { return g.running.Load() }

// Served returns the number of completed runs.
func (g *Gate) Served() int64 { return g.served.Load() }

// Scrape returns a handler for POST /api/v1/scrape.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup when cache_max_age_ms > 0.
//  3. Run under the gate; 409 if another run is active.
//  4. Cache store, respond with the report.
func Scrape(r Runner, gate *Gate, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		// ── 1. Parse request ──
		// Decode over a defaulted request: absent fields keep their
		// defaults, explicit zeros are honoured.
		req := models.NewScrapeRequest()
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{
					Error: &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
				})
				return
			}
		}
		req.Defaults()

		// ── 2. Cache lookup ──
		var cacheKey string
		if cc != nil && req.CacheMaxAgeMs > 0 {
			cacheKey = cache.Key(r.TargetURL(req), req.Output)
			if cached, hit := cc.Get(cacheKey, req.CacheMaxAgeMs); hit {
				cached.CacheStatus = "hit"
				cached.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		// ── 3. Run ──
		var report *models.RunReport
		if !gate.TryRun(func() { report = r.Run(c.Request.Context(), req) }) {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRunInProgress,
					Message: "another scrape run is in progress",
				},
			})
			return
		}

		// ── 4. Cache store + respond ──
		if cacheKey != "" {
			cc.Set(cacheKey, report)
			report.CacheStatus = "miss"
		}
		c.JSON(statusFor(report), report)
	}
}

// statusFor maps a report to the HTTP status code.
func statusFor(r *models.RunReport) int {
	if r.Success || r.Error == nil {
		return http.StatusOK
	}
	switch r.Error.Code {
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation:
		return http.StatusBadGateway // 502
	case models.ErrCodeSessionInit:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}
