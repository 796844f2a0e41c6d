package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/use-agent/pairscout/api/handler"
	"github.com/use-agent/pairscout/api/middleware"
	"github.com/use-agent/pairscout/cache"
	"github.com/use-agent/pairscout/challenge"
	"github.com/use-agent/pairscout/config"
	"github.com/use-agent/pairscout/metrics"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Runner   handler.Runner
	Operator *challenge.ChannelOperator
	Config   *config.Config
	Cache    *cache.Cache        // optional
	Gatherer prometheus.Gatherer // optional; /metrics is mounted when set
	Started  time.Time

	// Done stops background sweepers owned by middleware.
	Done <-chan struct{}
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so monitoring probes always work.
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(d.Config.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	gate := &handler.Gate{}

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(gate, d.Started))

	protected := v1.Group("")
	if d.Config.Auth.Enabled {
		protected.Use(middleware.Auth(d.Config.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(d.Config.RateLimit, d.Done))

	protected.POST("/scrape", handler.Scrape(d.Runner, gate, d.Cache))

	protected.GET("/challenge", handler.ChallengeStatus(d.Operator))
	protected.POST("/challenge/ack", handler.ChallengeAck(d.Operator))

	return r
}
