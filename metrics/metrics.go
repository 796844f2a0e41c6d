// Package metrics exposes Prometheus collectors for scrape runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds the run collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs       *prometheus.CounterVec
	challenges *prometheus.CounterVec
	contracts  *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
	prefetch   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pairscout_runs_total", Help: "Scrape runs by final status"},
			[]string{"status"},
		),
		challenges: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pairscout_challenge_outcomes_total", Help: "Challenge resolution outcomes"},
			[]string{"state"},
		),
		contracts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pairscout_contracts_found", Help: "Contracts extracted by the last run per chain"},
			[]string{"chain"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pairscout_run_duration_seconds",
				Help:    "End-to-end scrape run latency",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
			},
			[]string{"fetch_method"},
		),
		prefetch: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pairscout_prefetch_total", Help: "HTTP prefetch attempts in auto mode by result"},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.runs, m.challenges, m.contracts, m.duration, m.prefetch)
	return m
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(chain, status, fetchMethod string, contracts int, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(fetchMethod).Observe(d.Seconds())
	if status == StatusSuccess {
		m.contracts.WithLabelValues(chain).Set(float64(contracts))
	}
}

// ObserveChallenge records the terminal state of a challenge resolution.
func (m *Metrics) ObserveChallenge(state string) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(state).Inc()
}

// ObservePrefetch records a prefetch result ("used", "rejected", "error",
// "skipped").
func (m *Metrics) ObservePrefetch(result string) {
	if m == nil {
		return
	}
	m.prefetch.WithLabelValues(result).Inc()
}

// Handler serves the collectors registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
