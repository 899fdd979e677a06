package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the agent's Prometheus instrumentation.
type Metrics struct {
	platformOutcomes *prometheus.CounterVec
	probeAttempts    *prometheus.CounterVec
	probeDuration    *prometheus.HistogramVec
	matchesFound     *prometheus.CounterVec
	runsCompleted    prometheus.Counter
	runDuration      prometheus.Histogram
	proxyEndpoints   *prometheus.GaugeVec
}

// New creates the metrics set on the given registerer. Passing nil
// uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		platformOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "osint_agent_platform_outcomes_total",
				Help: "Settled platform outcomes by status",
			},
			[]string{"category", "status"},
		),
		probeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "osint_agent_probe_attempts_total",
				Help: "Individual probe attempts by terminal state",
			},
			[]string{"platform", "outcome"},
		),
		probeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "osint_agent_probe_duration_seconds",
				Help:    "Time from first attempt to settled outcome per platform",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		matchesFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "osint_agent_matches_found_total",
				Help: "Evidence matches collected",
			},
			[]string{"category"},
		),
		runsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "osint_agent_runs_completed_total",
				Help: "Search runs completed",
			},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "osint_agent_run_duration_seconds",
				Help:    "End-to-end search run duration",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		proxyEndpoints: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "osint_agent_proxy_endpoints",
				Help: "Proxy pool endpoints by health state",
			},
			[]string{"state"},
		),
	}
}

// RecordOutcome records one settled platform outcome.
func (m *Metrics) RecordOutcome(category, status string, elapsed time.Duration, matches int) {
	m.platformOutcomes.WithLabelValues(category, status).Inc()
	m.probeDuration.WithLabelValues(category).Observe(elapsed.Seconds())
	if matches > 0 {
		m.matchesFound.WithLabelValues(category).Add(float64(matches))
	}
}

// RecordAttempt records one probe attempt's terminal state.
func (m *Metrics) RecordAttempt(platform, outcome string) {
	m.probeAttempts.WithLabelValues(platform, outcome).Inc()
}

// RecordRun records a completed search run.
func (m *Metrics) RecordRun(elapsed time.Duration) {
	m.runsCompleted.Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// UpdateProxyPool publishes pool health counts.
func (m *Metrics) UpdateProxyPool(stats map[string]int) {
	for _, state := range []string{"healthy", "unhealthy", "unknown"} {
		m.proxyEndpoints.WithLabelValues(state).Set(float64(stats[state]))
	}
}
