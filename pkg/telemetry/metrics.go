package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the policy catalog and its tooling.
// A nil *Metrics and a disabled one are both no-ops.
type Metrics struct {
	config MetricsConfig

	// Catalog metrics
	policiesRegistered prometheus.Gauge
	registrationErrors *prometheus.CounterVec

	// Selection metrics
	selections        prometheus.Counter
	policiesDispensed *prometheus.CounterVec
	policiesRemaining prometheus.Gauge
	selectorResets    prometheus.Counter

	// Plugin metrics
	pluginLoads *prometheus.CounterVec

	// Pack metrics
	packsBuilt    prometheus.Counter
	checkRuns     *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		policiesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policies_registered",
			Help:      "Number of policies registered in the catalog",
		}),
		registrationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_registration_errors_total",
			Help:      "Total number of rejected policy registrations",
		}, []string{"reason"}),

		selections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Total number of selection calls",
		}),
		policiesDispensed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policies_dispensed_total",
			Help:      "Total number of policies dispensed by selectors",
		}, []string{"enforcement_level"}),
		policiesRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policies_remaining",
			Help:      "Policies left in the default selector pool",
		}),
		selectorResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_resets_total",
			Help:      "Total number of selector resets",
		}),

		pluginLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_loads_total",
			Help:      "Total number of extension bundle load attempts",
		}, []string{"result"}),

		packsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packs_built_total",
			Help:      "Total number of packs assembled",
		}),
		checkRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_runs_total",
			Help:      "Total number of check invocations by outcome",
		}, []string{"outcome"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Duration of check invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"policy"}),
	}

	registry.MustRegister(
		m.policiesRegistered,
		m.registrationErrors,
		m.selections,
		m.policiesDispensed,
		m.policiesRemaining,
		m.selectorResets,
		m.pluginLoads,
		m.packsBuilt,
		m.checkRuns,
		m.checkDuration,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// SetPoliciesRegistered records the catalog size.
func (m *Metrics) SetPoliciesRegistered(count int) {
	if !m.enabled() {
		return
	}
	m.policiesRegistered.Set(float64(count))
}

// RecordRegistrationError counts a rejected registration.
func (m *Metrics) RecordRegistrationError(reason string) {
	if !m.enabled() {
		return
	}
	m.registrationErrors.WithLabelValues(reason).Inc()
}

// RecordSelection counts a selection call and the policies it dispensed.
func (m *Metrics) RecordSelection(levels []string, remaining int) {
	if !m.enabled() {
		return
	}
	m.selections.Inc()
	for _, level := range levels {
		m.policiesDispensed.WithLabelValues(level).Inc()
	}
	m.policiesRemaining.Set(float64(remaining))
}

// RecordReset counts a selector reset.
func (m *Metrics) RecordReset(remaining int) {
	if !m.enabled() {
		return
	}
	m.selectorResets.Inc()
	m.policiesRemaining.Set(float64(remaining))
}

// RecordPluginLoad counts a bundle load attempt by result.
func (m *Metrics) RecordPluginLoad(result string) {
	if !m.enabled() {
		return
	}
	m.pluginLoads.WithLabelValues(result).Inc()
}

// RecordPackBuilt counts an assembled pack.
func (m *Metrics) RecordPackBuilt() {
	if !m.enabled() {
		return
	}
	m.packsBuilt.Inc()
}

// RecordCheckRun records one check invocation.
func (m *Metrics) RecordCheckRun(policy, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.checkRuns.WithLabelValues(outcome).Inc()
	m.checkDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()

	return nil
}
