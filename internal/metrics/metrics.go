// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ski_conditions"

// Metrics holds the Prometheus counters, histograms and gauges of the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SourceFetches  *prometheus.CounterVec   // labels: source, outcome={success,not_found,timeout,error}
	SourceDuration *prometheus.HistogramVec // labels: source
	CacheLookups   *prometheus.CounterVec   // labels: tier={memory,store}, result={hit,miss,stale}

	RefreshRuns     prometheus.Counter
	RefreshEntities *prometheus.CounterVec // labels: outcome={success,failed}
	RefreshRunning  prometheus.Gauge
	Discovered      prometheus.Counter

	AlertChecks     prometheus.Counter
	AlertsTriggered prometheus.Counter
	EmailFailures   prometheus.Counter

	SchemaMode *prometheus.GaugeVec // labels: mode
}

// NewMetrics creates the instruments and registers them with reg. Tests pass
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Upstream source attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Upstream source call duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		RefreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_runs_total",
			Help:      "Completed refresh sweeps.",
		}),
		RefreshEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_entities_total",
			Help:      "Resorts processed by refresh sweeps, by outcome.",
		}, []string{"outcome"}),
		RefreshRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_running",
			Help:      "1 while a refresh sweep is in progress.",
		}),
		Discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovered_resorts_total",
			Help:      "Placeholder resorts inserted by discovery.",
		}),
		AlertChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_checks_total",
			Help:      "Alert subscriptions evaluated.",
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_triggered_total",
			Help:      "Alert notifications created.",
		}),
		EmailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_email_failures_total",
			Help:      "Alert emails that could not be delivered.",
		}),
		SchemaMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schema_mode",
			Help:      "1 for the resolved storage schema mode.",
		}, []string{"mode"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SourceFetches,
			m.SourceDuration,
			m.CacheLookups,
			m.RefreshRuns,
			m.RefreshEntities,
			m.RefreshRunning,
			m.Discovered,
			m.AlertChecks,
			m.AlertsTriggered,
			m.EmailFailures,
			m.SchemaMode,
		)
	}
	return m
}

// ObserveFetch records one upstream source attempt.
func (m *Metrics) ObserveFetch(source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SourceFetches.WithLabelValues(source, outcome).Inc()
	m.SourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// CacheResult records a cache lookup.
func (m *Metrics) CacheResult(tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// RefreshEntity records the outcome of refreshing one resort.
func (m *Metrics) RefreshEntity(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.RefreshEntities.WithLabelValues("success").Inc()
		return
	}
	m.RefreshEntities.WithLabelValues("failed").Inc()
}

// SetRefreshRunning flips the refresh_running gauge.
func (m *Metrics) SetRefreshRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.RefreshRunning.Set(1)
		return
	}
	m.RefreshRunning.Set(0)
	m.RefreshRuns.Inc()
}

// AddDiscovered counts placeholder inserts.
func (m *Metrics) AddDiscovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Discovered.Add(float64(n))
}

// AlertChecked records one subscription evaluation.
func (m *Metrics) AlertChecked(triggered bool) {
	if m == nil {
		return
	}
	m.AlertChecks.Inc()
	if triggered {
		m.AlertsTriggered.Inc()
	}
}

// EmailFailed counts an undeliverable alert email.
func (m *Metrics) EmailFailed() {
	if m == nil {
		return
	}
	m.EmailFailures.Inc()
}

// SetSchemaMode marks mode as the resolved schema.
func (m *Metrics) SetSchemaMode(mode string) {
	if m == nil {
		return
	}
	m.SchemaMode.Reset()
	m.SchemaMode.WithLabelValues(mode).Set(1)
}
