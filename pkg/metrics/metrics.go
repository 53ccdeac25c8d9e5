// Package metrics exposes Prometheus metrics for the login engine, its
// cache and permission decisions.
//
// A nil *Metrics is valid and records nothing, so components take an
// optional *Metrics and call it unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gplazma"

// Label names.
const (
	LabelResult    = "result"
	LabelPhase     = "phase"
	LabelPlugin    = "plugin"
	LabelOperation = "operation"
	LabelAccess    = "access"
)

// Result label values.
const (
	ResultOK   = "ok"
	ResultFail = "fail"
	ResultHit  = "hit"
	ResultMiss = "miss"
)

func resultLabel(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultFail
}

// Metrics holds every collector of the engine.
type Metrics struct {
	loginTotal      *prometheus.CounterVec
	loginDuration   prometheus.Histogram
	phaseTotal      *prometheus.CounterVec
	pluginTotal     *prometheus.CounterVec
	validationTotal *prometheus.CounterVec
	suppressedTotal prometheus.Counter

	cacheRequests      *prometheus.CounterVec
	cacheCoalesced     prometheus.Counter
	cacheInvalidations prometheus.Counter
	cacheEntries       prometheus.Gauge

	permissionTotal *prometheus.CounterVec

	reloadTotal *prometheus.CounterVec
	configItems prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with registry.
// If registry is nil, metrics are created but not registered (useful for testing).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	f := promauto.With(registry)

	return &Metrics{
		loginTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "total",
			Help:      "Total number of login attempts by result",
		}, []string{LabelResult}),

		loginDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "duration_seconds",
			Help:      "Time spent running the login pipeline and validation",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),

		phaseTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "phase_total",
			Help:      "Phase outcomes by phase and result",
		}, []string{LabelPhase, LabelResult}),

		pluginTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "plugin_total",
			Help:      "Plugin invocations by phase, plugin and result",
		}, []string{LabelPhase, LabelPlugin, LabelResult}),

		validationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "validation_total",
			Help:      "Reply validations by result",
		}, []string{LabelResult}),

		suppressedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "repeated_failures_total",
			Help:      "Failed logins whose explanation was suppressed as already reported",
		}),

		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by result (hit or miss)",
		}, []string{LabelResult}),

		cacheCoalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "coalesced_total",
			Help:      "Logins that shared an in-flight backend call",
		}),

		cacheInvalidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Entries removed by invalidation or expiry",
		}),

		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of cached login replies",
		}),

		permissionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "permission",
			Name:      "decisions_total",
			Help:      "Permission chain decisions by operation and verdict",
		}, []string{LabelOperation, LabelAccess}),

		reloadTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Configuration (re)loads by result",
		}, []string{LabelResult}),

		configItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "items",
			Help:      "Number of configuration items in the active setup",
		}),
	}
}

// ============================================================================
// Login
// ============================================================================

// ObserveLogin records one completed login.
func (m *Metrics) ObserveLogin(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(resultLabel(ok)).Inc()
	m.loginDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePhase(phase string, ok bool) {
	if m == nil {
		return
	}
	m.phaseTotal.WithLabelValues(phase, resultLabel(ok)).Inc()
}

func (m *Metrics) ObservePlugin(phase, plugin string, ok bool) {
	if m == nil {
		return
	}
	m.pluginTotal.WithLabelValues(phase, plugin, resultLabel(ok)).Inc()
}

func (m *Metrics) ObserveValidation(ok bool) {
	if m == nil {
		return
	}
	m.validationTotal.WithLabelValues(resultLabel(ok)).Inc()
}

// FailureSuppressed counts a failed login whose explanation was not logged
// again.
func (m *Metrics) FailureSuppressed() {
	if m == nil {
		return
	}
	m.suppressedTotal.Inc()
}

// ============================================================================
// Cache
// ============================================================================

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(ResultHit).Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(ResultMiss).Inc()
}

func (m *Metrics) CacheCoalesced() {
	if m == nil {
		return
	}
	m.cacheCoalesced.Inc()
}

func (m *Metrics) CacheInvalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheInvalidations.Add(float64(n))
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// ============================================================================
// Permission & Configuration
// ============================================================================

// ObservePermission records one permission chain verdict.
func (m *Metrics) ObservePermission(operation, access string) {
	if m == nil {
		return
	}
	m.permissionTotal.WithLabelValues(operation, access).Inc()
}

// ObserveReload records a configuration load. items is only applied on success.
func (m *Metrics) ObserveReload(ok bool, items int) {
	if m == nil {
		return
	}
	m.reloadTotal.WithLabelValues(resultLabel(ok)).Inc()
	if ok {
		m.configItems.Set(float64(items))
	}
}
