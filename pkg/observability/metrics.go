package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors exported by authd.
// A nil *Metrics is valid; every recording method is a no-op on nil.
type Metrics struct {
	// Authentication
	LoginAttemptsTotal *prometheus.CounterVec
	LockoutsTotal      prometheus.Counter
	LogoutsTotal       *prometheus.CounterVec
	RefreshesTotal     *prometheus.CounterVec

	// Authorization
	PermissionChecksTotal   *prometheus.CounterVec
	ResolutionErrorsTotal   *prometheus.CounterVec
	PermissionCheckDuration *prometheus.HistogramVec

	// Permission cache
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal *prometheus.CounterVec
	CacheEntries        prometheus.Gauge

	// Session broadcast
	BroadcastFailuresTotal *prometheus.CounterVec
	BroadcastReceivedTotal prometheus.Counter
}

// NewMetrics creates and registers all collectors on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_login_attempts_total",
				Help: "Login attempts by outcome and platform",
			},
			[]string{"outcome", "platform"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_lockouts_total",
				Help: "Principal keys that crossed the failure threshold",
			},
		),
		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_logouts_total",
				Help: "Session teardowns by cause",
			},
			[]string{"cause"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_session_refreshes_total",
				Help: "Session refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_permission_checks_total",
				Help: "Authorization decisions by kind and result",
			},
			[]string{"kind", "result"},
		),
		ResolutionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_authz_resolution_errors_total",
				Help: "Authorization lookups that failed closed",
			},
			[]string{"kind"},
		),
		PermissionCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authd_permission_check_duration_seconds",
				Help:    "Time spent resolving an authorization decision",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_permission_cache_hits_total",
				Help: "Permission cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_permission_cache_misses_total",
				Help: "Permission cache misses, including expired entries",
			},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_permission_cache_evictions_total",
				Help: "Permission cache removals by reason",
			},
			[]string{"reason"},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authd_permission_cache_entries",
				Help: "Current number of permission cache entries",
			},
		),
		BroadcastFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_broadcast_failures_total",
				Help: "Cross-context broadcast publish/subscribe failures",
			},
			[]string{"op"},
		),
		BroadcastReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authd_broadcast_logouts_received_total",
				Help: "Logout events received from sibling contexts",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.LoginAttemptsTotal,
			m.LockoutsTotal,
			m.LogoutsTotal,
			m.RefreshesTotal,
			m.PermissionChecksTotal,
			m.ResolutionErrorsTotal,
			m.PermissionCheckDuration,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.CacheEvictionsTotal,
			m.CacheEntries,
			m.BroadcastFailuresTotal,
			m.BroadcastReceivedTotal,
		)
	}

	return m
}

// RecordLogin records a login attempt outcome
func (m *Metrics) RecordLogin(outcome, platform string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome, platform).Inc()
}

// RecordLockout records a key crossing the failure threshold
func (m *Metrics) RecordLockout() {
	if m == nil {
		return
	}
	m.LockoutsTotal.Inc()
}

// RecordLogout records a session teardown
func (m *Metrics) RecordLogout(cause string) {
	if m == nil {
		return
	}
	m.LogoutsTotal.WithLabelValues(cause).Inc()
}

// RecordRefresh records a session refresh outcome
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordDecision records an authorization decision
func (m *Metrics) RecordDecision(kind string, allowed bool, seconds float64) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.PermissionChecksTotal.WithLabelValues(kind, result).Inc()
	m.PermissionCheckDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordResolutionError records a lookup that failed closed
func (m *Metrics) RecordResolutionError(kind string) {
	if m == nil {
		return
	}
	m.ResolutionErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheHit records a permission cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a permission cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordCacheEviction records a cache removal
func (m *Metrics) RecordCacheEviction(reason string) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(reason).Inc()
}

// SetCacheEntries updates the cache size gauge
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// RecordBroadcastFailure records a broadcast channel failure
func (m *Metrics) RecordBroadcastFailure(op string) {
	if m == nil {
		return
	}
	m.BroadcastFailuresTotal.WithLabelValues(op).Inc()
}

// RecordBroadcastReceived records a logout received from a sibling context
func (m *Metrics) RecordBroadcastReceived() {
	if m == nil {
		return
	}
	m.BroadcastReceivedTotal.Inc()
}

// MetricsHandler returns the Prometheus scrape handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
