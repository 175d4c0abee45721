package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "failure"
	RefreshSkipped   = "no_refresh_token"
)

// Metrics holds the client-side counters. A nil *Metrics is a no-op.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RefreshTotal    *prometheus.CounterVec
	ReplaysTotal    prometheus.Counter
	ExpiredSessions prometheus.Counter

	RateCacheHits    prometheus.Counter
	RateCacheMisses  prometheus.Counter
	RateCacheExpired prometheus.Counter
	RateFetchesTotal *prometheus.CounterVec
}

// NewMetrics registers the counters on reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subtrack_client_requests_total",
				Help: "Total number of outbound API requests",
			},
			[]string{"method", "status_code"},
		),

		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subtrack_client_refresh_total",
				Help: "Credential refresh attempts by outcome",
			},
			[]string{"outcome"},
		),

		ReplaysTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subtrack_client_replays_total",
				Help: "Requests re-issued after a credential refresh",
			},
		),

		ExpiredSessions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subtrack_client_expired_sessions_total",
				Help: "Sessions cleared after an unrecoverable 401",
			},
		),

		RateCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subtrack_rate_cache_hits_total",
				Help: "Exchange rate cache hits",
			},
		),

		RateCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subtrack_rate_cache_misses_total",
				Help: "Exchange rate cache misses",
			},
		),

		RateCacheExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subtrack_rate_cache_expired_total",
				Help: "Exchange rate cache entries purged on read",
			},
		),

		RateFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subtrack_rate_fetches_total",
				Help: "Exchange rate network fetches by kind",
			},
			[]string{"kind"},
		),
	}
}

// ObserveRequest counts one HTTP exchange
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveRefresh counts one refresh attempt
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveReplay counts a replayed request
func (m *Metrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.ReplaysTotal.Inc()
}

// ObserveExpiredSession counts a forced logout
func (m *Metrics) ObserveExpiredSession() {
	if m == nil {
		return
	}
	m.ExpiredSessions.Inc()
}

// ObserveCacheLookup counts a cache hit or miss
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.RateCacheHits.Inc()
		return
	}
	m.RateCacheMisses.Inc()
}

// ObserveCacheExpiry counts an entry purged on read
func (m *Metrics) ObserveCacheExpiry() {
	if m == nil {
		return
	}
	m.RateCacheExpired.Inc()
}

// ObserveRateFetch counts a network fetch; kind is "batch" or "pair"
func (m *Metrics) ObserveRateFetch(kind string) {
	if m == nil {
		return
	}
	m.RateFetchesTotal.WithLabelValues(kind).Inc()
}
