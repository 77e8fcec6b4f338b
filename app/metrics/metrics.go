package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the widget and the reference backend.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoadsTotal          *prometheus.CounterVec
	LoadDuration        *prometheus.HistogramVec
	FetchAttemptsTotal  *prometheus.CounterVec
	CacheLookupsTotal   *prometheus.CounterVec
	TokenRefreshesTotal *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_loads_total",
				Help: "Total number of widget loads by final state.",
			},
			[]string{"state"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "widget_load_duration_seconds",
				Help:    "Duration of widget loads including retries.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"state"},
		),
		FetchAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_fetch_attempts_total",
				Help: "Total number of network attempts against the posts endpoint.",
			},
			[]string{"outcome"}, // ok or a failure kind
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_cache_lookups_total",
				Help: "Total number of widget cache lookups.",
			},
			[]string{"result"},
		),
		TokenRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widget_token_refreshes_total",
				Help: "Total number of reactive token refreshes after a 403.",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (m *Metrics) ObserveLoad(state string, seconds float64) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(state).Inc()
	m.LoadDuration.WithLabelValues(state).Observe(seconds)
}

func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.FetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	status := "failure"
	if ok {
		status = "success"
	}
	m.TokenRefreshesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
