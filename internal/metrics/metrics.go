// Package metrics provides Prometheus instrumentation for the semflagz server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only semflagz metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds all Prometheus collectors used by the semflagz server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
	CacheSize           prometheus.Gauge
	CacheLoadsTotal     prometheus.Counter
	CacheInvalidations  prometheus.Counter
	EvaluationsTotal    *prometheus.CounterVec
	OverrideWritesTotal *prometheus.CounterVec
	SourceRefreshTotal  *prometheus.CounterVec
	AuthFailuresTotal   prometheus.Counter
}

// New creates and registers all semflagz metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflagz_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "semflagz_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflagz_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "semflagz_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semflagz_override_cache_size",
			Help: "Number of stored overrides in the in-memory cache.",
		}),

		CacheLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semflagz_override_cache_loads_total",
			Help: "Total number of full override cache reloads from the database.",
		}),

		CacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semflagz_override_cache_invalidations_total",
			Help: "Total number of NOTIFY-triggered override cache invalidations.",
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflagz_feature_evaluations_total",
			Help: "Total number of feature evaluations.",
		}, []string{"result", "decided_by"}),

		OverrideWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflagz_override_writes_total",
			Help: "Total number of stored override changes.",
		}, []string{"operation"}),

		SourceRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semflagz_source_refreshes_total",
			Help: "Total number of override source refreshes.",
		}, []string{"source", "result"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semflagz_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.CacheSize,
		m.CacheLoadsTotal,
		m.CacheInvalidations,
		m.EvaluationsTotal,
		m.OverrideWritesTotal,
		m.SourceRefreshTotal,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		st, _ := status.FromError(err)
		code := st.Code().String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// RecordEvaluation counts one feature verdict and the source that decided it.
func (m *Metrics) RecordEvaluation(enabled bool, decidedBy string) {
	m.EvaluationsTotal.WithLabelValues(strconv.FormatBool(enabled), decidedBy).Inc()
}

// RecordOverrideWrite counts a stored override upsert or delete.
func (m *Metrics) RecordOverrideWrite(operation string) {
	m.OverrideWritesTotal.WithLabelValues(operation).Inc()
}

// RecordSourceRefresh counts a refresh attempt of a named override source.
func (m *Metrics) RecordSourceRefresh(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SourceRefreshTotal.WithLabelValues(source, result).Inc()
}

// SetCacheSize updates the override cache size gauge.
func (m *Metrics) SetCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}

// IncCacheLoads increments the cache load counter.
func (m *Metrics) IncCacheLoads() {
	m.CacheLoadsTotal.Inc()
}

// IncCacheInvalidations increments the cache invalidation counter.
func (m *Metrics) IncCacheInvalidations() {
	m.CacheInvalidations.Inc()
}

// IncAuthFailures increments the failed authentication counter.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}
