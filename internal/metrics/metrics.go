// Package metrics exposes Prometheus counters and histograms for the
// gateway's backend lifecycle and tool-dispatch operations. The registry
// calls into this package on every state-changing operation; nothing here
// ever influences control flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the gauges/counters/histograms the registry touches.
type Collector struct {
	registry *prometheus.Registry

	connectAttempts  *prometheus.CounterVec
	connectFailures  *prometheus.CounterVec
	lazyConnects     *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	toolCallErrors   *prometheus.CounterVec
	toolCallLatency  *prometheus.HistogramVec
	toolCacheHits    *prometheus.CounterVec
	toolCacheMisses  *prometheus.CounterVec
	backendsCurrent  prometheus.Gauge
	toolsCatalogSize prometheus.Gauge
}

// New constructs a Collector registered against a fresh, private
// prometheus.Registry (never the global DefaultRegisterer) so that
// multiple gateway instances in one process never collide.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_connect_attempts_total",
			Help: "Number of connect() attempts per backend.",
		}, []string{"backend_id"}),
		connectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_connect_failures_total",
			Help: "Number of failed connect() attempts per backend.",
		}, []string{"backend_id"}),
		lazyConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_backend_lazy_connects_total",
			Help: "Number of lazy (on-demand) connect attempts triggered by call_tool.",
		}, []string{"backend_id"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_calls_total",
			Help: "Number of tool calls dispatched, by namespaced tool name.",
		}, []string{"tool"}),
		toolCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_call_errors_total",
			Help: "Number of tool calls that returned isError=true, by namespaced tool name.",
		}, []string{"tool"}),
		toolCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_tool_call_duration_seconds",
			Help:    "Tool call latency in seconds, by namespaced tool name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		toolCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_cache_hits_total",
			Help: "Number of list_tools calls served from cache, by backend.",
		}, []string{"backend_id"}),
		toolCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_cache_misses_total",
			Help: "Number of list_tools calls that queried the upstream, by backend.",
		}, []string{"backend_id"}),
		backendsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_backends_registered",
			Help: "Number of backends currently registered.",
		}),
		toolsCatalogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_tools_catalog_size",
			Help: "Number of tools currently in the merged catalog.",
		}),
	}

	reg.MustRegister(
		c.connectAttempts, c.connectFailures, c.lazyConnects,
		c.toolCalls, c.toolCallErrors, c.toolCallLatency,
		c.toolCacheHits, c.toolCacheMisses,
		c.backendsCurrent, c.toolsCatalogSize,
	)

	return c
}

// Handler returns the promhttp handler for this collector's registry, for
// the outer HTTP shell to mount wherever it likes (e.g. "/metrics").
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectAttempt(backendID string) { c.connectAttempts.WithLabelValues(backendID).Inc() }
func (c *Collector) ConnectFailure(backendID string) { c.connectFailures.WithLabelValues(backendID).Inc() }
func (c *Collector) LazyConnect(backendID string)    { c.lazyConnects.WithLabelValues(backendID).Inc() }
func (c *Collector) CacheHit(backendID string)       { c.toolCacheHits.WithLabelValues(backendID).Inc() }
func (c *Collector) CacheMiss(backendID string)      { c.toolCacheMisses.WithLabelValues(backendID).Inc() }
func (c *Collector) SetBackendCount(n int)           { c.backendsCurrent.Set(float64(n)) }
func (c *Collector) SetCatalogSize(n int)            { c.toolsCatalogSize.Set(float64(n)) }

// ToolCall records one tool dispatch: count, error count, and latency.
func (c *Collector) ToolCall(tool string, isError bool, seconds float64) {
	c.toolCalls.WithLabelValues(tool).Inc()
	if isError {
		c.toolCallErrors.WithLabelValues(tool).Inc()
	}
	c.toolCallLatency.WithLabelValues(tool).Observe(seconds)
}
