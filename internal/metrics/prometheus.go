// Package metrics provides the Prometheus registry for the proxy.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Durations are recorded in milliseconds. The top bucket holds requests
// slower than 12.5 minutes, which only long generations reach.
var durationBuckets = []float64{
	0, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500,
	5000, 7500, 10000, 25000, 50000, 75000, 100000, 250000,
	500000, 750000,
}

var tokenBuckets = []float64{
	0, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500,
	5000, 7500, 10000, 25000, 50000, 75000, 100000, 250000,
	500000, 750000,
}

var dbBuckets = []float64{
	0, 5, 10, 25, 50, 75, 100, 250, 500, 750, 1000, 2500,
	5000, 7500, 10000, 25000,
}

var proxyLabels = []string{"deployment_id", "connection_id", "provider", "path", "status_code"}

// Registry holds all exported metrics. A nil *Registry records nothing, so
// subsystems can carry one without caring whether metrics are enabled.
type Registry struct {
	reg *prometheus.Registry

	// http_request_total{path,method}
	httpRequests *prometheus.CounterVec

	// http_request_duration{path,method}
	httpDuration *prometheus.HistogramVec

	// proxy_request_total{deployment_id,connection_id,provider,path,status_code}
	proxyRequests *prometheus.CounterVec

	// proxy_request_duration, same labels
	proxyDuration *prometheus.HistogramVec

	// proxy_request_input_tokens / proxy_request_output_tokens, same labels
	proxyInputTokens  *prometheus.HistogramVec
	proxyOutputTokens *prometheus.HistogramVec

	// database_request_total{operation,success}
	dbRequests *prometheus.CounterVec

	// database_request_duration{operation,success}
	dbDuration *prometheus.HistogramVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_total",
				Help: "Number of HTTP requests",
			},
			[]string{"path", "method"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration",
				Help:    "HTTP request duration in ms",
				Buckets: durationBuckets,
			},
			[]string{"path", "method"},
		),

		proxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_request_total",
				Help: "Number of attempts against LLM providers",
			},
			proxyLabels,
		),

		proxyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_request_duration",
				Help:    "LLM provider attempt duration in ms",
				Buckets: durationBuckets,
			},
			proxyLabels,
		),

		proxyInputTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_request_input_tokens",
				Help:    "LLM provider input tokens per attempt",
				Buckets: tokenBuckets,
			},
			proxyLabels,
		),

		proxyOutputTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_request_output_tokens",
				Help:    "LLM provider output tokens per attempt",
				Buckets: tokenBuckets,
			},
			proxyLabels,
		),

		dbRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_request_total",
				Help: "Number of requests that hit the database",
			},
			[]string{"operation", "success"},
		),

		dbDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_request_duration",
				Help:    "Database request duration in ms",
				Buckets: dbBuckets,
			},
			[]string{"operation", "success"},
		),
	}

	reg.MustRegister(
		r.httpRequests,
		r.httpDuration,
		r.proxyRequests,
		r.proxyDuration,
		r.proxyInputTokens,
		r.proxyOutputTokens,
		r.dbRequests,
		r.dbDuration,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// ObserveHTTPRequest records one incoming HTTP request.
func (r *Registry) ObserveHTTPRequest(path, method string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(path, method).Inc()
	r.httpDuration.WithLabelValues(path, method).Observe(float64(elapsed.Milliseconds()))
}

// ObserveProxyRequest records one upstream attempt. Token counts below
// zero mean the response exposed no usage and record nothing. A status
// code of zero means no response was received and reads as 500.
func (r *Registry) ObserveProxyRequest(deploymentID, connectionID, provider, path string, statusCode int, elapsed time.Duration, inputTokens, outputTokens int64) {
	if r == nil {
		return
	}
	if statusCode <= 0 {
		statusCode = fasthttp.StatusInternalServerError
	}
	labels := []string{deploymentID, connectionID, provider, path, strconv.Itoa(statusCode)}

	r.proxyRequests.WithLabelValues(labels...).Inc()
	r.proxyDuration.WithLabelValues(labels...).Observe(float64(elapsed.Milliseconds()))
	if inputTokens >= 0 {
		r.proxyInputTokens.WithLabelValues(labels...).Observe(float64(inputTokens))
	}
	if outputTokens >= 0 {
		r.proxyOutputTokens.WithLabelValues(labels...).Observe(float64(outputTokens))
	}
}

// ObserveDatabaseRequest records one logical store operation. Its shape
// matches the store's query observer hook.
func (r *Registry) ObserveDatabaseRequest(operation string, elapsed time.Duration, success bool) {
	if r == nil {
		return
	}
	r.dbRequests.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	r.dbDuration.WithLabelValues(operation, strconv.FormatBool(success)).Observe(float64(elapsed.Milliseconds()))
}

// RegisterDroppedLogs exports the request logger's drop count as a
// counter. The function must be monotonically non-decreasing.
func (r *Registry) RegisterDroppedLogs(count func() int64) {
	if r == nil {
		return
	}
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "request_log_dropped_total",
		Help: "Request log entries dropped because the queue was full",
	}, func() float64 { return float64(count()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

// PromRegistry exposes the underlying registry, for tests.
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
