package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/uisync/pkg/push"
	"github.com/vango-dev/uisync/pkg/rpc"
	"github.com/vango-dev/uisync/pkg/server"
	"github.com/vango-dev/uisync/pkg/upload"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "uisync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// Gatherer serves the metrics endpoint. When nil it is derived from
	// Registry if that is a *prometheus.Registry, else
	// prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "uisync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records server and HTTP metrics. It implements server.Observer;
// install it with Server.SetObserver and wrap the handler with HTTP.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	invocationsTotal *prometheus.CounterVec
	rejectedTotal    *prometheus.CounterVec
	pushConnections  *prometheus.GaugeVec
	uploadsTotal     *prometheus.CounterVec
	uploadBytes      prometheus.Counter

	gatherer prometheus.Gatherer
}

var _ server.Observer = (*Metrics)(nil)

// NewMetrics registers the metrics with the configured registry.
//
// Metrics collected:
//   - uisync_http_requests_total: requests by route, method and status
//   - uisync_http_request_duration_seconds: request duration by route
//   - uisync_active_sessions: sessions currently open
//   - uisync_sessions_total: sessions created
//   - uisync_invocations_total: invocations by result
//   - uisync_messages_rejected_total: rejected client messages by reason
//   - uisync_push_connections: open push connections by transport
//   - uisync_uploads_total: finished uploads by outcome
//   - uisync_upload_bytes_total: bytes received by uploads
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Gatherer == nil {
		if g, ok := config.Registry.(prometheus.Gatherer); ok {
			config.Gatherer = g
		} else {
			config.Gatherer = prometheus.DefaultGatherer
		}
	}

	factory := promauto.With(config.Registry)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_requests_total",
			Help:        "Total HTTP requests by route, method and status",
			ConstLabels: config.ConstLabels,
		}, []string{"route", "method", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"route"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of open sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_total",
			Help:        "Total sessions created",
			ConstLabels: config.ConstLabels,
		}),

		invocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "invocations_total",
			Help:        "Total client invocations by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_rejected_total",
			Help:        "Total rejected client messages by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		pushConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "push_connections",
			Help:        "Open push connections by transport",
			ConstLabels: config.ConstLabels,
		}, []string{"transport"}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "uploads_total",
			Help:        "Total finished uploads by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "upload_bytes_total",
			Help:        "Total bytes received by uploads",
			ConstLabels: config.ConstLabels,
		}),

		gatherer: config.Gatherer,
	}
}

func (m *Metrics) SessionOpened() {
	m.activeSessions.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	m.activeSessions.Dec()
}

func (m *Metrics) Dispatched(res rpc.Result) {
	m.invocationsTotal.WithLabelValues("applied").Add(float64(res.Applied))
	m.invocationsTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
	m.invocationsTotal.WithLabelValues("failed").Add(float64(res.Failed))
}

func (m *Metrics) MessageRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) PushConnected(t push.Transport) {
	m.pushConnections.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) PushDisconnected(t push.Transport) {
	m.pushConnections.WithLabelValues(t.String()).Dec()
}

func (m *Metrics) UploadDone(res upload.Result, err error) {
	outcome := res.Outcome.String()
	if err != nil && res.Outcome == upload.Complete {
		outcome = "error"
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	m.uploadBytes.Add(float64(res.Bytes))
}

// HTTP returns middleware recording request counts and durations. Requests
// are labelled with the chi route pattern to keep cardinality bounded.
func (m *Metrics) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

// Handler serves the gathered metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
