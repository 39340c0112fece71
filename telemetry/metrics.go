// Package telemetry holds the Prometheus collectors of the proxy and the CLI.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "mediaproxy").
	Namespace string

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors. Default: a fresh registry.
	Registry *prometheus.Registry
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics records chunk transfers, upload outcomes and proxied requests.
// It implements chunkuploader.Observer.
type Metrics struct {
	registry *prometheus.Registry

	chunksTotal     *prometheus.CounterVec
	chunkDuration   prometheus.Histogram
	chunkBytes      prometheus.Counter
	chunkFailures   *prometheus.CounterVec
	uploadsTotal    *prometheus.CounterVec
	ingestsTotal    *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	config := Config{
		Namespace: "mediaproxy",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		registry: config.Registry,

		chunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "chunks_total",
			Help:      "Total number of acknowledged chunk PUTs by response status",
		}, []string{"status"}),

		chunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Duration of acknowledged chunk PUTs in seconds",
			Buckets:   config.Buckets,
		}),

		chunkBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "chunk_bytes_total",
			Help:      "Total number of acknowledged chunk bytes",
		}),

		chunkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "chunk_failures_total",
			Help:      "Total number of failed chunk PUTs by error type",
		}, []string{"error_type"}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "uploads_total",
			Help:      "Total number of resumable uploads by outcome",
		}, []string{"outcome"}),

		ingestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "ingests_total",
			Help:      "Total number of URL ingests by result",
		}, []string{"result"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of proxied requests",
		}, []string{"route", "method", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Proxied request duration in seconds",
			Buckets:   config.Buckets,
		}, []string{"route", "method"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ChunkSent implements chunkuploader.Observer.
func (m *Metrics) ChunkSent(transfer chunkuploader.Transfer, status int, took time.Duration) {
	m.chunksTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.chunkDuration.Observe(took.Seconds())
	m.chunkBytes.Add(float64(transfer.Len()))
}

// ChunkFailed implements chunkuploader.Observer.
func (m *Metrics) ChunkFailed(_ chunkuploader.Transfer, err error) {
	m.chunkFailures.WithLabelValues(ErrorType(err)).Inc()
}

// UploadFinished counts a finished resumable upload.
func (m *Metrics) UploadFinished(outcome chunkuploader.Outcome) {
	m.uploadsTotal.WithLabelValues(outcome.State.String()).Inc()
}

// IngestFinished counts a finished URL ingest by its result, e.g. "ready".
func (m *Metrics) IngestFinished(result string) {
	m.ingestsTotal.WithLabelValues(result).Inc()
}

// RequestServed records one proxied request.
func (m *Metrics) RequestServed(route, method string, status int, took time.Duration) {
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(took.Seconds())
}

// ErrorType classifies err for metric labels.
func ErrorType(err error) string {
	var (
		configErr   *mediaapi.ConfigurationError
		upstreamErr *mediaapi.UpstreamError
		chunkErr    *mediaapi.UpstreamChunkError
		protoErr    *mediaapi.ProtocolError
		netErr      *mediaapi.NetworkError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &configErr):
		return "configuration"
	case errors.As(err, &chunkErr):
		return "upstream_chunk"
	case errors.As(err, &upstreamErr):
		return "upstream"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &netErr):
		return "network"
	}
	return "other"
}
