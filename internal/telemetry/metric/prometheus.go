// Package metric provides Prometheus metrics for relaymesh.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "relaymesh"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	rpcCalls    *prometheus.HistogramVec
	rpcHandled  *prometheus.HistogramVec
	rpcDropped  *prometheus.CounterVec
	published   *prometheus.CounterVec
	publishedB  *prometheus.CounterVec
	received    *prometheus.CounterVec
	receivedB   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	batchSize   prometheus.Histogram
	sendFailure prometheus.Counter
}

// NewRegistry creates a registry with process and Go runtime collectors.
// role is attached to every metric as a constant label.
func NewRegistry(role string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	labels := prometheus.Labels{"role": role}
	factory := func(c prometheus.Collector) { reg.MustRegister(c) }

	r := &Registry{registry: reg}

	r.rpcCalls = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   Namespace,
		Subsystem:   "rpc",
		Name:        "call_duration_seconds",
		Help:        "Duration of outgoing correlated calls by method and outcome.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"method", "outcome"})
	r.rpcHandled = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   Namespace,
		Subsystem:   "rpc",
		Name:        "handle_duration_seconds",
		Help:        "Duration of handled requests by method and outcome.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"method", "outcome"})
	r.rpcDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   "rpc",
		Name:        "envelopes_dropped_total",
		Help:        "Envelopes logged and dropped by reason.",
		ConstLabels: labels,
	}, []string{"reason"})

	r.published = r.transportCounter("messages_published_total", "Messages published to the transport.", labels)
	r.publishedB = r.transportCounter("published_bytes_total", "Bytes published to the transport.", labels)
	r.received = r.transportCounter("messages_received_total", "Messages received from the transport.", labels)
	r.receivedB = r.transportCounter("received_bytes_total", "Bytes received from the transport.", labels)
	r.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   "transport",
		Name:        "messages_dropped_total",
		Help:        "Messages dropped by the transport by reason.",
		ConstLabels: labels,
	}, []string{"mode", "reason"})

	r.delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   "notify",
		Name:        "notifications_delivered_total",
		Help:        "Notifications delivered to sessions by mode.",
		ConstLabels: labels,
	}, []string{"mode"})
	r.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   Namespace,
		Subsystem:   "notify",
		Name:        "batch_size",
		Help:        "Notifications per flushed session batch.",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
	})
	r.sendFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   "notify",
		Name:        "send_failures_total",
		Help:        "Frames that could not be queued on a socket.",
		ConstLabels: labels,
	})

	for _, c := range []prometheus.Collector{
		r.rpcCalls, r.rpcHandled, r.rpcDropped,
		r.published, r.publishedB, r.received, r.receivedB, r.dropped,
		r.delivered, r.batchSize, r.sendFailure,
	} {
		factory(c)
	}
	return r
}

func (r *Registry) transportCounter(name, help string, labels prometheus.Labels) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   Namespace,
		Subsystem:   "transport",
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, []string{"mode"})
}

// GaugeFunc registers a gauge sampled from fn at scrape time.
func (r *Registry) GaugeFunc(subsystem, name, help string, fn func() float64) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// CallCompleted implements rpc.Observer.
func (r *Registry) CallCompleted(method, outcome string, elapsed time.Duration) {
	r.rpcCalls.WithLabelValues(method, outcome).Observe(elapsed.Seconds())
}

// RequestHandled implements rpc.Observer.
func (r *Registry) RequestHandled(method, outcome string, elapsed time.Duration) {
	r.rpcHandled.WithLabelValues(method, outcome).Observe(elapsed.Seconds())
}

// EnvelopeDropped implements rpc.Observer.
func (r *Registry) EnvelopeDropped(reason string) {
	r.rpcDropped.WithLabelValues(reason).Inc()
}

// MessagePublished implements broker.Observer.
func (r *Registry) MessagePublished(mode string, bytes int) {
	r.published.WithLabelValues(mode).Inc()
	r.publishedB.WithLabelValues(mode).Add(float64(bytes))
}

// MessageReceived implements broker.Observer.
func (r *Registry) MessageReceived(mode string, bytes int) {
	r.received.WithLabelValues(mode).Inc()
	r.receivedB.WithLabelValues(mode).Add(float64(bytes))
}

// MessageDropped implements broker.Observer.
func (r *Registry) MessageDropped(mode, reason string) {
	r.dropped.WithLabelValues(mode, reason).Inc()
}

// NotificationDelivered implements notify.Observer.
func (r *Registry) NotificationDelivered(mode string) {
	r.delivered.WithLabelValues(mode).Inc()
}

// BatchFlushed implements notify.Observer.
func (r *Registry) BatchFlushed(size int) {
	r.batchSize.Observe(float64(size))
}

// SendFailed implements notify.Observer.
func (r *Registry) SendFailed() {
	r.sendFailure.Inc()
}
