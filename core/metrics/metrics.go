// Package metrics exposes relay counters in the Prometheus format.
//
// All recording methods are nil-safe, so components accept an optional
// *Metrics and call it unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "fanout"

// Drop reasons reported by BusDropped.
const (
	DropMalformed = "malformed"
	DropOwnOrigin = "own_origin"
)

// Metrics owns a private Prometheus registry with the relay collectors.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived  prometheus.Counter
	messagesDelivered prometheus.Counter
	sendFailures      prometheus.Counter
	busPublished      prometheus.Counter
	busPublishErrors  prometheus.Counter
	busReceived       prometheus.Counter
	busDropped        *prometheus.CounterVec
}

// New creates the collectors under namespace (DefaultNamespace if empty)
// together with the Go runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		registry:          prometheus.NewRegistry(),
		messagesReceived:  counter("messages_received_total", "Text messages received from local clients."),
		messagesDelivered: counter("messages_delivered_total", "Messages queued for delivery to local clients."),
		sendFailures:      counter("send_failures_total", "Deliveries that failed and closed the recipient."),
		busPublished:      counter("bus_published_total", "Messages published to the bus."),
		busPublishErrors:  counter("bus_publish_errors_total", "Failed bus publications."),
		busReceived:       counter("bus_received_total", "Messages received from the bus."),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Bus messages that were not relayed, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesReceived,
		m.messagesDelivered,
		m.sendFailures,
		m.busPublished,
		m.busPublishErrors,
		m.busReceived,
		m.busDropped,
	)

	return m
}

// ObserveMembership registers gauges backed by stats, which must return the
// current number of channels and connections.
func (m *Metrics) ObserveMembership(namespace string, stats func() (channels, connections int)) {
	if m == nil || stats == nil {
		return
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels",
			Help:      "Channels with at least one local member.",
		}, func() float64 {
			channels, _ := stats()
			return float64(channels)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live local connections.",
		}, func() float64 {
			_, connections := stats()
			return float64(connections)
		}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) MessageReceived() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) MessagesDelivered(n int) {
	if m != nil && n > 0 {
		m.messagesDelivered.Add(float64(n))
	}
}

func (m *Metrics) SendFailures(n int) {
	if m != nil && n > 0 {
		m.sendFailures.Add(float64(n))
	}
}

func (m *Metrics) BusPublished() {
	if m != nil {
		m.busPublished.Inc()
	}
}

func (m *Metrics) BusPublishError() {
	if m != nil {
		m.busPublishErrors.Inc()
	}
}

func (m *Metrics) BusReceived() {
	if m != nil {
		m.busReceived.Inc()
	}
}

func (m *Metrics) BusDropped(reason string) {
	if m != nil {
		m.busDropped.WithLabelValues(reason).Inc()
	}
}
