package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/hub"
)

// Metrics bundles Prometheus collectors for the HTTP API and the hub it
// serves.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	clients         *prometheus.GaugeVec
	subscriberDrops *prometheus.CounterVec
	rateLimited     prometheus.Counter
	eventsSent      *prometheus.CounterVec
	ingested        *prometheus.CounterVec
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdeck",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests received",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatdeck",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatdeck",
			Name:      "stream_clients",
			Help:      "Currently connected display clients",
		}, []string{"transport"}),
		subscriberDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdeck",
			Name:      "subscriber_drops_total",
			Help:      "Display clients disconnected because they fell behind",
		}, []string{"transport"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatdeck",
			Name:      "http_rate_limited_total",
			Help:      "Number of HTTP requests rejected due to rate limiting",
		}),
		eventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdeck",
			Name:      "events_sent_total",
			Help:      "Events written to display clients",
		}, []string{"transport", "type"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatdeck",
			Name:      "messages_ingested_total",
			Help:      "Chat messages appended to the history, by platform",
		}, []string{"platform"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.clients,
		m.subscriberDrops,
		m.rateLimited,
		m.eventsSent,
		m.ingested,
	)

	return m
}

// registerFeed exports the hub counters as scrape-time collectors.
func (m *Metrics) registerFeed(feed Feed) {
	stat := func(pick func(s hub.Stats) float64) func() float64 {
		return func() float64 { return pick(feed.Stats()) }
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chatdeck", Name: "hub_subscribers",
			Help: "Subscribers attached to the hub",
		}, stat(func(s hub.Stats) float64 { return float64(s.Subscribers) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chatdeck", Name: "hub_history_size",
			Help: "Messages currently held in history",
		}, stat(func(s hub.Stats) float64 { return float64(s.History) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chatdeck", Name: "hub_history_capacity",
			Help: "History capacity",
		}, stat(func(s hub.Stats) float64 { return float64(s.Capacity) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "chatdeck", Name: "hub_appended_total",
			Help: "Messages appended to the hub",
		}, stat(func(s hub.Stats) float64 { return float64(s.Appended) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "chatdeck", Name: "hub_delivered_total",
			Help: "Events queued to subscribers",
		}, stat(func(s hub.Stats) float64 { return float64(s.Delivered) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "chatdeck", Name: "hub_dropped_total",
			Help: "Subscribers dropped by the hub",
		}, stat(func(s hub.Stats) float64 { return float64(s.Dropped) })),
	)
}

// Registry lets other components register their collectors on the same
// scrape endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records timing and status information.
func (m *Metrics) ObserveRequest(route, method string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(dur.Seconds())
}

// IncClients adjusts the connected client gauge of transport by delta.
func (m *Metrics) IncClients(transport string, delta float64) {
	if m == nil {
		return
	}
	m.clients.WithLabelValues(transport).Add(delta)
}

func (m *Metrics) IncSubscriberDrops(transport string) {
	if m == nil {
		return
	}
	m.subscriberDrops.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) IncEventsSent(transport, eventType string) {
	if m == nil {
		return
	}
	m.eventsSent.WithLabelValues(transport, eventType).Inc()
}

// IncIngested counts a message that reached the history.
func (m *Metrics) IncIngested(p core.Platform) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(string(p)).Inc()
}
