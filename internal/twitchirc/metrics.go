package twitchirc

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts adapter traffic. A nil *Metrics records nothing.
type Metrics struct {
	received   prometheus.Counter
	dropped    *prometheus.CounterVec
	reconnects prometheus.Counter
	sent       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdeck_twitch_messages_received_total",
			Help: "PRIVMSG lines turned into chat messages.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdeck_twitch_lines_dropped_total",
			Help: "Inbound lines not turned into chat messages, by reason.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdeck_twitch_reconnects_total",
			Help: "Connection attempts after the first.",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdeck_twitch_messages_sent_total",
			Help: "Outbound PRIVMSG lines written.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.received, m.dropped, m.reconnects, m.sent)
	}
	return m
}

func (m *Metrics) incReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) incDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) incReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) incSent() {
	if m != nil {
		m.sent.Inc()
	}
}
