package transport

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/coco/pkg/types"
)

// metrics holds the session's Prometheus collectors. A nil *metrics is
// valid and records nothing.
type metrics struct {
	state             prometheus.Gauge
	reconnectAttempts prometheus.Counter
	messagesReceived  *prometheus.CounterVec
	messagesRejected  prometheus.Counter
	requests          *prometheus.CounterVec
}

// newMetrics creates and registers the session collectors. It returns nil
// when reg is nil. Collectors already registered by another session on the
// same registry are shared.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	return &metrics{
		state: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coco",
			Subsystem: "transport",
			Name:      "state",
			Help:      "Channel state: 0 disconnected, 1 connecting, 2 connected",
		})),
		reconnectAttempts: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coco",
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		})),
		messagesReceived: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coco",
			Subsystem: "transport",
			Name:      "messages_received_total",
			Help:      "Total frames received on the duplex channel",
		}, []string{"kind"})),
		messagesRejected: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coco",
			Subsystem: "transport",
			Name:      "messages_rejected_total",
			Help:      "Total frames dropped because they could not be parsed",
		})),
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coco",
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Total request operations by outcome",
		}, []string{"op", "outcome"})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *metrics) reconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// knownKinds bounds the kind label; anything else counts as "other".
var knownKinds = map[string]bool{
	types.MsgLogin:       true,
	types.MsgCoco:        true,
	types.MsgNewType:     true,
	types.MsgNewItem:     true,
	types.MsgNewData:     true,
	types.MsgDeletedItem: true,
}

func kindLabel(kind string) string {
	if knownKinds[kind] {
		return kind
	}
	return "other"
}

func (m *metrics) messageReceived(kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kindLabel(kind)).Inc()
}

func (m *metrics) messageRejected() {
	if m == nil {
		return
	}
	m.messagesRejected.Inc()
}

func (m *metrics) request(op, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, outcome).Inc()
}
