package gatherly

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds optional prometheus instrumentation. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	outboxQueued    prometheus.Counter
	outboxReplayed  *prometheus.CounterVec
	outboxDepth     prometheus.Gauge
	fetchTotal      *prometheus.CounterVec
	chatConnections prometheus.Gauge
	chatMessages    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outboxQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatherly_outbox_queued_total",
			Help: "Total number of membership actions deferred while offline.",
		}),
		outboxReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatherly_outbox_replayed_total",
			Help: "Total number of outbox replays by result.",
		}, []string{"kind", "result"}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatherly_outbox_depth",
			Help: "Number of actions currently waiting in the outbox.",
		}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatherly_event_fetch_total",
			Help: "Total number of event list fetches by result.",
		}, []string{"result"}),
		chatConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatherly_chat_open_connections",
			Help: "Number of open chat room connections.",
		}),
		chatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatherly_chat_messages_total",
			Help: "Total number of chat frames by direction.",
		}, []string{"direction"}),
	}
	for _, c := range []prometheus.Collector{
		m.outboxQueued, m.outboxReplayed, m.outboxDepth,
		m.fetchTotal, m.chatConnections, m.chatMessages,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) actionQueued(depth int) {
	if m == nil {
		return
	}
	m.outboxQueued.Inc()
	m.outboxDepth.Set(float64(depth))
}

func (m *Metrics) actionReplayed(kind ActionKind, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.outboxReplayed.WithLabelValues(string(kind), result).Inc()
}

func (m *Metrics) setOutboxDepth(depth int) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(depth))
}

func (m *Metrics) fetched(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.fetchTotal.WithLabelValues("ok").Inc()
	} else {
		m.fetchTotal.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) chatOpened() {
	if m != nil {
		m.chatConnections.Inc()
	}
}

func (m *Metrics) chatClosed() {
	if m != nil {
		m.chatConnections.Dec()
	}
}

func (m *Metrics) chatMessage(direction string) {
	if m != nil {
		m.chatMessages.WithLabelValues(direction).Inc()
	}
}
