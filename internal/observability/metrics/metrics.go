package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for conversation turns, outbound sends and webhooks.
type EngineMetrics struct {
	turnsTotal      *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	duplicatesTotal prometheus.Counter
	deniedTotal     *prometheus.CounterVec
	sendsTotal      *prometheus.CounterVec
	sendAttempts    prometheus.Histogram
	webhookTotal    *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatengine",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total processed inbound events by final state, action and outcome",
		}, []string{"state", "action", "outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatengine",
			Subsystem: "conversation",
			Name:      "turn_duration_seconds",
			Help:      "Wall time spent processing one inbound event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatengine",
			Subsystem: "conversation",
			Name:      "duplicate_deliveries_total",
			Help:      "Inbound events dropped as duplicates",
		}),
		deniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatengine",
			Subsystem: "conversation",
			Name:      "role_denied_total",
			Help:      "Actions refused because the sender role is not allowed",
		}, []string{"role", "action"}),
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatengine",
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound channel sends",
		}, []string{"status"}),
		sendAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatengine",
			Subsystem: "messaging",
			Name:      "send_attempts",
			Help:      "Attempts needed per outbound send",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatengine",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound WhatsApp webhook messages by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.turnLatency, m.duplicatesTotal, m.deniedTotal, m.sendsTotal, m.sendAttempts, m.webhookTotal)
	return m
}

func (m *EngineMetrics) ObserveTurn(state, action, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(state, action, outcome).Inc()
	m.turnLatency.WithLabelValues(state).Observe(seconds)
}

func (m *EngineMetrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.duplicatesTotal.Inc()
}

func (m *EngineMetrics) ObserveRoleDenied(role, action string) {
	if m == nil {
		return
	}
	m.deniedTotal.WithLabelValues(role, action).Inc()
}

func (m *EngineMetrics) ObserveSend(status string, attempts int) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.sendAttempts.Observe(float64(attempts))
	}
}

func (m *EngineMetrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(result).Inc()
}
