package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"whatsapp-calling/internal/calls"
)

const namespace = "whatsapp_calling"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	CallTransitions *prometheus.CounterVec
	GatewayErrors   *prometheus.CounterVec
	CallQuality     *prometheus.HistogramVec

	BotIntents        *prometheus.CounterVec
	BotEscalations    *prometheus.CounterVec
	WebhookRejections *prometheus.CounterVec

	QueueTasks        *prometheus.CounterVec
	QueueTaskDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CallTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_transitions_total",
				Help:      "Call status transitions, by resulting status and event",
			},
			[]string{"status", "event"},
		),
		GatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_errors_total",
				Help:      "Failed media gateway operations",
			},
			[]string{"op"},
		),
		CallQuality: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_quality_score",
				Help:      "Computed 0-100 call quality scores",
				Buckets:   []float64{20, 40, 60, 70, 80, 90, 95, 100},
			},
			[]string{"gateway"},
		),
		BotIntents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_intents_total",
				Help:      "Classified intents of inbound WhatsApp messages",
			},
			[]string{"intent"},
		),
		BotEscalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_escalations_total",
				Help:      "Conversations handed to a human",
			},
			[]string{"reason"},
		),
		WebhookRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_rejections_total",
				Help:      "Rejected webhook deliveries",
			},
			[]string{"source", "reason"},
		),
		QueueTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_tasks_total",
				Help:      "Background tasks processed, by outcome",
			},
			[]string{"task", "outcome"},
		),
		QueueTaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_task_duration_seconds",
				Help:      "Background task run time",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"task"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CallTransitions,
		m.GatewayErrors,
		m.CallQuality,
		m.BotIntents,
		m.BotEscalations,
		m.WebhookRejections,
		m.QueueTasks,
		m.QueueTaskDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}

func (m *Metrics) CallTransitioned(_ context.Context, _ calls.Status, s calls.Session, ev calls.EventType) {
	m.CallTransitions.WithLabelValues(string(s.Status), string(ev)).Inc()
}

func (m *Metrics) GatewayFailed(_ context.Context, op string, _ error) {
	m.GatewayErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveQuality(gateway string, score float64) {
	m.CallQuality.WithLabelValues(gateway).Observe(score)
}

func (m *Metrics) IntentClassified(intent string) {
	m.BotIntents.WithLabelValues(intent).Inc()
}

func (m *Metrics) Escalated(reason string) {
	m.BotEscalations.WithLabelValues(reason).Inc()
}

func (m *Metrics) WebhookRejected(source, reason string) {
	m.WebhookRejections.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) ObserveTask(task, outcome string, d time.Duration) {
	m.QueueTasks.WithLabelValues(task, outcome).Inc()
	m.QueueTaskDuration.WithLabelValues(task).Observe(d.Seconds())
}
