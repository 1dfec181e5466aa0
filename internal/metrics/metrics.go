// Package metrics provides Prometheus metrics for the webhook core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bot's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	WebhookDeliveries *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	StatusesProcessed *prometheus.CounterVec
	ItemFailures      *prometheus.CounterVec
	Intents           *prometheus.CounterVec
	SignatureFailures prometheus.Counter
	RepliesSent       *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_webhook_deliveries_total",
			Help: "Webhook deliveries by outcome",
		}, []string{"result"}),
		MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_messages_processed_total",
			Help: "Inbound messages processed by message type",
		}, []string{"type"}),
		StatusesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_statuses_processed_total",
			Help: "Delivery status callbacks applied by status",
		}, []string{"status"}),
		ItemFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_item_failures_total",
			Help: "Per-item processing failures by item kind and error code",
		}, []string{"kind", "code"}),
		Intents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_intents_total",
			Help: "Classified intents",
		}, []string{"intent"}),
		SignatureFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "wabot_signature_failures_total",
			Help: "Webhook requests rejected for an invalid signature",
		}),
		RepliesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_replies_sent_total",
			Help: "Outbound replies by delivery result",
		}, []string{"result"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wabot_dispatch_duration_seconds",
			Help:    "Duration of webhook dispatches in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) Message(msgType string) {
	if m == nil {
		return
	}
	m.MessagesProcessed.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Status(status string) {
	if m == nil {
		return
	}
	m.StatusesProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) ItemFailure(kind, code string) {
	if m == nil {
		return
	}
	m.ItemFailures.WithLabelValues(kind, code).Inc()
}

func (m *Metrics) Intent(intent string) {
	if m == nil {
		return
	}
	m.Intents.WithLabelValues(intent).Inc()
}

func (m *Metrics) SignatureFailure() {
	if m == nil {
		return
	}
	m.SignatureFailures.Inc()
}

func (m *Metrics) Reply(result string) {
	if m == nil {
		return
	}
	m.RepliesSent.WithLabelValues(result).Inc()
}

// ObserveDispatch records the time elapsed since start.
func (m *Metrics) ObserveDispatch(start time.Time) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(time.Since(start).Seconds())
}
