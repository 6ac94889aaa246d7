package metrics

import "github.com/prometheus/client_golang/prometheus"

// Fast-path outcomes for webhook_requests_total.
const (
	WebhookAccepted         = "accepted"
	WebhookDuplicate        = "duplicate"
	WebhookIgnored          = "ignored"
	WebhookInvalidSignature = "invalid_signature"
	WebhookMalformed        = "malformed"
	WebhookEnqueueFailed    = "enqueue_failed"
)

// Processor outcomes for webhook_events_processed_total.
const (
	EventApplied   = "applied"
	EventDuplicate = "duplicate"
	EventIgnored   = "ignored"
	EventDropped   = "dropped"
	EventFailed    = "failed"
)

// WebhookMetrics counts webhook deliveries on the fast path and in the processor.
type WebhookMetrics struct {
	requests  *prometheus.CounterVec
	processed *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook counters. A nil registerer yields a no-op recorder.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Webhook deliveries received by outcome.",
	}, []string{"provider", "outcome"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_processed_total",
		Help:      "Webhook events handled by the async processor.",
	}, []string{"provider", "event_type", "outcome"})
	reg.MustRegister(requests, processed)
	return &WebhookMetrics{requests: requests, processed: processed}
}

// IncRequest records a fast-path outcome.
func (w *WebhookMetrics) IncRequest(provider, outcome string) {
	if w == nil || w.requests == nil {
		return
	}
	w.requests.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncProcessed records a processor outcome.
func (w *WebhookMetrics) IncProcessed(provider, eventType, outcome string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
