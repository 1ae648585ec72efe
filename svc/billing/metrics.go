package billing

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the billing Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	webhookEvents     *prometheus.CounterVec
	signatureFailures prometheus.Counter
	expirations       prometheus.Counter
	providerLatency   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Authenticated webhook events by event name and outcome",
		}, []string{"event", "outcome"}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "webhook",
			Name:      "signature_failures_total",
			Help:      "Webhook requests rejected for a missing or invalid signature",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Cancelled subscriptions expired by the sweeper",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Payment provider API latency by operation and status code",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"operation", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.webhookEvents, m.signatureFailures, m.expirations, m.providerLatency)
	}
	return m
}

func (m *Metrics) webhookOutcome(event string, outcome Outcome) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventLabel(event), string(outcome)).Inc()
}

func (m *Metrics) signatureFailure() {
	if m == nil {
		return
	}
	m.signatureFailures.Inc()
}

func (m *Metrics) expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expirations.Add(float64(n))
}

// ObserveProvider records one provider call. It matches paystack.Observer.
func (m *Metrics) ObserveProvider(operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(operation, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// eventLabel bounds label cardinality to a sane length.
func eventLabel(event string) string {
	if event == "" {
		return "unknown"
	}
	if len(event) > 64 {
		return event[:64]
	}
	return event
}
