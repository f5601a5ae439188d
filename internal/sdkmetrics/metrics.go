// Package sdkmetrics groups the Prometheus instruments the SDK exposes.
// Registered once against an injected Registerer so embedding applications
// (and tests) control the registry; the SDK never touches the default one.
package sdkmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/olakai/olakai-go/queue"
)

// Metrics holds every instrument. Passed by pointer wherever needed.
type Metrics struct {
	PayloadsEnqueued *prometheus.CounterVec
	PayloadsDropped  *prometheus.CounterVec
	PayloadsSent     prometheus.Counter
	PayloadsRequeued prometheus.Counter
	DeliveryLatency  prometheus.Histogram
	QueueDepth       prometheus.Gauge
}

// New registers all instruments with reg and returns the populated struct.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PayloadsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "olakai_payloads_enqueued_total",
			Help: "Payload records accepted into the delivery queue.",
		}, []string{"priority"}),

		PayloadsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "olakai_payloads_dropped_total",
			Help: "Payload records dropped without delivery.",
		}, []string{"reason"}),

		PayloadsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "olakai_payloads_sent_total",
			Help: "Payload records the endpoint accepted.",
		}),

		PayloadsRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "olakai_payloads_requeued_total",
			Help: "Payload records re-queued after a failed or partial delivery.",
		}),

		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "olakai_batch_delivery_seconds",
			Help:    "Wall-clock latency of one batch delivery including transport retries.",
			Buckets: prometheus.DefBuckets,
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "olakai_queue_depth",
			Help: "Batch records currently waiting in the queue.",
		}),
	}

	reg.MustRegister(
		m.PayloadsEnqueued,
		m.PayloadsDropped,
		m.PayloadsSent,
		m.PayloadsRequeued,
		m.DeliveryLatency,
		m.QueueDepth,
	)

	return m
}

// QueueHooks adapts the instruments to the callback shape the queue
// manager expects, keeping the queue package free of Prometheus imports.
func (m *Metrics) QueueHooks() queue.Hooks {
	return queue.Hooks{
		OnEnqueued: func(p queue.Priority) {
			m.PayloadsEnqueued.WithLabelValues(string(p)).Inc()
		},
		OnDelivered: func(payloads int, latency time.Duration) {
			m.PayloadsSent.Add(float64(payloads))
			m.DeliveryLatency.Observe(latency.Seconds())
		},
		OnRequeued: func(payloads int) {
			m.PayloadsRequeued.Add(float64(payloads))
		},
		OnDropped: func(payloads int, reason string) {
			m.PayloadsDropped.WithLabelValues(reason).Add(float64(payloads))
		},
		OnDepth: func(records int) {
			m.QueueDepth.Set(float64(records))
		},
	}
}
