package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 进程级指标；方法均可在 nil 上调用
type Metrics struct {
	Connections    prometheus.Gauge
	InboundEvents  *prometheus.CounterVec // event, result
	MessagesSent   prometheus.Counter
	SendRejected   *prometheus.CounterVec // reason
	Deliveries     *prometheus.CounterVec // channel: live/push, result
	Retries        prometheus.Counter
	DeadLettered   prometheus.Counter
	DeadLetterSize prometheus.Gauge
	ProcessSeconds *prometheus.HistogramVec // partition
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Connections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pchat_gateway_connections",
				Help: "Current number of open websocket connections",
			}),
			InboundEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pchat_gateway_events_total",
				Help: "Inbound client events by name and result",
			}, []string{"event", "result"}),
			MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pchat_messages_sent_total",
				Help: "Messages persisted and queued",
			}),
			SendRejected: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pchat_messages_rejected_total",
				Help: "Message submissions rejected synchronously",
			}, []string{"reason"}),
			Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pchat_deliveries_total",
				Help: "Per-recipient delivery attempts",
			}, []string{"channel", "result"}),
			Retries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pchat_queue_retries_total",
				Help: "Messages re-enqueued after a failed attempt",
			}),
			DeadLettered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pchat_queue_dead_lettered_total",
				Help: "Messages moved to the dead letter partition",
			}),
			DeadLetterSize: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pchat_queue_dead_letter_size",
				Help: "Dead letter partition depth at the last sweep",
			}),
			ProcessSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pchat_queue_process_seconds",
				Help:    "Time spent processing one queued message",
				Buckets: prometheus.DefBuckets,
			}, []string{"partition"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) Event(name string, err error) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(name, result(err)).Inc()
}

func (m *Metrics) Sent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.SendRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Delivery(channel string, err error) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(channel, result(err)).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) DeadLetter() {
	if m == nil {
		return
	}
	m.DeadLettered.Inc()
}

func (m *Metrics) DeadLetterDepth(n int64) {
	if m == nil {
		return
	}
	m.DeadLetterSize.Set(float64(n))
}

func (m *Metrics) Processed(partition string, seconds float64) {
	if m == nil {
		return
	}
	m.ProcessSeconds.WithLabelValues(partition).Observe(seconds)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
