package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "rdbg"
	metricsSubsystem = "transport"
)

// Drop reasons used as the "reason" label of rdbg_transport_dropped_total.
const (
	reasonOverflow   = "overflow"
	reasonRetryLimit = "retry_limit"
	reasonEncode     = "encode"
	reasonShutdown   = "shutdown"
)

type metrics struct {
	enqueued   prometheus.Counter
	sent       prometheus.Counter
	dropped    *prometheus.CounterVec
	reconnects prometheus.Counter
	connected  prometheus.Gauge
}

// newMetrics registers the transport metrics on reg. Each Shipper owns its
// registry so several transports can live in one process.
func newMetrics(reg *prometheus.Registry, depth func() float64) *metrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "queue_depth",
		Help:      "Number of messages waiting in the outbound queue",
	}, depth)

	return &metrics{
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "enqueued_total",
			Help:      "Total number of messages accepted by Enqueue",
		}),

		sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "sent_total",
			Help:      "Total number of frames written to a viewer",
		}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dropped_total",
			Help:      "Total number of messages discarded before delivery",
		}, []string{"reason"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_total",
			Help:      "Total number of viewer connections established",
		}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connected",
			Help:      "1 while a viewer connection is open",
		}),
	}
}
