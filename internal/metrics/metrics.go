package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_enqueued_total",
			Help: "Total number of mutations enqueued, by kind.",
		},
		[]string{"kind"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_deliveries_total",
			Help: "Total number of delivery outcomes by status.",
		},
		[]string{"status"}, // succeeded, retrying, exhausted, rejected
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopsync_dlq_total",
			Help: "Total number of items dead-lettered.",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopsync_queue_depth",
			Help: "Current number of pending queue items.",
		},
	)

	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopsync_online",
			Help: "1 when the remote API is reachable, 0 otherwise.",
		},
	)

	DrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopsync_drain_duration_seconds",
			Help:    "Duration of drain passes.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsync_reconcile_total",
			Help: "Total number of reconciliation passes by result.",
		},
		[]string{"result"}, // merged, local_only
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EnqueuedTotal,
		DeliveriesTotal,
		RetriesTotal,
		DLQTotal,
		QueueDepth,
		Online,
		DrainDuration,
		ReconcileTotal,
	)
}

// RecordDelivery increments the delivery counter for the given outcome.
func RecordDelivery(status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordRetry increments the retry counter for the given reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ increments the dead-letter counter.
func RecordDLQ() {
	DLQTotal.Inc()
}

// UpdateQueueDepth sets the pending-queue gauge.
func UpdateQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}

// UpdateOnline sets the connectivity gauge.
func UpdateOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}
