package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Outbox events published to Kafka, labeled by topic.",
	}, []string{"topic"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Outbox events that could not be published, labeled by topic.",
	}, []string{"topic"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Outbox events routed to the dead-letter table, labeled by topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autosave",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	publishLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autosave",
		Subsystem: "outbox",
		Name:      "publish_lag_seconds",
		Help:      "Delay between a save committing its outbox row and the event reaching Kafka.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, batchDuration, publishLag)
}
