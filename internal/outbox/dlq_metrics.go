package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dlqRequeuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "dlq",
		Name:      "messages_requeued_total",
		Help:      "Number of DLQ entries reinserted into the primary outbox.",
	}, []string{"topic", "event_type"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "dlq",
		Name:      "messages_quarantined_total",
		Help:      "Number of DLQ entries quarantined after exhausting retries.",
	}, []string{"topic", "event_type"})

	dlqRetryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "dlq",
		Name:      "retry_scheduled_total",
		Help:      "Number of times a DLQ entry was scheduled for a future retry.",
	}, []string{"topic", "event_type"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosave",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "Entries awaiting replay, quarantined rows excluded.",
	})

	dlqOldestGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosave",
		Subsystem: "dlq",
		Name:      "oldest_entry_age_seconds",
		Help:      "Age of the oldest entry awaiting replay.",
	})
)

func init() {
	prometheus.MustRegister(dlqRequeuedCounter, dlqQuarantinedCounter, dlqRetryCounter, dlqBacklogGauge, dlqOldestGauge)
}

func recordDLQRequeued(entry dlqEntry) {
	dlqRequeuedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQQuarantined(entry dlqEntry) {
	dlqQuarantinedCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func recordDLQRetry(entry dlqEntry) {
	dlqRetryCounter.WithLabelValues(entry.Topic, entry.EventType).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var (
		count  int
		oldest float64
	)
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at)), 0)::float8
           FROM outbox_dlq WHERE quarantined_at IS NULL`,
	).Scan(&count, &oldest)
	if err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(count))
	dlqOldestGauge.Set(oldest)
}
