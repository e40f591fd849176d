// Package observability holds the Prometheus instruments of the autosave pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	saveAttemptsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "pipeline",
		Name:      "save_attempts_total",
		Help:      "Remote save attempts labeled by submission source and outcome.",
	}, []string{"source", "outcome"})

	saveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autosave",
		Subsystem: "pipeline",
		Name:      "save_duration_seconds",
		Help:      "Latency of remote save calls.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"source"})

	retriesScheduledCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "pipeline",
		Name:      "retries_scheduled_total",
		Help:      "Backoff retries scheduled after a failed save.",
	})

	fallbackCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "pipeline",
		Name:      "fallbacks_written_total",
		Help:      "Activities demoted to local fallback storage after exhausting retries.",
	})

	deadLetterCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "pipeline",
		Name:      "dead_lettered_total",
		Help:      "Fallback records parked after exceeding the sync attempt threshold.",
	})

	localStoreErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "localstore",
		Name:      "errors_total",
		Help:      "Local durable store failures labeled by operation.",
	}, []string{"operation"})

	queuedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosave",
		Subsystem: "pipeline",
		Name:      "queued_saves",
		Help:      "Debounce timers currently waiting to fire.",
	})

	lastConfirmedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosave",
		Subsystem: "pipeline",
		Name:      "last_confirmed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent confirmed save.",
	})

	remoteSavesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "remote",
		Name:      "saves_total",
		Help:      "Saves accepted by the remote store labeled by whether the row was created or updated.",
	}, []string{"result"})

	remoteLastSaveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosave",
		Subsystem: "remote",
		Name:      "last_save_timestamp_seconds",
		Help:      "Unix timestamp of the most recent save accepted by the remote store.",
	})

	monitorTicksCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "autosave",
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Reconciliation sweeps executed.",
	})

	monitorUnconfirmedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosave",
		Subsystem: "monitor",
		Name:      "unconfirmed_activities",
		Help:      "Built activities missing from the confirmed index at the last sweep.",
	})

	monitorExhaustedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autosave",
		Subsystem: "monitor",
		Name:      "exhausted_activities",
		Help:      "Activities skipped by the last sweep because their retry budget is spent.",
	})
)

func init() {
	prometheus.MustRegister(
		saveAttemptsCounter,
		saveDuration,
		retriesScheduledCounter,
		fallbackCounter,
		deadLetterCounter,
		localStoreErrorCounter,
		queuedGauge,
		lastConfirmedGauge,
		remoteSavesCounter,
		remoteLastSaveGauge,
		monitorTicksCounter,
		monitorUnconfirmedGauge,
		monitorExhaustedGauge,
	)
}

// RecordSaveAttempt counts one remote save and its latency.
func RecordSaveAttempt(source string, ok bool, elapsed time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	saveAttemptsCounter.WithLabelValues(source, outcome).Inc()
	saveDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// RecordConfirmed updates the confirmed-save watermark gauge.
func RecordConfirmed(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastConfirmedGauge.Set(float64(ts.Unix()))
}

func RecordRetryScheduled() { retriesScheduledCounter.Inc() }

func RecordFallback() { fallbackCounter.Inc() }

func RecordDeadLetter() { deadLetterCounter.Inc() }

// RecordLocalStoreError counts a failed local store operation.
func RecordLocalStoreError(operation string) {
	localStoreErrorCounter.WithLabelValues(operation).Inc()
}

func SetQueued(n int) { queuedGauge.Set(float64(n)) }

// RecordRemotePersisted counts a save committed by the remote store.
func RecordRemotePersisted(created bool, ts time.Time) {
	result := "updated"
	if created {
		result = "created"
	}
	remoteSavesCounter.WithLabelValues(result).Inc()
	if !ts.IsZero() {
		remoteLastSaveGauge.Set(float64(ts.Unix()))
	}
}

// RecordMonitorTick captures the outcome of one reconciliation sweep.
func RecordMonitorTick(unconfirmed, exhausted int) {
	monitorTicksCounter.Inc()
	monitorUnconfirmedGauge.Set(float64(unconfirmed))
	monitorExhaustedGauge.Set(float64(exhausted))
}
