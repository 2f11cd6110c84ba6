package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "run_ranking"

var (
	syncRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Number of fleet synchronization runs grouped by outcome.",
	}, []string{"outcome"})

	syncRunnerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "runner_results_total",
		Help:      "Number of per-runner reconciliations grouped by status.",
	}, []string{"status"})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of fleet synchronization runs.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	syncLastRunGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed fleet synchronization.",
	})

	activityMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "activity_mutations_total",
		Help:      "Activities written or deleted by reconciliation grouped by operation.",
	}, []string{"operation"})

	tokenRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "refreshes_total",
		Help:      "Access token refresh attempts grouped by outcome.",
	}, []string{"outcome"})

	webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook events handled grouped by action and outcome.",
	}, []string{"action", "outcome"})
)

func init() {
	prometheus.MustRegister(
		syncRunsCounter,
		syncRunnerCounter,
		syncDuration,
		syncLastRunGauge,
		activityMutations,
		tokenRefreshCounter,
		webhookCounter,
	)
}

// RecordSyncRun records the outcome of one fleet run.
func RecordSyncRun(outcome string, started, finished time.Time) {
	syncRunsCounter.WithLabelValues(outcome).Inc()
	if !started.IsZero() && !finished.IsZero() {
		syncDuration.Observe(finished.Sub(started).Seconds())
	}
	if !finished.IsZero() {
		syncLastRunGauge.Set(float64(finished.Unix()))
	}
}

// RecordRunnerResult counts one runner outcome inside a fleet run.
func RecordRunnerResult(status string) {
	syncRunnerCounter.WithLabelValues(status).Inc()
}

// RecordActivityMutations adds upserted and deleted activity counts.
func RecordActivityMutations(upserted, deleted int) {
	if upserted > 0 {
		activityMutations.WithLabelValues("upsert").Add(float64(upserted))
	}
	if deleted > 0 {
		activityMutations.WithLabelValues("delete").Add(float64(deleted))
	}
}

// RecordTokenRefresh counts a refresh attempt: success, failure or superseded.
func RecordTokenRefresh(outcome string) {
	tokenRefreshCounter.WithLabelValues(outcome).Inc()
}

// RecordWebhookEvent counts a handled webhook event.
func RecordWebhookEvent(action, outcome string) {
	webhookCounter.WithLabelValues(action, outcome).Inc()
}
