// Package metrics provides Prometheus exporters for the competition pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scamarena_model_calls_total",
			Help: "Model invocations by agent and final status",
		},
		[]string{"agent", "status"},
	)

	ModelCallRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scamarena_model_call_retries_total",
			Help: "Failed attempts that were retried after backoff",
		},
		[]string{"agent"},
	)

	ModelCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scamarena_model_call_latency_seconds",
			Help:    "Latency of successful model invocations",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
		[]string{"agent"},
	)

	ModelCallCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scamarena_model_call_cost_usd_total",
			Help: "Estimated spend on model invocations in USD",
		},
		[]string{"agent"},
	)

	OrchestrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scamarena_orchestrations_total",
			Help: "Orchestrations by outcome (complete, fallback, max_rounds, error)",
		},
		[]string{"outcome"},
	)

	OrchestrationRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scamarena_orchestration_rounds",
			Help:    "Tool-calling rounds used per orchestration",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scamarena_emails_total",
			Help: "Competition items by outcome (saved, failed)",
		},
		[]string{"outcome"},
	)

	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scamarena_rounds_total",
			Help: "Finished rounds by final status",
		},
		[]string{"status"},
	)

	RoundsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scamarena_rounds_running",
			Help: "Rounds currently executing in this process",
		},
	)

	RoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scamarena_round_duration_seconds",
			Help:    "Wall-clock duration of finished rounds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~43min
		},
	)

	RoundsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scamarena_rounds",
			Help: "Rounds in the database by status, refreshed on scrape",
		},
		[]string{"status"},
	)

	QueueAsync = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scamarena_queue_async",
			Help: "1 when rounds are queued through Redis, 0 for the in-process queue",
		},
	)

	StoreWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scamarena_store_write_failures_total",
			Help: "Rolled-back store writes by entity",
		},
		[]string{"entity"},
	)
)

// RecordModelCall records the final outcome of one invocation.
func RecordModelCall(agent string, ok bool, seconds, cost float64) {
	status := "error"
	if ok {
		status = "success"
		ModelCallLatency.WithLabelValues(agent).Observe(seconds)
		ModelCallCost.WithLabelValues(agent).Add(cost)
	}
	ModelCallsTotal.WithLabelValues(agent, status).Inc()
}

// RecordRetry records one retried attempt.
func RecordRetry(agent string) {
	ModelCallRetriesTotal.WithLabelValues(agent).Inc()
}

// RecordOrchestration records how an orchestration ended and how many rounds it used.
func RecordOrchestration(outcome string, rounds int) {
	OrchestrationsTotal.WithLabelValues(outcome).Inc()
	OrchestrationRounds.Observe(float64(rounds))
}

// RecordEmail records a terminal per-item outcome.
func RecordEmail(outcome string) {
	EmailsTotal.WithLabelValues(outcome).Inc()
}

// RecordRoundFinished records a finished round.
func RecordRoundFinished(status string, seconds float64) {
	RoundsTotal.WithLabelValues(status).Inc()
	RoundDuration.Observe(seconds)
}

// RecordStoreFailure records a rolled-back write.
func RecordStoreFailure(entity string) {
	StoreWriteFailuresTotal.WithLabelValues(entity).Inc()
}

// SetRoundCounts replaces the per-status round gauges.
func SetRoundCounts(counts map[string]int64) {
	for status, n := range counts {
		RoundsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func SetQueueAsync(async bool) {
	if async {
		QueueAsync.Set(1)
		return
	}
	QueueAsync.Set(0)
}
