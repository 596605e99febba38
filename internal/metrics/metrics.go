package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timemarket"

var (
	// Registry содержит метрики приложения.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Wallet ledger mutations by operation and result code.",
		},
		[]string{"operation", "result"},
	)

	ledgerUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "units_total",
			Help:      "Units moved by successful ledger mutations.",
		},
		[]string{"operation"},
	)

	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Committed session status transitions.",
		},
		[]string{"action", "from", "to"},
	)

	sessionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rejections_total",
			Help:      "Session operations rejected, by action and error code.",
		},
		[]string{"action", "code"},
	)

	payoutBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "batches_total",
			Help:      "Payout batch runs by outcome.",
		},
		[]string{"outcome"},
	)

	payoutBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "batch_duration_seconds",
			Help:      "Duration of payout batch runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	payoutsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "sessions_total",
			Help:      "Sessions processed by the payout scheduler, by result.",
		},
		[]string{"result"},
	)

	payoutNetCents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "net_cents_total",
			Help:      "Net amount paid out to sellers, in cents.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		ledgerUnits,
		sessionTransitions,
		sessionRejections,
		payoutBatches,
		payoutBatchDuration,
		payoutsProcessed,
		payoutNetCents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler отдаёт зарегистрированные метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func HTTPStarted() {
	httpInFlight.Inc()
}

// HTTPFinished фиксирует завершённый запрос. path содержит шаблон маршрута, а не сырой URL.
func HTTPFinished(method, path, status string, duration time.Duration) {
	httpInFlight.Dec()
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLedger фиксирует операцию над балансом. result равен "ok" или коду ошибки.
func RecordLedger(operation, result string, units int) {
	ledgerOperations.WithLabelValues(operation, result).Inc()
	if result == "ok" && units > 0 {
		ledgerUnits.WithLabelValues(operation).Add(float64(units))
	}
}

func RecordTransition(action, from, to string) {
	sessionTransitions.WithLabelValues(action, from, to).Inc()
}

func RecordRejection(action, code string) {
	sessionRejections.WithLabelValues(action, code).Inc()
}

// RecordPayoutBatch фиксирует прогон планировщика выплат.
func RecordPayoutBatch(outcome string, duration time.Duration) {
	payoutBatches.WithLabelValues(outcome).Inc()
	payoutBatchDuration.Observe(duration.Seconds())
}

func RecordPayout(result string, netCents int64) {
	payoutsProcessed.WithLabelValues(result).Inc()
	if result == "paid" && netCents > 0 {
		payoutNetCents.Add(float64(netCents))
	}
}
