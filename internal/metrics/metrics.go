// Package metrics holds the Prometheus collectors for the settlement service.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "settlement"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LedgerTransitionsTotal counts transaction stage changes by kind (refund, settle_credit, ...).
	LedgerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transitions_total",
			Help:      "Transaction stage transitions by operation and result.",
		},
		[]string{"operation", "result"},
	)

	LedgerRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "records_total",
			Help:      "Transactions recorded by type, category and stage.",
		},
		[]string{"type", "category", "stage"},
	)

	ContractsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contracts",
			Name:      "operations_total",
			Help:      "Contract engine operations by operation and result code.",
		},
		[]string{"operation", "result"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Provider webhook events by outcome.",
		},
		[]string{"outcome"},
	)

	WebhookSignatureRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhooks",
		Name:      "signature_rejections_total",
		Help:      "Webhook deliveries rejected for a bad signature.",
	})

	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Payment gateway calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Payment gateway call latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payouts",
			Name:      "total",
			Help:      "Payout job results.",
		},
		[]string{"result"},
	)

	DBTotalConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_total_connections",
		Help: "Total connections in the pool.",
	})
	DBIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_idle_connections",
		Help: "Idle connections in the pool.",
	})
	DBAcquiredConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_acquired_connections",
		Help: "Connections currently checked out of the pool.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LedgerTransitionsTotal,
		LedgerRecordsTotal,
		ContractsTotal,
		WebhookEventsTotal,
		WebhookSignatureRejections,
		GatewayRequestsTotal,
		GatewayRequestDuration,
		PayoutsTotal,
		DBTotalConns,
		DBIdleConns,
		DBAcquiredConns,
		GoroutineCount,
	)
}

// Result turns an error into a short label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// StartPoolStatsCollector samples pool statistics into gauges until ctx is done.
func StartPoolStatsCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			DBTotalConns.Set(float64(stat.TotalConns()))
			DBIdleConns.Set(float64(stat.IdleConns()))
			DBAcquiredConns.Set(float64(stat.AcquiredConns()))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
