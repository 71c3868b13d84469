package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Orders ---
	OrdersCreated   *prometheus.CounterVec
	OrdersUpdated   *prometheus.CounterVec
	OrdersExecuted  *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec
	OrdersFrozen    *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	ExecuteDuration *prometheus.HistogramVec
	PendingOrders   prometheus.Gauge

	// --- Funding & borrowing ---
	FundingAccruals        *prometheus.CounterVec
	BorrowingAccruals      *prometheus.CounterVec
	PositionsSettled       *prometheus.CounterVec
	FundingInsufficientCol *prometheus.CounterVec
	ClaimsPaid             *prometheus.CounterVec
	ClaimsFailed           *prometheus.CounterVec

	// --- Positions ---
	OpenPositions prometheus.Gauge

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchSize   prometheus.Histogram
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	executeBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OrdersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_orders_created_total",
			Help: "Orders accepted into the book",
		}, []string{"market_id", "order_type"}),

		OrdersUpdated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_orders_updated_total",
			Help: "Pending order updates applied",
		}, []string{"market_id"}),

		OrdersExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_orders_executed_total",
			Help: "Orders executed against positions",
		}, []string{"market_id", "order_type"}),

		OrdersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_orders_cancelled_total",
			Help: "Orders cancelled with escrow refunded",
		}, []string{"market_id", "reason"}),

		OrdersFrozen: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_orders_frozen_total",
			Help: "Executions failed recoverably, order kept",
		}, []string{"market_id", "reason"}),

		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_orders_rejected_total",
			Help: "Requests rejected at validation",
		}, []string{"operation", "kind"}),

		ExecuteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_execute_duration_seconds",
			Help:    "Time to execute a single order",
			Buckets: executeBuckets,
		}, []string{"order_type"}),

		PendingOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_pending_orders",
			Help: "Orders currently in the book",
		}),

		FundingAccruals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_accruals_total",
			Help: "Funding index advances",
		}, []string{"market_id"}),

		BorrowingAccruals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_borrowing_accruals_total",
			Help: "Cumulative borrowing factor advances",
		}, []string{"market_id", "side"}),

		PositionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_positions_settled_total",
			Help: "Positions with fees settled at execution",
		}, []string{"market_id"}),

		FundingInsufficientCol: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_insufficient_collateral_total",
			Help: "Settlements that could not cover owed fees",
		}, []string{"market_id"}),

		ClaimsPaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_claims_paid_total",
			Help: "Claim pairs transferred successfully",
		}, []string{"market_id", "token"}),

		ClaimsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_funding_claims_failed_total",
			Help: "Claim pairs re-credited after a failed transfer",
		}, []string{"market_id", "token"}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_open_positions",
			Help: "Live positions across all markets",
		}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_rows_written_total",
			Help: "Rows written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_size",
			Help:    "Rows per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_retry_total",
			Help: "Persistence retries",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
