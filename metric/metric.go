package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespaceCoordinator  = "coordinator"
	namespaceSynchronizer = "synchronizer"
)

var (
	// BatchesForged count of batches settled on L1
	BatchesForged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceCoordinator,
			Name:      "batches_forged_total",
			Help:      "",
		})

	// ForgeErrors count of forge rounds that ended in error
	ForgeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceCoordinator,
			Name:      "forge_errors_total",
			Help:      "",
		})

	// PendingTxs current mempool depth
	PendingTxs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceCoordinator,
			Name:      "pending_txs",
			Help:      "",
		})

	// LastBatchRoot top bits of the last settled root, for drift checks
	LastBatchRoot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespaceCoordinator,
			Name:      "last_batch_root",
			Help:      "",
		})

	// Deposits count of L1 deposit events reconciled
	Deposits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceSynchronizer,
			Name:      "deposits_total",
			Help:      "",
		})

	// WithdrawalRequests count of L1 withdrawal request events reconciled
	WithdrawalRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespaceSynchronizer,
			Name:      "withdrawal_requests_total",
			Help:      "",
		})

	// WaitServerProof duration waiting on the proof server per batch
	WaitServerProof = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespaceCoordinator,
			Name:      "wait_server_proof",
			Help:      "",
		}, []string{"tx_type"})
)

func init() {
	prometheus.MustRegister(
		BatchesForged,
		ForgeErrors,
		PendingTxs,
		LastBatchRoot,
		Deposits,
		WithdrawalRequests,
		WaitServerProof,
	)
}

// MeasureDuration measure the method execution duration
// and save it into a histogram metric
func MeasureDuration(histogram *prometheus.HistogramVec, start time.Time, lvs ...string) {
	duration := time.Since(start)
	histogram.WithLabelValues(lvs...).Observe(float64(duration.Milliseconds()))
}
