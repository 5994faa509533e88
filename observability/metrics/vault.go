package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics aggregates the counters and gauges describing vault workflow
// activity. All values are labelled by workflow kind so operators can tell a
// stuck liquidation apart from a failing delegation.
type VaultMetrics struct {
	workflowStarted  *prometheus.CounterVec
	workflowOutcome  *prometheus.CounterVec
	externalCalls    *prometheus.CounterVec
	lockContention   prometheus.Counter
	refundEntries    prometheus.Gauge
	liquidationOwed  prometheus.Gauge
	counterOfferBook prometheus.Gauge
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metrics registry, creating and
// registering it on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			workflowStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_workflow_started_total",
				Help: "Count of vault workflows entered by kind.",
			}, []string{"kind"}),
			workflowOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_workflow_outcome_total",
				Help: "Count of vault workflow terminal transitions by kind and outcome.",
			}, []string{"kind", "outcome"}),
			externalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_external_calls_total",
				Help: "Count of asynchronous external calls issued by kind.",
			}, []string{"kind"}),
			lockContention: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vault_lock_contention_total",
				Help: "Number of workflow starts rejected because the processing lock was held.",
			}),
			refundEntries: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_refund_entries",
				Help: "Current number of unredeemed refund ledger entries.",
			}),
			liquidationOwed: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_liquidation_owed",
				Help: "Remaining collateral owed to the lender while a liquidation is active.",
			}),
			counterOfferBook: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_counter_offers",
				Help: "Current number of stored counter offers.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.workflowStarted,
			vaultRegistry.workflowOutcome,
			vaultRegistry.externalCalls,
			vaultRegistry.lockContention,
			vaultRegistry.refundEntries,
			vaultRegistry.liquidationOwed,
			vaultRegistry.counterOfferBook,
		)
	})
	return vaultRegistry
}

// WorkflowStarted records entry into a lock-protected workflow.
func (m *VaultMetrics) WorkflowStarted(kind string) {
	if m == nil {
		return
	}
	m.workflowStarted.WithLabelValues(kind).Inc()
}

// WorkflowOutcome records a terminal transition ("success" or "failure").
func (m *VaultMetrics) WorkflowOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.workflowOutcome.WithLabelValues(kind, outcome).Inc()
}

// ExternalCall records an asynchronous call handed to the host runtime.
func (m *VaultMetrics) ExternalCall(kind string) {
	if m == nil {
		return
	}
	m.externalCalls.WithLabelValues(kind).Inc()
}

// LockContention records a rejected acquire.
func (m *VaultMetrics) LockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

// SetRefundEntries publishes the current refund ledger depth.
func (m *VaultMetrics) SetRefundEntries(n int) {
	if m == nil {
		return
	}
	m.refundEntries.Set(float64(n))
}

// SetLiquidationOwed publishes the remaining debt during liquidation. Zero
// clears the gauge once the waterfall completes.
func (m *VaultMetrics) SetLiquidationOwed(owed float64) {
	if m == nil {
		return
	}
	m.liquidationOwed.Set(owed)
}

// SetCounterOffers publishes the current offer book depth.
func (m *VaultMetrics) SetCounterOffers(n int) {
	if m == nil {
		return
	}
	m.counterOfferBook.Set(float64(n))
}
