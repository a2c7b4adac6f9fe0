// Package metrics provides Prometheus metrics for the network service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Placement metrics
	Placements         *prometheus.CounterVec
	PlacementConflicts prometheus.Counter

	// Sale metrics
	SalesRecorded  prometheus.Counter
	DuplicateSales prometheus.Counter

	// Commission metrics
	CommissionsCreated  *prometheus.CounterVec
	CommissionAmount    *prometheus.CounterVec
	CommissionsApproved prometheus.Counter
	CommissionsPaid     prometheus.Counter

	// Ledger metrics
	LedgerEntries *prometheus.CounterVec

	// Tree health
	IntegrityViolations prometheus.Gauge
	NetworkNodes        prometheus.Gauge

	OperationDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers every metric on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the default registry.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "mlm"
	}
	factory := promauto.With(reg)

	return &Metrics{
		Placements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "placements_total",
			Help:      "Participants placed, by outcome (child, root, unattached)",
		}, []string{"outcome"}),
		PlacementConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "placement_conflicts_total",
			Help:      "Placement attempts retried after losing a slot race",
		}),
		SalesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sales",
			Name:      "recorded_total",
			Help:      "Sales turned into commissions",
		}),
		DuplicateSales: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sales",
			Name:      "duplicates_total",
			Help:      "Sales rejected because the reference was already processed",
		}),
		CommissionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissions",
			Name:      "created_total",
			Help:      "Commissions created, by source",
		}, []string{"source"}),
		CommissionAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissions",
			Name:      "amount_total",
			Help:      "Sum of commission amounts created, by source",
		}, []string{"source"}),
		CommissionsApproved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissions",
			Name:      "approved_total",
			Help:      "Commissions moved from PENDING to APPROVED",
		}),
		CommissionsPaid: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commissions",
			Name:      "paid_total",
			Help:      "Commissions moved from APPROVED to PAID",
		}),
		LedgerEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Wallet transactions appended, by type",
		}, []string{"type"}),
		IntegrityViolations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "integrity_violations",
			Help:      "Violations found by the last tree integrity check",
		}),
		NetworkNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "nodes",
			Help:      "Nodes seen by the last tree integrity check",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		gatherer: reg,
	}
}

// Handler serves the registry this Metrics was created on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) PlacementDone(outcome string) {
	if m == nil {
		return
	}
	m.Placements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PlacementConflict() {
	if m == nil {
		return
	}
	m.PlacementConflicts.Inc()
}

func (m *Metrics) SaleRecorded() {
	if m == nil {
		return
	}
	m.SalesRecorded.Inc()
}

func (m *Metrics) SaleDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateSales.Inc()
}

func (m *Metrics) CommissionCreated(source string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.CommissionsCreated.WithLabelValues(source).Inc()
	m.CommissionAmount.WithLabelValues(source).Add(amount.InexactFloat64())
}

func (m *Metrics) CommissionApproved() {
	if m == nil {
		return
	}
	m.CommissionsApproved.Inc()
}

func (m *Metrics) CommissionPaid() {
	if m == nil {
		return
	}
	m.CommissionsPaid.Inc()
}

func (m *Metrics) LedgerEntry(entryType string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(entryType).Inc()
}

func (m *Metrics) IntegrityChecked(nodes, violations int) {
	if m == nil {
		return
	}
	m.NetworkNodes.Set(float64(nodes))
	m.IntegrityViolations.Set(float64(violations))
}

// Observe records how long an operation took since start.
func (m *Metrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}
