package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type CreditMetrics struct {
	positions    *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	reverts      *prometheus.CounterVec
	health       prometheus.Histogram
	utilisation  *prometheus.GaugeVec
	badDebt      *prometheus.GaugeVec
	harvests     *prometheus.CounterVec
}

var (
	creditOnce     sync.Once
	creditRegistry *CreditMetrics
)

// Credit returns the lazily registered credit protocol metrics.
func Credit() *CreditMetrics {
	creditOnce.Do(func() {
		creditRegistry = &CreditMetrics{
			positions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_positions_total",
				Help: "Count of position transitions by kind (open, repay, liquidate).",
			}, []string{"kind"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_liquidations_total",
				Help: "Count of liquidations by trigger (health, timeout).",
			}, []string{"trigger"}),
			reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_reverts_total",
				Help: "Count of reverted protocol calls by operation and reason.",
			}, []string{"operation", "reason"}),
			health: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "credit_position_health",
				Help:    "Distribution of position health (per mille) at evaluation.",
				Buckets: prometheus.LinearBuckets(0, 100, 11),
			}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "credit_vault_utilisation",
				Help: "Borrowed share of each vault's supply in per mille.",
			}, []string{"vault"}),
			badDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "credit_vault_bad_debt",
				Help: "Written-off debt carried by each vault in token units.",
			}, []string{"vault"}),
			harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "credit_scheduler_harvests_total",
				Help: "Count of scheduler harvest runs by target kind and outcome.",
			}, []string{"kind", "outcome"}),
		}
		prometheus.MustRegister(
			creditRegistry.positions,
			creditRegistry.liquidations,
			creditRegistry.reverts,
			creditRegistry.health,
			creditRegistry.utilisation,
			creditRegistry.badDebt,
			creditRegistry.harvests,
		)
	})
	return creditRegistry
}

func (m *CreditMetrics) ObservePosition(kind string) {
	if m == nil {
		return
	}
	m.positions.WithLabelValues(kind).Inc()
}

func (m *CreditMetrics) ObserveLiquidation(trigger string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(trigger).Inc()
}

func (m *CreditMetrics) ObserveRevert(operation, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.reverts.WithLabelValues(operation, reason).Inc()
}

func (m *CreditMetrics) ObserveHealth(health uint64) {
	if m == nil {
		return
	}
	m.health.Observe(float64(health))
}

func (m *CreditMetrics) SetUtilisation(vault string, perMille uint64) {
	if m == nil {
		return
	}
	m.utilisation.WithLabelValues(vault).Set(float64(perMille))
}

func (m *CreditMetrics) SetBadDebt(vault string, amount float64) {
	if m == nil {
		return
	}
	m.badDebt.WithLabelValues(vault).Set(amount)
}

func (m *CreditMetrics) ObserveHarvest(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.harvests.WithLabelValues(kind, outcome).Inc()
}
