package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics captures vault operation outcomes and pool gauges.
type VaultMetrics struct {
	operations    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	claimSupply   *prometheus.GaugeVec
	poolValue     *prometheus.GaugeVec
	phase         *prometheus.GaugeVec
	rollovers     *prometheus.CounterVec
	throttles     *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "failures_total",
				Help:      "Failed vault operations segmented by error kind.",
			}, []string{"operation", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "compensations_total",
				Help:      "Compensation steps run after a failed pipeline step.",
			}, []string{"pipeline", "step", "outcome"}),
			claimSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "claim_supply",
				Help:      "Outstanding claim tokens per vault.",
			}, []string{"vault"}),
			poolValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "pool_value",
				Help:      "Pool balance plus venue position value per vault.",
			}, []string{"vault"}),
			phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "phase",
				Help:      "Current epoch phase per vault (0 pre-start through 5 closed).",
			}, []string{"vault"}),
			rollovers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "epochvault",
				Subsystem: "vault",
				Name:      "rollovers_total",
				Help:      "Epoch rollovers segmented by trigger.",
			}, []string{"trigger"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "epochvault",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.failures,
			vaultRegistry.latency,
			vaultRegistry.compensations,
			vaultRegistry.claimSupply,
			vaultRegistry.poolValue,
			vaultRegistry.phase,
			vaultRegistry.rollovers,
			vaultRegistry.throttles,
		)
	})
	return vaultRegistry
}

// ObserveOperation records the outcome of one vault transaction. kind is the
// error kind for failures and empty on success.
func (m *VaultMetrics) ObserveOperation(operation, kind string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(operation, normalizeLabel(kind)).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCompensation counts a compensation attempt.
func (m *VaultMetrics) RecordCompensation(pipeline, step string, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.compensations.WithLabelValues(normalizeLabel(pipeline), normalizeLabel(step), outcome).Inc()
}

// SetPool publishes the claim supply and pool value of a vault.
func (m *VaultMetrics) SetPool(vault string, supply, pool uint64) {
	if m == nil {
		return
	}
	vault = normalizeLabel(vault)
	m.claimSupply.WithLabelValues(vault).Set(float64(supply))
	m.poolValue.WithLabelValues(vault).Set(float64(pool))
}

// SetPhase publishes the numeric phase of a vault.
func (m *VaultMetrics) SetPhase(vault string, phase int) {
	if m == nil {
		return
	}
	m.phase.WithLabelValues(normalizeLabel(vault)).Set(float64(phase))
}

// RecordRollover counts a rollover; trigger is "admin" or "scheduler".
func (m *VaultMetrics) RecordRollover(trigger string) {
	if m == nil {
		return
	}
	m.rollovers.WithLabelValues(normalizeLabel(trigger)).Inc()
}

// RecordThrottle counts a rate limited request.
func (m *VaultMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route)).Inc()
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
