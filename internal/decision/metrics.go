package decision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sentra/backend/internal/policy"
)

// Metrics holds all Prometheus metrics for the evaluation path.
type Metrics struct {
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	RiskScore          *prometheus.HistogramVec
	RiskTierTotal      *prometheus.CounterVec
	ExemptionsApplied  *prometheus.CounterVec
	ConfigErrors       *prometheus.CounterVec
	RegistryPolicies   *prometheus.GaugeVec
	RegistryVersion    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EvaluationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_evaluations_total",
				Help: "Total number of policy evaluations",
			},
			[]string{"tenant_id", "policy_type", "verdict"},
		),

		EvaluationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authn_evaluation_duration_seconds",
				Help:    "Duration of a full policy evaluation",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"tenant_id"},
		),

		RiskScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authn_risk_score",
				Help:    "Computed risk score per evaluation",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"tenant_id"},
		),

		RiskTierTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_risk_tier_total",
				Help: "Evaluations bucketed into each risk tier",
			},
			[]string{"tenant_id", "tier"},
		),

		ExemptionsApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_exemptions_applied_total",
				Help: "Exemption rules that relaxed a decision",
			},
			[]string{"tenant_id", "exemption_type"},
		),

		ConfigErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authn_config_errors_total",
				Help: "Evaluations aborted by configuration errors",
			},
			[]string{"tenant_id", "error"}, // error: not_found, ambiguous, incomplete_action
		),

		RegistryPolicies: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "authn_registry_policies",
				Help: "Policies currently published per tenant",
			},
			[]string{"tenant_id"},
		),

		RegistryVersion: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "authn_registry_snapshot_version",
				Help: "Version stamp of the latest published registry snapshot",
			},
		),
	}
}

// RecordDecision records the outcome of one evaluation.
func (m *Metrics) RecordDecision(tenantID string, policyType policy.PolicyType, dec *Decision, seconds float64) {
	m.EvaluationsTotal.WithLabelValues(tenantID, string(policyType), string(dec.Verdict)).Inc()
	m.EvaluationDuration.WithLabelValues(tenantID).Observe(seconds)
	m.RiskScore.WithLabelValues(tenantID).Observe(dec.RiskScore)
	m.RiskTierTotal.WithLabelValues(tenantID, string(dec.RiskTier)).Inc()
	if dec.AppliedExemption != nil {
		m.ExemptionsApplied.WithLabelValues(tenantID, string(dec.AppliedExemption.Type)).Inc()
	}
}

// RecordConfigError records an evaluation aborted by misconfiguration.
func (m *Metrics) RecordConfigError(tenantID, kind string) {
	m.ConfigErrors.WithLabelValues(tenantID, kind).Inc()
}
