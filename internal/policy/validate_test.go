package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMFAPolicy() *Policy {
	return &Policy{
		ID:       "pol-mfa-1",
		TenantID: "tenant-a",
		Name:     "baseline-mfa",
		Type:     TypeMFA,
		Enabled:  true,
		Priority: 100,
		Rules: RuleSet{
			MFA: &MFARules{
				RequiredFactors:       2,
				AllowedMethods:        []MethodID{"KB-01-02", "PB-03-02"},
				MinimumFactorStrength: StrengthIntermediate,
			},
		},
	}
}

func TestValidateMFAPolicy(t *testing.T) {
	res := Validate(validMFAPolicy())
	assert.True(t, res.OK)
	assert.Empty(t, res.Errors)
}

func TestValidateUnknownTypeIsSingleError(t *testing.T) {
	p := validMFAPolicy()
	p.Type = "QUANTUM"
	res := Validate(p)
	require.False(t, res.OK)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "unknown policy type")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	p := &Policy{
		Type: TypeMFA,
		Rules: RuleSet{
			MFA: &MFARules{
				RequiredFactors:       0,
				AllowedMethods:        nil,
				MinimumFactorStrength: "TITANIUM",
			},
		},
	}
	res := Validate(p)
	require.False(t, res.OK)
	// tenant_id, name, required_factors, allowed_methods, strength
	assert.GreaterOrEqual(t, len(res.Errors), 5)
}

func TestValidateVariantMustMatchType(t *testing.T) {
	p := validMFAPolicy()
	p.Rules.Adaptive = &AdaptiveRules{
		RiskFactors:    map[FactorKind]float64{KindDevice: 40},
		RiskThresholds: Thresholds{Low: 30, Medium: 60, High: 80},
	}
	res := Validate(p)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "does not match policy type")
}

func TestValidateRequiredFactorsVsDistinctKinds(t *testing.T) {
	p := validMFAPolicy()
	// Two methods, both knowledge: only one distinct kind available.
	p.Rules.MFA.AllowedMethods = []MethodID{"KB-01-02", "KB-09-01"}
	res := Validate(p)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "exceeds the 1 distinct factor kinds")
}

func TestValidateAdaptiveThresholdOrdering(t *testing.T) {
	p := &Policy{
		TenantID: "tenant-a",
		Name:     "adaptive",
		Type:     TypeAdaptive,
		Rules: RuleSet{
			Adaptive: &AdaptiveRules{
				RiskFactors:    map[FactorKind]float64{KindDevice: 40},
				RiskThresholds: Thresholds{Low: 60, Medium: 30, High: 80},
				Actions: map[RiskTier]ActionSpec{
					TierLow:    {},
					TierMedium: {},
					TierHigh:   {},
				},
			},
		},
	}
	res := Validate(p)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "strictly ordered low < medium < high")
}

func TestValidateAdaptiveMissingTierAction(t *testing.T) {
	p := &Policy{
		TenantID: "tenant-a",
		Name:     "adaptive",
		Type:     TypeAdaptive,
		Rules: RuleSet{
			Adaptive: &AdaptiveRules{
				RiskFactors:    map[FactorKind]float64{KindGeo: 70},
				RiskThresholds: Thresholds{Low: 30, Medium: 60, High: 80},
				Actions: map[RiskTier]ActionSpec{
					TierLow: {},
					TierHigh: {
						RequiredFactors:       1,
						AllowedMethods:        []MethodID{"PB-03-02"},
						MinimumFactorStrength: StrengthAdvanced,
					},
				},
			},
		},
	}
	res := Validate(p)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "missing reachable tier MEDIUM")
}

func TestValidateStepUpRequiresPositiveFactorAge(t *testing.T) {
	p := &Policy{
		TenantID: "tenant-a",
		Name:     "stepup",
		Type:     TypeStepUp,
		Rules: RuleSet{
			StepUp: &StepUpRules{
				RequiredFactors:       1,
				AllowedMethods:        []MethodID{"PB-03-02"},
				MinimumFactorStrength: StrengthAdvanced,
				HighRiskOperations:    []OperationID{"wire_transfer"},
			},
		},
	}
	res := Validate(p)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "max_last_factor_age must be positive")
}

func TestValidateStepUpRequiresHighRiskOperations(t *testing.T) {
	p := &Policy{
		TenantID: "tenant-a",
		Name:     "stepup",
		Type:     TypeStepUp,
		Rules: RuleSet{
			StepUp: &StepUpRules{
				RequiredFactors:       1,
				AllowedMethods:        []MethodID{"PB-03-02"},
				MinimumFactorStrength: StrengthAdvanced,
				MaxLastFactorAge:      5 * time.Minute,
			},
		},
	}
	res := Validate(p)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "high_risk_operations must not be empty")
}

func TestValidateConditionalExemptions(t *testing.T) {
	p := &Policy{
		TenantID: "tenant-a",
		Name:     "cond",
		Type:     TypeConditional,
		Rules: RuleSet{
			Conditional: &ConditionalRules{
				BaseRequirements: ActionSpec{
					RequiredFactors:       1,
					AllowedMethods:        []MethodID{"KB-01-02"},
					MinimumFactorStrength: StrengthBasic,
				},
				Exemptions: []ExemptionRule{
					{Type: ExemptLowValuePayment}, // missing body
					{Type: "MYSTERY"},
				},
			},
		},
	}
	res := Validate(p)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "low_value_payment body is required")
	assert.Contains(t, res.Errors[1], "unknown exemption type")
}

func TestValidateConditionalWellFormed(t *testing.T) {
	p := &Policy{
		TenantID: "tenant-a",
		Name:     "psd2",
		Type:     TypeConditional,
		Rules: RuleSet{
			Conditional: &ConditionalRules{
				BaseRequirements: ActionSpec{
					RequiredFactors:       2,
					AllowedMethods:        []MethodID{"KB-01-02", "PB-03-02"},
					MinimumFactorStrength: StrengthIntermediate,
				},
				ContextRules: map[string]ActionSpec{
					"hospital_network": {
						RequiredFactors:       1,
						AllowedMethods:        []MethodID{"PB-03-02"},
						MinimumFactorStrength: StrengthBasic,
					},
				},
				Exemptions: []ExemptionRule{
					{
						Type: ExemptLowValuePayment,
						LowValuePayment: &LowValuePaymentRule{
							ThresholdAmount:    decimal.NewFromInt(30),
							CumulativeLimit:    decimal.NewFromInt(100),
							ConsecutiveTxLimit: 5,
						},
					},
					{
						Type:               ExemptTrustedBeneficiary,
						TrustedBeneficiary: &TrustedBeneficiaryRule{TrustPeriod: 90 * 24 * time.Hour},
					},
				},
			},
		},
	}
	res := Validate(p)
	assert.True(t, res.OK, "errors: %v", res.Errors)
}

func TestMethodKindPrefixes(t *testing.T) {
	assert.Equal(t, KindKnowledge, MethodID("KB-01-02").Kind())
	assert.Equal(t, KindPossession, MethodID("PB-03-02").Kind())
	assert.Equal(t, KindBiometric, MethodID("BI-02-01").Kind())
	assert.Equal(t, FactorKind(""), MethodID("XX-00-00").Kind())
	assert.Equal(t, 2, DistinctKinds([]MethodID{"KB-01-02", "KB-02-01", "PB-03-02"}))
}

func TestStrengthOrdering(t *testing.T) {
	assert.True(t, StrengthAdvanced.AtLeast(StrengthIntermediate))
	assert.True(t, StrengthAdvanced.AtLeast(StrengthAdvanced))
	assert.False(t, StrengthBasic.AtLeast(StrengthVeryAdvanced))
	assert.False(t, StrengthTier("TITANIUM").Valid())
}
