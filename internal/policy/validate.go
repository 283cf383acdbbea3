package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationResult collects every structural error found in a policy.
// All errors are gathered before returning so a misconfigured policy can be
// fixed in one pass instead of one error at a time.
type ValidationResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

func (r *ValidationResult) addf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the structural contract of a policy. It runs on both
// insert and update, never at evaluation time: a policy that fails here is
// never published to a registry snapshot.
func Validate(p *Policy) ValidationResult {
	var res ValidationResult

	if p.TenantID == "" {
		res.addf("tenant_id is required")
	}
	if p.Name == "" {
		res.addf("name is required")
	}

	known := false
	for _, t := range KnownTypes {
		if p.Type == t {
			known = true
			break
		}
	}
	if !known {
		// A brand-new type value is a single error; per-variant checks
		// would be meaningless noise on top of it.
		res.addf("unknown policy type: %q", p.Type)
		res.OK = false
		return res
	}

	validateVariantExclusivity(p, &res)

	switch p.Type {
	case TypeMFA:
		if p.Rules.MFA == nil {
			res.addf("MFA policy requires mfa rules")
		} else {
			validateFactorRequirements(p.Rules.MFA.RequiredFactors, p.Rules.MFA.AllowedMethods, p.Rules.MFA.MinimumFactorStrength, "mfa", &res)
		}
	case TypeStepUp:
		if p.Rules.StepUp == nil {
			res.addf("STEP_UP policy requires step_up rules")
		} else {
			su := p.Rules.StepUp
			validateFactorRequirements(su.RequiredFactors, su.AllowedMethods, su.MinimumFactorStrength, "step_up", &res)
			if su.MaxLastFactorAge <= 0 {
				res.addf("step_up.max_last_factor_age must be positive")
			}
			if len(su.HighRiskOperations) == 0 {
				res.addf("step_up.high_risk_operations must not be empty")
			}
		}
	case TypeAdaptive:
		if p.Rules.Adaptive == nil {
			res.addf("ADAPTIVE policy requires adaptive rules")
		} else {
			validateAdaptive(p.Rules.Adaptive, &res)
		}
	case TypeRiskBased:
		if p.Rules.RiskBased == nil {
			res.addf("RISK_BASED policy requires risk_based rules")
		} else {
			validateRiskBased(p.Rules.RiskBased, &res)
		}
	case TypeConditional:
		if p.Rules.Conditional == nil {
			res.addf("CONDITIONAL policy requires conditional rules")
		} else {
			validateConditional(p.Rules.Conditional, &res)
		}
	}

	res.OK = len(res.Errors) == 0
	return res
}

// validateVariantExclusivity flags rule-set variants that do not match the
// declared type. Exactly one variant may be populated.
func validateVariantExclusivity(p *Policy, res *ValidationResult) {
	variants := map[PolicyType]bool{
		TypeMFA:         p.Rules.MFA != nil,
		TypeStepUp:      p.Rules.StepUp != nil,
		TypeAdaptive:    p.Rules.Adaptive != nil,
		TypeRiskBased:   p.Rules.RiskBased != nil,
		TypeConditional: p.Rules.Conditional != nil,
	}
	for t, present := range variants {
		if present && t != p.Type {
			res.addf("rule set variant %s does not match policy type %s", t, p.Type)
		}
	}
}

func validateFactorRequirements(required int, methods []MethodID, strength StrengthTier, prefix string, res *ValidationResult) {
	if required < 1 {
		res.addf("%s.required_factors must be at least 1, got %d", prefix, required)
	}
	if len(methods) == 0 {
		res.addf("%s.allowed_methods must not be empty", prefix)
	}
	for _, m := range methods {
		if m.Kind() == "" {
			res.addf("%s.allowed_methods contains method %q with unrecognized kind prefix", prefix, m)
		}
	}
	if !strength.Valid() {
		res.addf("%s.minimum_factor_strength %q is not a known strength tier", prefix, strength)
	}
	if distinct := DistinctKinds(methods); required > distinct {
		res.addf("%s.required_factors %d exceeds the %d distinct factor kinds in allowed_methods", prefix, required, distinct)
	}
}

func validateActionSpec(a ActionSpec, prefix string, res *ValidationResult) {
	if a.RequiredFactors < 0 {
		res.addf("%s.required_factors must not be negative, got %d", prefix, a.RequiredFactors)
	}
	if a.RequiredFactors > 0 {
		if len(a.AllowedMethods) == 0 {
			res.addf("%s.allowed_methods must not be empty when factors are required", prefix)
		}
		if !a.MinimumFactorStrength.Valid() {
			res.addf("%s.minimum_factor_strength %q is not a known strength tier", prefix, a.MinimumFactorStrength)
		}
		if distinct := DistinctKinds(a.AllowedMethods); a.RequiredFactors > distinct {
			res.addf("%s.required_factors %d exceeds the %d distinct factor kinds in allowed_methods", prefix, a.RequiredFactors, distinct)
		}
	}
}

func validateAdaptive(a *AdaptiveRules, res *ValidationResult) {
	if len(a.RiskFactors) == 0 {
		res.addf("adaptive.risk_factors must not be empty")
	}
	for kind, w := range a.RiskFactors {
		if w < 0 {
			res.addf("adaptive.risk_factors[%s] must not be negative, got %.2f", kind, w)
		}
	}
	t := a.RiskThresholds
	if !(t.Low < t.Medium && t.Medium < t.High) {
		res.addf("adaptive.risk_thresholds must be strictly ordered low < medium < high, got %.2f/%.2f/%.2f", t.Low, t.Medium, t.High)
	}
	// LOW, MEDIUM and HIGH are always reachable; NONE falls back to the
	// LOW action unless declared explicitly.
	for _, tier := range []RiskTier{TierLow, TierMedium, TierHigh} {
		spec, ok := a.Actions[tier]
		if !ok {
			res.addf("adaptive.actions missing reachable tier %s", tier)
			continue
		}
		validateActionSpec(spec, fmt.Sprintf("adaptive.actions[%s]", tier), res)
	}
	if spec, ok := a.Actions[TierNone]; ok {
		validateActionSpec(spec, "adaptive.actions[NONE]", res)
	}
}

func validateRiskBased(r *RiskBasedRules, res *ValidationResult) {
	if len(r.RiskLevels) == 0 {
		res.addf("risk_based.risk_levels must not be empty")
		return
	}
	for _, tier := range []RiskTier{TierLow, TierMedium, TierHigh} {
		spec, ok := r.RiskLevels[tier]
		if !ok {
			res.addf("risk_based.risk_levels missing tier %s", tier)
			continue
		}
		validateActionSpec(spec, fmt.Sprintf("risk_based.risk_levels[%s]", tier), res)
	}
	if spec, ok := r.RiskLevels[TierNone]; ok {
		validateActionSpec(spec, "risk_based.risk_levels[NONE]", res)
	}
}

func validateConditional(c *ConditionalRules, res *ValidationResult) {
	validateActionSpec(c.BaseRequirements, "conditional.base_requirements", res)
	if c.BaseRequirements.RequiredFactors < 1 {
		res.addf("conditional.base_requirements.required_factors must be at least 1, got %d", c.BaseRequirements.RequiredFactors)
	}
	for key, spec := range c.ContextRules {
		if key == "" {
			res.addf("conditional.context_rules contains an empty context key")
		}
		validateActionSpec(spec, fmt.Sprintf("conditional.context_rules[%s]", key), res)
	}
	for i, ex := range c.Exemptions {
		validateExemption(ex, fmt.Sprintf("conditional.exemptions[%d]", i), res)
	}
}

func validateExemption(ex ExemptionRule, prefix string, res *ValidationResult) {
	switch ex.Type {
	case ExemptLowValuePayment:
		if ex.LowValuePayment == nil {
			res.addf("%s: low_value_payment body is required", prefix)
			return
		}
		if !ex.LowValuePayment.ThresholdAmount.GreaterThan(decimal.Zero) {
			res.addf("%s: threshold_amount must be positive", prefix)
		}
		if ex.LowValuePayment.ConsecutiveTxLimit < 0 {
			res.addf("%s: consecutive_tx_limit must not be negative", prefix)
		}
	case ExemptTrustedBeneficiary:
		if ex.TrustedBeneficiary == nil {
			res.addf("%s: trusted_beneficiary body is required", prefix)
			return
		}
		if ex.TrustedBeneficiary.TrustPeriod < 0 {
			res.addf("%s: trust_period must not be negative", prefix)
		}
	case ExemptTransactionRiskAnalysis:
		if ex.TransactionRiskAnalysis == nil {
			res.addf("%s: transaction_risk_analysis body is required", prefix)
			return
		}
		tra := ex.TransactionRiskAnalysis
		if tra.FraudRateThreshold <= 0 {
			res.addf("%s: fraud_rate_threshold must be positive", prefix)
		}
		if len(tra.AmountThresholds) == 0 {
			res.addf("%s: amount_thresholds must not be empty", prefix)
		}
	default:
		res.addf("%s: unknown exemption type %q", prefix, ex.Type)
	}
}
