package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentra/backend/internal/policy"
	"github.com/sentra/backend/internal/risk"
	"github.com/sentra/backend/internal/signal"
)

// Resolver evaluates one policy against aggregated signals and a risk
// context. It is stateless apart from its scorer and the engine-level
// defaults used for RISK_BASED policies, and is safe for concurrent use.
type Resolver struct {
	scorer *risk.Scorer

	// RISK_BASED policies declare actions per tier but no weights or
	// thresholds of their own; these engine defaults supply them.
	defaultWeights    map[policy.FactorKind]float64
	defaultThresholds policy.Thresholds
}

// NewResolver creates a resolver. defaultWeights may be nil, in which case
// every present signal kind counts with weight 1 for RISK_BASED policies.
func NewResolver(scorer *risk.Scorer, defaultWeights map[policy.FactorKind]float64, defaultThresholds policy.Thresholds) *Resolver {
	return &Resolver{
		scorer:            scorer,
		defaultWeights:    defaultWeights,
		defaultThresholds: defaultThresholds,
	}
}

// Evaluate produces the final Decision for a policy. now is supplied by the
// caller so identical inputs always yield identical decisions. defaultMFA
// is the tenant's default MFA policy, consulted only when a STEP_UP policy
// delegates a non-high-risk operation; it may be nil.
func (r *Resolver) Evaluate(pol *policy.Policy, sig signal.AggregatedSignals, rc risk.Context, now time.Time, defaultMFA *policy.Policy) (*Decision, error) {
	dec := &Decision{
		ID:              uuid.New().String(),
		AppliedPolicyID: pol.ID,
		RiskTier:        policy.TierNone,
		EvaluatedAt:     now,
	}
	// Staleness exclusions are recoverable evidence issues, absorbed into
	// the verdict and surfaced in the reasons.
	dec.Reasons = append(dec.Reasons, sig.StaleReasons...)

	var err error
	switch pol.Type {
	case policy.TypeMFA:
		r.evalMFA(dec, pol.Rules.MFA, sig)
	case policy.TypeStepUp:
		r.evalStepUp(dec, pol, sig, rc, now, defaultMFA)
	case policy.TypeAdaptive:
		err = r.evalAdaptive(dec, pol, sig, rc)
	case policy.TypeRiskBased:
		err = r.evalRiskBased(dec, pol, sig, rc)
	case policy.TypeConditional:
		r.evalConditional(dec, pol, sig, rc, now)
	default:
		err = &UnknownPolicyTypeError{PolicyID: pol.ID, Type: pol.Type}
	}
	if err != nil {
		return nil, err
	}
	return dec, nil
}

// ── MFA ──

func (r *Resolver) evalMFA(dec *Decision, rules *policy.MFARules, sig signal.AggregatedSignals) {
	count, satisfied := qualifyingFactors(sig, rules.AllowedMethods, rules.MinimumFactorStrength, time.Time{})
	finishCounting(dec, count, rules.RequiredFactors, satisfied)
}

// ── STEP_UP ──

func (r *Resolver) evalStepUp(dec *Decision, pol *policy.Policy, sig signal.AggregatedSignals, rc risk.Context, now time.Time, defaultMFA *policy.Policy) {
	rules := pol.Rules.StepUp

	if !containsOperation(rules.HighRiskOperations, rc.Operation) {
		if defaultMFA != nil && defaultMFA.Rules.MFA != nil {
			dec.Reasons = append(dec.Reasons, fmt.Sprintf(
				"operation %q is not high-risk; delegated to default MFA policy %s", rc.Operation, defaultMFA.ID))
			dec.AppliedPolicyID = defaultMFA.ID
			r.evalMFA(dec, defaultMFA.Rules.MFA, sig)
			return
		}
		// No default MFA policy configured: apply the step-up policy's own
		// factor requirements without the freshness constraint.
		dec.Reasons = append(dec.Reasons, fmt.Sprintf(
			"operation %q is not high-risk and tenant has no default MFA policy; applying base requirements", rc.Operation))
		count, satisfied := qualifyingFactors(sig, rules.AllowedMethods, rules.MinimumFactorStrength, time.Time{})
		finishCounting(dec, count, rules.RequiredFactors, satisfied)
		return
	}

	// High-risk operation: only factors observed within the freshness
	// window count; older ones are treated as absent.
	freshSince := now.Add(-rules.MaxLastFactorAge)
	freshCount, satisfied := qualifyingFactors(sig, rules.AllowedMethods, rules.MinimumFactorStrength, freshSince)
	staleCount, _ := qualifyingFactors(sig, rules.AllowedMethods, rules.MinimumFactorStrength, time.Time{})

	if freshCount >= rules.RequiredFactors {
		finishCounting(dec, freshCount, rules.RequiredFactors, satisfied)
		return
	}

	expiredOnly := staleCount > freshCount
	if expiredOnly {
		dec.Reasons = append(dec.Reasons, fmt.Sprintf(
			"%d qualifying factor(s) exceeded max_last_factor_age %s and were treated as absent",
			staleCount-freshCount, rules.MaxLastFactorAge))
	}

	// A factor that merely expired, or a policy that demands fresh
	// authentication, asks the caller to prompt for a new factor rather
	// than fail outright.
	if expiredOnly || rules.RequireFreshAuthentication {
		dec.Verdict = VerdictStepUpRequired
		dec.SatisfiedFactors = satisfied
		dec.Reasons = append(dec.Reasons, fmt.Sprintf(
			"fresh distinct factor kinds: %d < %d; step-up authentication required", freshCount, rules.RequiredFactors))
		return
	}

	finishCounting(dec, freshCount, rules.RequiredFactors, satisfied)
}

// ── ADAPTIVE / RISK_BASED ──

func (r *Resolver) evalAdaptive(dec *Decision, pol *policy.Policy, sig signal.AggregatedSignals, rc risk.Context) error {
	rules := pol.Rules.Adaptive

	score, scoreReasons := r.scorer.Score(rules.RiskFactors, rc)
	tier := risk.Bucket(score, rules.RiskThresholds)
	dec.RiskScore = score
	dec.RiskTier = tier
	dec.Reasons = append(dec.Reasons, scoreReasons...)
	dec.Reasons = append(dec.Reasons, fmt.Sprintf("risk score %.1f resolved to tier %s", score, tier))

	action, err := tierAction(pol.ID, rules.Actions, tier)
	if err != nil {
		return err
	}
	r.evalAction(dec, action, sig)
	return nil
}

func (r *Resolver) evalRiskBased(dec *Decision, pol *policy.Policy, sig signal.AggregatedSignals, rc risk.Context) error {
	rules := pol.Rules.RiskBased

	weights := r.defaultWeights
	if len(weights) == 0 {
		// Fall back to unit weight per present signal kind.
		weights = make(map[policy.FactorKind]float64, len(rc.Signals))
		for kind := range rc.Signals {
			weights[kind] = 1
		}
	}

	score, scoreReasons := r.scorer.Score(weights, rc)
	tier := risk.Bucket(score, r.defaultThresholds)
	dec.RiskScore = score
	dec.RiskTier = tier
	dec.Reasons = append(dec.Reasons, scoreReasons...)
	dec.Reasons = append(dec.Reasons, fmt.Sprintf("risk score %.1f resolved to tier %s", score, tier))

	action, err := tierAction(pol.ID, rules.RiskLevels, tier)
	if err != nil {
		return err
	}
	r.evalAction(dec, action, sig)
	return nil
}

// evalAction applies MFA-style counting against the ActionSpec resolved
// for the policy's risk tier.
func (r *Resolver) evalAction(dec *Decision, action policy.ActionSpec, sig signal.AggregatedSignals) {
	count, satisfied := qualifyingFactors(sig, action.AllowedMethods, action.MinimumFactorStrength, time.Time{})
	finishCounting(dec, count, action.RequiredFactors, satisfied)
}

// tierAction looks up the action for a tier. TierNone falls back to the
// LOW action unless the policy declares a distinct NONE action.
func tierAction(policyID string, actions map[policy.RiskTier]policy.ActionSpec, tier policy.RiskTier) (policy.ActionSpec, error) {
	if action, ok := actions[tier]; ok {
		return action, nil
	}
	if tier == policy.TierNone {
		if action, ok := actions[policy.TierLow]; ok {
			return action, nil
		}
	}
	return policy.ActionSpec{}, &IncompleteActionSpecError{PolicyID: policyID, Tier: tier}
}

// ── CONDITIONAL ──

func (r *Resolver) evalConditional(dec *Decision, pol *policy.Policy, sig signal.AggregatedSignals, rc risk.Context, now time.Time) {
	rules := pol.Rules.Conditional

	action := rules.BaseRequirements
	for _, key := range rc.ContextKeys {
		if override, ok := rules.ContextRules[key]; ok {
			action = override
			dec.Reasons = append(dec.Reasons, fmt.Sprintf("context rule %q applied", key))
			break
		}
	}

	// Exemptions only ever relax a decision: a match reduces the required
	// factor count to zero, nothing else changes.
	required := action.RequiredFactors
	for i := range rules.Exemptions {
		ex := rules.Exemptions[i]
		matched, reason := exemptionApplies(ex, rc, now)
		if !matched {
			continue
		}
		if required > 0 {
			required = 0
		}
		dec.AppliedExemption = &ex
		dec.Reasons = append(dec.Reasons, reason)
		break
	}

	count, satisfied := qualifyingFactors(sig, action.AllowedMethods, action.MinimumFactorStrength, time.Time{})
	finishCounting(dec, count, required, satisfied)
}

func exemptionApplies(ex policy.ExemptionRule, rc risk.Context, now time.Time) (bool, string) {
	switch ex.Type {
	case policy.ExemptLowValuePayment:
		lv := ex.LowValuePayment
		if lv == nil || rc.Amount == nil || !rc.Amount.LessThan(lv.ThresholdAmount) {
			return false, ""
		}
		if lv.CumulativeLimit.IsPositive() && rc.CumulativeAmount.Add(*rc.Amount).GreaterThan(lv.CumulativeLimit) {
			return false, ""
		}
		if lv.ConsecutiveTxLimit > 0 && rc.ConsecutiveTxCount >= lv.ConsecutiveTxLimit {
			return false, ""
		}
		return true, fmt.Sprintf("low-value payment exemption applied: amount %s under threshold %s",
			rc.Amount.String(), lv.ThresholdAmount.String())

	case policy.ExemptTrustedBeneficiary:
		tb := ex.TrustedBeneficiary
		if tb == nil || !rc.IsTrustedBeneficiary {
			return false, ""
		}
		if tb.TrustPeriod > 0 && (rc.TrustedSince.IsZero() || now.Sub(rc.TrustedSince) > tb.TrustPeriod) {
			return false, ""
		}
		return true, "trusted beneficiary exemption applied"

	case policy.ExemptTransactionRiskAnalysis:
		tra := ex.TransactionRiskAnalysis
		if tra == nil || rc.Amount == nil || rc.FraudRate >= tra.FraudRateThreshold {
			return false, ""
		}
		limit, ok := tra.AmountThresholds[rc.Channel]
		if !ok || !rc.Amount.LessThan(limit) {
			return false, ""
		}
		return true, fmt.Sprintf("transaction risk analysis exemption applied: fraud rate %.4f below %.4f on channel %s",
			rc.FraudRate, tra.FraudRateThreshold, rc.Channel)
	}
	return false, ""
}

// ── shared counting ──

// qualifyingFactors counts distinct factor kinds with valid evidence whose
// method is allowed, whose strength meets the minimum, and — when
// freshSince is non-zero — that were observed at or after freshSince.
// Returns the count and the evidence that satisfied it, at most one per
// kind.
func qualifyingFactors(sig signal.AggregatedSignals, allowed []policy.MethodID, minStrength policy.StrengthTier, freshSince time.Time) (int, []signal.FactorEvidence) {
	allowedSet := make(map[policy.MethodID]struct{}, len(allowed))
	for _, m := range allowed {
		allowedSet[m] = struct{}{}
	}

	seen := make(map[policy.FactorKind]struct{})
	var satisfied []signal.FactorEvidence
	for _, ev := range sig.Evidence {
		if !ev.Valid {
			continue
		}
		if _, ok := allowedSet[ev.MethodID]; !ok {
			continue
		}
		if !ev.Strength.AtLeast(minStrength) {
			continue
		}
		if !freshSince.IsZero() && ev.ObservedAt.Before(freshSince) {
			continue
		}
		if _, dup := seen[ev.Kind]; dup {
			continue
		}
		seen[ev.Kind] = struct{}{}
		satisfied = append(satisfied, ev)
	}
	return len(seen), satisfied
}

func finishCounting(dec *Decision, count, required int, satisfied []signal.FactorEvidence) {
	if count >= required {
		dec.Verdict = VerdictAccept
		dec.SatisfiedFactors = satisfied
		dec.Reasons = append(dec.Reasons, fmt.Sprintf("satisfied with %d distinct factor kind(s), %d required", count, required))
		return
	}
	dec.Verdict = VerdictReject
	dec.SatisfiedFactors = satisfied
	dec.Reasons = append(dec.Reasons, fmt.Sprintf("insufficient distinct factor kinds: %d < %d", count, required))
}

func containsOperation(ops []policy.OperationID, op policy.OperationID) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
