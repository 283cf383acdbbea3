// Package decision resolves an aggregated signal set and risk context
// against a selected policy into a final verdict.
//
// REJECT and STEP_UP_REQUIRED are first-class outcomes, not errors. The
// only errors this package produces are engine misconfiguration:
// an ADAPTIVE policy whose action map omits a reachable tier, or a policy
// shape the resolver does not know.
package decision

import (
	"fmt"
	"time"

	"github.com/sentra/backend/internal/policy"
	"github.com/sentra/backend/internal/signal"
)

// Verdict is the outcome of one evaluation.
type Verdict string

const (
	VerdictAccept         Verdict = "ACCEPT"
	VerdictReject         Verdict = "REJECT"
	VerdictStepUpRequired Verdict = "STEP_UP_REQUIRED"
)

// Decision is the immutable result of a single evaluation call. It is
// created once, returned to the caller, and never persisted here — audit
// persistence belongs to an external sink.
type Decision struct {
	ID               string                  `json:"id"`
	Verdict          Verdict                 `json:"verdict"`
	SatisfiedFactors []signal.FactorEvidence `json:"satisfied_factors,omitempty"`
	RiskScore        float64                 `json:"risk_score"`
	RiskTier         policy.RiskTier         `json:"risk_tier"`
	AppliedPolicyID  string                  `json:"applied_policy_id,omitempty"`
	AppliedExemption *policy.ExemptionRule   `json:"applied_exemption,omitempty"`
	Reasons          []string                `json:"reasons"`
	EvaluatedAt      time.Time               `json:"evaluated_at"`
}

// IncompleteActionSpecError reports an ADAPTIVE or RISK_BASED policy whose
// action map omits a tier its thresholds can reach. A configuration defect,
// fatal to the request and never retried automatically.
type IncompleteActionSpecError struct {
	PolicyID string
	Tier     policy.RiskTier
}

func (e *IncompleteActionSpecError) Error() string {
	return fmt.Sprintf("policy %s defines no action for reachable risk tier %s", e.PolicyID, e.Tier)
}

// UnknownPolicyTypeError reports a policy shape the resolver cannot
// evaluate. Validation rejects these at write time; seeing one here means
// the policy bypassed the validator.
type UnknownPolicyTypeError struct {
	PolicyID string
	Type     policy.PolicyType
}

func (e *UnknownPolicyTypeError) Error() string {
	return fmt.Sprintf("policy %s has unknown type %q", e.PolicyID, e.Type)
}
