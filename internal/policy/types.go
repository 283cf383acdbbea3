// Package policy defines the authentication policy model: the typed rule
// sets for each policy type (MFA, STEP_UP, ADAPTIVE, RISK_BASED,
// CONDITIONAL), action specs, exemption rules, and the ordered vocabulary
// (factor kinds, strength tiers, risk tiers) shared by the rest of the
// engine.
//
// A Policy carries exactly one RuleSet variant matching its Type. The
// Validate function in validate.go enforces that invariant at write-time so
// the decision resolver never sees a malformed policy.
package policy

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PolicyType enumerates the supported policy shapes.
type PolicyType string

const (
	TypeMFA         PolicyType = "MFA"
	TypeStepUp      PolicyType = "STEP_UP"
	TypeAdaptive    PolicyType = "ADAPTIVE"
	TypeRiskBased   PolicyType = "RISK_BASED"
	TypeConditional PolicyType = "CONDITIONAL"
)

// KnownTypes lists every valid PolicyType.
var KnownTypes = []PolicyType{TypeMFA, TypeStepUp, TypeAdaptive, TypeRiskBased, TypeConditional}

// FactorKind classifies a piece of authentication evidence.
type FactorKind string

const (
	KindKnowledge  FactorKind = "KNOWLEDGE"
	KindPossession FactorKind = "POSSESSION"
	KindBiometric  FactorKind = "BIOMETRIC"
	KindBehavioral FactorKind = "BEHAVIORAL"
	KindDevice     FactorKind = "DEVICE"
	KindGeo        FactorKind = "GEO"
	KindBlockchain FactorKind = "BLOCKCHAIN"
	KindAI         FactorKind = "AI"
)

// MethodID identifies a concrete verification method, e.g. "KB-01-02".
// The two-letter prefix encodes the factor kind the method belongs to.
type MethodID string

var methodKindPrefixes = map[string]FactorKind{
	"KB": KindKnowledge,
	"PB": KindPossession,
	"BI": KindBiometric,
	"BH": KindBehavioral,
	"DV": KindDevice,
	"GE": KindGeo,
	"BC": KindBlockchain,
	"AI": KindAI,
}

// Kind returns the FactorKind encoded in the method prefix, or "" if the
// prefix is not recognized.
func (m MethodID) Kind() FactorKind {
	parts := strings.SplitN(string(m), "-", 2)
	return methodKindPrefixes[parts[0]]
}

// DistinctKinds returns the number of distinct factor kinds represented in
// a method set. Unrecognized methods contribute nothing.
func DistinctKinds(methods []MethodID) int {
	kinds := make(map[FactorKind]struct{})
	for _, m := range methods {
		if k := m.Kind(); k != "" {
			kinds[k] = struct{}{}
		}
	}
	return len(kinds)
}

// OperationID identifies a target operation, e.g. "wire_transfer".
type OperationID string

// ChannelKind identifies the channel a request arrived on.
type ChannelKind string

const (
	ChannelWeb    ChannelKind = "WEB"
	ChannelMobile ChannelKind = "MOBILE"
	ChannelAPI    ChannelKind = "API"
	ChannelBranch ChannelKind = "BRANCH"
)

// StrengthTier is the ordered classification of factor robustness.
type StrengthTier string

const (
	StrengthBasic        StrengthTier = "BASIC"
	StrengthIntermediate StrengthTier = "INTERMEDIATE"
	StrengthAdvanced     StrengthTier = "ADVANCED"
	StrengthVeryAdvanced StrengthTier = "VERY_ADVANCED"
)

var strengthRank = map[StrengthTier]int{
	StrengthBasic:        1,
	StrengthIntermediate: 2,
	StrengthAdvanced:     3,
	StrengthVeryAdvanced: 4,
}

// Valid reports whether the tier is one of the four known tiers.
func (s StrengthTier) Valid() bool { return strengthRank[s] != 0 }

// AtLeast reports whether s meets or exceeds min in the strength order.
func (s StrengthTier) AtLeast(min StrengthTier) bool {
	return strengthRank[s] >= strengthRank[min]
}

// MaxStrength returns the stronger of the two tiers.
func MaxStrength(a, b StrengthTier) StrengthTier {
	if strengthRank[a] >= strengthRank[b] {
		return a
	}
	return b
}

// RiskTier is the bucketed outcome of risk scoring.
type RiskTier string

const (
	TierNone   RiskTier = "NONE"
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

var tierRank = map[RiskTier]int{
	TierNone:   0,
	TierLow:    1,
	TierMedium: 2,
	TierHigh:   3,
}

// AtLeast reports whether t meets or exceeds min in the tier order.
func (t RiskTier) AtLeast(min RiskTier) bool { return tierRank[t] >= tierRank[min] }

// ActionSpec describes the factor requirements attached to a risk tier or
// conditional rule.
type ActionSpec struct {
	RequiredFactors       int           `json:"required_factors"`
	AllowedMethods        []MethodID    `json:"allowed_methods"`
	MinimumFactorStrength StrengthTier  `json:"minimum_factor_strength"`
	MaxSessionDuration    time.Duration `json:"max_session_duration,omitempty"`
}

// Thresholds holds the ordered risk-score cut points. Scores at or above a
// bound resolve to that bound's tier.
type Thresholds struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// MFARules configures a plain multi-factor policy.
type MFARules struct {
	RequiredFactors       int          `json:"required_factors"`
	AllowedMethods        []MethodID   `json:"allowed_methods"`
	MinimumFactorStrength StrengthTier `json:"minimum_factor_strength"`
}

// StepUpRules configures a step-up policy: MFA requirements plus a list of
// high-risk operations that demand fresh evidence.
type StepUpRules struct {
	RequiredFactors            int           `json:"required_factors"`
	AllowedMethods             []MethodID    `json:"allowed_methods"`
	MinimumFactorStrength      StrengthTier  `json:"minimum_factor_strength"`
	HighRiskOperations         []OperationID `json:"high_risk_operations"`
	MaxLastFactorAge           time.Duration `json:"max_last_factor_age"`
	RequireFreshAuthentication bool          `json:"require_fresh_authentication"`
}

// AdaptiveRules configures an adaptive policy: per-kind risk weights,
// threshold cut points, and an action per reachable tier.
type AdaptiveRules struct {
	RiskFactors    map[FactorKind]float64  `json:"risk_factors"`
	RiskThresholds Thresholds              `json:"risk_thresholds"`
	Actions        map[RiskTier]ActionSpec `json:"actions"`
}

// RiskBasedRules maps each risk tier directly to an action.
type RiskBasedRules struct {
	RiskLevels map[RiskTier]ActionSpec `json:"risk_levels"`
}

// ConditionalRules configures a conditional policy: base requirements,
// context-key overrides, and exemptions that may relax the requirements.
type ConditionalRules struct {
	BaseRequirements ActionSpec            `json:"base_requirements"`
	ContextRules     map[string]ActionSpec `json:"context_rules,omitempty"`
	Exemptions       []ExemptionRule       `json:"exemptions,omitempty"`
}

// RuleSet is the closed tagged union of per-type rules. Exactly one variant
// is populated, matching the owning policy's Type.
type RuleSet struct {
	MFA         *MFARules         `json:"mfa,omitempty"`
	StepUp      *StepUpRules      `json:"step_up,omitempty"`
	Adaptive    *AdaptiveRules    `json:"adaptive,omitempty"`
	RiskBased   *RiskBasedRules   `json:"risk_based,omitempty"`
	Conditional *ConditionalRules `json:"conditional,omitempty"`
}

// ExemptionType enumerates the supported exemption rule shapes.
type ExemptionType string

const (
	ExemptLowValuePayment         ExemptionType = "LOW_VALUE_PAYMENT"
	ExemptTrustedBeneficiary      ExemptionType = "TRUSTED_BENEFICIARY"
	ExemptTransactionRiskAnalysis ExemptionType = "TRANSACTION_RISK_ANALYSIS"
)

// LowValuePaymentRule exempts payments under a per-transaction threshold,
// bounded by cumulative and consecutive-transaction limits.
type LowValuePaymentRule struct {
	ThresholdAmount    decimal.Decimal `json:"threshold_amount"`
	CumulativeLimit    decimal.Decimal `json:"cumulative_limit"`
	ConsecutiveTxLimit int             `json:"consecutive_tx_limit"`
}

// TrustedBeneficiaryRule exempts transfers to beneficiaries the user marked
// trusted within the trust period.
type TrustedBeneficiaryRule struct {
	TrustPeriod time.Duration `json:"trust_period"`
}

// TransactionRiskAnalysisRule exempts transactions when the provider's fraud
// rate stays below threshold and the amount stays under the per-channel cap.
type TransactionRiskAnalysisRule struct {
	FraudRateThreshold float64                         `json:"fraud_rate_threshold"`
	AmountThresholds   map[ChannelKind]decimal.Decimal `json:"amount_thresholds"`
}

// ExemptionRule is the tagged union of exemption shapes. Exactly one variant
// is populated, matching Type.
type ExemptionRule struct {
	Type                    ExemptionType                `json:"type"`
	LowValuePayment         *LowValuePaymentRule         `json:"low_value_payment,omitempty"`
	TrustedBeneficiary      *TrustedBeneficiaryRule      `json:"trusted_beneficiary,omitempty"`
	TransactionRiskAnalysis *TransactionRiskAnalysisRule `json:"transaction_risk_analysis,omitempty"`
}

// Policy is a named, tenant-scoped authentication policy.
type Policy struct {
	ID                        string     `json:"id"`
	TenantID                  string     `json:"tenant_id"`
	Name                      string     `json:"name"`
	Type                      PolicyType `json:"type"`
	Rules                     RuleSet    `json:"rules"`
	AppliesToUserTypes        []string   `json:"applies_to_user_types,omitempty"`
	AppliesToSecurityProfiles []string   `json:"applies_to_security_profiles,omitempty"`
	AppliesToRegions          []string   `json:"applies_to_regions,omitempty"`
	Enabled                   bool       `json:"enabled"`
	Priority                  int        `json:"priority"`
	CreatedAt                 time.Time  `json:"created_at,omitempty"`
	UpdatedAt                 time.Time  `json:"updated_at,omitempty"`
}

// Clone returns a deep copy so registry snapshots never alias caller data.
func (p *Policy) Clone() *Policy {
	cp := *p
	cp.AppliesToUserTypes = append([]string(nil), p.AppliesToUserTypes...)
	cp.AppliesToSecurityProfiles = append([]string(nil), p.AppliesToSecurityProfiles...)
	cp.AppliesToRegions = append([]string(nil), p.AppliesToRegions...)
	cp.Rules = p.Rules.clone()
	return &cp
}

func (r RuleSet) clone() RuleSet {
	var cp RuleSet
	if r.MFA != nil {
		v := *r.MFA
		v.AllowedMethods = append([]MethodID(nil), r.MFA.AllowedMethods...)
		cp.MFA = &v
	}
	if r.StepUp != nil {
		v := *r.StepUp
		v.AllowedMethods = append([]MethodID(nil), r.StepUp.AllowedMethods...)
		v.HighRiskOperations = append([]OperationID(nil), r.StepUp.HighRiskOperations...)
		cp.StepUp = &v
	}
	if r.Adaptive != nil {
		v := *r.Adaptive
		v.RiskFactors = make(map[FactorKind]float64, len(r.Adaptive.RiskFactors))
		for k, w := range r.Adaptive.RiskFactors {
			v.RiskFactors[k] = w
		}
		v.Actions = cloneActions(r.Adaptive.Actions)
		cp.Adaptive = &v
	}
	if r.RiskBased != nil {
		v := *r.RiskBased
		v.RiskLevels = cloneActions(r.RiskBased.RiskLevels)
		cp.RiskBased = &v
	}
	if r.Conditional != nil {
		v := *r.Conditional
		v.BaseRequirements.AllowedMethods = append([]MethodID(nil), r.Conditional.BaseRequirements.AllowedMethods...)
		if r.Conditional.ContextRules != nil {
			v.ContextRules = make(map[string]ActionSpec, len(r.Conditional.ContextRules))
			for k, a := range r.Conditional.ContextRules {
				a.AllowedMethods = append([]MethodID(nil), a.AllowedMethods...)
				v.ContextRules[k] = a
			}
		}
		v.Exemptions = append([]ExemptionRule(nil), r.Conditional.Exemptions...)
		cp.Conditional = &v
	}
	return cp
}

func cloneActions(in map[RiskTier]ActionSpec) map[RiskTier]ActionSpec {
	if in == nil {
		return nil
	}
	out := make(map[RiskTier]ActionSpec, len(in))
	for k, a := range in {
		a.AllowedMethods = append([]MethodID(nil), a.AllowedMethods...)
		out[k] = a
	}
	return out
}

// MatchesScope reports whether the policy applies to the given user type,
// security profile, and region. An empty applies_to set is a wildcard.
func (p *Policy) MatchesScope(userType, securityProfile, region string) bool {
	return matchOne(p.AppliesToUserTypes, userType) &&
		matchOne(p.AppliesToSecurityProfiles, securityProfile) &&
		matchOne(p.AppliesToRegions, region)
}

// Specificity counts how many applies_to sets pin the scope explicitly.
// Narrower scope wins ties between policies of equal priority.
func (p *Policy) Specificity() int {
	n := 0
	if len(p.AppliesToUserTypes) > 0 {
		n++
	}
	if len(p.AppliesToSecurityProfiles) > 0 {
		n++
	}
	if len(p.AppliesToRegions) > 0 {
		n++
	}
	return n
}

func matchOne(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}
