package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sentra/backend/internal/policy"
)

// Context carries the risk signals and transaction facts for one attempt.
// It is supplied read-only by the caller; the engine performs no I/O to
// enrich it.
type Context struct {
	Signals   map[policy.FactorKind]float64 `json:"risk_signals,omitempty"`
	Operation policy.OperationID            `json:"operation,omitempty"`
	Channel   policy.ChannelKind            `json:"channel,omitempty"`

	// Amount is the transaction amount, when the operation moves money.
	Amount *decimal.Decimal `json:"amount,omitempty"`

	// DeviceTrust is an optional [0,1] trust score for the device.
	DeviceTrust *float64 `json:"device_trust,omitempty"`

	// IsTrustedBeneficiary marks the payee as user-trusted; TrustedSince
	// anchors the trust-period check.
	IsTrustedBeneficiary bool      `json:"is_trusted_beneficiary,omitempty"`
	TrustedSince         time.Time `json:"trusted_since,omitempty"`

	// FraudRate is the provider's observed fraud rate, consumed by
	// transaction-risk-analysis exemptions.
	FraudRate float64 `json:"fraud_rate,omitempty"`

	// CumulativeAmount and ConsecutiveTxCount track spend since the last
	// fully authenticated transaction, for low-value-payment limits.
	CumulativeAmount   decimal.Decimal `json:"cumulative_amount,omitempty"`
	ConsecutiveTxCount int             `json:"consecutive_tx_count,omitempty"`

	// ContextKeys are the request's active context labels, matched
	// against CONDITIONAL context_rules in order.
	ContextKeys []string `json:"context_keys,omitempty"`
}

// Scorer sums the weights of signals whose comparator trips and buckets
// the total into a tier. It is stateless and safe for concurrent use.
type Scorer struct {
	comparators ComparatorTable
}

// NewScorer creates a scorer over the given comparator table.
func NewScorer(comparators ComparatorTable) *Scorer {
	if comparators == nil {
		comparators = DefaultComparators()
	}
	return &Scorer{comparators: comparators}
}

// Score computes the weighted risk score: for every weighted kind present
// in the context whose comparator trips, the kind's weight is added.
// Absent kinds contribute zero. The returned reasons record each tripped
// contribution in kind order for the audit trail.
func (s *Scorer) Score(weights map[policy.FactorKind]float64, ctx Context) (float64, []string) {
	kinds := make([]policy.FactorKind, 0, len(weights))
	for kind := range weights {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var total float64
	var reasons []string
	for _, kind := range kinds {
		value, present := ctx.Signals[kind]
		if !present {
			continue
		}
		if !s.comparators.Lookup(kind).Tripped(value) {
			continue
		}
		total += weights[kind]
		reasons = append(reasons, fmt.Sprintf("risk signal %s=%.2f tripped, +%.1f", kind, value, weights[kind]))
	}
	return total, reasons
}

// Bucket maps a score into a tier. A score exactly on a boundary resolves
// to the higher tier: the conservative direction, preferring the stronger
// requirement. Scores below the low bound yield TierNone.
func Bucket(score float64, t policy.Thresholds) policy.RiskTier {
	switch {
	case score >= t.High:
		return policy.TierHigh
	case score >= t.Medium:
		return policy.TierMedium
	case score >= t.Low:
		return policy.TierLow
	default:
		return policy.TierNone
	}
}
