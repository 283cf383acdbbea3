// Package risk computes a scalar risk score from weighted context signals
// and buckets it into a tier.
//
// Each factor kind registers one declarative comparator stating the
// direction of its threshold check: risk-type signals trip when the value
// climbs to or past the threshold, quality-type signals trip when the value
// falls below it. The direction lives in the table, never in per-kind code
// paths.
package risk

import "github.com/sentra/backend/internal/policy"

// Direction states which side of the threshold trips a signal.
type Direction int

const (
	// DirectionRisk trips when value >= threshold (anomaly scores,
	// velocity counts, drift measures).
	DirectionRisk Direction = iota

	// DirectionQuality trips when value < threshold (confidence and
	// match-quality scores, device trust).
	DirectionQuality
)

// Comparator is one kind's threshold rule.
type Comparator struct {
	Direction Direction
	Threshold float64
}

// Tripped reports whether the observed value crosses the comparator's
// threshold in its declared direction.
func (c Comparator) Tripped(value float64) bool {
	if c.Direction == DirectionQuality {
		return value < c.Threshold
	}
	return value >= c.Threshold
}

// ComparatorTable maps each factor kind to its registered comparator.
// Kinds absent from the table fall back to a zero-threshold risk
// comparator: any non-negative signal presence trips.
type ComparatorTable map[policy.FactorKind]Comparator

// Lookup returns the comparator for a kind, or the permissive default.
func (t ComparatorTable) Lookup(kind policy.FactorKind) Comparator {
	if c, ok := t[kind]; ok {
		return c
	}
	return Comparator{Direction: DirectionRisk, Threshold: 0}
}

// DefaultComparators returns the stock table. Anomaly-style kinds trip on
// high values; biometric and device-trust style kinds trip on low ones.
func DefaultComparators() ComparatorTable {
	return ComparatorTable{
		policy.KindGeo:        {Direction: DirectionRisk, Threshold: 0},
		policy.KindBehavioral: {Direction: DirectionRisk, Threshold: 0},
		policy.KindAI:         {Direction: DirectionRisk, Threshold: 0},
		policy.KindDevice:     {Direction: DirectionRisk, Threshold: 0},
		policy.KindBiometric:  {Direction: DirectionQuality, Threshold: 0.5},
		policy.KindBlockchain: {Direction: DirectionQuality, Threshold: 0.5},
	}
}
