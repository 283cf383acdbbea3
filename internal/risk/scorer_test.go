package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra/backend/internal/policy"
)

func TestScoreSumsTrippedWeights(t *testing.T) {
	s := NewScorer(DefaultComparators())
	weights := map[policy.FactorKind]float64{
		policy.KindDevice: 40,
		policy.KindGeo:    70,
	}

	score, reasons := s.Score(weights, Context{
		Signals: map[policy.FactorKind]float64{
			policy.KindDevice: 1, // new device flag
		},
	})
	assert.Equal(t, 40.0, score)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "DEVICE")

	score, _ = s.Score(weights, Context{
		Signals: map[policy.FactorKind]float64{
			policy.KindDevice: 1,
			policy.KindGeo:    1, // impossible travel
		},
	})
	assert.Equal(t, 110.0, score)
}

func TestScoreAbsentSignalContributesZero(t *testing.T) {
	s := NewScorer(DefaultComparators())
	weights := map[policy.FactorKind]float64{policy.KindGeo: 70}

	score, reasons := s.Score(weights, Context{})
	assert.Zero(t, score)
	assert.Empty(t, reasons)
}

func TestScoreQualityDirectionTripsOnLowValues(t *testing.T) {
	s := NewScorer(DefaultComparators())
	weights := map[policy.FactorKind]float64{policy.KindBiometric: 25}

	// Strong biometric match: no contribution.
	score, _ := s.Score(weights, Context{
		Signals: map[policy.FactorKind]float64{policy.KindBiometric: 0.92},
	})
	assert.Zero(t, score)

	// Weak match falls below the 0.5 quality floor and trips.
	score, _ = s.Score(weights, Context{
		Signals: map[policy.FactorKind]float64{policy.KindBiometric: 0.31},
	})
	assert.Equal(t, 25.0, score)
}

func TestScoreMonotonicInSignals(t *testing.T) {
	s := NewScorer(DefaultComparators())
	weights := map[policy.FactorKind]float64{
		policy.KindDevice:     10,
		policy.KindGeo:        20,
		policy.KindBehavioral: 30,
	}

	base := Context{Signals: map[policy.FactorKind]float64{policy.KindDevice: 1}}
	more := Context{Signals: map[policy.FactorKind]float64{
		policy.KindDevice:     1,
		policy.KindBehavioral: 1,
	}}

	lo, _ := s.Score(weights, base)
	hi, _ := s.Score(weights, more)
	assert.Greater(t, hi, lo)
}

func TestComparatorDirections(t *testing.T) {
	riskCmp := Comparator{Direction: DirectionRisk, Threshold: 0.7}
	assert.True(t, riskCmp.Tripped(0.7))
	assert.True(t, riskCmp.Tripped(0.9))
	assert.False(t, riskCmp.Tripped(0.69))

	qualCmp := Comparator{Direction: DirectionQuality, Threshold: 0.5}
	assert.True(t, qualCmp.Tripped(0.49))
	assert.False(t, qualCmp.Tripped(0.5))
	assert.False(t, qualCmp.Tripped(0.9))
}

func TestLookupFallsBackToPermissiveDefault(t *testing.T) {
	table := ComparatorTable{}
	c := table.Lookup(policy.KindAI)
	assert.Equal(t, DirectionRisk, c.Direction)
	assert.True(t, c.Tripped(0))
}

func TestBucketBoundaryResolvesToHigherTier(t *testing.T) {
	th := policy.Thresholds{Low: 30, Medium: 60, High: 80}

	assert.Equal(t, policy.TierNone, Bucket(0, th))
	assert.Equal(t, policy.TierNone, Bucket(29.9, th))
	assert.Equal(t, policy.TierLow, Bucket(30, th))
	assert.Equal(t, policy.TierLow, Bucket(59.9, th))
	assert.Equal(t, policy.TierMedium, Bucket(60, th))
	assert.Equal(t, policy.TierMedium, Bucket(79.9, th))
	assert.Equal(t, policy.TierHigh, Bucket(80, th))
	assert.Equal(t, policy.TierHigh, Bucket(500, th))
}
