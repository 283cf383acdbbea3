// Package signal normalizes heterogeneous factor evidence into the uniform
// scored-factor set the risk scorer and decision resolver consume.
//
// Evidence arrives once per authentication attempt from external verifiers
// and is read-only from here on. The aggregator deduplicates repeated
// observations of the same (kind, method) pair by recency and drops
// observations older than the staleness window — dropped evidence is
// reported as a non-fatal reason, never an error, because "factor expired"
// and "factor not supplied" must stay distinguishable for step-up freshness
// checks.
package signal

import (
	"fmt"
	"sort"
	"time"

	"github.com/sentra/backend/internal/policy"
)

// FactorEvidence is a single verified observation of an authentication
// factor. Produced by an external verifier, never mutated by the engine.
type FactorEvidence struct {
	Kind       policy.FactorKind   `json:"kind"`
	MethodID   policy.MethodID     `json:"method_id"`
	Valid      bool                `json:"valid"`
	Score      float64             `json:"score"` // [0,1]
	ObservedAt time.Time           `json:"observed_at"`
	Strength   policy.StrengthTier `json:"strength"`
}

// AggregatedSignals is the normalized view of an attempt's evidence.
type AggregatedSignals struct {
	// Evidence holds the deduplicated, fresh observations, ordered by
	// kind then method for deterministic downstream iteration.
	Evidence []FactorEvidence

	// ByKind maps each kind to its most recent fresh observation.
	ByKind map[policy.FactorKind]FactorEvidence

	// MaxStrengthByKind records the strongest tier seen per kind.
	MaxStrengthByKind map[policy.FactorKind]policy.StrengthTier

	// StaleReasons lists evidence excluded by the staleness window.
	StaleReasons []string
}

// Aggregator folds raw evidence into AggregatedSignals.
type Aggregator struct {
	stalenessWindow time.Duration
}

// NewAggregator creates an aggregator. A zero window disables staleness
// filtering.
func NewAggregator(stalenessWindow time.Duration) *Aggregator {
	return &Aggregator{stalenessWindow: stalenessWindow}
}

// Aggregate deduplicates evidence by (kind, method) keeping the most recent
// observation, drops anything older than the staleness window relative to
// now, and indexes the survivors by kind.
func (a *Aggregator) Aggregate(raw []FactorEvidence, now time.Time) AggregatedSignals {
	out := AggregatedSignals{
		ByKind:            make(map[policy.FactorKind]FactorEvidence),
		MaxStrengthByKind: make(map[policy.FactorKind]policy.StrengthTier),
	}

	type dedupKey struct {
		kind   policy.FactorKind
		method policy.MethodID
	}
	latest := make(map[dedupKey]FactorEvidence)
	for _, ev := range raw {
		key := dedupKey{ev.Kind, ev.MethodID}
		if prev, ok := latest[key]; !ok || ev.ObservedAt.After(prev.ObservedAt) {
			latest[key] = ev
		}
	}

	for _, ev := range latest {
		if a.stalenessWindow > 0 && now.Sub(ev.ObservedAt) > a.stalenessWindow {
			out.StaleReasons = append(out.StaleReasons, fmt.Sprintf(
				"stale evidence excluded: %s/%s observed %s before evaluation",
				ev.Kind, ev.MethodID, now.Sub(ev.ObservedAt).Round(time.Second)))
			continue
		}
		out.Evidence = append(out.Evidence, ev)

		if prev, ok := out.ByKind[ev.Kind]; !ok || ev.ObservedAt.After(prev.ObservedAt) {
			out.ByKind[ev.Kind] = ev
		}
		if cur, ok := out.MaxStrengthByKind[ev.Kind]; !ok {
			out.MaxStrengthByKind[ev.Kind] = ev.Strength
		} else {
			out.MaxStrengthByKind[ev.Kind] = policy.MaxStrength(cur, ev.Strength)
		}
	}

	sort.Slice(out.Evidence, func(i, j int) bool {
		if out.Evidence[i].Kind != out.Evidence[j].Kind {
			return out.Evidence[i].Kind < out.Evidence[j].Kind
		}
		return out.Evidence[i].MethodID < out.Evidence[j].MethodID
	})
	sort.Strings(out.StaleReasons)

	return out
}
