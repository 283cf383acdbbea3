package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentra/backend/internal/policy"
)

// VerifyResult is the uniform outcome every factor verifier produces,
// regardless of what it actually checks.
type VerifyResult struct {
	Valid    bool                `json:"valid"`
	Score    float64             `json:"score"`
	Strength policy.StrengthTier `json:"strength"`
}

// Verifier is the single capability the engine requires from an upstream
// factor checker. One implementation is registered per factor kind; the
// engine never depends on a concrete verifier identity, so a new factor
// kind is a new registration, not a new code path.
type Verifier interface {
	Verify(ctx context.Context, evidence []byte) (VerifyResult, error)
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(ctx context.Context, evidence []byte) (VerifyResult, error)

func (f VerifierFunc) Verify(ctx context.Context, evidence []byte) (VerifyResult, error) {
	return f(ctx, evidence)
}

// VerifierRegistry holds one verifier per factor kind.
type VerifierRegistry struct {
	mu     sync.RWMutex
	byKind map[policy.FactorKind]Verifier
}

// NewVerifierRegistry creates an empty registry.
func NewVerifierRegistry() *VerifierRegistry {
	return &VerifierRegistry{byKind: make(map[policy.FactorKind]Verifier)}
}

// Register installs the verifier for a kind, replacing any previous one.
func (r *VerifierRegistry) Register(kind policy.FactorKind, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = v
}

// Lookup returns the verifier registered for a kind.
func (r *VerifierRegistry) Lookup(kind policy.FactorKind) (Verifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byKind[kind]
	return v, ok
}

// RawEvidence is an unverified evidence blob as submitted by a caller that
// wants the engine to drive verification.
type RawEvidence struct {
	Kind     policy.FactorKind `json:"kind"`
	MethodID policy.MethodID   `json:"method_id"`
	Payload  []byte            `json:"payload"`
}

// Collect runs each blob through the verifier registered for its kind and
// returns the resulting factor evidence, stamped with now. Blobs for kinds
// without a registered verifier are an error: silently dropping them would
// be indistinguishable from a failed factor.
func (r *VerifierRegistry) Collect(ctx context.Context, raw []RawEvidence, now time.Time) ([]FactorEvidence, error) {
	out := make([]FactorEvidence, 0, len(raw))
	for _, blob := range raw {
		v, ok := r.Lookup(blob.Kind)
		if !ok {
			return nil, fmt.Errorf("no verifier registered for factor kind %s", blob.Kind)
		}
		res, err := v.Verify(ctx, blob.Payload)
		if err != nil {
			return nil, fmt.Errorf("verifier for %s/%s: %w", blob.Kind, blob.MethodID, err)
		}
		out = append(out, FactorEvidence{
			Kind:       blob.Kind,
			MethodID:   blob.MethodID,
			Valid:      res.Valid,
			Score:      res.Score,
			ObservedAt: now,
			Strength:   res.Strength,
		})
	}
	return out, nil
}
