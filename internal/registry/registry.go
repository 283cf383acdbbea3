package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentra/backend/internal/policy"
)

// ErrInvalidPolicy is returned by write operations when validation fails;
// the accompanying ValidationResult carries the collected errors.
var ErrInvalidPolicy = errors.New("policy failed validation")

// Registry is the single-writer, multi-reader policy store. Evaluations
// call Snapshot and never block; Put, Delete, and Rollback serialize behind
// the writer mutex and publish a new snapshot atomically.
type Registry struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[Snapshot]
	history *HistoryStore
	clock   func() time.Time
}

// New creates an empty registry at version zero.
func New() *Registry {
	r := &Registry{
		history: NewHistoryStore(),
		clock:   time.Now,
	}
	r.snap.Store(newSnapshot(0, nil, r.clock()))
	return r
}

// Snapshot returns the latest published snapshot. Lock-free; the returned
// snapshot never changes.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// History exposes the per-policy version history.
func (r *Registry) History() *HistoryStore {
	return r.history
}

// Load replaces the registry contents wholesale, e.g. from the database at
// startup. Policies that fail validation are skipped with a warning so one
// bad row cannot keep the whole tenant estate from loading.
func (r *Registry) Load(policies []*policy.Policy) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	kept := make([]*policy.Policy, 0, len(policies))
	for _, p := range policies {
		if res := policy.Validate(p); !res.OK {
			slog.Warn("Skipping invalid policy during registry load",
				"policy_id", p.ID, "tenant_id", p.TenantID, "errors", res.Errors)
			continue
		}
		kept = append(kept, p.Clone())
	}
	r.publish(kept)
	slog.Info("Policy registry loaded", "policies", len(kept), "version", r.snap.Load().Version)
}

// Put validates and inserts or replaces a policy, then publishes a new
// snapshot. Validation runs on every write; an invalid policy is never
// observable by ResolveCandidates. A missing ID is assigned.
func (r *Registry) Put(p *policy.Policy, updatedBy string) (policy.ValidationResult, error) {
	res := policy.Validate(p)
	if !res.OK {
		return res, fmt.Errorf("%w: %d errors", ErrInvalidPolicy, len(res.Errors))
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	now := r.clock()
	cp := p.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
		cp.CreatedAt = now
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	p.ID = cp.ID // reflect assigned ID back to the caller

	cur := r.snap.Load()
	next := make([]*policy.Policy, 0, len(cur.policies)+1)
	for _, existing := range cur.policies {
		if existing.ID != cp.ID {
			next = append(next, existing)
		}
	}
	next = append(next, cp)
	r.publish(next)

	r.history.Push(cp, updatedBy)
	slog.Info("Policy published", "policy_id", cp.ID, "tenant_id", cp.TenantID,
		"type", cp.Type, "version", r.snap.Load().Version)
	return res, nil
}

// Delete removes a policy and publishes a new snapshot.
func (r *Registry) Delete(id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.snap.Load()
	if cur.byID[id] == nil {
		return fmt.Errorf("policy %s not found", id)
	}
	next := make([]*policy.Policy, 0, len(cur.policies)-1)
	for _, existing := range cur.policies {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	r.publish(next)
	slog.Info("Policy deleted", "policy_id", id, "version", r.snap.Load().Version)
	return nil
}

// Rollback re-publishes an earlier version of a policy from history. The
// restored body is revalidated: history can hold versions written under
// older validation rules.
func (r *Registry) Rollback(policyID string, targetVersion int, updatedBy string) (*policy.Policy, error) {
	restored, err := r.history.Version(policyID, targetVersion)
	if err != nil {
		return nil, err
	}
	if _, err := r.Put(restored, updatedBy); err != nil {
		return nil, err
	}
	return restored, nil
}

// publish builds and atomically swaps in the next snapshot. Caller holds
// writeMu.
func (r *Registry) publish(policies []*policy.Policy) {
	cur := r.snap.Load()
	r.snap.Store(newSnapshot(cur.Version+1, policies, r.clock()))
}
