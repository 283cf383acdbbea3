package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentra/backend/internal/policy"
)

// PolicyVersion is one historical revision of a policy body.
type PolicyVersion struct {
	Version   int            `json:"version"`
	PolicyID  string         `json:"policy_id"`
	Policy    *policy.Policy `json:"policy"`
	CreatedAt time.Time      `json:"created_at"`
	CreatedBy string         `json:"created_by"`
	Active    bool           `json:"active"`
}

// HistoryStore keeps the ordered revision history per policy so an admin
// can audit what changed and roll a policy back to a known-good body.
type HistoryStore struct {
	mu       sync.RWMutex
	versions map[string][]*PolicyVersion // policyID → ordered versions
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{versions: make(map[string][]*PolicyVersion)}
}

// Push appends a new revision and marks it active.
func (h *HistoryStore) Push(p *policy.Policy, createdBy string) *PolicyVersion {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, v := range h.versions[p.ID] {
		v.Active = false
	}

	pv := &PolicyVersion{
		Version:   len(h.versions[p.ID]) + 1,
		PolicyID:  p.ID,
		Policy:    p.Clone(),
		CreatedAt: time.Now(),
		CreatedBy: createdBy,
		Active:    true,
	}
	h.versions[p.ID] = append(h.versions[p.ID], pv)
	return pv
}

// Version returns a copy of the policy body at a specific revision.
func (h *HistoryStore) Version(policyID string, version int) (*policy.Policy, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	versions, ok := h.versions[policyID]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("no versions found for policy %s", policyID)
	}
	if version < 1 || version > len(versions) {
		return nil, fmt.Errorf("invalid version %d for policy %s (range: 1-%d)", version, policyID, len(versions))
	}
	return versions[version-1].Policy.Clone(), nil
}

// History returns all revisions for a policy, oldest first.
func (h *HistoryStore) History(policyID string) []*PolicyVersion {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*PolicyVersion(nil), h.versions[policyID]...)
}
