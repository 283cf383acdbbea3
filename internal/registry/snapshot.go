// Package registry stores policies and publishes them to the evaluation
// path as immutable, versioned snapshots.
//
// Readers take no lock: they load the latest published snapshot pointer and
// evaluate against it, so an in-flight evaluation never observes a policy
// update. Writers serialize behind a mutex, build a fresh snapshot
// copy-on-write, and publish it atomically with a monotonic version stamp.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/sentra/backend/internal/policy"
)

// Scope identifies the request coordinates used to select applicable
// policies.
type Scope struct {
	TenantID        string `json:"tenant_id"`
	UserType        string `json:"user_type"`
	SecurityProfile string `json:"security_profile"`
	Region          string `json:"region"`
}

// PolicyNotFoundError reports that no enabled policy applies to a scope.
// Whether that means default-deny or default-allow is the caller's explicit
// configuration, never an implicit fallback here.
type PolicyNotFoundError struct {
	Scope Scope
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("no applicable policy for tenant %q (user_type=%q, security_profile=%q, region=%q)",
		e.Scope.TenantID, e.Scope.UserType, e.Scope.SecurityProfile, e.Scope.Region)
}

// AmbiguousPolicyError reports two candidates of the same type that tie on
// both priority and specificity. The tie must be resolved in configuration;
// silently picking one would make decisions depend on map iteration order.
type AmbiguousPolicyError struct {
	Type     policy.PolicyType
	Priority int
	IDs      []string
}

func (e *AmbiguousPolicyError) Error() string {
	return fmt.Sprintf("ambiguous %s policies at priority %d: %v", e.Type, e.Priority, e.IDs)
}

// Snapshot is an immutable view of the policy set at one version. All
// methods are read-only and safe for unlimited concurrent use.
type Snapshot struct {
	Version   uint64
	CreatedAt time.Time

	policies []*policy.Policy
	byID     map[string]*policy.Policy
}

func newSnapshot(version uint64, policies []*policy.Policy, at time.Time) *Snapshot {
	byID := make(map[string]*policy.Policy, len(policies))
	for _, p := range policies {
		byID[p.ID] = p
	}
	return &Snapshot{Version: version, CreatedAt: at, policies: policies, byID: byID}
}

// Get returns the policy with the given ID, or nil.
func (s *Snapshot) Get(id string) *policy.Policy {
	return s.byID[id]
}

// List returns every policy for a tenant, ordered by priority then name.
// An empty tenantID lists all tenants.
func (s *Snapshot) List(tenantID string) []*policy.Policy {
	var out []*policy.Policy
	for _, p := range s.policies {
		if tenantID == "" || p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ResolveCandidates returns the enabled policies applicable to the scope,
// ordered by (priority asc, specificity desc). Two candidates of the same
// type tying on both keys are a configuration error, surfaced as
// AmbiguousPolicyError rather than resolved arbitrarily. An empty result
// is a PolicyNotFoundError; the caller decides what "no policy" means.
func (s *Snapshot) ResolveCandidates(scope Scope) ([]*policy.Policy, error) {
	var cands []*policy.Policy
	for _, p := range s.policies {
		if !p.Enabled || p.TenantID != scope.TenantID {
			continue
		}
		if !p.MatchesScope(scope.UserType, scope.SecurityProfile, scope.Region) {
			continue
		}
		cands = append(cands, p)
	}
	if len(cands) == 0 {
		return nil, &PolicyNotFoundError{Scope: scope}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Priority != cands[j].Priority {
			return cands[i].Priority < cands[j].Priority
		}
		if si, sj := cands[i].Specificity(), cands[j].Specificity(); si != sj {
			return si > sj
		}
		return cands[i].ID < cands[j].ID
	})

	// Ties are detected per (type, priority, specificity) group across the
	// whole list: a different-type candidate sorting between two tied ones
	// must not hide the tie.
	type tieKey struct {
		typ         policy.PolicyType
		priority    int
		specificity int
	}
	seen := make(map[tieKey]*policy.Policy, len(cands))
	for _, c := range cands {
		key := tieKey{c.Type, c.Priority, c.Specificity()}
		if prev, dup := seen[key]; dup {
			return nil, &AmbiguousPolicyError{
				Type:     c.Type,
				Priority: c.Priority,
				IDs:      []string{prev.ID, c.ID},
			}
		}
		seen[key] = c
	}
	return cands, nil
}

// DefaultMFAPolicy returns the highest-precedence enabled MFA policy for a
// tenant, used when a STEP_UP policy delegates a non-high-risk operation.
// Returns nil when the tenant has none.
func (s *Snapshot) DefaultMFAPolicy(tenantID string) *policy.Policy {
	var best *policy.Policy
	for _, p := range s.policies {
		if !p.Enabled || p.TenantID != tenantID || p.Type != policy.TypeMFA {
			continue
		}
		if best == nil || p.Priority < best.Priority ||
			(p.Priority == best.Priority && p.ID < best.ID) {
			best = p
		}
	}
	return best
}
