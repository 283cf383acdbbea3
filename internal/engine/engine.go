// Package engine wires the registry, aggregator, scorer, resolver, audit
// trail, and metrics into the two inbound surfaces: Evaluate for the hot
// path and the policy admin operations for the write path.
//
// Evaluation is a pure function of the registry snapshot, the supplied
// evidence, and the risk context. It takes no locks and performs no I/O;
// audit emission is the only side effect and never changes the verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentra/backend/internal/audit"
	"github.com/sentra/backend/internal/config"
	"github.com/sentra/backend/internal/decision"
	"github.com/sentra/backend/internal/policy"
	"github.com/sentra/backend/internal/registry"
	"github.com/sentra/backend/internal/risk"
	"github.com/sentra/backend/internal/signal"
)

// PersistentStore is the optional write-through store behind the registry.
type PersistentStore interface {
	UpsertPolicy(ctx context.Context, p *policy.Policy) error
	DeletePolicy(ctx context.Context, id string) error
}

// Params collects the engine's collaborators. Config and Registry are
// required; the rest default to no-ops or stock implementations.
type Params struct {
	Config    *config.Manager
	Registry  *registry.Registry
	Scorer    *risk.Scorer
	Trail     *audit.Trail
	Metrics   *decision.Metrics
	Store     PersistentStore
	Verifiers *signal.VerifierRegistry
	Clock     func() time.Time
}

// Engine is the adaptive authentication evaluation engine.
type Engine struct {
	cfg       *config.Manager
	registry  *registry.Registry
	scorer    *risk.Scorer
	trail     *audit.Trail
	metrics   *decision.Metrics
	store     PersistentStore
	verifiers *signal.VerifierRegistry
	clock     func() time.Time
}

// New creates an engine from params.
func New(p Params) *Engine {
	if p.Scorer == nil {
		p.Scorer = risk.NewScorer(nil)
	}
	if p.Trail == nil {
		p.Trail = audit.NewTrail()
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	return &Engine{
		cfg:       p.Config,
		registry:  p.Registry,
		scorer:    p.Scorer,
		trail:     p.Trail,
		metrics:   p.Metrics,
		store:     p.Store,
		verifiers: p.Verifiers,
		clock:     p.Clock,
	}
}

// EvaluateRequest carries one authentication attempt.
type EvaluateRequest struct {
	TenantID        string                  `json:"tenant_id"`
	UserType        string                  `json:"user_type,omitempty"`
	SecurityProfile string                  `json:"security_profile,omitempty"`
	Region          string                  `json:"region,omitempty"`
	Operation       policy.OperationID      `json:"operation,omitempty"`
	Evidence        []signal.FactorEvidence `json:"evidence"`
	Risk            risk.Context            `json:"risk_context"`

	// RawEvidence holds unverified blobs the engine runs through the
	// registered verifiers before aggregation.
	RawEvidence []signal.RawEvidence `json:"raw_evidence,omitempty"`

	// Now anchors freshness and staleness comparisons. Zero means the
	// engine clock; tests pin it for reproducible decisions.
	Now time.Time `json:"-"`
}

// Evaluate resolves the applicable policy for the request and produces the
// final decision. REJECT and STEP_UP_REQUIRED are normal outcomes; only
// engine misconfiguration returns an error.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) (*decision.Decision, error) {
	started := e.clock()
	now := req.Now
	if now.IsZero() {
		now = started
	}

	evidence := req.Evidence
	if len(req.RawEvidence) > 0 {
		if e.verifiers == nil {
			return nil, errors.New("raw evidence submitted but no verifiers are configured")
		}
		verified, err := e.verifiers.Collect(ctx, req.RawEvidence, now)
		if err != nil {
			return nil, fmt.Errorf("verify raw evidence: %w", err)
		}
		evidence = append(append([]signal.FactorEvidence(nil), evidence...), verified...)
	}

	engCfg := e.cfg.EngineFor(req.TenantID)
	agg := signal.NewAggregator(engCfg.StalenessWindow()).Aggregate(evidence, now)

	snap := e.registry.Snapshot()
	scope := registry.Scope{
		TenantID:        req.TenantID,
		UserType:        req.UserType,
		SecurityProfile: req.SecurityProfile,
		Region:          req.Region,
	}
	cands, err := snap.ResolveCandidates(scope)
	if err != nil {
		var notFound *registry.PolicyNotFoundError
		if errors.As(err, &notFound) {
			return e.noPolicyDecision(ctx, req, engCfg.NoPolicyAction, now, err)
		}
		e.recordConfigError(req.TenantID, "ambiguous")
		return nil, err
	}

	rc := req.Risk
	if rc.Operation == "" {
		rc.Operation = req.Operation
	}

	resolver := decision.NewResolver(e.scorer, kindWeights(engCfg.DefaultRiskWeights), policy.Thresholds{
		Low:    engCfg.DefaultRiskThresholds.Low,
		Medium: engCfg.DefaultRiskThresholds.Medium,
		High:   engCfg.DefaultRiskThresholds.High,
	})

	applied := cands[0]
	dec, err := resolver.Evaluate(applied, agg, rc, now, snap.DefaultMFAPolicy(req.TenantID))
	if err != nil {
		var incomplete *decision.IncompleteActionSpecError
		if errors.As(err, &incomplete) {
			e.recordConfigError(req.TenantID, "incomplete_action")
		} else {
			e.recordConfigError(req.TenantID, "unknown_type")
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordDecision(req.TenantID, applied.Type, dec, e.clock().Sub(started).Seconds())
	}
	e.trail.Emit(ctx, req.TenantID, string(rc.Operation), dec)
	return dec, nil
}

// noPolicyDecision applies the tenant's explicit no-policy configuration.
func (e *Engine) noPolicyDecision(ctx context.Context, req EvaluateRequest, action config.NoPolicyAction, now time.Time, cause error) (*decision.Decision, error) {
	if action == config.NoPolicyError {
		e.recordConfigError(req.TenantID, "not_found")
		return nil, cause
	}

	verdict := decision.VerdictReject
	reason := "no applicable policy; tenant is configured default-deny"
	if action == config.NoPolicyAllow {
		verdict = decision.VerdictAccept
		reason = "no applicable policy; tenant is configured default-allow"
	}
	dec := &decision.Decision{
		ID:          uuid.New().String(),
		Verdict:     verdict,
		RiskTier:    policy.TierNone,
		Reasons:     []string{reason},
		EvaluatedAt: now,
	}
	if e.metrics != nil {
		e.metrics.RecordDecision(req.TenantID, "NONE", dec, 0)
	}
	e.trail.Emit(ctx, req.TenantID, string(req.Operation), dec)
	return dec, nil
}

func (e *Engine) recordConfigError(tenantID, kind string) {
	if e.metrics != nil {
		e.metrics.RecordConfigError(tenantID, kind)
	}
}

func kindWeights(in map[string]float64) map[policy.FactorKind]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[policy.FactorKind]float64, len(in))
	for k, w := range in {
		out[policy.FactorKind(k)] = w
	}
	return out
}

// ── Policy administration ──

// PutPolicy validates and publishes a policy, then writes it through to
// the persistent store. A validation failure returns the collected errors
// without touching the published snapshot.
func (e *Engine) PutPolicy(ctx context.Context, p *policy.Policy, updatedBy string) (policy.ValidationResult, error) {
	res, err := e.registry.Put(p, updatedBy)
	if err != nil {
		return res, err
	}

	if e.store != nil {
		stored := e.registry.Snapshot().Get(p.ID)
		if err := e.store.UpsertPolicy(ctx, stored); err != nil {
			slog.Error("Failed to persist policy; snapshot remains published",
				"policy_id", p.ID, "error", err)
			return res, fmt.Errorf("persist policy %s: %w", p.ID, err)
		}
	}
	e.updateRegistryMetrics()
	return res, nil
}

// GetPolicy returns a policy by ID from the latest snapshot.
func (e *Engine) GetPolicy(id string) (*policy.Policy, error) {
	p := e.registry.Snapshot().Get(id)
	if p == nil {
		return nil, fmt.Errorf("policy %s not found", id)
	}
	return p, nil
}

// ListPolicies returns a tenant's policies from the latest snapshot.
func (e *Engine) ListPolicies(tenantID string) []*policy.Policy {
	return e.registry.Snapshot().List(tenantID)
}

// DeletePolicy removes a policy from the registry and store.
func (e *Engine) DeletePolicy(ctx context.Context, id string) error {
	if err := e.registry.Delete(id); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.DeletePolicy(ctx, id); err != nil {
			return fmt.Errorf("delete persisted policy %s: %w", id, err)
		}
	}
	e.updateRegistryMetrics()
	return nil
}

// RollbackPolicy restores an earlier revision of a policy.
func (e *Engine) RollbackPolicy(ctx context.Context, policyID string, targetVersion int, updatedBy string) (*policy.Policy, error) {
	restored, err := e.registry.Rollback(policyID, targetVersion, updatedBy)
	if err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.UpsertPolicy(ctx, restored); err != nil {
			return nil, fmt.Errorf("persist rolled-back policy %s: %w", policyID, err)
		}
	}
	e.updateRegistryMetrics()
	return restored, nil
}

// PolicyHistory returns the revision history of a policy.
func (e *Engine) PolicyHistory(policyID string) []*registry.PolicyVersion {
	return e.registry.History().History(policyID)
}

func (e *Engine) updateRegistryMetrics() {
	if e.metrics == nil {
		return
	}
	snap := e.registry.Snapshot()
	e.metrics.RegistryVersion.Set(float64(snap.Version))
	counts := make(map[string]int)
	for _, p := range snap.List("") {
		counts[p.TenantID]++
	}
	for tenantID, n := range counts {
		e.metrics.RegistryPolicies.WithLabelValues(tenantID).Set(float64(n))
	}
}
