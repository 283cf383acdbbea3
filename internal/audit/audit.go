// Package audit builds the structured explain-trail record for each
// decision and hands it to pluggable sinks. Delivery and retry are the
// sink's problem; the engine never blocks a verdict on audit delivery.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentra/backend/internal/decision"
)

// Record is the audit entry emitted for every evaluation.
type Record struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	PolicyID   string    `json:"policy_id,omitempty"`
	DecisionID string    `json:"decision_id,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Verdict    string    `json:"verdict"`
	RiskTier   string    `json:"risk_tier,omitempty"`
	RiskScore  float64   `json:"risk_score,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink receives audit records. Implementations must tolerate concurrent
// calls.
type Sink interface {
	Publish(ctx context.Context, rec *Record) error
}

// Trail fans each record out to its sinks. Sink failures are logged and
// swallowed: an audit outage must not turn verdicts into errors.
type Trail struct {
	sinks []Sink
}

// NewTrail creates a trail over the given sinks.
func NewTrail(sinks ...Sink) *Trail {
	return &Trail{sinks: sinks}
}

// Emit builds the record for a decision and publishes it to every sink.
func (t *Trail) Emit(ctx context.Context, tenantID, operation string, dec *decision.Decision) *Record {
	rec := &Record{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		PolicyID:   dec.AppliedPolicyID,
		DecisionID: dec.ID,
		Operation:  operation,
		Verdict:    string(dec.Verdict),
		RiskTier:   string(dec.RiskTier),
		RiskScore:  dec.RiskScore,
		Reasons:    dec.Reasons,
		Timestamp:  dec.EvaluatedAt,
	}
	for _, s := range t.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			slog.Error("Failed to publish audit record", "error", err,
				"tenant_id", tenantID, "decision_id", dec.ID)
		}
	}
	return rec
}

// SlogSink writes audit records to the process log.
type SlogSink struct{}

// Publish logs the record at INFO.
func (SlogSink) Publish(_ context.Context, rec *Record) error {
	slog.Info("Decision audit",
		"audit_id", rec.ID,
		"tenant_id", rec.TenantID,
		"policy_id", rec.PolicyID,
		"operation", rec.Operation,
		"verdict", rec.Verdict,
		"risk_tier", rec.RiskTier,
		"risk_score", rec.RiskScore,
		"reasons", rec.Reasons,
	)
	return nil
}
