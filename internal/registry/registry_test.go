package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra/backend/internal/policy"
)

func mfaPolicy(id, tenant string, priority int) *policy.Policy {
	return &policy.Policy{
		ID:       id,
		TenantID: tenant,
		Name:     "mfa-" + id,
		Type:     policy.TypeMFA,
		Enabled:  true,
		Priority: priority,
		Rules: policy.RuleSet{MFA: &policy.MFARules{
			RequiredFactors:       1,
			AllowedMethods:        []policy.MethodID{"KB-01-02"},
			MinimumFactorStrength: policy.StrengthBasic,
		}},
	}
}

func TestPutPublishesNewVersion(t *testing.T) {
	r := New()
	v0 := r.Snapshot().Version

	res, err := r.Put(mfaPolicy("p1", "acme", 10), "tester")
	require.NoError(t, err)
	assert.True(t, res.OK)

	snap := r.Snapshot()
	assert.Equal(t, v0+1, snap.Version)
	require.NotNil(t, snap.Get("p1"))
}

func TestPutRejectsInvalidPolicy(t *testing.T) {
	r := New()
	bad := mfaPolicy("p1", "acme", 10)
	bad.Rules.MFA.RequiredFactors = 0

	res, err := r.Put(bad, "tester")
	require.ErrorIs(t, err, ErrInvalidPolicy)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Errors)

	// An invalid write is never observable.
	assert.Nil(t, r.Snapshot().Get("p1"))
}

func TestPutAssignsMissingID(t *testing.T) {
	r := New()
	p := mfaPolicy("", "acme", 10)

	_, err := r.Put(p, "tester")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.NotNil(t, r.Snapshot().Get(p.ID))
}

func TestSnapshotIsolationAcrossWrites(t *testing.T) {
	r := New()
	_, err := r.Put(mfaPolicy("p1", "acme", 10), "tester")
	require.NoError(t, err)

	before := r.Snapshot()
	require.NoError(t, r.Delete("p1"))

	// The older snapshot still sees the policy; the new one does not.
	assert.NotNil(t, before.Get("p1"))
	assert.Nil(t, r.Snapshot().Get("p1"))
	assert.Greater(t, r.Snapshot().Version, before.Version)
}

func TestPutClonesCallerPolicy(t *testing.T) {
	r := New()
	p := mfaPolicy("p1", "acme", 10)
	_, err := r.Put(p, "tester")
	require.NoError(t, err)

	// Mutating the caller's copy must not reach the published snapshot.
	p.Rules.MFA.RequiredFactors = 99
	assert.Equal(t, 1, r.Snapshot().Get("p1").Rules.MFA.RequiredFactors)
}

func TestResolveCandidatesOrdersByPriorityThenSpecificity(t *testing.T) {
	r := New()

	broad := mfaPolicy("broad", "acme", 20)
	narrow := mfaPolicy("narrow", "acme", 20)
	narrow.Type = policy.TypeStepUp
	narrow.Rules = policy.RuleSet{StepUp: &policy.StepUpRules{
		RequiredFactors:       1,
		AllowedMethods:        []policy.MethodID{"PB-03-02"},
		MinimumFactorStrength: policy.StrengthBasic,
		HighRiskOperations:    []policy.OperationID{"wire_transfer"},
		MaxLastFactorAge:      5 * time.Minute,
	}}
	narrow.AppliesToUserTypes = []string{"RETAIL"}
	urgent := mfaPolicy("urgent", "acme", 5)

	for _, p := range []*policy.Policy{broad, narrow, urgent} {
		_, err := r.Put(p, "tester")
		require.NoError(t, err)
	}

	cands, err := r.Snapshot().ResolveCandidates(Scope{TenantID: "acme", UserType: "RETAIL"})
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.Equal(t, "urgent", cands[0].ID)  // lowest priority number first
	assert.Equal(t, "narrow", cands[1].ID)  // ties broken by specificity
	assert.Equal(t, "broad", cands[2].ID)
}

func TestResolveCandidatesWildcardScope(t *testing.T) {
	r := New()
	p := mfaPolicy("p1", "acme", 10)
	_, err := r.Put(p, "tester")
	require.NoError(t, err)

	// Empty applies_to sets match any coordinates.
	cands, err := r.Snapshot().ResolveCandidates(Scope{
		TenantID: "acme", UserType: "CORPORATE", SecurityProfile: "HIGH", Region: "EU",
	})
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestResolveCandidatesSkipsDisabledAndOtherTenants(t *testing.T) {
	r := New()
	disabled := mfaPolicy("off", "acme", 10)
	disabled.Enabled = false
	other := mfaPolicy("theirs", "globex", 10)
	for _, p := range []*policy.Policy{disabled, other} {
		_, err := r.Put(p, "tester")
		require.NoError(t, err)
	}

	_, err := r.Snapshot().ResolveCandidates(Scope{TenantID: "acme"})
	var notFound *PolicyNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "acme", notFound.Scope.TenantID)
}

func TestResolveCandidatesAmbiguityIsAnError(t *testing.T) {
	r := New()
	a := mfaPolicy("aaa", "acme", 10)
	b := mfaPolicy("bbb", "acme", 10)
	for _, p := range []*policy.Policy{a, b} {
		_, err := r.Put(p, "tester")
		require.NoError(t, err)
	}

	_, err := r.Snapshot().ResolveCandidates(Scope{TenantID: "acme"})
	var ambiguous *AmbiguousPolicyError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, policy.TypeMFA, ambiguous.Type)
	assert.ElementsMatch(t, []string{"aaa", "bbb"}, ambiguous.IDs)
}

func TestResolveCandidatesDetectsNonAdjacentTie(t *testing.T) {
	r := New()

	// Two MFA policies tie on (priority, specificity); a STEP_UP policy
	// whose ID sorts between theirs must not mask the tie.
	first := mfaPolicy("aaa", "acme", 10)
	between := mfaPolicy("bbb", "acme", 10)
	between.Type = policy.TypeStepUp
	between.Rules = policy.RuleSet{StepUp: &policy.StepUpRules{
		RequiredFactors:       1,
		AllowedMethods:        []policy.MethodID{"PB-03-02"},
		MinimumFactorStrength: policy.StrengthBasic,
		HighRiskOperations:    []policy.OperationID{"wire_transfer"},
		MaxLastFactorAge:      5 * time.Minute,
	}}
	second := mfaPolicy("ccc", "acme", 10)

	for _, p := range []*policy.Policy{first, between, second} {
		_, err := r.Put(p, "tester")
		require.NoError(t, err)
	}

	_, err := r.Snapshot().ResolveCandidates(Scope{TenantID: "acme"})
	var ambiguous *AmbiguousPolicyError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, policy.TypeMFA, ambiguous.Type)
	assert.ElementsMatch(t, []string{"aaa", "ccc"}, ambiguous.IDs)
}

func TestDeleteUnknownPolicyFails(t *testing.T) {
	r := New()
	assert.Error(t, r.Delete("missing"))
}

func TestLoadSkipsInvalidRows(t *testing.T) {
	r := New()
	good := mfaPolicy("good", "acme", 10)
	bad := mfaPolicy("bad", "acme", 20)
	bad.Rules.MFA.AllowedMethods = nil

	r.Load([]*policy.Policy{good, bad})

	snap := r.Snapshot()
	assert.NotNil(t, snap.Get("good"))
	assert.Nil(t, snap.Get("bad"))
}

func TestRollbackRestoresEarlierVersion(t *testing.T) {
	r := New()
	p := mfaPolicy("p1", "acme", 10)
	_, err := r.Put(p, "tester")
	require.NoError(t, err)

	updated := p.Clone()
	updated.Rules.MFA.RequiredFactors = 2
	updated.Rules.MFA.AllowedMethods = []policy.MethodID{"KB-01-02", "PB-03-02"}
	_, err = r.Put(updated, "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Snapshot().Get("p1").Rules.MFA.RequiredFactors)

	restored, err := r.Rollback("p1", 1, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Rules.MFA.RequiredFactors)
	assert.Equal(t, 1, r.Snapshot().Get("p1").Rules.MFA.RequiredFactors)

	// The rollback itself becomes the latest revision.
	assert.Len(t, r.History().History("p1"), 3)
}

func TestRollbackUnknownVersionFails(t *testing.T) {
	r := New()
	p := mfaPolicy("p1", "acme", 10)
	_, err := r.Put(p, "tester")
	require.NoError(t, err)

	_, err = r.Rollback("p1", 9, "auditor")
	assert.Error(t, err)
	_, err = r.Rollback("missing", 1, "auditor")
	assert.Error(t, err)
}

func TestDefaultMFAPolicyPicksLowestPriority(t *testing.T) {
	r := New()
	for _, p := range []*policy.Policy{
		mfaPolicy("secondary", "acme", 50),
		mfaPolicy("primary", "acme", 10),
	} {
		_, err := r.Put(p, "tester")
		require.NoError(t, err)
	}

	def := r.Snapshot().DefaultMFAPolicy("acme")
	require.NotNil(t, def)
	assert.Equal(t, "primary", def.ID)
	assert.Nil(t, r.Snapshot().DefaultMFAPolicy("globex"))
}

func TestErrInvalidPolicyIsWrapped(t *testing.T) {
	r := New()
	bad := mfaPolicy("p1", "", 10)
	_, err := r.Put(bad, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPolicy))
}
