package abp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillum-io/sigillum/pkg/authority"
)

var abpClock = time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)

func testScope() Doc {
	return Doc{
		"contract_id": "CTR-001",
		"program":     "SEQUOIA",
		"modules":     []interface{}{"hiring", "bid", "compliance"},
	}
}

func grantedLedger(t *testing.T) (*authority.Ledger, string) {
	t.Helper()
	ctx := context.Background()
	l := authority.Open(filepath.Join(t.TempDir(), "ledger.ndjson"))
	expires := abpClock.Add(365 * 24 * time.Hour)
	entry, err := l.Append(ctx, authority.Grant{
		AuthorityID:   "AUTH-SEQ-001",
		ActorID:       "operator-1",
		ActorRole:     "operator",
		Type:          authority.GrantDirect,
		Scope:         authority.ScopeBound{Claims: []string{"*"}},
		EffectiveAt:   abpClock.Add(-24 * time.Hour),
		ExpiresAt:     &expires,
		RecordedAt:    abpClock,
		PolicyVersion: "GOV-2026-02",
	})
	require.NoError(t, err)
	return l, entry["entry_id"].(string)
}

func buildFixture(t *testing.T, ledger *authority.Ledger, entryID string) Doc {
	t.Helper()
	ref, err := ResolveAuthorityRef(context.Background(), ledger, entryID, "ledger.ndjson")
	require.NoError(t, err)
	doc, err := Build(Params{
		Scope:        testScope(),
		AuthorityRef: ref,
		Objectives: Doc{
			"allowed": []interface{}{Doc{"id": "OBJ-1", "text": "evaluate bids"}},
			"denied":  []interface{}{Doc{"id": "OBJ-9", "text": "award contracts"}},
		},
		Tools: Doc{
			"allow": []interface{}{Doc{"name": "search"}},
			"deny":  []interface{}{Doc{"name": "payments"}},
		},
		CreatedAt: abpClock,
	})
	require.NoError(t, err)
	return doc
}

func TestBuildDeterministicID(t *testing.T) {
	ledger, entryID := grantedLedger(t)
	a := buildFixture(t, ledger, entryID)
	b := buildFixture(t, ledger, entryID)

	assert.Equal(t, a["abp_id"], b["abp_id"])
	assert.Equal(t, a["hash"], b["hash"])
	assert.Contains(t, a["abp_id"], "ABP-")

	later, err := Build(Params{
		Scope:        testScope(),
		AuthorityRef: a["authority_ref"].(Doc),
		CreatedAt:    abpClock.Add(time.Second),
	})
	require.NoError(t, err)
	assert.NotEqual(t, a["abp_id"], later["abp_id"])
}

func TestBuildContradiction(t *testing.T) {
	_, err := Build(Params{
		Scope: testScope(),
		Objectives: Doc{
			"allowed": []interface{}{Doc{"id": "OBJ-1"}},
			"denied":  []interface{}{Doc{"id": "OBJ-1"}},
		},
		CreatedAt: abpClock,
	})
	assert.ErrorIs(t, err, ErrContradiction)

	_, err = Build(Params{
		Scope: testScope(),
		Tools: Doc{
			"allow": []interface{}{Doc{"name": "payments"}},
			"deny":  []interface{}{Doc{"name": "payments"}},
		},
		CreatedAt: abpClock,
	})
	assert.ErrorIs(t, err, ErrContradiction)
}

func TestResolveAuthorityRefMissing(t *testing.T) {
	ledger, _ := grantedLedger(t)
	_, err := ResolveAuthorityRef(context.Background(), ledger, "AUTH-ffffffff", "")
	assert.ErrorIs(t, err, ErrAuthorityRef)
}

func TestVerifyPasses(t *testing.T) {
	ledger, entryID := grantedLedger(t)
	doc := buildFixture(t, ledger, entryID)

	r := Verify(context.Background(), doc, ledger)
	assert.True(t, r.Passed(), "%+v", r.Failures())
}

func TestVerifyDetectsTamper(t *testing.T) {
	ledger, entryID := grantedLedger(t)
	doc := buildFixture(t, ledger, entryID)

	doc["scope"].(Doc)["program"] = "REDWOOD"
	r := Verify(context.Background(), doc, ledger)
	assert.False(t, r.Passed())

	failed := map[string]bool{}
	for _, c := range r.Failures() {
		failed[c.Name] = true
	}
	assert.True(t, failed["abp.hash_integrity"])
	assert.True(t, failed["abp.id_deterministic"])
}

func TestVerifyDetectsRevocation(t *testing.T) {
	ctx := context.Background()
	ledger, entryID := grantedLedger(t)
	doc := buildFixture(t, ledger, entryID)

	_, err := ledger.Revoke(ctx, "AUTH-SEQ-001", "program closed", abpClock.Add(-time.Hour))
	require.NoError(t, err)

	r := Verify(ctx, doc, ledger)
	assert.False(t, r.Passed())
	var refFailed bool
	for _, c := range r.Failures() {
		if c.Name == "abp.authority_ref_valid" {
			refFailed = true
		}
	}
	assert.True(t, refFailed)
}

func TestVerifyCreatedOutsideWindow(t *testing.T) {
	ctx := context.Background()
	l := authority.Open(filepath.Join(t.TempDir(), "ledger.ndjson"))
	expires := abpClock.Add(-time.Hour)
	entry, err := l.Append(ctx, authority.Grant{
		AuthorityID: "AUTH-OLD-001",
		ActorID:     "operator-1",
		ActorRole:   "operator",
		Type:        authority.GrantDirect,
		EffectiveAt: abpClock.Add(-48 * time.Hour),
		ExpiresAt:   &expires,
		RecordedAt:  abpClock,
	})
	require.NoError(t, err)

	doc := buildFixture(t, l, entry["entry_id"].(string))
	r := Verify(ctx, doc, l)
	assert.False(t, r.Passed())
}

func TestVerifyWithoutLedgerSkipsAuthorityChecks(t *testing.T) {
	ledger, entryID := grantedLedger(t)
	doc := buildFixture(t, ledger, entryID)

	r := Verify(context.Background(), doc, nil)
	assert.True(t, r.Passed(), "%+v", r.Failures())
}

func TestComposeMergesChildren(t *testing.T) {
	ledger, entryID := grantedLedger(t)
	ref, err := ResolveAuthorityRef(context.Background(), ledger, entryID, "")
	require.NoError(t, err)

	childA, err := Build(Params{
		Scope:        Doc{"contract_id": "CTR-001", "modules": []interface{}{"hiring"}},
		AuthorityRef: ref,
		Tools:        Doc{"allow": []interface{}{Doc{"name": "search"}}, "deny": []interface{}{}},
		Proof:        Doc{"required": []interface{}{"seal"}},
		DelegationReview: Doc{
			"triggers": []interface{}{
				Doc{"id": "DRT-1", "severity": "warn"},
			},
			"review_policy": Doc{"approver_role": "Reviewer", "threshold": 1, "timeout_ms": 1000, "output": "abp_patch"},
		},
		CreatedAt: abpClock,
	})
	require.NoError(t, err)

	childB, err := Build(Params{
		Scope:        Doc{"contract_id": "CTR-001", "modules": []interface{}{"bid"}},
		AuthorityRef: ref,
		Tools:        Doc{"allow": []interface{}{Doc{"name": "calculator"}}, "deny": []interface{}{}},
		Proof:        Doc{"required": []interface{}{"manifest", "seal"}},
		DelegationReview: Doc{
			"triggers": []interface{}{
				Doc{"id": "DRT-1", "severity": "warn"},
				Doc{"id": "DRT-2", "severity": "critical"},
			},
			"review_policy": Doc{"approver_role": "Reviewer", "threshold": 2, "timeout_ms": 500, "output": "abp_patch"},
		},
		CreatedAt: abpClock,
	})
	require.NoError(t, err)

	parent, err := Compose(ComposeParams{
		Scope:        testScope(),
		AuthorityRef: ref,
		Children:     []Doc{childA, childB},
		Params:       Params{CreatedAt: abpClock},
	})
	require.NoError(t, err)

	comp := parent["composition"].(Doc)
	children := comp["children"].([]interface{})
	require.Len(t, children, 2)
	assert.Equal(t, childA["abp_id"], children[0].(Doc)["abp_id"])

	tools := parent["tools"].(Doc)
	assert.Len(t, tools["allow"], 2)

	proof := parent["proof"].(Doc)
	assert.Equal(t, []interface{}{"manifest", "seal"}, proof["required"])

	// Triggers deduplicate by id; the tighter review timeout wins.
	dr := parent["delegation_review"].(Doc)
	assert.Len(t, dr["triggers"], 2)
	policy := dr["review_policy"].(Doc)
	assert.Equal(t, 500, policy["timeout_ms"])

	// The recomputed hash covers the injected child refs.
	recomputed, err := ComputeHash(parent)
	require.NoError(t, err)
	assert.Equal(t, parent["hash"], recomputed)

	r := Verify(context.Background(), parent, ledger)
	for _, c := range r.Checks {
		if c.Name == "abp.composition_valid" {
			assert.True(t, c.Passed, c.Detail)
		}
	}
}
