package authority

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillum-io/sigillum/pkg/chain"
)

func testClock(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)
}

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "authority_ledger.ndjson"))
}

func operatorGrant(at time.Time) Grant {
	expires := at.Add(365 * 24 * time.Hour)
	return Grant{
		AuthorityID:   "AUTH-OP-001",
		ActorID:       "operator-1",
		ActorRole:     "operator",
		Type:          GrantDirect,
		Scope:         ScopeBound{Claims: []string{"CLM-001", "CLM-002"}},
		ClaimsBlessed: []string{"CLM-001"},
		PolicyVersion: "1.0",
		PolicyHash:    "sha256:1f1a5f16a2a1bb07b8b9c94b6b0e30d49f1a1e9ea02a7e72f02e3a9cdee14a11",
		EffectiveAt:   at,
		ExpiresAt:     &expires,
		RecordedAt:    at,
	}
}

func TestAppendSealsAndChains(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)

	first, err := l.Append(ctx, operatorGrant(at))
	require.NoError(t, err)
	assert.Nil(t, first["prev_entry_hash"])
	assert.Contains(t, first["entry_id"], "AUTH-")

	second := operatorGrant(at)
	second.AuthorityID = "AUTH-OP-002"
	entry, err := l.Append(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first["entry_hash"], entry["prev_entry_hash"])

	violations, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAppendRejectsUnknownGrantType(t *testing.T) {
	l := testLedger(t)
	g := operatorGrant(testClock(t))
	g.Type = "emergency"
	_, err := l.Append(context.Background(), g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown grant type")
}

func TestAppendRequiresActorIdentity(t *testing.T) {
	l := testLedger(t)
	g := operatorGrant(testClock(t))
	g.ActorRole = ""
	_, err := l.Append(context.Background(), g)
	require.Error(t, err)
}

func TestEntryIDDeterministic(t *testing.T) {
	ctx := context.Background()
	at := testClock(t)

	a, err := testLedger(t).Append(ctx, operatorGrant(at))
	require.NoError(t, err)
	b, err := testLedger(t).Append(ctx, operatorGrant(at))
	require.NoError(t, err)
	assert.Equal(t, a["entry_id"], b["entry_id"])
}

func TestProveAuthorityInsideWindow(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)
	_, err := l.Append(ctx, operatorGrant(at))
	require.NoError(t, err)

	proof, err := l.ProveAuthority(ctx, "CLM-001", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "CLM-001", proof.ClaimID)
	assert.Equal(t, "AUTH-OP-001", proof.AuthorityID)
	assert.Equal(t, "operator-1", proof.ActorID)
	assert.NotEmpty(t, proof.EntryHash)
}

func TestProveAuthorityScopeClaimCovers(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)
	_, err := l.Append(ctx, operatorGrant(at))
	require.NoError(t, err)

	// CLM-002 is only in scope_bound.claims, not claims_blessed.
	proof, err := l.ProveAuthority(ctx, "CLM-002", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "AUTH-OP-001", proof.AuthorityID)
}

func TestProveAuthorityWildcard(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)
	g := operatorGrant(at)
	g.ClaimsBlessed = []string{"*"}
	_, err := l.Append(ctx, g)
	require.NoError(t, err)

	proof, err := l.ProveAuthority(ctx, "CLM-999", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "CLM-999", proof.ClaimID)
}

func TestProveAuthorityOutsideWindow(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)
	_, err := l.Append(ctx, operatorGrant(at))
	require.NoError(t, err)

	_, err = l.ProveAuthority(ctx, "CLM-001", at.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrNoAuthority)

	_, err = l.ProveAuthority(ctx, "CLM-001", at.Add(366*24*time.Hour))
	assert.ErrorIs(t, err, ErrNoAuthority)
}

func TestProveAuthorityExpiryBoundaryExclusive(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)
	_, err := l.Append(ctx, operatorGrant(at))
	require.NoError(t, err)

	// Effective boundary is inclusive, expiry boundary exclusive.
	_, err = l.ProveAuthority(ctx, "CLM-001", at)
	require.NoError(t, err)
	_, err = l.ProveAuthority(ctx, "CLM-001", at.Add(365*24*time.Hour))
	assert.ErrorIs(t, err, ErrNoAuthority)
}

func TestProveAuthorityNewestGrantWins(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)
	_, err := l.Append(ctx, operatorGrant(at))
	require.NoError(t, err)

	newer := operatorGrant(at.Add(time.Hour))
	newer.AuthorityID = "AUTH-OP-002"
	newer.ActorID = "operator-2"
	_, err = l.Append(ctx, newer)
	require.NoError(t, err)

	proof, err := l.ProveAuthority(ctx, "CLM-001", at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "AUTH-OP-002", proof.AuthorityID)
}

func TestRevocationShadowsGrant(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	t0 := testClock(t)
	tr := t0.Add(48 * time.Hour)

	_, err := l.Append(ctx, operatorGrant(t0))
	require.NoError(t, err)

	rev, err := l.Revoke(ctx, "AUTH-OP-001", "key compromise", tr)
	require.NoError(t, err)
	assert.Equal(t, string(GrantRevocation), rev["grant_type"])
	assert.Equal(t, "key compromise", rev["revocation_reason"])

	// Before the revocation: proof resolves. From it onward: none,
	// even though the grant window itself runs for a year.
	proof, err := l.ProveAuthority(ctx, "CLM-001", tr.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, "AUTH-OP-001", proof.AuthorityID)

	_, err = l.ProveAuthority(ctx, "CLM-001", tr)
	assert.ErrorIs(t, err, ErrNoAuthority)
	_, err = l.ProveAuthority(ctx, "CLM-001", tr.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrNoAuthority)

	// The original grant entry is untouched.
	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0]["revoked_at"])

	violations, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRevokeUnknownGrant(t *testing.T) {
	l := testLedger(t)
	_, err := l.Revoke(context.Background(), "AUTH-MISSING", "cleanup", testClock(t))
	assert.ErrorIs(t, err, ErrGrantNotFound)
}

func TestFindActiveForActor(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	at := testClock(t)

	_, err := l.Append(ctx, operatorGrant(at))
	require.NoError(t, err)

	other := operatorGrant(at)
	other.AuthorityID = "AUTH-OP-002"
	other.ActorID = "operator-2"
	_, err = l.Append(ctx, other)
	require.NoError(t, err)

	revoked := operatorGrant(at)
	revoked.AuthorityID = "AUTH-OP-003"
	_, err = l.Append(ctx, revoked)
	require.NoError(t, err)
	_, err = l.Revoke(ctx, "AUTH-OP-003", "rotation", at.Add(time.Hour))
	require.NoError(t, err)

	active, err := l.FindActiveForActor(ctx, "operator-1", at.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "AUTH-OP-001", active[0]["authority_id"])
}

func TestFindEntry(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t)
	entry, err := l.Append(ctx, operatorGrant(testClock(t)))
	require.NoError(t, err)

	found, err := l.FindEntry(ctx, entry["entry_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, entry["entry_hash"], found["entry_hash"])

	_, err = l.FindEntry(ctx, "AUTH-ffffffff")
	assert.ErrorIs(t, err, chain.ErrEntryNotFound)
}
