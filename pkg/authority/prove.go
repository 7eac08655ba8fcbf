package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/sigillum-io/sigillum/pkg/canonical"
	"github.com/sigillum-io/sigillum/pkg/chain"
)

// ProveAuthority finds the grant that blesses claimID at atTime. Entries
// are scanned newest first so later grants win; a revocation for the same
// authority id effective at or before atTime shadows the grant. Returns
// ErrNoAuthority when nothing covers the claim.
func (l *Ledger) ProveAuthority(ctx context.Context, claimID string, atTime time.Time) (*Proof, error) {
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	revokedAt := revocationTimes(entries)

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e["grant_type"] == string(GrantRevocation) {
			continue
		}
		if !grantCovers(e, claimID) {
			continue
		}
		if !withinWindow(e, atTime) {
			continue
		}
		if rt, ok := revokedAt[str(e["authority_id"])]; ok && !rt.After(atTime) {
			continue
		}
		return proofFromEntry(e, claimID), nil
	}
	return nil, fmt.Errorf("%w: %s at %s", ErrNoAuthority, claimID, canonical.FormatUTC(atTime))
}

// FindActiveForActor lists every grant held by actorID that is effective,
// unexpired, and unrevoked at atTime, oldest first.
func (l *Ledger) FindActiveForActor(ctx context.Context, actorID string, atTime time.Time) ([]chain.Entry, error) {
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	revokedAt := revocationTimes(entries)

	var active []chain.Entry
	for _, e := range entries {
		if e["grant_type"] == string(GrantRevocation) || e["actor_id"] != actorID {
			continue
		}
		if !withinWindow(e, atTime) {
			continue
		}
		if rt, ok := revokedAt[str(e["authority_id"])]; ok && !rt.After(atTime) {
			continue
		}
		active = append(active, e)
	}
	return active, nil
}

// revocationTimes maps authority_id to its earliest revocation time.
func revocationTimes(entries []chain.Entry) map[string]time.Time {
	out := make(map[string]time.Time)
	for _, e := range entries {
		if e["grant_type"] != string(GrantRevocation) {
			continue
		}
		rt, ok := parseEntryTime(e["revoked_at"])
		if !ok {
			continue
		}
		id := str(e["authority_id"])
		if existing, seen := out[id]; !seen || rt.Before(existing) {
			out[id] = rt
		}
	}
	return out
}

// grantCovers reports whether claimID is in the grant's blessed claims or
// claim scope. A "*" entry covers every claim.
func grantCovers(e chain.Entry, claimID string) bool {
	if listCovers(strSlice(e["claims_blessed"]), claimID) {
		return true
	}
	scope, _ := e["scope_bound"].(map[string]interface{})
	return listCovers(strSlice(scope["claims"]), claimID)
}

func listCovers(list []string, id string) bool {
	for _, item := range list {
		if item == id || item == Wildcard {
			return true
		}
	}
	return false
}

// withinWindow checks effective_at <= at < expires_at. A null expires_at
// means the grant is open-ended.
func withinWindow(e chain.Entry, at time.Time) bool {
	effective, ok := parseEntryTime(e["effective_at"])
	if !ok || at.Before(effective) {
		return false
	}
	expires, ok := parseEntryTime(e["expires_at"])
	if ok && !at.Before(expires) {
		return false
	}
	return true
}

func parseEntryTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := canonical.ParseClock(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func proofFromEntry(e chain.Entry, claimID string) *Proof {
	p := &Proof{
		ClaimID:     claimID,
		EntryID:     str(e["entry_id"]),
		AuthorityID: str(e["authority_id"]),
		ActorID:     str(e["actor_id"]),
		ActorRole:   str(e["actor_role"]),
		EffectiveAt: str(e["effective_at"]),
		EntryHash:   str(e["entry_hash"]),
	}
	if s, ok := e["expires_at"].(string); ok {
		p.ExpiresAt = &s
	}
	return p
}
