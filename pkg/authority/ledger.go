// Package authority implements the authority ledger: an append-only,
// hash-chained record of who may authorize what, for how long. Grants are
// never deleted; a revocation entry shadows earlier grants for all future
// authority proofs.
package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sigillum-io/sigillum/pkg/canonical"
	"github.com/sigillum-io/sigillum/pkg/chain"
)

// EntryVersion is the schema version written into every ledger entry.
const EntryVersion = "1.0"

// GrantType is a closed set: unknown values are rejected at construction.
type GrantType string

const (
	GrantDirect     GrantType = "direct"
	GrantDelegated  GrantType = "delegated"
	GrantRevocation GrantType = "revocation"
)

// ParseGrantType validates a grant type string.
func ParseGrantType(s string) (GrantType, error) {
	switch GrantType(s) {
	case GrantDirect, GrantDelegated, GrantRevocation:
		return GrantType(s), nil
	}
	return "", fmt.Errorf("authority: unknown grant type %q", s)
}

// ErrNoAuthority reports that no valid, unexpired, unrevoked grant covers
// the requested claim at the requested time.
var ErrNoAuthority = errors.New("authority: no active grant covers the claim")

// ErrGrantNotFound reports a revocation target that does not exist.
var ErrGrantNotFound = errors.New("authority: grant not found")

// Wildcard in a scope list covers every id of that category.
const Wildcard = "*"

// ScopeBound is the closed list of everything a grant authorizes.
type ScopeBound struct {
	Decisions []string `json:"decisions"`
	Claims    []string `json:"claims"`
	Patches   []string `json:"patches"`
	Prompts   []string `json:"prompts"`
	Datasets  []string `json:"datasets"`
}

func (s ScopeBound) toDoc() map[string]interface{} {
	return map[string]interface{}{
		"decisions": canonical.SortedSet(s.Decisions),
		"claims":    canonical.SortedSet(s.Claims),
		"patches":   canonical.SortedSet(s.Patches),
		"prompts":   canonical.SortedSet(s.Prompts),
		"datasets":  canonical.SortedSet(s.Datasets),
	}
}

// Grant is the input to Append. Times are converted to canonical UTC
// strings on write.
type Grant struct {
	AuthorityID     string
	ActorID         string
	ActorRole       string
	Type            GrantType
	Scope           ScopeBound
	ClaimsBlessed   []string
	PolicyVersion   string
	PolicyHash      string
	EffectiveAt     time.Time
	ExpiresAt       *time.Time
	RevokedAt       *time.Time
	RevocationReason string
	WitnessRequired bool
	WitnessRole     string
	SigningKeyID    string
	Notes           string
	RecordedAt      time.Time
}

// Proof is the positive result of an authority query: the grant entry that
// blesses a claim at a point in time, with enough material to re-verify it
// against the ledger offline.
type Proof struct {
	ClaimID     string  `json:"claim_id"`
	EntryID     string  `json:"entry_id"`
	AuthorityID string  `json:"authority_id"`
	ActorID     string  `json:"actor_id"`
	ActorRole   string  `json:"actor_role"`
	EffectiveAt string  `json:"effective_at"`
	ExpiresAt   *string `json:"expires_at"`
	EntryHash   string  `json:"entry_hash"`
}

// Ledger is an authority ledger over any chain store.
type Ledger struct {
	store chain.Store
}

// New wraps a chain store as an authority ledger.
func New(store chain.Store) *Ledger {
	return &Ledger{store: store}
}

// Open is shorthand for a file-backed ledger at path.
func Open(path string) *Ledger {
	return New(chain.NewFileStore(path))
}

// Append records a grant (or revocation) entry. The entry id derives
// deterministically from the authority id, actor, and effective time.
func (l *Ledger) Append(ctx context.Context, g Grant) (chain.Entry, error) {
	if _, err := ParseGrantType(string(g.Type)); err != nil {
		return nil, err
	}
	if g.AuthorityID == "" || g.ActorID == "" || g.ActorRole == "" {
		return nil, errors.New("authority: authority id, actor id, and actor role are required")
	}

	effectiveAt := canonical.FormatUTC(g.EffectiveAt)
	idSeed, err := canonical.Hash(map[string]interface{}{
		"authority_id": g.AuthorityID,
		"actor_id":     g.ActorID,
		"effective_at": effectiveAt,
	})
	if err != nil {
		return nil, err
	}
	entryID := canonical.DetID("AUTH", idSeed)

	return l.store.Append(ctx, func(prev *string) (chain.Entry, error) {
		entry := chain.Entry{
			"entry_version":     EntryVersion,
			"entry_id":          entryID,
			"authority_id":      g.AuthorityID,
			"actor_id":          g.ActorID,
			"actor_role":        g.ActorRole,
			"grant_type":        string(g.Type),
			"scope_bound":       g.Scope.toDoc(),
			"claims_blessed":    canonical.SortedSet(g.ClaimsBlessed),
			"policy_version":    g.PolicyVersion,
			"policy_hash":       g.PolicyHash,
			"effective_at":      effectiveAt,
			"expires_at":        nullableTime(g.ExpiresAt),
			"revoked_at":        nullableTime(g.RevokedAt),
			"revocation_reason": nullableString(g.RevocationReason),
			"witness_required":  g.WitnessRequired,
			"witness_role":      nullableString(g.WitnessRole),
			"signing_key_id":    nullableString(g.SigningKeyID),
			"notes":             g.Notes,
			"recorded_at":       canonical.FormatUTC(g.RecordedAt),
		}
		return chain.Seal(entry, prev)
	})
}

// Revoke appends a revocation entry for authorityID. The original grant is
// left untouched; the revocation shadows it from at onward.
func (l *Ledger) Revoke(ctx context.Context, authorityID, reason string, at time.Time) (chain.Entry, error) {
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	var original chain.Entry
	for _, e := range entries {
		if e["authority_id"] == authorityID && e["grant_type"] != string(GrantRevocation) {
			original = e
		}
	}
	if original == nil {
		return nil, fmt.Errorf("%w: %s", ErrGrantNotFound, authorityID)
	}

	g := Grant{
		AuthorityID:      authorityID,
		ActorID:          str(original["actor_id"]),
		ActorRole:        str(original["actor_role"]),
		Type:             GrantRevocation,
		Scope:            scopeFromDoc(original["scope_bound"]),
		ClaimsBlessed:    strSlice(original["claims_blessed"]),
		PolicyVersion:    str(original["policy_version"]),
		PolicyHash:       str(original["policy_hash"]),
		EffectiveAt:      at,
		RevokedAt:        &at,
		RevocationReason: reason,
		Notes:            "Revocation of " + authorityID,
		RecordedAt:       at,
	}
	return l.Append(ctx, g)
}

// VerifyChain checks every entry hash and link, reporting all deviations.
func (l *Ledger) VerifyChain(ctx context.Context) ([]chain.Violation, error) {
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return chain.VerifyChain(entries), nil
}

// Entries returns the full ledger, oldest first.
func (l *Ledger) Entries(ctx context.Context) ([]chain.Entry, error) {
	return l.store.ReadAll(ctx)
}

// pointLookup is satisfied by stores with an indexed entry_id lookup.
type pointLookup interface {
	Get(ctx context.Context, entryID string) (chain.Entry, error)
}

// FindEntry returns the entry with the given entry_id. Stores with an
// indexed lookup answer directly; otherwise the ledger is scanned.
func (l *Ledger) FindEntry(ctx context.Context, entryID string) (chain.Entry, error) {
	if idx, ok := l.store.(pointLookup); ok {
		return idx.Get(ctx, entryID)
	}
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e["entry_id"] == entryID {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", chain.ErrEntryNotFound, entryID)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return canonical.FormatUTC(*t)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func strSlice(v interface{}) []string {
	raw, _ := v.([]interface{})
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func scopeFromDoc(v interface{}) ScopeBound {
	doc, _ := v.(map[string]interface{})
	return ScopeBound{
		Decisions: strSlice(doc["decisions"]),
		Claims:    strSlice(doc["claims"]),
		Patches:   strSlice(doc["patches"]),
		Prompts:   strSlice(doc["prompts"]),
		Datasets:  strSlice(doc["datasets"]),
	}
}
