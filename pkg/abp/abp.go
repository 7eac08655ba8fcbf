// Package abp builds and verifies Authority Boundary Primitives: scoped,
// contradiction-free permission declarations bound to an authority ledger
// entry. An ABP is a plain JSON document any enforcement engine can read
// without this runtime.
package abp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/canonical"
	"github.com/sigillum-io/sigillum/pkg/chain"
)

// Version is the ABP document version.
const Version = "1.0"

// ErrContradiction reports an id present in both an allow and a deny set.
var ErrContradiction = errors.New("abp: allow/deny contradiction")

// ErrAuthorityRef reports an authority reference that cannot be resolved.
var ErrAuthorityRef = errors.New("abp: authority entry not found")

// Doc is an ABP document. Generic maps keep the hash computation identical
// to what an external verifier recomputes from the JSON file.
type Doc = map[string]interface{}

// Params are the inputs to Build. Nil sections get empty defaults.
type Params struct {
	Scope            Doc
	AuthorityRef     Doc
	Objectives       Doc
	Tools            Doc
	Data             Doc
	Approvals        Doc
	Escalation       Doc
	Runtime          Doc
	Proof            Doc
	DelegationReview Doc
	CreatedAt        time.Time
	EffectiveAt      *time.Time
	ExpiresAt        *time.Time
	ParentABPID      string
	ParentABPHash    string
}

// DefaultProofRequirements is the evidence set a verifier demands when a
// builder does not narrow it.
var DefaultProofRequirements = []string{
	"seal", "manifest", "pack_hash", "transparency_log", "authority_ledger",
}

// Build assembles an ABP with a deterministic id and content hash. It
// fails with ErrContradiction if any objective id or tool name appears in
// both an allow and a deny list.
func Build(p Params) (Doc, error) {
	createdAt := canonical.FormatUTC(p.CreatedAt)
	effectiveAt := createdAt
	if p.EffectiveAt != nil {
		effectiveAt = canonical.FormatUTC(*p.EffectiveAt)
	}
	var expiresAt interface{}
	if p.ExpiresAt != nil {
		expiresAt = canonical.FormatUTC(*p.ExpiresAt)
	}

	doc := Doc{
		"abp_version":   Version,
		"abp_id":        "",
		"scope":         orEmpty(p.Scope),
		"authority_ref": orEmpty(p.AuthorityRef),
		"objectives":    orDefault(p.Objectives, Doc{"allowed": []interface{}{}, "denied": []interface{}{}}),
		"tools":         orDefault(p.Tools, Doc{"allow": []interface{}{}, "deny": []interface{}{}}),
		"data":          orDefault(p.Data, Doc{"permissions": []interface{}{}}),
		"approvals":     orDefault(p.Approvals, Doc{"required": []interface{}{}}),
		"escalation":    orDefault(p.Escalation, Doc{"paths": []interface{}{}}),
		"runtime":       orDefault(p.Runtime, Doc{"validators": []interface{}{}}),
		"proof":         orDefault(p.Proof, Doc{"required": toInterfaces(DefaultProofRequirements)}),
		"composition": Doc{
			"parent_abp_id":   nullable(p.ParentABPID),
			"parent_abp_hash": nullable(p.ParentABPHash),
			"children":        []interface{}{},
		},
		"effective_at": effectiveAt,
		"expires_at":   expiresAt,
		"created_at":   createdAt,
		"hash":         "",
	}
	if p.DelegationReview != nil {
		doc["delegation_review"] = p.DelegationReview
	}

	id, err := ComputeID(doc["scope"], doc["authority_ref"], createdAt)
	if err != nil {
		return nil, err
	}
	doc["abp_id"] = id

	if err := checkContradictions(doc); err != nil {
		return nil, err
	}

	hash, err := ComputeHash(doc)
	if err != nil {
		return nil, err
	}
	doc["hash"] = hash
	return doc, nil
}

// ComputeID derives the ABP id from the scope, the authority reference,
// and the creation timestamp. Nothing else contributes, so re-binding the
// same scope to the same authority at the same instant reproduces the id.
func ComputeID(scope, authorityRef interface{}, createdAt string) (string, error) {
	seed, err := canonical.Hash(map[string]interface{}{
		"scope":         scope,
		"authority_ref": authorityRef,
		"created_at":    createdAt,
	})
	if err != nil {
		return "", err
	}
	return canonical.DetID("ABP", seed), nil
}

// ComputeHash is the ABP content hash: the canonical hash of the document
// with the hash field blanked.
func ComputeHash(doc Doc) (string, error) {
	c := canonical.CloneDoc(doc)
	c["hash"] = ""
	return canonical.Hash(c)
}

// ResolveAuthorityRef looks up an authority ledger entry and returns the
// reference block an ABP embeds.
func ResolveAuthorityRef(ctx context.Context, ledger *authority.Ledger, entryID, ledgerPath string) (Doc, error) {
	entry, err := ledger.FindEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, chain.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAuthorityRef, entryID)
		}
		return nil, err
	}
	ref := Doc{
		"authority_entry_id":   entryID,
		"authority_entry_hash": entry["entry_hash"],
	}
	if ledgerPath != "" {
		ref["authority_ledger_path"] = ledgerPath
	} else {
		ref["authority_ledger_path"] = nil
	}
	return ref, nil
}

func checkContradictions(doc Doc) error {
	objectives, _ := doc["objectives"].(Doc)
	if overlap := setOverlap(idSet(objectives, "allowed", "id"), idSet(objectives, "denied", "id")); len(overlap) > 0 {
		return fmt.Errorf("%w: objective ids %v in both allowed and denied", ErrContradiction, overlap)
	}
	tools, _ := doc["tools"].(Doc)
	if overlap := setOverlap(idSet(tools, "allow", "name"), idSet(tools, "deny", "name")); len(overlap) > 0 {
		return fmt.Errorf("%w: tool names %v in both allow and deny", ErrContradiction, overlap)
	}
	return nil
}

// idSet collects the key field from each element of section[list]. Bare
// string elements count as their own id.
func idSet(section Doc, list, key string) map[string]struct{} {
	out := map[string]struct{}{}
	raw, _ := section[list].([]interface{})
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out[v] = struct{}{}
		case map[string]interface{}:
			if id, ok := v[key].(string); ok {
				out[id] = struct{}{}
			}
		}
	}
	return out
}

func setOverlap(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; ok {
			out = append(out, k)
		}
	}
	return canonical.SortedSet(out)
}

func orEmpty(d Doc) Doc {
	if d == nil {
		return Doc{}
	}
	return d
}

func orDefault(d, def Doc) Doc {
	if d == nil {
		return def
	}
	return d
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
