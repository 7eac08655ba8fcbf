package abp

import (
	"context"
	"fmt"
	"time"

	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/canonical"
	"github.com/sigillum-io/sigillum/pkg/chain"
	"github.com/sigillum-io/sigillum/pkg/report"
)

// Verify re-derives everything a reader would trust about an ABP: the
// content hash, the deterministic id, the authority binding (when a
// ledger is supplied), composition consistency, and the absence of
// allow/deny contradictions. Every check runs even after one fails.
func Verify(ctx context.Context, doc Doc, ledger *authority.Ledger) *report.Report {
	r := report.New(str(doc["abp_id"]))

	recomputed, err := ComputeHash(doc)
	if err != nil {
		r.Fail("abp.hash_integrity", err.Error())
	} else {
		r.Addf("abp.hash_integrity", recomputed == str(doc["hash"]),
			"recomputed=%s recorded=%s", short(recomputed), short(str(doc["hash"])))
	}

	expectedID, err := ComputeID(doc["scope"], doc["authority_ref"], str(doc["created_at"]))
	if err != nil {
		r.Fail("abp.id_deterministic", err.Error())
	} else {
		r.Addf("abp.id_deterministic", expectedID == str(doc["abp_id"]),
			"expected=%s recorded=%s", expectedID, str(doc["abp_id"]))
	}

	verifyAuthorityRef(ctx, r, doc, ledger)
	verifyComposition(r, doc)

	if err := checkContradictions(doc); err != nil {
		r.Fail("abp.no_contradictions", err.Error())
	} else {
		r.Add("abp.no_contradictions", true, "no contradictions")
	}

	verifyDelegationReview(r, doc)
	return r
}

func verifyAuthorityRef(ctx context.Context, r *report.Report, doc Doc, ledger *authority.Ledger) {
	if ledger == nil {
		r.Add("abp.authority_ref_valid", true, "no ledger provided, skipped")
		r.Add("abp.authority_not_expired", true, "no ledger provided, skipped")
		return
	}

	ref, _ := doc["authority_ref"].(map[string]interface{})
	entryID := str(ref["authority_entry_id"])
	entryHash := str(ref["authority_entry_hash"])

	entry, err := ledger.FindEntry(ctx, entryID)
	if err != nil {
		r.Addf("abp.authority_ref_valid", false, "entry %s not found in ledger", entryID)
		r.Add("abp.authority_not_expired", false, "authority entry unresolved")
		return
	}

	createdAt, perr := canonical.ParseClock(str(doc["created_at"]))
	revoked, rerr := authorityRevoked(ctx, ledger, str(entry["authority_id"]), createdAt)

	switch {
	case str(entry["entry_hash"]) != entryHash:
		r.Addf("abp.authority_ref_valid", false, "entry hash mismatch for %s", entryID)
	case rerr != nil:
		r.Fail("abp.authority_ref_valid", rerr.Error())
	case revoked:
		r.Addf("abp.authority_ref_valid", false, "authority %s has been revoked", entryID)
	default:
		r.Addf("abp.authority_ref_valid", true, "authority %s valid and active", entryID)
	}

	if perr != nil {
		r.Addf("abp.authority_not_expired", false, "bad created_at: %v", perr)
		return
	}
	inWindow := windowContains(entry, createdAt)
	r.Addf("abp.authority_not_expired", inWindow,
		"created_at=%s window=[%v, %v)", str(doc["created_at"]), entry["effective_at"], entry["expires_at"])
}

// authorityRevoked reports whether a revocation entry for authorityID
// exists with revoked_at at or before the given time.
func authorityRevoked(ctx context.Context, ledger *authority.Ledger, authorityID string, at time.Time) (bool, error) {
	entries, err := ledger.Entries(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e["grant_type"] != "revocation" || str(e["authority_id"]) != authorityID {
			continue
		}
		s, ok := e["revoked_at"].(string)
		if !ok {
			continue
		}
		rt, err := canonical.ParseClock(s)
		if err != nil {
			continue
		}
		if !rt.After(at) {
			return true, nil
		}
	}
	return false, nil
}

func windowContains(entry chain.Entry, at time.Time) bool {
	eff, err := canonical.ParseClock(str(entry["effective_at"]))
	if err != nil || at.Before(eff) {
		return false
	}
	if s, ok := entry["expires_at"].(string); ok && s != "" {
		exp, err := canonical.ParseClock(s)
		if err == nil && !at.Before(exp) {
			return false
		}
	}
	return true
}

func verifyComposition(r *report.Report, doc Doc) {
	comp, _ := doc["composition"].(map[string]interface{})
	parentID := str(comp["parent_abp_id"])
	parentHash := str(comp["parent_abp_hash"])
	children, _ := comp["children"].([]interface{})

	switch {
	case parentID != "" && parentHash == "":
		r.Fail("abp.composition_valid", "parent_abp_id set but parent_abp_hash is missing")
		return
	case parentID == "" && parentHash != "":
		r.Fail("abp.composition_valid", "parent_abp_hash set but parent_abp_id is missing")
		return
	}

	seen := map[string]struct{}{}
	for _, c := range children {
		cm, _ := c.(map[string]interface{})
		id := str(cm["abp_id"])
		if _, dup := seen[id]; dup {
			r.Addf("abp.composition_valid", false, "duplicate child abp id %s", id)
			return
		}
		seen[id] = struct{}{}
	}
	detail := fmt.Sprintf("%d children", len(children))
	if parentID != "" {
		detail = "parent=" + parentID + ", " + detail
	}
	r.Add("abp.composition_valid", true, detail)
}

func verifyDelegationReview(r *report.Report, doc Doc) {
	dr, ok := doc["delegation_review"].(map[string]interface{})
	if !ok {
		r.Add("abp.delegation_review_valid", true, "not present (optional section)")
		return
	}

	triggers, _ := dr["triggers"].([]interface{})
	policy, _ := dr["review_policy"].(map[string]interface{})

	seen := map[string]struct{}{}
	for _, t := range triggers {
		tm, _ := t.(map[string]interface{})
		id := str(tm["id"])
		if _, dup := seen[id]; dup {
			r.Fail("abp.delegation_review_valid", "duplicate trigger ids in delegation_review")
			return
		}
		seen[id] = struct{}{}
		if sev := str(tm["severity"]); sev != "warn" && sev != "critical" {
			r.Addf("abp.delegation_review_valid", false, "invalid trigger severity %q", sev)
			return
		}
	}
	if str(policy["approver_role"]) == "" || str(policy["output"]) == "" {
		r.Fail("abp.delegation_review_valid", "review_policy missing approver_role or output")
		return
	}
	r.Addf("abp.delegation_review_valid", true, "%d triggers, policy output=%s",
		len(triggers), str(policy["output"]))
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func short(s string) string {
	if len(s) > 30 {
		return s[:30] + "..."
	}
	return s
}
