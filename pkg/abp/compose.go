package abp

import "sort"

// ComposeParams describe the parent ABP wrapping a set of children.
type ComposeParams struct {
	Scope        Doc
	AuthorityRef Doc
	Children     []Doc
	Params       // CreatedAt, EffectiveAt, ExpiresAt
}

// Compose merges child ABPs into a parent: boundaries union, proof
// requirements union, delegation-review triggers deduplicate by id, and
// each child is recorded by id and hash under composition.children. The
// parent hash is recomputed after the child refs are injected so it
// covers them.
func Compose(p ComposeParams) (Doc, error) {
	merged := Params{
		Scope:        p.Scope,
		AuthorityRef: p.AuthorityRef,
		Objectives:   Doc{"allowed": []interface{}{}, "denied": []interface{}{}},
		Tools:        Doc{"allow": []interface{}{}, "deny": []interface{}{}},
		Data:         Doc{"permissions": []interface{}{}},
		Approvals:    Doc{"required": []interface{}{}},
		Escalation:   Doc{"paths": []interface{}{}},
		Runtime:      Doc{"validators": []interface{}{}},
		CreatedAt:    p.CreatedAt,
		EffectiveAt:  p.EffectiveAt,
		ExpiresAt:    p.ExpiresAt,
	}

	proofSet := map[string]struct{}{}
	childRefs := []interface{}{}
	var triggers []interface{}
	seenTriggers := map[string]struct{}{}
	var reviewPolicy Doc

	for _, child := range p.Children {
		extendList(merged.Objectives, child, "objectives", "allowed")
		extendList(merged.Objectives, child, "objectives", "denied")
		extendList(merged.Tools, child, "tools", "allow")
		extendList(merged.Tools, child, "tools", "deny")
		extendList(merged.Data, child, "data", "permissions")
		extendList(merged.Approvals, child, "approvals", "required")
		extendList(merged.Escalation, child, "escalation", "paths")
		extendList(merged.Runtime, child, "runtime", "validators")

		if proof, ok := child["proof"].(map[string]interface{}); ok {
			if req, ok := proof["required"].([]interface{}); ok {
				for _, r := range req {
					if s, ok := r.(string); ok {
						proofSet[s] = struct{}{}
					}
				}
			}
		}

		childRefs = append(childRefs, Doc{
			"abp_id":   child["abp_id"],
			"abp_hash": child["hash"],
		})

		if dr, ok := child["delegation_review"].(map[string]interface{}); ok {
			if ts, ok := dr["triggers"].([]interface{}); ok {
				for _, t := range ts {
					tm, ok := t.(map[string]interface{})
					if !ok {
						continue
					}
					id, _ := tm["id"].(string)
					if _, seen := seenTriggers[id]; seen {
						continue
					}
					seenTriggers[id] = struct{}{}
					triggers = append(triggers, t)
				}
			}
			if rp, ok := dr["review_policy"].(map[string]interface{}); ok {
				if reviewPolicy == nil || timeoutOf(rp) < timeoutOf(reviewPolicy) {
					reviewPolicy = rp
				}
			}
		}
	}

	required := make([]string, 0, len(proofSet))
	for r := range proofSet {
		required = append(required, r)
	}
	sort.Strings(required)
	merged.Proof = Doc{"required": toInterfaces(required)}

	if len(triggers) > 0 {
		if reviewPolicy == nil {
			reviewPolicy = Doc{
				"approver_role": "Reviewer",
				"threshold":     1,
				"timeout_ms":    604800000,
				"output":        "abp_patch",
			}
		}
		merged.DelegationReview = Doc{
			"triggers":      triggers,
			"review_policy": reviewPolicy,
		}
	}

	parent, err := Build(merged)
	if err != nil {
		return nil, err
	}

	comp := parent["composition"].(Doc)
	comp["children"] = childRefs
	hash, err := ComputeHash(parent)
	if err != nil {
		return nil, err
	}
	parent["hash"] = hash
	return parent, nil
}

func extendList(dst Doc, child Doc, section, list string) {
	src, ok := child[section].(map[string]interface{})
	if !ok {
		return
	}
	items, ok := src[list].([]interface{})
	if !ok {
		return
	}
	cur, _ := dst[list].([]interface{})
	dst[list] = append(cur, items...)
}

// timeoutOf treats a missing timeout as unbounded so the strictest child
// policy wins.
func timeoutOf(policy Doc) float64 {
	switch v := policy["timeout_ms"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return float64(1 << 62)
}
