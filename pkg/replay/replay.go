// Package replay recomputes every derived value in a sealed artifact and
// compares it against what was recorded at seal time. Nothing here trusts
// the artifact: hashes, identifiers, signatures, ledger inclusion, and
// authority windows are all re-derived from scratch.
package replay

import (
	"context"
	"time"

	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/canonical"
	"github.com/sigillum-io/sigillum/pkg/report"
	"github.com/sigillum-io/sigillum/pkg/schemas"
	"github.com/sigillum-io/sigillum/pkg/seal"
	"github.com/sigillum-io/sigillum/pkg/sig"
	"github.com/sigillum-io/sigillum/pkg/translog"
)

// Options select which evidence the replay checks beyond the artifact
// itself. Nil collaborators skip their checks.
type Options struct {
	Signature *SigFile
	Keys      *sig.Keyring
	// RequireMultisig demands at least this many valid signatures from
	// distinct keys. Zero means any valid signature suffices.
	RequireMultisig int
	TransLog        *translog.Log
	AuthLedger      *authority.Ledger
}

// Replay runs the full verification over a sealed run document. Every
// check runs even after one fails; the report is the complete diagnosis.
func Replay(ctx context.Context, doc map[string]interface{}, opts Options) *report.Report {
	r := report.New(runID(doc))

	if err := schemas.ValidateSealedRun(doc); err != nil {
		r.Fail("sealed_run.schema", err.Error())
	} else {
		r.Add("sealed_run.schema", true, "validates against sealed_run_v1")
	}

	checkEnvelope(r, doc)
	checkHashes(r, doc)
	checkSignature(r, doc, opts)
	checkTransparency(ctx, r, doc, opts.TransLog)
	checkAuthority(ctx, r, doc, opts.AuthLedger)

	return r
}

func checkEnvelope(r *report.Report, doc map[string]interface{}) {
	env := mapAt(doc, "authority_envelope")

	actor := mapAt(env, "actor")
	r.Addf("actor.id", str(actor["id"]) != "", "id=%s", str(actor["id"]))
	r.Addf("actor.role", str(actor["role"]) != "", "role=%s", str(actor["role"]))

	scope := mapAt(env, "scope_bound")
	decisions, _ := scope["decisions"].([]interface{})
	r.Addf("scope.decisions", len(decisions) > 0, "%d decisions bound", len(decisions))

	refusal := mapAt(env, "refusal")
	r.Addf("refusal.available", refusal["refusal_available"] == true,
		"available=%v", refusal["refusal_available"])
	checks, _ := refusal["checks_performed"].([]interface{})
	r.Addf("refusal.checks_recorded", len(checks) > 0, "%d checks recorded", len(checks))

	enforcement := mapAt(env, "enforcement")
	r.Addf("enforcement.emitted", enforcement["enforcement_emitted"] == true,
		"emitted=%v", enforcement["enforcement_emitted"])
	gates, _ := enforcement["gate_outcomes"].([]interface{})
	failedGates := 0
	for _, g := range gates {
		if gm, ok := g.(map[string]interface{}); ok && str(gm["result"]) == "fail" {
			failedGates++
		}
	}
	r.Addf("enforcement.gates", failedGates == 0, "%d gates checked, %d failed", len(gates), failedGates)

	files, _ := mapAt(doc, "inputs_snapshot")["files"].([]interface{})
	r.Addf("inputs.files", len(files) > 0, "%d input files referenced", len(files))
	for _, f := range files {
		fm, _ := f.(map[string]interface{})
		r.Add("inputs.hash["+str(fm["path"])+"]", str(fm["sha256"]) != "", "")
	}
}

func checkHashes(r *report.Report, doc map[string]interface{}) {
	recordedCommit := str(doc["commit_hash"])
	commit, err := seal.CommitHash(doc)
	if err != nil {
		r.Fail("commit_hash.integrity", err.Error())
	} else {
		r.Addf("commit_hash.integrity", commit == recordedCommit,
			"recomputed=%s recorded=%s", short(commit), short(recordedCommit))
	}

	recordedHash := str(doc["hash"])
	hash, err := seal.ContentHash(doc)
	if err != nil {
		r.Fail("hash.integrity", err.Error())
	} else {
		r.Addf("hash.integrity", hash == recordedHash,
			"recomputed=%s recorded=%s", short(hash), short(recordedHash))
	}

	recordedRun := runID(doc)
	if recordedCommit != "" {
		expected := seal.RunID(recordedCommit)
		r.Addf("run_id.deterministic", recordedRun == expected,
			"recorded=%s expected=%s", recordedRun, expected)
	} else {
		r.Fail("run_id.deterministic", "no commit_hash to derive from")
	}
}

func checkSignature(r *report.Report, doc map[string]interface{}, opts Options) {
	f := opts.Signature
	if f == nil {
		if opts.RequireMultisig > 0 {
			r.Addf("signature.required", false, "multisig threshold %d but no signature supplied", opts.RequireMultisig)
		}
		return
	}

	switch {
	case f.Envelope != nil:
		r.Merge("", sig.VerifyMultisig(doc, f.Envelope, opts.RequireMultisig, opts.Keys))
	case f.Block != nil:
		if opts.RequireMultisig > 1 {
			r.Addf("multisig.quorum", false,
				"threshold %d but only a single signature block present", opts.RequireMultisig)
		}
		r.Merge("", sig.VerifyBlock(doc, f.Block, opts.Keys))
	}
}

func checkTransparency(ctx context.Context, r *report.Report, doc map[string]interface{}, log *translog.Log) {
	if log == nil {
		return
	}
	commit := str(doc["commit_hash"])

	entry, found, err := log.FindByCommitHash(ctx, commit)
	if err != nil {
		r.Fail("transparency.inclusion", err.Error())
	} else if !found {
		r.Addf("transparency.inclusion", false, "no log entry for %s", short(commit))
	} else {
		r.Addf("transparency.inclusion", true, "entry %s", str(entry["entry_id"]))
	}

	violations, err := log.VerifyChain(ctx)
	if err != nil {
		r.Fail("transparency.chain", err.Error())
	} else {
		r.Addf("transparency.chain", len(violations) == 0, "%d violations", len(violations))
	}
}

func checkAuthority(ctx context.Context, r *report.Report, doc map[string]interface{}, ledger *authority.Ledger) {
	if ledger == nil {
		return
	}

	violations, err := ledger.VerifyChain(ctx)
	if err != nil {
		r.Fail("authority.chain", err.Error())
	} else {
		r.Addf("authority.chain", len(violations) == 0, "%d violations", len(violations))
	}

	at, ok := sealClock(doc)
	if !ok {
		r.Fail("authority.active", "no fixed clock to evaluate authority at")
		return
	}

	env := mapAt(doc, "authority_envelope")
	actorID := str(mapAt(env, "actor")["id"])
	active, err := ledger.FindActiveForActor(ctx, actorID, at)
	if err != nil {
		r.Fail("authority.active", err.Error())
		return
	}
	r.Addf("authority.active", len(active) > 0,
		"%d active grants for %s at %s", len(active), actorID, canonical.FormatUTC(at))
}

// sealClock extracts hash_scope.parameters.clock.
func sealClock(doc map[string]interface{}) (time.Time, bool) {
	params := mapAt(mapAt(doc, "hash_scope"), "parameters")
	s, ok := params["clock"].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := canonical.ParseClock(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func runID(doc map[string]interface{}) string {
	env := mapAt(doc, "authority_envelope")
	return str(mapAt(env, "provenance")["run_id"])
}

func mapAt(doc map[string]interface{}, key string) map[string]interface{} {
	m, _ := doc[key].(map[string]interface{})
	if m == nil {
		return map[string]interface{}{}
	}
	return m
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
