package replay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillum-io/sigillum/pkg/abp"
	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/seal"
	"github.com/sigillum-io/sigillum/pkg/translog"
)

// buildPack assembles a full pack directory: sealed run, manifest,
// multisig file, transparency log, authority ledger, log head, and ABP.
func buildPack(t *testing.T) (string, *seal.Result) {
	t.Helper()
	ctx := context.Background()
	packDir := t.TempDir()

	root := t.TempDir()
	writeFixture(t, root, "data/decision_log.csv",
		"DecisionID,Title,Status,Confidence_pct,PriorityScore\n"+
			"DEC-TEST,Rotate signing keys,approved,92.5,8.1\n")
	writeFixture(t, root, "prompts/review.md", "# Review prompt\n")
	writeFixture(t, root, "schemas/sealed_run.schema.json", `{"type":"object"}`)
	writeFixture(t, root, "policy/POLICY_BASELINE.md", "# Policy baseline\n")
	writeFixture(t, root, "policy/POLICY_VERSION.txt", "GOV-2026-02\n")

	b := &seal.Builder{
		Root:           root,
		DataDir:        "data",
		PromptsDir:     "prompts",
		SchemasDir:     "schemas",
		PolicyBaseline: "policy/POLICY_BASELINE.md",
		PolicyVersion:  "policy/POLICY_VERSION.txt",
		OutDir:         packDir,
	}
	clock := fixedClock
	res, err := b.Seal(seal.Params{
		DecisionID:    "DEC-TEST",
		User:          "operator-1",
		Clock:         &clock,
		Deterministic: true,
	})
	require.NoError(t, err)

	sigFile := signFixture(t, res.Doc)
	require.NoError(t, WriteSignature(res.Path+".sig.json", sigFile))

	log := translog.Open(filepath.Join(packDir, "transparency_log.ndjson"))
	_, err = log.Append(ctx, translog.AppendParams{
		RunID:          res.RunID,
		CommitHash:     res.CommitHash,
		ArtifactSHA256: res.Hash,
		SigningKeyID:   "K1",
		RecordedAt:     fixedClock,
	})
	require.NoError(t, err)

	head, err := log.Head(ctx, fixedClock)
	require.NoError(t, err)
	headRaw, err := json.MarshalIndent(head, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(packDir, "LOG_HEAD.json"), headRaw, 0o644))

	ledger := authority.Open(filepath.Join(packDir, "authority_ledger.ndjson"))
	expires := fixedClock.Add(365 * 24 * time.Hour)
	entry, err := ledger.Append(ctx, authority.Grant{
		AuthorityID: "AUTH-OP-001",
		ActorID:     "operator-1",
		ActorRole:   "operator",
		Type:        authority.GrantDirect,
		Scope:       authority.ScopeBound{Claims: []string{"*"}, Decisions: []string{"DEC-TEST"}},
		EffectiveAt: fixedClock.Add(-time.Hour),
		ExpiresAt:   &expires,
		RecordedAt:  fixedClock,
	})
	require.NoError(t, err)

	entryID := entry["entry_id"].(string)
	ref, err := abp.ResolveAuthorityRef(ctx, ledger, entryID, filepath.Join(packDir, "authority_ledger.ndjson"))
	require.NoError(t, err)
	abpExpires := fixedClock.Add(30 * 24 * time.Hour)
	abpDoc, err := abp.Build(abp.Params{
		Scope: abp.Doc{
			"program":  "sealed-run-governance",
			"decision": "DEC-TEST",
		},
		AuthorityRef: ref,
		CreatedAt:    fixedClock,
		EffectiveAt:  &fixedClock,
		ExpiresAt:    &abpExpires,
	})
	require.NoError(t, err)
	abpRaw, err := json.MarshalIndent(abpDoc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(packDir, "abp_v1.json"), abpRaw, 0o644))

	return packDir, res
}

func TestVerifyPackClean(t *testing.T) {
	packDir, _ := buildPack(t)
	p := VerifyPack(context.Background(), packDir, PackOptions{
		Keys:      keyring(),
		Threshold: 2,
	})
	require.True(t, p.Passed(), "%+v", p.Sections)

	names := map[string]bool{}
	for _, s := range p.Sections {
		names[s.Name] = true
	}
	for _, want := range []string{"discovery", "replay", "detached_signatures", "log_head", "abp"} {
		assert.True(t, names[want], "missing section %s", want)
	}
	assert.Equal(t, 0, p.Audit.Violations())
}

func TestVerifyPackTamperedSealed(t *testing.T) {
	packDir, res := buildPack(t)

	doc, _, err := LoadSealed(res.Path)
	require.NoError(t, err)
	doc["decision_state"].(map[string]interface{})["title"] = "Tampered"
	raw, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(res.Path, raw, 0o644))

	p := VerifyPack(context.Background(), packDir, PackOptions{
		Keys:      keyring(),
		Threshold: 2,
	})
	assert.False(t, p.Passed())
}

func TestVerifyPackStaleLogHead(t *testing.T) {
	packDir, res := buildPack(t)

	log := translog.Open(filepath.Join(packDir, "transparency_log.ndjson"))
	_, err := log.Append(context.Background(), translog.AppendParams{
		RunID:          res.RunID,
		CommitHash:     "sha256:0badc0de0badc0de0badc0de0badc0de0badc0de0badc0de0badc0de0badc0de",
		ArtifactSHA256: res.Hash,
		RecordedAt:     fixedClock.Add(time.Hour),
	})
	require.NoError(t, err)

	p := VerifyPack(context.Background(), packDir, PackOptions{Keys: keyring()})
	assert.False(t, p.Passed())

	var headSection *PackSection
	for i := range p.Sections {
		if p.Sections[i].Name == "log_head" {
			headSection = &p.Sections[i]
		}
	}
	require.NotNil(t, headSection)
	assert.False(t, headSection.Report.Passed())
}

func TestVerifyPackMissingABPWhenRequired(t *testing.T) {
	packDir, _ := buildPack(t)
	require.NoError(t, os.Remove(filepath.Join(packDir, "abp_v1.json")))

	p := VerifyPack(context.Background(), packDir, PackOptions{
		Keys:       keyring(),
		RequireABP: true,
	})
	assert.False(t, p.Passed())
}

func TestVerifyPackEmptyDir(t *testing.T) {
	p := VerifyPack(context.Background(), t.TempDir(), PackOptions{})
	assert.False(t, p.Passed())
}
