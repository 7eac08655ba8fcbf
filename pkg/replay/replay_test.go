package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/seal"
	"github.com/sigillum-io/sigillum/pkg/sig"
	"github.com/sigillum-io/sigillum/pkg/translog"
)

var fixedClock = time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)

const (
	operatorKeyB64 = "dGVzdC1zaWduaW5nLWtleS0wMDAwMDAwMDAwMDA="
	witnessKeyB64  = "d2l0bmVzcy1zaWduaW5nLWtleS0wMDAwMDAwMDA="
)

func keyring() *sig.Keyring {
	return &sig.Keyring{Keys: map[string]sig.Key{
		"K1": {Algorithm: "hmac-sha256", Secret: operatorKeyB64},
		"K2": {Algorithm: "hmac-sha256", Secret: witnessKeyB64},
	}}
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// sealFixture builds a sealed DEC-TEST run under a fixed clock.
func sealFixture(t *testing.T) *seal.Result {
	t.Helper()
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
	}
	clock := fixedClock
	res, err := b.Seal(seal.Params{
		DecisionID:    "DEC-TEST",
		User:          "operator-1",
		Clock:         &clock,
		Deterministic: true,
	})
	require.NoError(t, err)
	return res
}

func signFixture(t *testing.T, doc map[string]interface{}) *SigFile {
	t.Helper()
	operator, err := sig.NewHMACSigner("K1", operatorKeyB64)
	require.NoError(t, err)
	witness, err := sig.NewHMACSigner("K2", witnessKeyB64)
	require.NoError(t, err)

	env, err := sig.AppendSignature(nil, doc, operator, fixedClock,
		sig.SignOptions{SignerID: "alice", Role: "operator"})
	require.NoError(t, err)
	env, err = sig.AppendSignature(env, doc, witness, fixedClock.Add(time.Minute),
		sig.SignOptions{SignerID: "bob", Role: "witness"})
	require.NoError(t, err)
	return &SigFile{Envelope: env}
}

func TestReplayCleanRun(t *testing.T) {
	res := sealFixture(t)
	r := Replay(context.Background(), res.Doc, Options{})
	assert.True(t, r.Passed(), "%+v", r.Failures())
}

func TestReplayEndToEnd(t *testing.T) {
	ctx := context.Background()
	res := sealFixture(t)
	sigFile := signFixture(t, res.Doc)

	// Transparency log records the run; authority ledger grants the actor.
	log := translog.Open(filepath.Join(t.TempDir(), "transparency_log.ndjson"))
	_, err := log.Append(ctx, translog.AppendParams{
		RunID:          res.RunID,
		CommitHash:     res.CommitHash,
		ArtifactSHA256: res.Hash,
		SigningKeyID:   "K1",
		RecordedAt:     fixedClock,
	})
	require.NoError(t, err)

	ledger := authority.Open(filepath.Join(t.TempDir(), "authority_ledger.ndjson"))
	expires := fixedClock.Add(365 * 24 * time.Hour)
	_, err = ledger.Append(ctx, authority.Grant{
		AuthorityID: "AUTH-OP-001",
		ActorID:     "operator-1",
		ActorRole:   "operator",
		Type:        authority.GrantDirect,
		Scope:       authority.ScopeBound{Claims: []string{"*"}},
		EffectiveAt: fixedClock.Add(-time.Hour),
		ExpiresAt:   &expires,
		RecordedAt:  fixedClock,
	})
	require.NoError(t, err)

	r := Replay(ctx, res.Doc, Options{
		Signature:       sigFile,
		Keys:            keyring(),
		RequireMultisig: 2,
		TransLog:        log,
		AuthLedger:      ledger,
	})
	assert.True(t, r.Passed(), "%+v", r.Failures())
}

func TestReplayTamperedTitle(t *testing.T) {
	res := sealFixture(t)
	sigFile := signFixture(t, res.Doc)

	state := res.Doc["decision_state"].(map[string]interface{})
	state["title"] = "Tampered title"

	r := Replay(context.Background(), res.Doc, Options{
		Signature:       sigFile,
		Keys:            keyring(),
		RequireMultisig: 2,
	})
	assert.False(t, r.Passed())

	// Hash integrity fails before the signature checks do.
	var hashIdx, sigIdx int
	for i, c := range r.Checks {
		switch c.Name {
		case "hash.integrity":
			hashIdx = i
			assert.False(t, c.Passed)
		case "multisig.quorum":
			sigIdx = i
			assert.False(t, c.Passed)
		}
	}
	assert.Less(t, hashIdx, sigIdx)
}

func TestReplaySingleSignatureBelowThreshold(t *testing.T) {
	res := sealFixture(t)
	operator, err := sig.NewHMACSigner("K1", operatorKeyB64)
	require.NoError(t, err)
	block, err := sig.Sign(res.Doc, operator, fixedClock, sig.SignOptions{Role: "operator"})
	require.NoError(t, err)

	r := Replay(context.Background(), res.Doc, Options{
		Signature:       &SigFile{Block: block},
		Keys:            keyring(),
		RequireMultisig: 2,
	})
	assert.False(t, r.Passed())
}

func TestReplayMissingLogEntry(t *testing.T) {
	ctx := context.Background()
	res := sealFixture(t)
	log := translog.Open(filepath.Join(t.TempDir(), "transparency_log.ndjson"))

	r := Replay(ctx, res.Doc, Options{TransLog: log})
	assert.False(t, r.Passed())
	var inclusionFailed bool
	for _, c := range r.Failures() {
		if c.Name == "transparency.inclusion" {
			inclusionFailed = true
		}
	}
	assert.True(t, inclusionFailed)
}

func TestReplayNoAuthorityGrant(t *testing.T) {
	ctx := context.Background()
	res := sealFixture(t)
	ledger := authority.Open(filepath.Join(t.TempDir(), "authority_ledger.ndjson"))

	r := Replay(ctx, res.Doc, Options{AuthLedger: ledger})
	assert.False(t, r.Passed())
}

func TestLoadSignatureDetectsFormat(t *testing.T) {
	dir := t.TempDir()
	res := sealFixture(t)

	operator, err := sig.NewHMACSigner("K1", operatorKeyB64)
	require.NoError(t, err)
	block, err := sig.Sign(res.Doc, operator, fixedClock, sig.SignOptions{})
	require.NoError(t, err)

	single := filepath.Join(dir, "a.sig.json")
	require.NoError(t, WriteSignature(single, &SigFile{Block: block}))
	loaded, err := LoadSignature(single)
	require.NoError(t, err)
	assert.NotNil(t, loaded.Block)
	assert.Nil(t, loaded.Envelope)

	multi := filepath.Join(dir, "b.sig.json")
	require.NoError(t, WriteSignature(multi, &SigFile{Envelope: sig.Promote(block)}))
	loaded, err = LoadSignature(multi)
	require.NoError(t, err)
	assert.NotNil(t, loaded.Envelope)

	_, err = LoadSignature(filepath.Join(dir, "missing.sig.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}
