package seal

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/sigillum-io/sigillum/pkg/canonical"
)

// DefaultExclusions are the field names dropped from the document before
// the commit hash is computed. They cover everything that changes after
// sealing: wall-clock observations, the emitted-file index written after
// the hash exists, and the replay command that embeds the run id.
var DefaultExclusions = []string{
	"observed_at",
	"artifacts_emitted",
	"replay_instructions",
}

// CommitHash computes the deterministic commitment over a sealed run: the
// canonical hash of the document with the hash fields blanked, derived
// identity fields blanked, and every hash_scope exclusion dropped. The
// same document always yields the same commit hash regardless of when it
// was observed or which files it was later written to.
func CommitHash(doc map[string]interface{}) (string, error) {
	c := canonical.CloneDoc(doc)
	c["hash"] = ""
	c["commit_hash"] = ""
	if env, ok := c["authority_envelope"].(map[string]interface{}); ok {
		if prov, ok := env["provenance"].(map[string]interface{}); ok {
			prov["run_id"] = ""
			prov["deterministic_inputs_hash"] = ""
		}
	}
	c = canonical.DropFields(c, Exclusions(doc)...)
	return canonical.Hash(c)
}

// ContentHash computes the hash of the fully populated document with only
// the hash field itself blanked. Unlike the commit hash it covers the
// emitted-artifact index, so any post-seal mutation invalidates it.
func ContentHash(doc map[string]interface{}) (string, error) {
	c := canonical.CloneDoc(doc)
	c["hash"] = ""
	return canonical.Hash(c)
}

// Exclusions returns the document's own hash_scope exclusion list, or the
// defaults when the document carries none.
func Exclusions(doc map[string]interface{}) []string {
	scope, ok := doc["hash_scope"].(map[string]interface{})
	if !ok {
		return DefaultExclusions
	}
	raw, ok := scope["exclusions"].([]interface{})
	if !ok {
		return DefaultExclusions
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return DefaultExclusions
	}
	return out
}

// RunID derives the run identifier from a commit hash.
func RunID(commitHash string) string {
	return canonical.DetID("RUN", commitHash)
}

// HashFile streams a file through sha256.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingInput, path)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("seal: hash %s: %w", path, err)
	}
	return canonical.HashPrefix + fmt.Sprintf("%x", h.Sum(nil)), nil
}
