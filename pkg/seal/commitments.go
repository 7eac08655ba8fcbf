package seal

import "github.com/sigillum-io/sigillum/pkg/merkle"

// BuildCommitments computes one Merkle root per input category. Only
// hashes enter the tree, so a commitment can be published without
// exposing raw file content.
func BuildCommitments(inputs, prompts, schemas, policies []FileEntry) map[string]interface{} {
	return map[string]interface{}{
		"inputs_root":   merkle.Root(hashes(inputs)),
		"prompts_root":  merkle.Root(hashes(prompts)),
		"schemas_root":  merkle.Root(hashes(schemas)),
		"policies_root": merkle.Root(hashes(policies)),
		"leaf_count":    len(inputs) + len(prompts) + len(schemas) + len(policies),
		"algorithm":     merkle.Algorithm,
	}
}
