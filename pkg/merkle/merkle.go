// Package merkle builds and verifies Merkle commitment roots over ordered
// sequences of content hashes. A single root commits to an entire input set:
// any change to a leaf, or to the leaf order, changes the root.
package merkle

import (
	"github.com/sigillum-io/sigillum/pkg/canonical"
)

// Algorithm identifies the tree construction recorded in commitments.
const Algorithm = "sha256-merkle"

// EmptyRoot is the fixed sentinel returned for an empty leaf set. It is the
// hash of the empty string, so it can never collide with a real interior
// node (which always hashes at least one "sha256:" prefixed leaf).
const EmptyRoot = "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Root computes the Merkle root of an ordered sequence of content hashes.
//
// Leaves pair left to right. An odd level duplicates its last element to
// pad, matching the recorded commitment format. The padding is not
// domain-separated, so roots are not safe against a mutually adversarial
// signer set. A single leaf hashes once more rather than passing through,
// so a root is never itself a valid leaf.
func Root(leaves []string) string {
	if len(leaves) == 0 {
		return EmptyRoot
	}
	if len(leaves) == 1 {
		return canonical.SHA256Text(leaves[0])
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, canonical.SHA256Text(level[i]+level[i+1]))
		}
		level = next
	}
	return level[0]
}

// Verify recomputes the root of leaves and compares it to claimed.
func Verify(leaves []string, claimed string) bool {
	return Root(leaves) == claimed
}
