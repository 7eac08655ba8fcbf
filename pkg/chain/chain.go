// Package chain implements the append-only, hash-chained ledger primitive
// shared by the transparency log and the authority ledger.
//
// An entry is a JSON object carrying, besides its domain fields:
//
//	entry_id        deterministic id derived from entry content
//	prev_entry_hash entry_hash of the predecessor (null for the chain head)
//	entry_hash      sha256 of the canonical entry with entry_hash blanked
//
// Append is the only mutation. Verification recomputes every hash and every
// link and reports all deviations instead of stopping at the first.
package chain

import (
	"errors"
	"fmt"

	"github.com/sigillum-io/sigillum/pkg/canonical"
)

// Entry is a decoded ledger entry. Domain fields vary per ledger instance,
// so entries stay generic JSON objects.
type Entry = map[string]interface{}

// ErrChain reports a ledger whose backing store cannot be read or parsed at
// all. Integrity deviations in a readable chain are Violations, not errors.
var ErrChain = errors.New("chain: ledger unreadable")

// ViolationKind classifies a chain integrity deviation.
type ViolationKind string

const (
	ViolationBadJSON      ViolationKind = "bad_json"
	ViolationHashMismatch ViolationKind = "entry_hash_mismatch"
	ViolationBrokenLink   ViolationKind = "prev_hash_broken"
	ViolationHeadNotNull  ViolationKind = "head_prev_not_null"
)

// Violation is one integrity deviation found while walking a chain.
type Violation struct {
	Index   int           `json:"index"` // zero-based entry position
	EntryID string        `json:"entry_id,omitempty"`
	Kind    ViolationKind `json:"kind"`
	Detail  string        `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("entry %d (%s): %s: %s", v.Index, v.EntryID, v.Kind, v.Detail)
}

// ComputeEntryHash hashes an entry with its entry_hash field blanked.
func ComputeEntryHash(entry Entry) (string, error) {
	cp := canonical.CloneDoc(entry)
	cp["entry_hash"] = ""
	return canonical.Hash(cp)
}

// Seal fills in prev_entry_hash and entry_hash on a fully populated entry.
// prevHash is nil for the chain head.
func Seal(entry Entry, prevHash *string) (Entry, error) {
	if prevHash == nil {
		entry["prev_entry_hash"] = nil
	} else {
		entry["prev_entry_hash"] = *prevHash
	}
	entry["entry_hash"] = ""
	h, err := ComputeEntryHash(entry)
	if err != nil {
		return nil, err
	}
	entry["entry_hash"] = h
	return entry, nil
}

// VerifyChain recomputes every entry hash and checks every link. It returns
// all deviations found; an empty slice means the chain is intact.
func VerifyChain(entries []Entry) []Violation {
	violations := []Violation{}
	var prevHash *string

	for i, entry := range entries {
		entryID, _ := entry["entry_id"].(string)

		computed, err := ComputeEntryHash(entry)
		recorded, _ := entry["entry_hash"].(string)
		switch {
		case err != nil:
			violations = append(violations, Violation{
				Index: i, EntryID: entryID, Kind: ViolationBadJSON,
				Detail: err.Error(),
			})
		case computed != recorded:
			violations = append(violations, Violation{
				Index: i, EntryID: entryID, Kind: ViolationHashMismatch,
				Detail: fmt.Sprintf("computed %s != recorded %s", trunc(computed), trunc(recorded)),
			})
		}

		recordedPrev, hasPrev := entry["prev_entry_hash"].(string)
		if i == 0 {
			if hasPrev {
				violations = append(violations, Violation{
					Index: i, EntryID: entryID, Kind: ViolationHeadNotNull,
					Detail: fmt.Sprintf("chain head carries prev_entry_hash %s, want null", trunc(recordedPrev)),
				})
			}
		} else {
			want := ""
			if prevHash != nil {
				want = *prevHash
			}
			if !hasPrev || recordedPrev != want {
				got := "null"
				if hasPrev {
					got = trunc(recordedPrev)
				}
				violations = append(violations, Violation{
					Index: i, EntryID: entryID, Kind: ViolationBrokenLink,
					Detail: fmt.Sprintf("prev_entry_hash %s, want %s", got, trunc(want)),
				})
			}
		}

		// Link expectations follow the recomputed hash, so a mutated
		// entry surfaces both its own mismatch and the downstream break.
		h := recorded
		if err == nil {
			h = computed
		}
		prevHash = &h
	}
	return violations
}

func trunc(h string) string {
	if len(h) > 30 {
		return h[:30] + "..."
	}
	return h
}
