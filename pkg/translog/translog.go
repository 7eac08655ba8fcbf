// Package translog implements the transparency log: an append-only,
// hash-chained record of every sealed run. External parties use it to
// detect omitted or backdated seals without access to the producer.
package translog

import (
	"context"
	"fmt"
	"time"

	"github.com/sigillum-io/sigillum/pkg/canonical"
	"github.com/sigillum-io/sigillum/pkg/chain"
)

// EntryVersion is the schema version written into every log entry.
const EntryVersion = "1.0"

// AppendParams are the domain fields of one transparency log entry.
type AppendParams struct {
	RunID          string
	CommitHash     string
	ArtifactSHA256 string // content hash of the sealed artifact document
	ArtifactPath   string
	SigningKeyID   string
	WitnessKeyID   string
	RecordedAt     time.Time
}

// Log is a transparency log over any chain store.
type Log struct {
	store chain.Store
}

// New wraps a chain store as a transparency log.
func New(store chain.Store) *Log {
	return &Log{store: store}
}

// Open is shorthand for a file-backed log at path.
func Open(path string) *Log {
	return New(chain.NewFileStore(path))
}

// Append records a sealed run. The entry id derives deterministically from
// the run id and both hashes, so re-recording the same seal produces the
// same id.
func (l *Log) Append(ctx context.Context, p AppendParams) (chain.Entry, error) {
	if p.RunID == "" || p.CommitHash == "" || p.ArtifactSHA256 == "" {
		return nil, fmt.Errorf("translog: run id, commit hash, and artifact hash are required")
	}

	idSeed, err := canonical.Hash(map[string]interface{}{
		"run_id":      p.RunID,
		"commit_hash": p.CommitHash,
		"sealed_hash": p.ArtifactSHA256,
	})
	if err != nil {
		return nil, err
	}
	entryID := canonical.DetID("TLE", idSeed)

	return l.store.Append(ctx, func(prev *string) (chain.Entry, error) {
		entry := chain.Entry{
			"entry_version":         EntryVersion,
			"entry_id":              entryID,
			"run_id":                p.RunID,
			"commit_hash":           p.CommitHash,
			"artifact_bytes_sha256": p.ArtifactSHA256,
			"artifact_path":         nullableStr(p.ArtifactPath),
			"signing_key_id":        nullableStr(p.SigningKeyID),
			"witness_key_id":        nullableStr(p.WitnessKeyID),
			"recorded_at":           canonical.FormatUTC(p.RecordedAt),
		}
		return chain.Seal(entry, prev)
	})
}

// VerifyChain checks every entry hash and link, reporting all deviations.
func (l *Log) VerifyChain(ctx context.Context) ([]chain.Violation, error) {
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return chain.VerifyChain(entries), nil
}

// FindByCommitHash returns the first entry recording commitHash, if any.
func (l *Log) FindByCommitHash(ctx context.Context, commitHash string) (chain.Entry, bool, error) {
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, e := range entries {
		if e["commit_hash"] == commitHash {
			return e, true, nil
		}
	}
	return nil, false, nil
}

// Entries returns the full log, oldest first.
func (l *Log) Entries(ctx context.Context) ([]chain.Entry, error) {
	return l.store.ReadAll(ctx)
}

// Head is a lightweight snapshot of the log tip, suitable for publishing
// out of band as a consistency anchor.
type Head struct {
	EntryCount int     `json:"entry_count"`
	HeadHash   *string `json:"head_hash"`
	RecordedAt string  `json:"recorded_at"`
}

// Head returns the current tip snapshot.
func (l *Log) Head(ctx context.Context, at time.Time) (Head, error) {
	entries, err := l.store.ReadAll(ctx)
	if err != nil {
		return Head{}, err
	}
	h := Head{
		EntryCount: len(entries),
		RecordedAt: canonical.FormatUTC(at),
	}
	if len(entries) > 0 {
		if tip, ok := entries[len(entries)-1]["entry_hash"].(string); ok {
			h.HeadHash = &tip
		}
	}
	return h, nil
}

func nullableStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
