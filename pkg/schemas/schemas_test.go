package schemas

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillum-io/sigillum/pkg/authority"
	"github.com/sigillum-io/sigillum/pkg/translog"
)

func TestValidateLedgerEntry(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)

	l := authority.Open(filepath.Join(t.TempDir(), "ledger.ndjson"))
	entry, err := l.Append(ctx, authority.Grant{
		AuthorityID: "AUTH-001",
		ActorID:     "operator-1",
		ActorRole:   "operator",
		Type:        authority.GrantDirect,
		EffectiveAt: at,
		RecordedAt:  at,
	})
	require.NoError(t, err)
	assert.NoError(t, ValidateLedgerEntry(map[string]interface{}(entry)))

	tl := translog.Open(filepath.Join(t.TempDir(), "log.ndjson"))
	logEntry, err := tl.Append(ctx, translog.AppendParams{
		RunID:          "RUN-1a2b3c4d",
		CommitHash:     "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		ArtifactSHA256: "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		RecordedAt:     at,
	})
	require.NoError(t, err)
	assert.NoError(t, ValidateLedgerEntry(map[string]interface{}(logEntry)))
}

func TestValidateLedgerEntryRejectsBadShape(t *testing.T) {
	err := ValidateLedgerEntry(map[string]interface{}{
		"entry_version":   "1.0",
		"entry_id":        "not-an-id",
		"prev_entry_hash": nil,
		"entry_hash":      "sha256:zz",
		"recorded_at":     "2026-02-21T00:00:00Z",
	})
	assert.Error(t, err)
}

func TestValidateUnknownSchema(t *testing.T) {
	assert.Error(t, Validate("nope.json", map[string]interface{}{}))
}
