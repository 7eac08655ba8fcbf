package translog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillum-io/sigillum/pkg/canonical"
)

var testClock = time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)

func testLog(t *testing.T) *Log {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "transparency_log.ndjson"))
}

func testParams(runID string) AppendParams {
	return AppendParams{
		RunID:          runID,
		CommitHash:     canonical.SHA256Text("commit-" + runID),
		ArtifactSHA256: canonical.SHA256Text("artifact-" + runID),
		ArtifactPath:   runID + ".json",
		SigningKeyID:   "K1",
		RecordedAt:     testClock,
	}
}

func TestAppendChainsEntries(t *testing.T) {
	log := testLog(t)
	ctx := context.Background()

	e1, err := log.Append(ctx, testParams("RUN-00000001"))
	require.NoError(t, err)
	e2, err := log.Append(ctx, testParams("RUN-00000002"))
	require.NoError(t, err)

	assert.Nil(t, e1["prev_entry_hash"])
	assert.Equal(t, e1["entry_hash"], e2["prev_entry_hash"])
	assert.Equal(t, "1.0", e1["entry_version"])
	assert.Regexp(t, `^TLE-[0-9a-f]{8}$`, e1["entry_id"])

	violations, err := log.VerifyChain(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestAppendEntryIDIsDeterministic(t *testing.T) {
	ctx := context.Background()
	p := testParams("RUN-00000001")

	e1, err := testLog(t).Append(ctx, p)
	require.NoError(t, err)
	e2, err := testLog(t).Append(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, e1["entry_id"], e2["entry_id"])
}

func TestAppendRequiresHashes(t *testing.T) {
	_, err := testLog(t).Append(context.Background(), AppendParams{RunID: "RUN-x"})
	require.Error(t, err)
}

func TestFindByCommitHash(t *testing.T) {
	log := testLog(t)
	ctx := context.Background()
	p := testParams("RUN-00000001")
	_, err := log.Append(ctx, p)
	require.NoError(t, err)

	entry, found, err := log.FindByCommitHash(ctx, p.CommitHash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "RUN-00000001", entry["run_id"])

	_, found, err = log.FindByCommitHash(ctx, canonical.SHA256Text("absent"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHeadSnapshot(t *testing.T) {
	log := testLog(t)
	ctx := context.Background()

	head, err := log.Head(ctx, testClock)
	require.NoError(t, err)
	assert.Equal(t, 0, head.EntryCount)
	assert.Nil(t, head.HeadHash)

	e, err := log.Append(ctx, testParams("RUN-00000001"))
	require.NoError(t, err)

	head, err = log.Head(ctx, testClock)
	require.NoError(t, err)
	assert.Equal(t, 1, head.EntryCount)
	require.NotNil(t, head.HeadHash)
	assert.Equal(t, e["entry_hash"], *head.HeadHash)
	assert.Equal(t, "2026-02-21T00:00:00Z", head.RecordedAt)
}
