package staging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil, nil, nil, nil, nil)
}

func TestApplyDirect_CreatesMemoryImmediately(t *testing.T) {
	p := newTestPipeline(t)

	id, err := p.ApplyDirect(context.Background(), ProposeParams{
		User: "alice", Agent: "cli", Content: "remember to water the plants",
		Scope: models.ScopePersonal,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	mem, err := store.GetMemory(p.DB, id)
	require.NoError(t, err)
	require.Equal(t, "remember to water the plants", mem.Content)
	require.Equal(t, models.TierSML, mem.Tier)

	commits, err := store.ListPendingCommits(p.DB, "alice", string(models.CommitPending), 10)
	require.NoError(t, err)
	require.Empty(t, commits, "direct writes must not leave a staged commit behind")
}

func TestApplyDirect_IdempotentOnRepeatedSourceEventID(t *testing.T) {
	p := newTestPipeline(t)

	params := ProposeParams{
		User: "bob", Agent: "cli", Content: "same content",
		SourceEventID: "evt-1", SourceApp: "testapp",
	}
	id, err := p.ApplyDirect(context.Background(), params)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	secondID, err := p.ApplyDirect(context.Background(), params)
	require.NoError(t, err)
	require.Empty(t, secondID, "a replayed idempotency key with identical content should be a no-op")
}

func TestApplyDirect_ConflictsOnSourceEventIDWithDifferentContent(t *testing.T) {
	p := newTestPipeline(t)

	params := ProposeParams{
		User: "carol", Agent: "cli", Content: "first version",
		SourceEventID: "evt-2", SourceApp: "testapp",
	}
	_, err := p.ApplyDirect(context.Background(), params)
	require.NoError(t, err)

	params.Content = "different version"
	_, err = p.ApplyDirect(context.Background(), params)
	require.Error(t, err)
	var conflict *models.ConflictError
	require.ErrorAs(t, err, &conflict)
}
