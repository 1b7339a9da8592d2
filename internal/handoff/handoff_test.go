package handoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestSaveSessionDigest_CreatesThenUpdatesActiveSession(t *testing.T) {
	b := newTestBus(t)

	id, err := b.SaveSessionDigest(SaveDigestParams{
		User: "alice", Agent: "claude", Repo: "engram", TaskSummary: "initial pass",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	secondID, err := b.SaveSessionDigest(SaveDigestParams{
		User: "alice", Agent: "claude", Repo: "engram", TaskSummary: "refined pass",
	})
	require.NoError(t, err)
	require.Equal(t, id, secondID, "an active session should be updated in place, not duplicated")

	sess, err := b.GetLastSession("alice", "claude", "", "engram")
	require.NoError(t, err)
	require.Equal(t, "refined pass", sess.TaskSummary)
}

func TestAutoResumeContext_CachesAndInvalidatesOnSave(t *testing.T) {
	b := newTestBus(t)

	_, err := b.SaveSessionDigest(SaveDigestParams{User: "bob", Agent: "claude", Repo: "repo1", TaskSummary: "first"})
	require.NoError(t, err)

	ctx1, err := b.AutoResumeContext("bob", "claude", "", "repo1")
	require.NoError(t, err)
	require.False(t, ctx1.FromCache)
	require.Equal(t, "first", ctx1.Session.TaskSummary)

	ctx2, err := b.AutoResumeContext("bob", "claude", "", "repo1")
	require.NoError(t, err)
	require.True(t, ctx2.FromCache)

	_, err = b.SaveSessionDigest(SaveDigestParams{User: "bob", Agent: "claude", Repo: "repo1", TaskSummary: "second"})
	require.NoError(t, err)

	ctx3, err := b.AutoResumeContext("bob", "claude", "", "repo1")
	require.NoError(t, err)
	require.False(t, ctx3.FromCache, "a fresh digest save must invalidate the cached context")
	require.Equal(t, "second", ctx3.Session.TaskSummary)
}

func TestAutoCheckpoint_FlagsIdleOnlyPastThreshold(t *testing.T) {
	b := newTestBus(t)
	b.IdleThreshold = time.Minute

	id, err := b.SaveSessionDigest(SaveDigestParams{User: "carol", Agent: "claude", Repo: "repo2", TaskSummary: "task"})
	require.NoError(t, err)
	laneID, err := b.OpenLane(id, "claude", "codex", "handing off")
	require.NoError(t, err)

	recent, err := b.AutoCheckpoint(id, laneID, "claude", []byte(`{"step":1}`), time.Now())
	require.NoError(t, err)
	require.False(t, recent.IdleDetected)

	stale, err := b.AutoCheckpoint(id, laneID, "claude", []byte(`{"step":2}`), time.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	require.True(t, stale.IdleDetected)
}

func TestFinalizeLane_CompletesSessionWhenNoLaneRemainsOpen(t *testing.T) {
	b := newTestBus(t)

	id, err := b.SaveSessionDigest(SaveDigestParams{User: "dave", Agent: "claude", Repo: "repo3", TaskSummary: "task"})
	require.NoError(t, err)
	laneID, err := b.OpenLane(id, "claude", "codex", "handing off")
	require.NoError(t, err)

	require.NoError(t, b.FinalizeLane(id, laneID))

	sess, err := b.GetLastSession("dave", "claude", "", "repo3")
	require.NoError(t, err)
	require.Equal(t, models.HandoffCompleted, sess.Status)
}
