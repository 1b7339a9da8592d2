package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

func newMemory(owner string, tier models.Tier, strength float64, echoImportance string) *models.Memory {
	m := &models.Memory{
		Owner:    owner,
		Content:  "test memory content",
		Tier:     tier,
		Strength: strength,
	}
	if echoImportance != "" {
		m.Metadata = map[string]string{"echo_importance": echoImportance}
	}
	return m
}

func TestRun_PromotesHighImportanceSML(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	highID, err := store.AddMemory(db, newMemory("alice", models.TierSML, 0.5, "0.9"))
	require.NoError(t, err)
	lowID, err := store.AddMemory(db, newMemory("alice", models.TierSML, 0.5, "0.1"))
	require.NoError(t, err)

	r := New(db, nil)
	report, err := r.Run(context.Background(), Options{User: "alice", Date: "2026-07-31"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Promoted)

	high, err := store.GetMemory(db, highID)
	require.NoError(t, err)
	require.Equal(t, models.TierLML, high.Tier)

	low, err := store.GetMemory(db, lowID)
	require.NoError(t, err)
	require.Equal(t, models.TierSML, low.Tier)
}

func TestRun_PromotesByStrengthWithoutEchoImportance(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	id, err := store.AddMemory(db, newMemory("bob", models.TierSML, 0.9, ""))
	require.NoError(t, err)

	r := New(db, nil)
	_, err = r.Run(context.Background(), Options{User: "bob", Date: "2026-07-31"})
	require.NoError(t, err)

	m, err := store.GetMemory(db, id)
	require.NoError(t, err)
	require.Equal(t, models.TierLML, m.Tier)
}

func TestRun_AppliesDecayAndForgetsWeakMemories(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	weak := newMemory("carol", models.TierSML, 0.01, "")
	weak.LastAccessed = time.Now().Add(-90 * 24 * time.Hour)
	id, err := store.AddMemory(db, weak)
	require.NoError(t, err)

	r := New(db, nil)
	report, err := r.Run(context.Background(), Options{User: "carol", Date: "2026-07-31", ApplyDecay: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.Forgotten, 0)

	m, err := store.GetMemory(db, id)
	require.NoError(t, err)
	if report.Forgotten > 0 {
		require.True(t, m.Tombstoned)
	}
}

func TestRun_EmptyUserProcessesEveryDistinctOwner(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = store.AddMemory(db, newMemory("dave", models.TierSML, 0.2, ""))
	require.NoError(t, err)
	_, err = store.AddMemory(db, newMemory("erin", models.TierSML, 0.2, ""))
	require.NoError(t, err)

	r := New(db, nil)
	report, err := r.Run(context.Background(), Options{Date: "2026-07-31"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"dave", "erin"}, report.UsersProcessed)
}

func TestRun_RejectsMalformedDate(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := New(db, nil)
	_, err = r.Run(context.Background(), Options{User: "alice", Date: "not-a-date"})
	require.Error(t, err)
}
