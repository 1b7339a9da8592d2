package episodic

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

func mustInsertScene(t *testing.T, db *sql.DB, s *models.Scene) string {
	t.Helper()
	tx, err := db.Begin()
	require.NoError(t, err)
	id, err := store.CreateSceneTx(tx, s)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func TestSearchScenes_FiltersByNamespaceAndEntities(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now()
	mustInsertScene(t, db, &models.Scene{
		User: "alice", Topic: "kitchen renovation", Summary: "discussed tile choices",
		StartTime: now, EndTime: now.Add(time.Hour), Location: "home",
		Participants: []string{"bob"}, Namespace: "default", SceneStrength: 0.8,
	})
	mustInsertScene(t, db, &models.Scene{
		User: "alice", Topic: "quarterly planning", Summary: "roadmap review",
		StartTime: now, EndTime: now.Add(time.Hour), Location: "office",
		Participants: []string{"carol"}, Namespace: "work", SceneStrength: 0.9,
	})

	s := New(db, nil)

	matches, err := s.SearchScenes(context.Background(), "alice", SceneQuery{Namespace: "default"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "kitchen renovation", matches[0].Scene.Topic)

	matches, err = s.SearchScenes(context.Background(), "alice", SceneQuery{Namespace: "default", Entities: []string{"carol"}})
	require.NoError(t, err)
	require.Len(t, matches, 0)

	matches, err = s.SearchScenes(context.Background(), "alice", SceneQuery{Namespace: "default", Entities: []string{"bob"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestSearchScenes_PlaceBoostRanksMatchHigher(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now()
	mustInsertScene(t, db, &models.Scene{
		User: "dave", Topic: "budget review", Summary: "annual budget talk",
		StartTime: now, EndTime: now.Add(time.Hour), Location: "downtown office",
		Namespace: "default", SceneStrength: 0.5,
	})
	mustInsertScene(t, db, &models.Scene{
		User: "dave", Topic: "budget review", Summary: "annual budget talk",
		StartTime: now, EndTime: now.Add(time.Hour), Location: "remote",
		Namespace: "default", SceneStrength: 0.5,
	})

	s := New(db, nil)
	matches, err := s.SearchScenes(context.Background(), "dave", SceneQuery{
		Query: "budget review", Place: "downtown office", Namespace: "default",
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "downtown office", matches[0].Scene.Location)
}

func TestSearchScenes_EmptyQueryFallsBackToSceneStrength(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Now()
	mustInsertScene(t, db, &models.Scene{
		User: "erin", Topic: "weak", StartTime: now, EndTime: now,
		Namespace: "default", SceneStrength: 0.2,
	})
	mustInsertScene(t, db, &models.Scene{
		User: "erin", Topic: "strong", StartTime: now, EndTime: now,
		Namespace: "default", SceneStrength: 0.9,
	})

	s := New(db, nil)
	matches, err := s.SearchScenes(context.Background(), "erin", SceneQuery{Namespace: "default"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "strong", matches[0].Scene.Topic)
}
