package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
)

func newMemoryTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAddMemory_RoundTripsAllFields(t *testing.T) {
	db := newMemoryTestDB(t)

	m := &models.Memory{
		Owner: "alice", Agent: "cli", Content: "water the plants", Tier: models.TierSML,
		Strength: 0.9, TraceFast: 0.9, TraceMid: 0.4, TraceSlow: 0.1,
		Namespace: "default", ConfidentialityScope: models.ScopePersonal,
		Categories: []string{"chores"}, Metadata: map[string]string{"k": "v"},
	}
	id, err := AddMemory(db, m)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := GetMemory(db, id)
	require.NoError(t, err)
	require.Equal(t, "water the plants", got.Content)
	require.Equal(t, models.TierSML, got.Tier)
	require.Equal(t, []string{"chores"}, got.Categories)
	require.Equal(t, "v", got.Metadata["k"])
	require.False(t, got.Tombstoned)
}

func TestGetMemory_MissingIDReturnsNilNoError(t *testing.T) {
	db := newMemoryTestDB(t)
	got, err := GetMemory(db, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteMemory_TombstoneSetsStrengthZeroAndFlag(t *testing.T) {
	db := newMemoryTestDB(t)
	id, err := AddMemory(db, &models.Memory{Owner: "bob", Content: "x", Strength: 0.8})
	require.NoError(t, err)

	ok, err := DeleteMemory(db, id, true)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := GetMemory(db, id)
	require.NoError(t, err)
	require.True(t, got.Tombstoned)
	require.Equal(t, 0.0, got.Strength)
	require.True(t, got.IsTerminal())
}

func TestDeleteMemory_HardDeleteRemovesRow(t *testing.T) {
	db := newMemoryTestDB(t)
	id, err := AddMemory(db, &models.Memory{Owner: "bob", Content: "x", Strength: 0.8})
	require.NoError(t, err)

	ok, err := DeleteMemory(db, id, false)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := GetMemory(db, id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestIncrementAccess_BumpsCountAndTimestamp(t *testing.T) {
	db := newMemoryTestDB(t)
	id, err := AddMemory(db, &models.Memory{Owner: "carol", Content: "x"})
	require.NoError(t, err)

	require.NoError(t, IncrementAccess(db, id))
	require.NoError(t, IncrementAccess(db, id))

	got, err := GetMemory(db, id)
	require.NoError(t, err)
	require.Equal(t, 2, got.AccessCount)
	require.WithinDuration(t, time.Now(), got.LastAccessed, 5*time.Second)
}

func TestIdempotencyKey_UniqueAcrossSourceEventNamespaceApp(t *testing.T) {
	db := newMemoryTestDB(t)
	_, err := AddMemory(db, &models.Memory{
		Owner: "dave", Content: "first", SourceEventID: "evt-1",
		Namespace: "default", SourceApp: "app-a",
	})
	require.NoError(t, err)

	_, err = AddMemory(db, &models.Memory{
		Owner: "dave", Content: "second", SourceEventID: "evt-1",
		Namespace: "default", SourceApp: "app-a",
	})
	require.Error(t, err, "the unique index on (source_event_id, namespace, source_app) must reject a duplicate key")
}

func TestIdempotencyKey_DistinctNamespaceOrAppIsNotADuplicate(t *testing.T) {
	db := newMemoryTestDB(t)
	_, err := AddMemory(db, &models.Memory{
		Owner: "dave", Content: "first", SourceEventID: "evt-1",
		Namespace: "work", SourceApp: "app-a",
	})
	require.NoError(t, err)

	_, err = AddMemory(db, &models.Memory{
		Owner: "dave", Content: "second", SourceEventID: "evt-1",
		Namespace: "personal", SourceApp: "app-a",
	})
	require.NoError(t, err, "a different namespace makes it a distinct idempotency key")
}

func TestFindByIdempotencyKey_ReturnsMatchingMemory(t *testing.T) {
	db := newMemoryTestDB(t)
	id, err := AddMemory(db, &models.Memory{
		Owner: "erin", Content: "same content", SourceEventID: "evt-9",
		Namespace: "default", SourceApp: "app-b",
	})
	require.NoError(t, err)

	found, err := FindByIdempotencyKey(db, "evt-9", "default", "app-b")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, id, found.ID)

	missing, err := FindByIdempotencyKey(db, "evt-absent", "default", "app-b")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestUpdateMemory_PatchesSelectedFieldsOnly(t *testing.T) {
	db := newMemoryTestDB(t)
	id, err := AddMemory(db, &models.Memory{Owner: "frank", Content: "old", Strength: 0.5})
	require.NoError(t, err)

	newContent := "new content"
	ok, err := UpdateMemory(db, id, MemoryPatch{Content: &newContent})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := GetMemory(db, id)
	require.NoError(t, err)
	require.Equal(t, "new content", got.Content)
	require.Equal(t, 0.5, got.Strength, "fields not named in the patch must be untouched")
}

func TestPurgeTombstoned_RemovesOnlyStaleEntries(t *testing.T) {
	db := newMemoryTestDB(t)
	id, err := AddMemory(db, &models.Memory{Owner: "gail", Content: "x"})
	require.NoError(t, err)
	_, err = DeleteMemory(db, id, true)
	require.NoError(t, err)

	n, err := PurgeTombstoned(db, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 0, n, "a tombstone newer than the cutoff must not be purged yet")

	n, err = PurgeTombstoned(db, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := GetMemory(db, id)
	require.NoError(t, err)
	require.Nil(t, got)
}
