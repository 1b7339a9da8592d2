package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/store"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestInsertAndSearch_RanksIdenticalVectorFirst(t *testing.T) {
	ix := newTestIndex(t)

	ids := []string{"a", "b", "c"}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	payloads := []map[string]string{
		{"memory_id": "a", "user": "alice"},
		{"memory_id": "b", "user": "alice"},
		{"memory_id": "c", "user": "alice"},
	}
	require.NoError(t, ix.Insert("memories", ids, vectors, payloads))

	results, err := ix.Search("memories", []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)
	require.True(t, results[0].Score >= results[1].Score)
	for _, r := range results {
		require.GreaterOrEqual(t, r.Score, 0.0)
		require.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestSearch_OverFetchesThenAppliesPostFilter(t *testing.T) {
	ix := newTestIndex(t)

	require.NoError(t, ix.Insert("memories",
		[]string{"a", "b", "c"},
		[][]float32{{1, 0}, {0.99, 0.01}, {0.98, 0.02}},
		[]map[string]string{
			{"memory_id": "a", "scope": "agent"},
			{"memory_id": "b", "scope": "global"},
			{"memory_id": "c", "scope": "agent"},
		}))

	results, err := ix.Search("memories", []float32{1, 0}, 1, map[string]string{"scope": "global"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestUpsertByUUID_OverwritesVectorAndPayload(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Upsert("memories", "x", []float32{1, 0}, map[string]string{"user": "alice"}))
	require.NoError(t, ix.Upsert("memories", "x", []float32{0, 1}, map[string]string{"user": "bob"}))

	vec, payload, err := ix.Get("memories", "x")
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1}, vec)
	require.Equal(t, "bob", payload["user"])

	count, _, err := ix.ColInfo("memories")
	require.NoError(t, err)
	require.Equal(t, 1, count, "upsert by UUID must not create a duplicate row")
}

func TestDelete_RemovesVectorAndPayload(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Insert("memories", []string{"x"}, [][]float32{{1, 0}}, []map[string]string{{"user": "alice"}}))
	require.NoError(t, ix.Delete("memories", "x"))

	vec, payload, err := ix.Get("memories", "x")
	require.NoError(t, err)
	require.Nil(t, vec)
	require.Nil(t, payload)
}

func TestReset_ClearsCollection(t *testing.T) {
	ix := newTestIndex(t)
	require.NoError(t, ix.Insert("memories", []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}}, []map[string]string{{}, {}}))
	require.NoError(t, ix.Reset("memories"))

	count, _, err := ix.ColInfo("memories")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
