package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
	"github.com/engram-kernel/engram/internal/vectorindex"
)

type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = 0.2
	}
	return v, nil
}
func (f fakeEmbedder) Dimensions() int { return f.dims }

func TestSearch_MasksMemoryOutsideAllowedNamespace(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vectors := vectorindex.New(db)
	embedder := fakeEmbedder{dims: 4}

	mem := &models.Memory{
		Owner: "alice", Content: "pager PIN 1234", Tier: models.TierSML,
		Strength: 0.9, TraceFast: 0.9, TraceMid: 0.9, TraceSlow: 0.9,
		EffectiveStrength: 0.9, Namespace: "personal",
		ConfidentialityScope: models.ScopePersonal, LastAccessed: time.Now(),
	}
	id, err := store.AddMemory(db, mem)
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), mem.Content)
	require.NoError(t, err)
	require.NoError(t, vectors.Insert("memories", []string{id + ":primary"}, [][]float32{vec},
		[]map[string]string{{"memory_id": id, "user": "alice", "scope": "agent", "node_type": "primary"}}))

	r := New(db, vectors, embedder, nil, nil)

	packet, err := r.Search(context.Background(), Params{
		Query: "pager PIN", User: "alice", Limit: 10,
		AllowedNamespaces: []string{"work"},
		AllowedScopes: []models.ConfidentialityScope{models.ScopeWork},
	})
	require.NoError(t, err)
	require.Len(t, packet.Snippets, 1)
	snippet := packet.Snippets[0]
	require.True(t, snippet.Masked)
	require.Equal(t, "[REDACTED]", snippet.Details)
	require.Empty(t, snippet.Content, "masked snippet must never carry the underlying content")
	require.Equal(t, 1, packet.Masking.MaskedCount)
}

func TestSearch_ReturnsContentWhenNamespaceAndScopeAllowed(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vectors := vectorindex.New(db)
	embedder := fakeEmbedder{dims: 4}

	mem := &models.Memory{
		Owner: "bob", Content: "the quarterly report is due friday", Tier: models.TierSML,
		Strength: 0.9, TraceFast: 0.9, TraceMid: 0.9, TraceSlow: 0.9,
		EffectiveStrength: 0.9, Namespace: "work",
		ConfidentialityScope: models.ScopeWork, LastAccessed: time.Now(),
	}
	id, err := store.AddMemory(db, mem)
	require.NoError(t, err)

	vec, err := embedder.Embed(context.Background(), mem.Content)
	require.NoError(t, err)
	require.NoError(t, vectors.Insert("memories", []string{id + ":primary"}, [][]float32{vec},
		[]map[string]string{{"memory_id": id, "user": "bob", "scope": "agent", "node_type": "primary"}}))

	r := New(db, vectors, embedder, nil, nil)

	packet, err := r.Search(context.Background(), Params{
		Query: "quarterly report", User: "bob", Limit: 10,
		AllowedNamespaces: []string{"work"},
		AllowedScopes: []models.ConfidentialityScope{models.ScopeWork},
	})
	require.NoError(t, err)
	require.Len(t, packet.Snippets, 1)
	require.False(t, packet.Snippets[0].Masked)
	require.Equal(t, mem.Content, packet.Snippets[0].Content)
	require.Equal(t, 0, packet.Masking.MaskedCount)
}

func TestSearch_EmptyQueryReturnsNoSnippetsAndNoError(t *testing.T) {
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := New(db, vectorindex.New(db), fakeEmbedder{dims: 4}, nil, nil)
	packet, err := r.Search(context.Background(), Params{Query: "", User: "nobody", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, packet.Snippets)
}
