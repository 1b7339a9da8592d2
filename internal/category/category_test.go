package category

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDetect_KeywordPreFilterSkipsLLM(t *testing.T) {
	db := newTestDB(t)
	_, err := store.UpsertCategory(db, &store.CategoryRow{User: "u1", Name: "finance", Strength: 0.5})
	require.NoError(t, err)

	p := NewProcessor(nil)
	d, err := p.Detect(context.Background(), db, "u1", "tracking my finance goals this month")
	require.NoError(t, err)
	require.Equal(t, "finance", d.Name)
	require.InDelta(t, 0.9, d.Confidence, 1e-9)
}

func TestDetect_NoMatchAndNoGeneratorReturnsEmpty(t *testing.T) {
	db := newTestDB(t)
	p := NewProcessor(nil)
	d, err := p.Detect(context.Background(), db, "u1", "something entirely novel")
	require.NoError(t, err)
	require.Empty(t, d.Name)
}

func TestApplyCategories_DetectsAndPersistsWhenNoneProvided(t *testing.T) {
	db := newTestDB(t)
	_, err := store.UpsertCategory(db, &store.CategoryRow{User: "u1", Name: "health", Strength: 0.5})
	require.NoError(t, err)

	p := NewProcessor(nil)
	cats, err := p.ApplyCategories(context.Background(), db, "u1", "my health checkup is tomorrow", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"health"}, cats)
}

func TestApplyCategories_UsesProvidedVerbatim(t *testing.T) {
	db := newTestDB(t)
	p := NewProcessor(nil)
	cats, err := p.ApplyCategories(context.Background(), db, "u1", "irrelevant content", []string{"custom"})
	require.NoError(t, err)
	require.Equal(t, []string{"custom"}, cats)

	rows, err := store.ListCategories(db, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "custom", rows[0].Name)
}

func TestBoost_DirectMatchOutweighsRelated(t *testing.T) {
	graph := []*store.CategoryRow{
		{ID: "1", Name: "finance"},
		{ID: "2", Name: "budgeting", ParentID: "1"},
	}
	require.Equal(t, MatchBoost, Boost([]string{"finance"}, []string{"finance"}, graph))
	require.Equal(t, RelatedBoost, Boost([]string{"budgeting"}, []string{"finance"}, graph))
	require.Equal(t, 0.0, Boost([]string{"unrelated"}, []string{"finance"}, graph))
}

func TestBoost_EmptyInputsYieldNoBoost(t *testing.T) {
	require.Equal(t, 0.0, Boost(nil, []string{"finance"}, nil))
	require.Equal(t, 0.0, Boost([]string{"finance"}, nil, nil))
}
