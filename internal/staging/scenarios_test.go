package staging

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

// TestPropose_PIIContentIsAutoStashed covers spec.md §8 scenario S1: a
// proposal whose content contains an API-key-shaped secret must be
// AUTO_STASHED with a high risk score, and must not be visible as a memory.
func TestPropose_PIIContentIsAutoStashed(t *testing.T) {
	p := newTestPipeline(t)

	res, err := p.Propose(context.Background(), ProposeParams{
		User: "u1", Agent: "a1", Content: "my api_key=sk-abc123", Scope: models.ScopeWork,
	})
	require.NoError(t, err)
	require.Equal(t, models.CommitAutoStashed, res.Status)
	require.True(t, res.Checks.PIIRisk)
	require.GreaterOrEqual(t, res.Checks.RiskScore, PIIRiskScore)

	mems, err := store.GetAllMemories(p.DB, store.MemoryFilters{Owner: "u1"})
	require.NoError(t, err)
	require.Empty(t, mems, "an auto-stashed proposal must not create a visible memory")
}

// TestPropose_ConflictingInvariantCreatesUnresolvedStash covers spec.md §8
// scenario S2: an existing identity.name invariant conflicting with a new
// proposed name auto-stashes the commit and records an unresolved conflict.
func TestPropose_ConflictingInvariantCreatesUnresolvedStash(t *testing.T) {
	p := newTestPipeline(t)

	require.NoError(t, store.Transact(p.DB, func(tx *sql.Tx) error {
		return store.UpsertInvariantTx(tx, "u1", "identity.name", "Alice", 0.9)
	}))

	res, err := p.Propose(context.Background(), ProposeParams{
		User: "u1", Agent: "a1", Content: "my name is Bob",
	})
	require.NoError(t, err)
	require.Equal(t, models.CommitAutoStashed, res.Status)
	require.False(t, res.Checks.InvariantsOK)
	require.Len(t, res.Checks.Conflicts, 1)
	require.Equal(t, "identity.name", res.Checks.Conflicts[0].Key)
	require.Equal(t, "Alice", res.Checks.Conflicts[0].Existing)
	require.Equal(t, "Bob", res.Checks.Conflicts[0].Proposed)

	stashes, err := store.ListConflictStash(p.DB, "u1", models.ResolutionUnresolved, 10)
	require.NoError(t, err)
	require.Len(t, stashes, 1)
	require.Equal(t, "identity.name", stashes[0].ConflictKey)
	require.Equal(t, models.ResolutionUnresolved, stashes[0].Resolution)
}

// TestApprove_ConcurrentCallsOnlyOneSucceeds covers spec.md §8 scenario S3:
// of two concurrent approve_commit calls on the same PENDING commit, exactly
// one must return APPROVED; the other must fail with no additional
// side effects (no double-applied memory).
func TestApprove_ConcurrentCallsOnlyOneSucceeds(t *testing.T) {
	p := newTestPipeline(t)

	res, err := p.Propose(context.Background(), ProposeParams{
		User: "u1", Agent: "a1", Content: "remember this exactly once",
	})
	require.NoError(t, err)
	require.Equal(t, models.CommitPending, res.Status)

	var wg sync.WaitGroup
	results := make([]*ApproveResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Approve(context.Background(), res.CommitID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := 0; i < 2; i++ {
		if errs[i] == nil && results[i] != nil && results[i].Status == models.CommitApproved {
			successes++
		}
	}
	require.Equal(t, 1, successes, "exactly one concurrent approve must win")

	mems, err := store.GetAllMemories(p.DB, store.MemoryFilters{Owner: "u1"})
	require.NoError(t, err)
	require.Len(t, mems, 1, "a double-approved commit must not create two memories")
}

// TestApprove_RejectsWhenAlreadyApproved covers the non-concurrent half of
// S3: approving an already-APPROVED commit a second time must fail and must
// not create a second memory.
func TestApprove_RejectsWhenAlreadyApproved(t *testing.T) {
	p := newTestPipeline(t)

	res, err := p.Propose(context.Background(), ProposeParams{
		User: "u2", Agent: "a1", Content: "only once please",
	})
	require.NoError(t, err)

	first, err := p.Approve(context.Background(), res.CommitID)
	require.NoError(t, err)
	require.Equal(t, models.CommitApproved, first.Status)

	_, err = p.Approve(context.Background(), res.CommitID)
	require.Error(t, err)

	mems, err := store.GetAllMemories(p.DB, store.MemoryFilters{Owner: "u2"})
	require.NoError(t, err)
	require.Len(t, mems, 1)
}
