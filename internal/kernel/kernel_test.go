package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/policy"
	"github.com/engram-kernel/engram/internal/sleep"
	"github.com/engram-kernel/engram/internal/store"
)

type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dims)
	for i := range v {
		v[i] = 0.01
	}
	return v, nil
}
func (f fakeEmbedder) Dimensions() int { return f.dims }

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, fakeEmbedder{dims: 8}, nil)
}

func TestProposeWrite_DefaultsToDirectForTrustedAgent(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, store.UpsertAgentPolicy(k.DB, &models.AgentPolicy{
		User: "alice", Agent: "cli", TrustedDirect: true,
		AllowedScopes: []string{"*"}, AllowedCapabilities: []string{"*"}, AllowedNamespaces: []string{"*"},
	}))

	res, err := k.ProposeWrite(context.Background(), ProposeWriteInput{
		Content: "buy groceries", User: "alice", Agent: "cli",
	})
	require.NoError(t, err)
	require.Equal(t, "direct", res.Mode)
	require.Len(t, res.CreatedIDs, 1)
}

func TestProposeWrite_DefaultsToStagingForUntrustedAgent(t *testing.T) {
	k := newTestKernel(t)

	res, err := k.ProposeWrite(context.Background(), ProposeWriteInput{
		Content: "buy groceries", User: "bob", Agent: "untrusted-agent",
	})
	require.NoError(t, err)
	require.Equal(t, "staging", res.Mode)
	require.NotEmpty(t, res.CommitID)
}

func TestProposeWrite_ExplicitModeOverridesTrustedDirectPolicy(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, store.UpsertAgentPolicy(k.DB, &models.AgentPolicy{
		User: "carol", Agent: "cli", TrustedDirect: true,
		AllowedScopes: []string{"*"}, AllowedCapabilities: []string{"*"}, AllowedNamespaces: []string{"*"},
	}))

	res, err := k.ProposeWrite(context.Background(), ProposeWriteInput{
		Content: "explicit staging request", User: "carol", Agent: "cli", Mode: "staging",
	})
	require.NoError(t, err)
	require.Equal(t, "staging", res.Mode, "an explicit mode must win over the trusted_direct default")
}

func TestSearch_ReturnsWrittenMemory(t *testing.T) {
	k := newTestKernel(t)

	_, err := k.ProposeWrite(context.Background(), ProposeWriteInput{
		Content: "the quarterly report is due friday", User: "dave", Agent: "cli", Mode: "direct",
	})
	require.NoError(t, err)

	packet, err := k.Search(context.Background(), SearchInput{Query: "quarterly report", User: "dave", Limit: 5})
	require.NoError(t, err)
	require.NotNil(t, packet)
}

func TestSession_CreateThenAuthenticateEnforcesCapability(t *testing.T) {
	k := newTestKernel(t)
	require.NoError(t, store.UpsertAgentPolicy(k.DB, &models.AgentPolicy{
		User: "erin", Agent: "cli", AllowedScopes: []string{"*"},
		AllowedCapabilities: []string{policy.CapSearch}, AllowedNamespaces: []string{"*"},
	}))

	created, err := k.CreateSession(policy.CreateSessionRequest{
		User: "erin", Agent: "cli", Scopes: []string{"*"},
		Capabilities: []string{policy.CapSearch}, Namespaces: []string{"*"}, TTL: time.Hour,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)

	sess, err := k.AuthenticateSession(created.Token, policy.CapSearch)
	require.NoError(t, err)
	require.Equal(t, "erin", sess.User)

	_, err = k.AuthenticateSession(created.Token, policy.CapProposeWrite)
	require.Error(t, err, "a session clamped to search-only must not authorize propose_write")
}

func TestRunSleepCycle_ReturnsReportForProcessedUser(t *testing.T) {
	k := newTestKernel(t)

	_, err := k.ProposeWrite(context.Background(), ProposeWriteInput{
		Content: "groundwork memory", User: "frank", Agent: "cli", Mode: "direct",
	})
	require.NoError(t, err)

	report, err := k.RunSleepCycle(context.Background(), sleep.Options{User: "frank", Date: "2026-07-31"}, "")
	require.NoError(t, err)
	require.Contains(t, report.UsersProcessed, "frank")
}
