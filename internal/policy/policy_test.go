package policy

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestCreateSession_ClampsRequestedScopesToPolicy(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, store.UpsertAgentPolicy(g.DB, &models.AgentPolicy{
		User: "u1", Agent: "a1",
		AllowedScopes:       []string{"work"},
		AllowedCapabilities: []string{CapSearch},
		AllowedNamespaces:   []string{"default"},
	}))

	res, err := g.CreateSession(CreateSessionRequest{
		User: "u1", Agent: "a1",
		Scopes:       []string{"work", "private"},
		Capabilities: []string{CapSearch, CapProposeWrite},
		Namespaces:   []string{"default", "other"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"work"}, res.Session.AllowedConfidentiality)
	require.ElementsMatch(t, []string{CapSearch}, res.Session.Capabilities)
	require.ElementsMatch(t, []string{"default"}, res.Session.Namespaces)
	require.NotEmpty(t, res.Token)
}

func TestCreateSession_WildcardPolicyGrantsEverythingRequested(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, store.UpsertAgentPolicy(g.DB, &models.AgentPolicy{
		User: "u1", Agent: "a1",
		AllowedScopes:       []string{"*"},
		AllowedCapabilities: []string{"*"},
		AllowedNamespaces:   []string{"*"},
	}))

	res, err := g.CreateSession(CreateSessionRequest{
		User: "u1", Agent: "a1",
		Scopes:       []string{"work", "private"},
		Capabilities: []string{CapSearch},
		Namespaces:   []string{"default"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"work", "private"}, res.Session.AllowedConfidentiality)
}

func TestCreateSession_WithoutPolicyIsPermissionError(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.CreateSession(CreateSessionRequest{User: "ghost", Agent: "nobody"})
	require.Error(t, err)
	var perr *models.PermissionError
	require.ErrorAs(t, err, &perr)
}

func TestCreateSession_HandoffCapabilityRequiresExplicitGrantOrTrustedDirect(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, store.UpsertAgentPolicy(g.DB, &models.AgentPolicy{
		User: "u1", Agent: "a1",
		AllowedScopes:       []string{"*"},
		AllowedCapabilities: []string{CapSearch},
		AllowedNamespaces:   []string{"*"},
	}))

	_, err := g.CreateSession(CreateSessionRequest{
		User: "u1", Agent: "a1",
		Capabilities: []string{CapReadHandoff},
	})
	require.Error(t, err, "handoff capability without an explicit grant or trusted-direct must be denied")
}

func TestAuthenticate_RejectsExpiredSession(t *testing.T) {
	g := newTestGateway(t)
	token, err := store.NewSessionToken()
	require.NoError(t, err)
	_, err = store.CreateSession(g.DB, &models.Session{
		TokenHash:              store.HashToken(token),
		User:                   "u1",
		Agent:                  "a1",
		AllowedConfidentiality: []string{"*"},
		Capabilities:           []string{CapSearch},
		Namespaces:             []string{"*"},
		ExpiresAt:              time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = g.Authenticate(token, CapSearch)
	require.Error(t, err)
	var perr *models.PermissionError
	require.ErrorAs(t, err, &perr)
}

func TestAuthenticate_RejectsMissingCapability(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, store.UpsertAgentPolicy(g.DB, &models.AgentPolicy{
		User: "u1", Agent: "a1",
		AllowedScopes: []string{"*"}, AllowedCapabilities: []string{CapSearch}, AllowedNamespaces: []string{"*"},
	}))
	res, err := g.CreateSession(CreateSessionRequest{User: "u1", Agent: "a1", Capabilities: []string{CapSearch}})
	require.NoError(t, err)

	_, err = g.Authenticate(res.Token, CapProposeWrite)
	require.Error(t, err)
}

func TestCheckWriteQuota_FailsClosedWhenWindowExceeded(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.CheckWriteQuota("u1", "a1", []QuotaWindow{{Name: "hourly", Duration: time.Hour, Limit: 0}}))

	for i := 0; i < 2; i++ {
		require.NoError(t, store.Transact(g.DB, func(tx *sql.Tx) error {
			_, err := store.CreateCommitTx(tx, &models.ProposalCommit{User: "u1", Agent: "a1", Status: models.CommitPending})
			return err
		}))
	}

	err := g.CheckWriteQuota("u1", "a1", []QuotaWindow{{Name: "hourly", Duration: time.Hour, Limit: 2}})
	require.Error(t, err)
	var rerr *models.RateLimitedError
	require.ErrorAs(t, err, &rerr)
}
