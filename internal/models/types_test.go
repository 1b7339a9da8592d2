package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_IsTerminal(t *testing.T) {
	m := &Memory{Strength: 0, Tombstoned: true}
	require.True(t, m.IsTerminal())

	m2 := &Memory{Strength: 0, Tombstoned: false}
	require.False(t, m2.IsTerminal())

	m3 := &Memory{Strength: 0.1, Tombstoned: true}
	require.False(t, m3.IsTerminal())
}

func TestMemory_IsExpired(t *testing.T) {
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.True(t, (&Memory{ExpirationDate: &past}).IsExpired(now))
	require.False(t, (&Memory{ExpirationDate: &future}).IsExpired(now))
	require.False(t, (&Memory{}).IsExpired(now))
}

func TestMemory_IsMutable(t *testing.T) {
	require.True(t, (&Memory{}).IsMutable())
	require.False(t, (&Memory{Immutable: true}).IsMutable())
	require.False(t, (&Memory{Tombstoned: true}).IsMutable())
}

func TestConfidentialityScope_IsValid(t *testing.T) {
	require.True(t, ScopeWork.IsValid())
	require.True(t, ScopePrivate.IsValid())
	require.False(t, ConfidentialityScope("bogus").IsValid())
}

func TestSession_IsValid(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	valid := &Session{ExpiresAt: now.Add(time.Hour)}
	require.True(t, valid.IsValid(now))

	expired := &Session{ExpiresAt: now.Add(-time.Hour)}
	require.False(t, expired.IsValid(now))

	revokedAt := now.Add(-time.Minute)
	revoked := &Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt}
	require.False(t, revoked.IsValid(now))
}

func TestSession_HasCapability_HasScope_HasNamespace(t *testing.T) {
	s := &Session{
		Capabilities:           []string{"search", "read_scene"},
		AllowedConfidentiality: []string{"work", "personal"},
		Namespaces:             []string{"default"},
	}
	require.True(t, s.HasCapability("search"))
	require.False(t, s.HasCapability("propose_write"))
	require.True(t, s.HasScope("work"))
	require.False(t, s.HasScope("finance"))
	require.True(t, s.HasNamespace("default"))
	require.False(t, s.HasNamespace("other"))

	wildcard := &Session{Capabilities: []string{"*"}, AllowedConfidentiality: []string{"*"}, Namespaces: []string{"*"}}
	require.True(t, wildcard.HasCapability("propose_write"))
	require.True(t, wildcard.HasScope("finance"))
	require.True(t, wildcard.HasNamespace("anything"))
}

func TestAgentTrust_RejectionRate(t *testing.T) {
	empty := &AgentTrust{}
	require.Equal(t, 0.0, empty.RejectionRate())

	t1 := &AgentTrust{Total: 10, Rejected: 3}
	require.InDelta(t, 0.3, t1.RejectionRate(), 1e-9)
}

func TestRefCount_Protected(t *testing.T) {
	require.True(t, (&RefCount{StrongCount: 1}).Protected())
	require.False(t, (&RefCount{StrongCount: 0}).Protected())
}

func TestCommitStatus_IsTerminal(t *testing.T) {
	require.True(t, CommitApproved.IsTerminal())
	require.True(t, CommitRejected.IsTerminal())
	require.False(t, CommitPending.IsTerminal())
	require.False(t, CommitApplying.IsTerminal())
	require.False(t, CommitAutoStashed.IsTerminal())
}
