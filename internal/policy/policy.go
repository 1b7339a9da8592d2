// Package policy is the capability gateway: session issuance, clamping a
// requested session against an agent's policy, authentication, write-quota
// enforcement, and result masking. Grounded on spec.md §4.9; no
// original_source file covers this subsystem directly, so the shape below
// follows the store layer it drives (internal/store/sessions.go,
// policy.go, trust.go) plus the CAS/error-kind conventions used across the
// rest of the kernel.
package policy

import (
	"database/sql"
	"time"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

// Capabilities is the closed set of operations a session may be granted.
const (
	CapSearch          = "search"
	CapReadScene       = "read_scene"
	CapProposeWrite    = "propose_write"
	CapReviewCommits   = "review_commits"
	CapResolveConflict = "resolve_conflicts"
	CapReadDigest      = "read_digest"
	CapReadTrust       = "read_trust"
	CapRunSleepCycle   = "run_sleep_cycle"
	CapManageNamespace = "manage_namespaces"
	CapReadHandoff     = "read_handoff"
	CapWriteHandoff    = "write_handoff"
)

// handoffCapabilities require an explicit policy grant unless the agent's
// policy marks it trusted-direct (spec.md §4.9). A trusted-direct agent is
// not refused, but its session still carries only the capabilities that
// its policy allows.
var handoffCapabilities = map[string]bool{CapReadHandoff: true, CapWriteHandoff: true}

// DefaultSessionTTL is used when a caller does not specify an expiry.
const DefaultSessionTTL = 24 * time.Hour

// Gateway mediates session issuance, authentication, and masking against
// the durable store.
type Gateway struct {
	DB *sql.DB
}

// New returns a Gateway backed by db.
func New(db *sql.DB) *Gateway {
	return &Gateway{DB: db}
}

// CreateSessionRequest is what a caller asks for; the gateway clamps it
// down to what the agent's policy actually allows.
type CreateSessionRequest struct {
	User         string
	Agent        string
	Scopes       []string
	Capabilities []string
	Namespaces   []string
	TTL          time.Duration
}

// CreateSessionResult carries the plaintext bearer token, returned exactly
// once; only its hash is persisted.
type CreateSessionResult struct {
	Session *models.Session
	Token   string
}

// CreateSession clamps req against the (user, agent) policy — intersecting
// requested scopes/capabilities/namespaces against what the policy allows,
// honoring "*" wildcards on either side — and persists the result.
func (g *Gateway) CreateSession(req CreateSessionRequest) (*CreateSessionResult, error) {
	pol, err := store.GetAgentPolicy(g.DB, req.User, req.Agent)
	if err != nil {
		return nil, err
	}
	if pol == nil {
		return nil, &models.PermissionError{Reason: "no agent policy registered", Capability: "", Scope: "", Namespace: ""}
	}

	scopes := clamp(req.Scopes, pol.AllowedScopes)
	caps := clamp(req.Capabilities, pol.AllowedCapabilities)
	namespaces := clamp(req.Namespaces, pol.AllowedNamespaces)

	for _, c := range req.Capabilities {
		if handoffCapabilities[c] && !pol.TrustedDirect && !containsAny(pol.AllowedCapabilities, c) {
			return nil, &models.PermissionError{Reason: "handoff capability requires an explicit grant or trusted-direct bootstrap", Capability: c}
		}
	}

	token, err := store.NewSessionToken()
	if err != nil {
		return nil, err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	sess := &models.Session{
		TokenHash:              store.HashToken(token),
		User:                   req.User,
		Agent:                  req.Agent,
		AllowedConfidentiality: scopes,
		Capabilities:           caps,
		Namespaces:             namespaces,
		ExpiresAt:              time.Now().Add(ttl),
	}
	id, err := store.CreateSession(g.DB, sess)
	if err != nil {
		return nil, err
	}
	sess.ID = id
	return &CreateSessionResult{Session: sess, Token: token}, nil
}

// Authenticate resolves a bearer token to a live session and verifies it
// grants capability. Token may be empty only for operations that do not
// require policy restriction; callers decide that upstream.
func (g *Gateway) Authenticate(token, capability string) (*models.Session, error) {
	sess, err := store.GetSessionByToken(g.DB, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &models.PermissionError{Reason: "unknown or revoked token", Capability: capability}
	}
	if !sess.IsValid(time.Now()) {
		return nil, &models.PermissionError{Reason: "session expired or revoked", Capability: capability}
	}
	if capability != "" && !sess.HasCapability(capability) {
		return nil, &models.PermissionError{Reason: "capability not granted", Capability: capability}
	}
	return sess, nil
}

// CheckScope reports an error unless scope is permitted by the session.
func CheckScope(sess *models.Session, scope string) error {
	if sess == nil || sess.HasScope(scope) {
		return nil
	}
	return &models.PermissionError{Reason: "confidentiality scope not granted", Scope: scope}
}

// CheckNamespace reports an error unless ns is permitted by the session.
func CheckNamespace(sess *models.Session, ns string) error {
	if sess == nil || sess.HasNamespace(ns) {
		return nil
	}
	return &models.PermissionError{Reason: "namespace not granted", Namespace: ns}
}

// QuotaWindow names a write-quota bucket.
type QuotaWindow struct {
	Name     string
	Duration time.Duration
	Limit    int
}

// CheckWriteQuota counts proposal commits for (user, agent) created within
// each window and fails closed on the first exceeded window, per spec.md
// §4.9 ("configurable per-user and per-agent windows").
func (g *Gateway) CheckWriteQuota(user, agent string, windows []QuotaWindow) error {
	now := time.Now()
	for _, w := range windows {
		if w.Limit <= 0 {
			continue
		}
		n, err := store.CountCommitsSince(g.DB, user, agent, now.Add(-w.Duration))
		if err != nil {
			return err
		}
		if n >= w.Limit {
			return &models.RateLimitedError{Window: w.Name, Limit: w.Limit}
		}
	}
	return nil
}

// clamp intersects requested against allowed, honoring the "*" wildcard on
// the allowed side (grants everything requested) and on the requested side
// (grants everything allowed).
func clamp(requested, allowed []string) []string {
	if containsAny(allowed, models.WildcardNamespace) {
		if containsAny(requested, models.WildcardNamespace) {
			return append([]string{}, allowed...)
		}
		return append([]string{}, requested...)
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	var out []string
	for _, r := range requested {
		if r == models.WildcardNamespace || allowedSet[r] {
			if r == models.WildcardNamespace {
				out = append(out, allowed...)
				continue
			}
			out = append(out, r)
		}
	}
	return dedup(out)
}

func containsAny(vs []string, target string) bool {
	for _, v := range vs {
		if v == target {
			return true
		}
	}
	return false
}

func dedup(vs []string) []string {
	seen := make(map[string]bool, len(vs))
	var out []string
	for _, v := range vs {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
