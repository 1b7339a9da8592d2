// Package kernel is the single coordinating entry point of spec.md §4.13:
// it wires the durable store, vector index, decay engine, echo processor,
// category processor, hybrid retriever, episodic store, staging pipeline,
// policy gateway, handoff bus, and sleep cycle behind one facade, and
// authenticates + clamps every call before dispatching it to the owning
// component. Grounded on original_source's top-level "EngramClient"
// coordinator and on vybe's internal/actions package, which plays the same
// per-operation-function facade role over vybe's own subsystems.
package kernel

import (
	"context"
	"database/sql"
	"time"

	"github.com/engram-kernel/engram/internal/category"
	"github.com/engram-kernel/engram/internal/decay"
	"github.com/engram-kernel/engram/internal/echo"
	"github.com/engram-kernel/engram/internal/episodic"
	"github.com/engram-kernel/engram/internal/handoff"
	"github.com/engram-kernel/engram/internal/llm"
	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/policy"
	"github.com/engram-kernel/engram/internal/retrieval"
	"github.com/engram-kernel/engram/internal/sleep"
	"github.com/engram-kernel/engram/internal/staging"
	"github.com/engram-kernel/engram/internal/store"
	"github.com/engram-kernel/engram/internal/vectorindex"
)

// Kernel coordinates every subsystem behind the spec.md §6 operation set.
type Kernel struct {
	DB        *sql.DB
	Policy    *policy.Gateway
	Retrieval *retrieval.Ranker
	Staging   *staging.Pipeline
	Episodic  *episodic.Store
	Handoff   *handoff.Bus
	Sleep     *sleep.Runner
	Decay     decay.Config
}

// New wires a Kernel's collaborators against db, using embedder/generator
// for the components that need LLM/embedding access.
func New(db *sql.DB, embedder llm.Embedder, generator llm.Generator) *Kernel {
	vectors := vectorindex.New(db)
	echoProc := echo.NewProcessor(generator)
	catProc := category.NewProcessor(generator)
	episodicStore := episodic.New(db, embedder)
	ranker := retrieval.New(db, vectors, embedder, echoProc, catProc)
	pipeline := staging.New(db, vectors, embedder, echoProc, catProc, episodicStore)

	return &Kernel{
		DB:        db,
		Policy:    policy.New(db),
		Retrieval: ranker,
		Staging:   pipeline,
		Episodic:  episodicStore,
		Handoff:   handoff.New(db),
		Sleep:     sleep.New(db, episodicStore),
		Decay:     decay.DefaultConfig(),
	}
}

// authenticate resolves token to a session when one is supplied; an empty
// token is reserved for a trusted-direct local caller and skips the
// capability check, per spec.md §4.10 step 2 ("Authenticate session (unless
// trusted-direct local client with capability)").
func (k *Kernel) authenticate(token, capability string) (*models.Session, error) {
	if token == "" {
		return nil, nil
	}
	return k.Policy.Authenticate(token, capability)
}

func scopesFromSession(sess *models.Session) []models.ConfidentialityScope {
	if sess == nil {
		return nil
	}
	out := make([]models.ConfidentialityScope, 0, len(sess.AllowedConfidentiality))
	for _, s := range sess.AllowedConfidentiality {
		out = append(out, models.ConfidentialityScope(s))
	}
	return out
}

func namespacesFromSession(sess *models.Session) []string {
	if sess == nil {
		return nil
	}
	return sess.Namespaces
}

// CreateSession clamps a requested session against the caller's agent
// policy and persists it.
func (k *Kernel) CreateSession(req policy.CreateSessionRequest) (*policy.CreateSessionResult, error) {
	return k.Policy.CreateSession(req)
}

// AuthenticateSession resolves a bearer token to a live session, optionally
// requiring a capability.
func (k *Kernel) AuthenticateSession(token, capability string) (*models.Session, error) {
	return k.Policy.Authenticate(token, capability)
}

// SearchInput bundles a search call's caller-facing inputs.
type SearchInput struct {
	Query      string
	User       string
	Agent      string
	Token      string
	Limit      int
	Categories []string
}

// Search authenticates (when a token is supplied), clamps allowed scopes
// and namespaces from the resolved session, and runs hybrid retrieval.
func (k *Kernel) Search(ctx context.Context, in SearchInput) (*retrieval.ContextPacket, error) {
	sess, err := k.authenticate(in.Token, policy.CapSearch)
	if err != nil {
		return nil, err
	}
	return k.Retrieval.Search(ctx, retrieval.Params{
		Query:             in.Query,
		User:              in.User,
		Agent:             in.Agent,
		Limit:             in.Limit,
		Categories:        in.Categories,
		AllowedScopes:     scopesFromSession(sess),
		AllowedNamespaces: namespacesFromSession(sess),
	})
}

// SearchScenesInput bundles a search_scenes call's inputs.
type SearchScenesInput struct {
	Query     string
	User      string
	Token     string
	Place     string
	Entities  []string
	Namespace string
	Limit     int
}

// SearchScenes authenticates then runs the episodic scene search.
func (k *Kernel) SearchScenes(ctx context.Context, in SearchScenesInput) ([]episodic.SceneMatch, error) {
	if _, err := k.authenticate(in.Token, policy.CapReadScene); err != nil {
		return nil, err
	}
	return k.Episodic.SearchScenes(ctx, in.User, episodic.SceneQuery{
		Query: in.Query, Place: in.Place, Entities: in.Entities, Namespace: in.Namespace, Limit: in.Limit,
	})
}

// GetScene authenticates then fetches a scene by id.
func (k *Kernel) GetScene(id, token string) (*models.Scene, error) {
	if _, err := k.authenticate(token, policy.CapReadScene); err != nil {
		return nil, err
	}
	return store.GetScene(k.DB, id)
}

// ProposeWriteInput bundles propose_write's inputs (spec.md §6).
type ProposeWriteInput struct {
	Content       string
	User          string
	Agent         string
	Token         string
	Categories    []string
	Metadata      map[string]string
	Scope         models.ConfidentialityScope
	Namespace     string
	Mode          string // "staging", "direct", or "" to use the policy default
	SourceType    string
	SourceApp     string
	SourceEventID string
}

// ProposeWriteResult covers both propose_write outcomes (spec.md §6):
// mode=staging carries CommitID/Status/Checks/Preview/AutoMerged; mode=direct
// carries Result/CreatedIDs.
type ProposeWriteResult struct {
	Mode       string              `json:"mode"`
	CommitID   string              `json:"commit_id,omitempty"`
	Status     models.CommitStatus `json:"status,omitempty"`
	Checks     models.CommitChecks `json:"checks,omitempty"`
	Preview    string              `json:"preview,omitempty"`
	AutoMerged bool                `json:"auto_merged,omitempty"`
	Result     string              `json:"result,omitempty"`
	CreatedIDs []string            `json:"created_ids,omitempty"`
}

// ProposeWrite authenticates then dispatches to the staging pipeline or to
// a direct write, per the mode resolution documented in DESIGN.md: an
// explicit mode always wins; absent one, trusted_direct agent policies
// default to direct, everyone else to staging.
func (k *Kernel) ProposeWrite(ctx context.Context, in ProposeWriteInput) (*ProposeWriteResult, error) {
	if _, err := k.authenticate(in.Token, policy.CapProposeWrite); err != nil {
		return nil, err
	}

	mode := in.Mode
	if mode == "" {
		pol, err := store.GetAgentPolicy(k.DB, in.User, in.Agent)
		if err != nil {
			return nil, err
		}
		if pol != nil && pol.TrustedDirect {
			mode = "direct"
		} else {
			mode = "staging"
		}
	}

	params := staging.ProposeParams{
		User: in.User, Agent: in.Agent, Content: in.Content, Scope: in.Scope,
		Namespace: in.Namespace, Categories: in.Categories, Metadata: in.Metadata,
		SourceType: in.SourceType, SourceApp: in.SourceApp, SourceEventID: in.SourceEventID,
	}

	if mode == "direct" {
		createdID, err := k.Staging.ApplyDirect(ctx, params)
		if err != nil {
			return nil, err
		}
		result := "created"
		var ids []string
		if createdID != "" {
			ids = []string{createdID}
		} else {
			result = "existing"
		}
		return &ProposeWriteResult{Mode: "direct", Result: result, CreatedIDs: ids}, nil
	}

	res, err := k.Staging.Propose(ctx, params)
	if err != nil {
		return nil, err
	}
	return &ProposeWriteResult{
		Mode: "staging", CommitID: res.CommitID, Status: res.Status,
		Checks: res.Checks, Preview: res.Preview, AutoMerged: res.AutoMerged,
	}, nil
}

// ListPendingCommits authenticates then lists a user's commits in status.
func (k *Kernel) ListPendingCommits(user, status string, limit int, token string) ([]*models.ProposalCommit, error) {
	if _, err := k.authenticate(token, policy.CapReviewCommits); err != nil {
		return nil, err
	}
	return store.ListPendingCommits(k.DB, user, status, limit)
}

// ApproveResult mirrors staging.ApproveResult for the facade boundary.
type ApproveResult = staging.ApproveResult

// ApproveCommit authenticates then drives a commit through the approve path.
func (k *Kernel) ApproveCommit(ctx context.Context, commitID, token string) (*ApproveResult, error) {
	if _, err := k.authenticate(token, policy.CapReviewCommits); err != nil {
		return nil, err
	}
	return k.Staging.Approve(ctx, commitID)
}

// RejectCommit authenticates then rejects a commit.
func (k *Kernel) RejectCommit(commitID, reason, token string) error {
	if _, err := k.authenticate(token, policy.CapReviewCommits); err != nil {
		return err
	}
	return k.Staging.Reject(commitID, reason)
}

// ResolveConflict authenticates then applies a human resolution to a
// conflict-stash row.
func (k *Kernel) ResolveConflict(stashID string, resolution models.ConflictResolution, token string) error {
	if _, err := k.authenticate(token, policy.CapResolveConflict); err != nil {
		return err
	}
	return k.Staging.ResolveConflict(stashID, resolution)
}

// GetDailyDigest authenticates then fetches a user's digest for date.
func (k *Kernel) GetDailyDigest(user, date, token string) (*models.DailyDigest, error) {
	if _, err := k.authenticate(token, policy.CapReadDigest); err != nil {
		return nil, err
	}
	return store.GetDailyDigest(k.DB, user, date)
}

// RunSleepCycle authenticates then runs one sleep-cycle pass.
func (k *Kernel) RunSleepCycle(ctx context.Context, opts sleep.Options, token string) (*sleep.Report, error) {
	if _, err := k.authenticate(token, policy.CapRunSleepCycle); err != nil {
		return nil, err
	}
	return k.Sleep.Run(ctx, opts)
}

// GetAgentTrust authenticates then fetches a (user, agent) trust record.
func (k *Kernel) GetAgentTrust(user, agent, token string) (*models.AgentTrust, error) {
	if _, err := k.authenticate(token, policy.CapReadTrust); err != nil {
		return nil, err
	}
	return store.GetAgentTrust(k.DB, user, agent)
}

// CreateNamespace authenticates then registers a new namespace.
func (k *Kernel) CreateNamespace(ns *models.Namespace, token string) error {
	if _, err := k.authenticate(token, policy.CapManageNamespace); err != nil {
		return err
	}
	return store.CreateNamespace(k.DB, ns)
}

// ListNamespaces authenticates then lists a user's namespaces.
func (k *Kernel) ListNamespaces(user, token string) ([]*models.Namespace, error) {
	if _, err := k.authenticate(token, policy.CapManageNamespace); err != nil {
		return nil, err
	}
	return store.ListNamespaces(k.DB, user)
}

// GrantNamespacePermission authenticates then grants a namespace permission.
func (k *Kernel) GrantNamespacePermission(p *models.NamespacePermission, token string) error {
	if _, err := k.authenticate(token, policy.CapManageNamespace); err != nil {
		return err
	}
	return store.GrantNamespacePermission(k.DB, p)
}

// RevokeNamespacePermission authenticates then revokes a namespace permission.
func (k *Kernel) RevokeNamespacePermission(namespace, user, agent, capability, token string) error {
	if _, err := k.authenticate(token, policy.CapManageNamespace); err != nil {
		return err
	}
	return store.RevokeNamespacePermission(k.DB, namespace, user, agent, capability)
}

// ListNamespacePermissions authenticates then lists granted permissions.
func (k *Kernel) ListNamespacePermissions(namespace, user, agent, token string) ([]*models.NamespacePermission, error) {
	if _, err := k.authenticate(token, policy.CapManageNamespace); err != nil {
		return nil, err
	}
	return store.ListNamespacePermissions(k.DB, namespace, user, agent, time.Now())
}

// UpsertAgentPolicy authenticates then registers or updates an agent policy.
func (k *Kernel) UpsertAgentPolicy(p *models.AgentPolicy, token string) error {
	if _, err := k.authenticate(token, policy.CapManageNamespace); err != nil {
		return err
	}
	return store.UpsertAgentPolicy(k.DB, p)
}

// SaveSessionDigest authenticates then saves a handoff session digest.
func (k *Kernel) SaveSessionDigest(p handoff.SaveDigestParams, token string) (string, error) {
	if _, err := k.authenticate(token, policy.CapWriteHandoff); err != nil {
		return "", err
	}
	return k.Handoff.SaveSessionDigest(p)
}

// GetLastSession authenticates then fetches the most recent handoff session
// for a scope.
func (k *Kernel) GetLastSession(user, agent, namespace, repo, token string) (*models.HandoffSession, error) {
	if _, err := k.authenticate(token, policy.CapReadHandoff); err != nil {
		return nil, err
	}
	return k.Handoff.GetLastSession(user, agent, namespace, repo)
}

// ListSessions authenticates then lists a user's handoff sessions.
func (k *Kernel) ListSessions(user string, limit int, token string) ([]*models.HandoffSession, error) {
	if _, err := k.authenticate(token, policy.CapReadHandoff); err != nil {
		return nil, err
	}
	return k.Handoff.ListSessions(user, limit)
}

// AutoResumeContext authenticates then computes (or returns cached)
// continuity state for a scope.
func (k *Kernel) AutoResumeContext(user, agent, namespace, repo, token string) (*handoff.AutoResumeContext, error) {
	if _, err := k.authenticate(token, policy.CapReadHandoff); err != nil {
		return nil, err
	}
	return k.Handoff.AutoResumeContext(user, agent, namespace, repo)
}

// AutoCheckpoint authenticates then appends a checkpoint.
func (k *Kernel) AutoCheckpoint(sessionID, laneID, agent string, snapshot []byte, lastActivity time.Time, token string) (*handoff.CheckpointResult, error) {
	if _, err := k.authenticate(token, policy.CapWriteHandoff); err != nil {
		return nil, err
	}
	return k.Handoff.AutoCheckpoint(sessionID, laneID, agent, snapshot, lastActivity)
}

// FinalizeLane authenticates then closes a lane, completing the session
// when no lane remains open.
func (k *Kernel) FinalizeLane(sessionID, laneID, token string) error {
	if _, err := k.authenticate(token, policy.CapWriteHandoff); err != nil {
		return err
	}
	return k.Handoff.FinalizeLane(sessionID, laneID)
}
