// Package models holds Engram's core data types: the memory record, its
// supporting vector/episodic/governance entities, and the tagged error
// kinds every other package returns.
package models

import (
	"encoding/json"
	"time"
)

// Tier is the fading-memory layer a Memory currently lives in.
type Tier string

const (
	TierSML Tier = "SML" // short/mid-lived memory, decays fast
	TierLML Tier = "LML" // long-lived memory, promoted, decays slowly
)

// ConfidentialityScope is the closed set of masking scopes from spec.md §6.
type ConfidentialityScope string

const (
	ScopeWork     ConfidentialityScope = "work"
	ScopePersonal ConfidentialityScope = "personal"
	ScopeFinance  ConfidentialityScope = "finance"
	ScopeHealth   ConfidentialityScope = "health"
	ScopePrivate  ConfidentialityScope = "private"
)

// ValidScopes lists every recognized confidentiality scope.
var ValidScopes = []ConfidentialityScope{ScopeWork, ScopePersonal, ScopeFinance, ScopeHealth, ScopePrivate}

// IsValid reports whether s is one of the closed-set scopes.
func (s ConfidentialityScope) IsValid() bool {
	for _, v := range ValidScopes {
		if v == s {
			return true
		}
	}
	return false
}

// MemoryType distinguishes episodic from semantic content.
type MemoryType string

const (
	MemoryTypeEpisodic MemoryType = "episodic"
	MemoryTypeSemantic MemoryType = "semantic"
)

// DefaultNamespace is used when a caller supplies no namespace.
const DefaultNamespace = "default"

// WildcardNamespace grants access to every namespace; valid only in policy
// grants and sessions, never stored on a Memory itself.
const WildcardNamespace = "*"

// Memory is the durable record at the center of the kernel (spec.md §3).
type Memory struct {
	ID                  string                `json:"id"`
	Owner               string                `json:"owner"`
	Agent               string                `json:"agent,omitempty"`
	Run                 string                `json:"run,omitempty"`
	App                 string                `json:"app,omitempty"`
	Content             string                `json:"content"`
	Tier                Tier                  `json:"tier"`
	Strength            float64               `json:"strength"`
	TraceFast           float64               `json:"trace_fast"`
	TraceMid            float64               `json:"trace_mid"`
	TraceSlow           float64               `json:"trace_slow"`
	EffectiveStrength   float64               `json:"effective_strength"`
	AccessCount         int                   `json:"access_count"`
	LastAccessed        time.Time             `json:"last_accessed"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
	Namespace           string                `json:"namespace"`
	ConfidentialityScope ConfidentialityScope `json:"confidentiality_scope"`
	MemoryType          MemoryType            `json:"memory_type,omitempty"`
	Immutable           bool                  `json:"immutable"`
	ExpirationDate      *time.Time            `json:"expiration_date,omitempty"`
	SourceEventID       string                `json:"source_event_id,omitempty"`
	SourceApp           string                `json:"source_app,omitempty"`
	Categories          []string              `json:"categories,omitempty"`
	Metadata            map[string]string     `json:"metadata,omitempty"`
	Tombstoned          bool                  `json:"tombstoned"`
	SceneID             string                `json:"scene_id,omitempty"`
	EchoDepth           string                `json:"echo_depth,omitempty"`
	LastReechoAccessCount int                 `json:"last_reecho_access_count,omitempty"`
}

// IsTerminal reports whether the memory has reached a terminal forgotten state.
func (m *Memory) IsTerminal() bool {
	return m.Strength == 0 && m.Tombstoned
}

// IsExpired reports whether the memory's expiration_date has passed.
func (m *Memory) IsExpired(now time.Time) bool {
	return m.ExpirationDate != nil && m.ExpirationDate.Before(now)
}

// IsMutable reports whether content mutation is allowed.
func (m *Memory) IsMutable() bool { return !m.Immutable && !m.Tombstoned }

// VectorNode is a single embedded node (primary/paraphrase/question/content)
// attached to a memory, per spec.md §3/§4.2.
type VectorNode struct {
	ID        string            `json:"id"`
	MemoryID  string            `json:"memory_id"`
	Collection string           `json:"collection"`
	NodeType  string            `json:"node_type"` // primary | paraphrase | question | content
	Vector    []float32         `json:"-"`
	Payload   map[string]string `json:"payload"`
}

// VectorSearchResult is one ranked hit returned by the vector index.
type VectorSearchResult struct {
	ID      string
	Score   float64
	Payload map[string]string
}

// Scene is a CAST-style episodic grouping of views/memories (spec.md §3).
type Scene struct {
	ID                   string               `json:"id"`
	User                 string               `json:"user"`
	Title                string               `json:"title,omitempty"`
	Topic                string               `json:"topic,omitempty"`
	Summary              string               `json:"summary,omitempty"`
	StartTime            time.Time            `json:"start_time"`
	EndTime              time.Time            `json:"end_time"`
	Location             string               `json:"location,omitempty"`
	Participants         []string             `json:"participants,omitempty"`
	MemoryIDs            []string             `json:"memory_ids,omitempty"`
	Embedding            []float32            `json:"-"`
	SceneStrength        float64              `json:"scene_strength"`
	Layer                Tier                 `json:"layer"`
	Namespace            string               `json:"namespace"`
	ConfidentialityScope ConfidentialityScope `json:"confidentiality_scope"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// View is an ephemeral perception ingested into the episodic store (spec.md §3).
type View struct {
	ID         string            `json:"id"`
	User       string            `json:"user"`
	Agent      string            `json:"agent,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Place      string            `json:"place,omitempty"`
	TopicLabel string            `json:"topic_label,omitempty"`
	TopicRef   string            `json:"topic_ref,omitempty"`
	Characters []ViewCharacter   `json:"characters,omitempty"`
	RawText    string            `json:"raw_text"`
	Signals    map[string]string `json:"signals,omitempty"`
	SceneID    string            `json:"scene_id,omitempty"`
	Namespace  string            `json:"namespace"`
	MemoryID   string            `json:"memory_id,omitempty"`
}

// ViewCharacter is a participant extracted from a view, with its role.
type ViewCharacter struct {
	Name string `json:"name"`
	Role string `json:"role"` // MC (main character) | SC (supporting character)
}

// CommitStatus is the closed set of proposal-commit states (spec.md §4.10).
type CommitStatus string

const (
	CommitPending     CommitStatus = "PENDING"
	CommitAutoStashed CommitStatus = "AUTO_STASHED"
	CommitApplying    CommitStatus = "APPLYING"
	CommitApproved    CommitStatus = "APPROVED"
	CommitRejected    CommitStatus = "REJECTED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s CommitStatus) IsTerminal() bool {
	return s == CommitApproved || s == CommitRejected
}

// ChangeOp is the kind of mutation a ProposalChange represents.
type ChangeOp string

const (
	ChangeAdd    ChangeOp = "ADD"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// ProposalChange is a single staged mutation within a commit.
type ProposalChange struct {
	Op     ChangeOp        `json:"op"`
	Target string          `json:"target"`
	Patch  json.RawMessage `json:"patch"`
}

// CommitChecks captures the evaluation results recorded on a commit.
type CommitChecks struct {
	InvariantsOK  bool               `json:"invariants_ok"`
	Conflicts     []InvariantConflict `json:"conflicts,omitempty"`
	RiskScore     float64            `json:"risk_score"`
	DuplicateOf   string             `json:"duplicate_of,omitempty"`
	PIIRisk       bool               `json:"pii_risk"`
	ApplyError    string             `json:"apply_error,omitempty"`
	RollbackCount int                `json:"rollback_deleted,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
}

// InvariantConflict records a single-valued identity disagreement.
type InvariantConflict struct {
	Key              string  `json:"key"`
	Existing         string  `json:"existing"`
	Proposed         string  `json:"proposed"`
	SuggestedClass   string  `json:"suggested_class,omitempty"`
	SuggestedConf    float64 `json:"suggested_confidence,omitempty"`
}

// Provenance records where a proposed write came from.
type Provenance struct {
	SourceType    string `json:"source_type,omitempty"`
	SourceApp     string `json:"source_app,omitempty"`
	SourceEventID string `json:"source_event_id,omitempty"`
	Tool          string `json:"tool,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
}

// ProposalCommit is a staged write awaiting approval (spec.md §3/§4.10).
type ProposalCommit struct {
	ID         string               `json:"id"`
	User       string               `json:"user"`
	Agent      string               `json:"agent,omitempty"`
	Scope      ConfidentialityScope `json:"scope"`
	Namespace  string               `json:"namespace"`
	Status     CommitStatus         `json:"status"`
	Checks     CommitChecks         `json:"checks"`
	Preview    string               `json:"preview"`
	Provenance Provenance           `json:"provenance"`
	Changes    []ProposalChange     `json:"changes"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// ConflictResolution is the closed set of conflict-stash resolutions.
type ConflictResolution string

const (
	ResolutionUnresolved     ConflictResolution = "UNRESOLVED"
	ResolutionKeepExisting   ConflictResolution = "KEEP_EXISTING"
	ResolutionAcceptProposed ConflictResolution = "ACCEPT_PROPOSED"
	ResolutionKeepBoth       ConflictResolution = "KEEP_BOTH"
)

// ConflictStash is an unresolved invariant conflict awaiting a decision.
type ConflictStash struct {
	ID               string             `json:"id"`
	User             string             `json:"user"`
	ConflictKey      string             `json:"conflict_key"`
	ExistingValue    string             `json:"existing_value"`
	ProposedValue    string             `json:"proposed_value"`
	Resolution       ConflictResolution `json:"resolution"`
	SourceCommitID   string             `json:"source_commit_id"`
	CreatedAt        time.Time          `json:"created_at"`
	ResolvedAt       *time.Time         `json:"resolved_at,omitempty"`
}

// Session is a short-lived capability token (spec.md §3/§4.9).
type Session struct {
	ID                       string   `json:"id"`
	TokenHash                string   `json:"-"`
	User                     string   `json:"user"`
	Agent                    string   `json:"agent,omitempty"`
	AllowedConfidentiality   []string `json:"allowed_confidentiality_scopes"`
	Capabilities             []string `json:"capabilities"`
	Namespaces               []string `json:"namespaces"`
	ExpiresAt                time.Time `json:"expires_at"`
	RevokedAt                *time.Time `json:"revoked_at,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
}

// IsValid reports whether the session may be used at time now.
func (s *Session) IsValid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// HasCapability reports whether cap is granted, honoring the "*" wildcard.
func (s *Session) HasCapability(cap string) bool {
	for _, c := range s.Capabilities {
		if c == cap || c == WildcardNamespace {
			return true
		}
	}
	return false
}

// HasScope reports whether scope is granted, honoring the "*" wildcard.
func (s *Session) HasScope(scope string) bool {
	for _, v := range s.AllowedConfidentiality {
		if v == scope || v == WildcardNamespace {
			return true
		}
	}
	return false
}

// HasNamespace reports whether ns is granted, honoring the "*" wildcard.
func (s *Session) HasNamespace(ns string) bool {
	for _, v := range s.Namespaces {
		if v == ns || v == WildcardNamespace {
			return true
		}
	}
	return false
}

// AgentPolicy clamps what a (user, agent) pair may request in a session.
type AgentPolicy struct {
	User              string   `json:"user"`
	Agent             string   `json:"agent"`
	AllowedScopes     []string `json:"allowed_scopes"`
	AllowedCapabilities []string `json:"allowed_capabilities"`
	AllowedNamespaces []string `json:"allowed_namespaces"`
	TrustedDirect     bool     `json:"trusted_direct"`
	HandoffBootstrap  bool     `json:"handoff_bootstrap"`
}

// AgentTrust tracks a (user, agent) pair's staging-commit track record.
type AgentTrust struct {
	User          string  `json:"user"`
	Agent         string  `json:"agent"`
	Total         int     `json:"total"`
	Approved      int     `json:"approved"`
	Rejected      int     `json:"rejected"`
	AutoStashed   int     `json:"auto_stashed"`
	TrustScore    float64 `json:"trust_score"`
}

// RejectionRate returns rejected/total, or 0 when there is no history.
func (t *AgentTrust) RejectionRate() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Rejected) / float64(t.Total)
}

// Namespace is a logical tenancy boundary for memories.
type Namespace struct {
	User        string    `json:"user"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NamespacePermission grants an agent a capability within a namespace.
type NamespacePermission struct {
	Namespace  string     `json:"namespace"`
	User       string     `json:"user"`
	Agent      string     `json:"agent"`
	Capability string     `json:"capability"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// HandoffStatus is the closed set of handoff session states.
type HandoffStatus string

const (
	HandoffActive    HandoffStatus = "active"
	HandoffPaused    HandoffStatus = "paused"
	HandoffCompleted HandoffStatus = "completed"
	HandoffAbandoned HandoffStatus = "abandoned"
)

// HandoffSession is a durable continuity bundle for an agent working a repo.
type HandoffSession struct {
	ID          string            `json:"id"`
	User        string            `json:"user"`
	Agent       string            `json:"agent"`
	Repo        string            `json:"repo"`
	Namespace   string            `json:"namespace"`
	Status      HandoffStatus     `json:"status"`
	TaskSummary string            `json:"task_summary,omitempty"`
	Decisions   []string          `json:"decisions,omitempty"`
	FilesTouched []string         `json:"files_touched,omitempty"`
	Todos       []string          `json:"todos,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// LaneStatus is the closed set of handoff lane states.
type LaneStatus string

const (
	LaneOpen   LaneStatus = "open"
	LaneClosed LaneStatus = "closed"
)

// Lane is a single handoff exchange between two agents in a session.
type Lane struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	FromAgent  string     `json:"from_agent"`
	ToAgent    string     `json:"to_agent"`
	Status     LaneStatus `json:"status"`
	Context    string     `json:"context,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

// Checkpoint is an append-only snapshot recorded within a lane.
type Checkpoint struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	LaneID    string          `json:"lane_id"`
	Agent     string          `json:"agent"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"created_at"`
}

// RefCount tracks strong/weak retention protection for a memory.
type RefCount struct {
	MemoryID    string `json:"memory_id"`
	StrongCount int    `json:"strong_count"`
	WeakCount   int    `json:"weak_count"`
}

// Protected reports whether the memory is immune to forgetting.
func (r *RefCount) Protected() bool { return r.StrongCount > 0 }

// RefType distinguishes a strong (never-forget) from a weak (slows decay) ref.
type RefType string

const (
	RefStrong RefType = "strong"
	RefWeak   RefType = "weak"
)

// Subscriber is a single strong/weak reference held on a memory.
type Subscriber struct {
	MemoryID    string     `json:"memory_id"`
	SubscriberID string    `json:"subscriber_id"`
	RefType     RefType    `json:"ref_type"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// DailyDigest is the per-user nightly summary built by the sleep cycle.
type DailyDigest struct {
	User             string   `json:"user"`
	Date             string   `json:"date"` // YYYY-MM-DD
	TopConflicts     []string `json:"top_conflicts,omitempty"`
	TopConsolidations []string `json:"top_pending_consolidations,omitempty"`
	SceneHighlights  []string `json:"scene_highlights,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Invariant is a single-valued identity attribute a proposal may contradict.
type Invariant struct {
	User       string  `json:"user"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EntityEdge is a directed, typed, weighted edge between two graph entities
// (typically a memory and an extracted entity), used for the knowledge-graph
// retrieval boost (spec.md §4.7 step 6; see SPEC_FULL.md SUPPLEMENTED FEATURES).
type EntityEdge struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Weight   float64 `json:"weight"`
}

// Event is a durable log row recording a kernel-level occurrence.
type Event struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	User      string          `json:"user"`
	Agent     string          `json:"agent,omitempty"`
	RefID     string          `json:"ref_id,omitempty"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
