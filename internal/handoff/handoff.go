// Package handoff implements the cross-agent continuity bundle of spec.md
// §4.11: durable sessions/lanes/checkpoints backed by internal/store, plus
// the bounded, opportunistically-evicted auto-resume context cache spec.md
// §5 calls for. Grounded on original_source's handoff bus concept and on
// vybe's pkg/memory LRU store for the cache shape.
package handoff

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

// DefaultIdleThreshold is the wall-clock gap past which AutoCheckpoint
// treats the caller as idle and flags its checkpoint as idle-triggered.
const DefaultIdleThreshold = 15 * time.Minute

// DefaultCacheSize bounds the in-process auto-resume context cache.
const DefaultCacheSize = 256

// DefaultCacheTTL bounds how long a cached context is trusted before a
// fresh read hits the store again.
const DefaultCacheTTL = 5 * time.Minute

// Bus coordinates handoff sessions/lanes/checkpoints against the durable
// store and the auto-resume cache.
type Bus struct {
	DB            *sql.DB
	IdleThreshold time.Duration
	cache         *resumeCache
}

// New returns a Bus with the default idle threshold and cache sizing.
func New(db *sql.DB) *Bus {
	return &Bus{
		DB:            db,
		IdleThreshold: DefaultIdleThreshold,
		cache:         newResumeCache(DefaultCacheSize, DefaultCacheTTL),
	}
}

// SaveDigestParams bundles save_session_digest's inputs.
type SaveDigestParams struct {
	User        string
	Agent       string
	Repo        string
	Namespace   string
	TaskSummary string
	Decisions   []string
	FilesTouched []string
	Todos       []string
	Metadata    map[string]string
}

// SaveSessionDigest creates a new handoff session for (user, agent, repo) or
// overwrites the mutable fields of the existing most-recent one, and
// invalidates any cached auto-resume context for that scope.
func (b *Bus) SaveSessionDigest(p SaveDigestParams) (string, error) {
	namespace := namespaceOrDefault(p.Namespace)
	existing, err := store.GetLastHandoffSession(b.DB, p.User, p.Agent, namespace, p.Repo)
	if err != nil {
		return "", err
	}

	var id string
	if existing != nil && existing.Status == models.HandoffActive {
		id = existing.ID
		err = store.Transact(b.DB, func(tx *sql.Tx) error {
			return store.UpdateHandoffSessionTx(tx, id, string(models.HandoffActive), p.TaskSummary, p.Decisions, p.FilesTouched, p.Todos, p.Metadata)
		})
	} else {
		id, err = store.CreateHandoffSession(b.DB, &models.HandoffSession{
			User: p.User, Agent: p.Agent, Repo: p.Repo, Namespace: namespace,
			Status: models.HandoffActive, TaskSummary: p.TaskSummary,
			Decisions: p.Decisions, FilesTouched: p.FilesTouched, Todos: p.Todos, Metadata: p.Metadata,
		})
	}
	if err != nil {
		return "", err
	}

	b.cache.Invalidate(cacheKey(p.User, p.Agent, namespace, p.Repo))
	return id, nil
}

// GetLastSession returns the most recently updated handoff session for a
// scope, or nil if none exists.
func (b *Bus) GetLastSession(user, agent, namespace, repo string) (*models.HandoffSession, error) {
	return store.GetLastHandoffSession(b.DB, user, agent, namespaceOrDefault(namespace), repo)
}

// ListSessions lists a user's handoff sessions, most recent first.
func (b *Bus) ListSessions(user string, limit int) ([]*models.HandoffSession, error) {
	return store.ListHandoffSessions(b.DB, user, limit)
}

// AutoResumeContext is what a newly-started agent needs to pick up a task:
// the active session, its most recent checkpoint, and any lanes still open
// toward it.
type AutoResumeContext struct {
	Session          *models.HandoffSession `json:"session,omitempty"`
	LatestCheckpoint *models.Checkpoint     `json:"latest_checkpoint,omitempty"`
	OpenLanes        []*models.Lane         `json:"open_lanes,omitempty"`
	FromCache        bool                   `json:"-"`
}

// AutoResumeContext computes (or returns cached) continuity state for
// (user, agent, namespace, repo), per spec.md §4.11 "auto_resume computes a
// lane id per (user, agent, namespace, repo) scope".
func (b *Bus) AutoResumeContext(user, agent, namespace, repo string) (*AutoResumeContext, error) {
	namespace = namespaceOrDefault(namespace)
	key := cacheKey(user, agent, namespace, repo)
	if cached, ok := b.cache.Get(key); ok {
		out := *cached
		out.FromCache = true
		return &out, nil
	}

	session, err := store.GetLastHandoffSession(b.DB, user, agent, namespace, repo)
	if err != nil {
		return nil, err
	}
	ctxResult := &AutoResumeContext{Session: session}
	if session == nil {
		return ctxResult, nil
	}

	lanes, err := store.ListLanes(b.DB, session.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range lanes {
		if l.Status == models.LaneOpen {
			ctxResult.OpenLanes = append(ctxResult.OpenLanes, l)
		}
	}

	cp, err := store.GetLatestCheckpoint(b.DB, session.ID, "")
	if err != nil {
		return nil, err
	}
	ctxResult.LatestCheckpoint = cp

	b.cache.Set(key, ctxResult)
	return ctxResult, nil
}

// OpenLane begins a new handoff exchange between two agents within a
// session.
func (b *Bus) OpenLane(sessionID, fromAgent, toAgent, context string) (string, error) {
	var laneID string
	err := store.Transact(b.DB, func(tx *sql.Tx) error {
		id, err := store.OpenLaneTx(tx, &models.Lane{SessionID: sessionID, FromAgent: fromAgent, ToAgent: toAgent, Context: context})
		laneID = id
		return err
	})
	return laneID, err
}

// CheckpointResult reports what AutoCheckpoint did, including whether the
// gap since the caller's last known activity crossed the idle threshold.
type CheckpointResult struct {
	CheckpointID string `json:"checkpoint_id"`
	IdleDetected bool   `json:"idle_detected"`
}

// AutoCheckpoint appends a snapshot checkpoint on tool completion. When
// lastActivity is more than IdleThreshold in the past, it is flagged as an
// idle-triggered checkpoint (spec.md §4.11: "idle pause emits a checkpoint
// when the wall-clock gap exceeds the configured idle threshold") so the
// caller can distinguish a routine save from a resumption point.
func (b *Bus) AutoCheckpoint(sessionID, laneID, agent string, snapshot json.RawMessage, lastActivity time.Time) (*CheckpointResult, error) {
	idle := !lastActivity.IsZero() && time.Since(lastActivity) > b.IdleThreshold

	var checkpointID string
	err := store.Transact(b.DB, func(tx *sql.Tx) error {
		id, err := store.RecordCheckpointTx(tx, &models.Checkpoint{SessionID: sessionID, LaneID: laneID, Agent: agent, Snapshot: snapshot})
		checkpointID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CheckpointResult{CheckpointID: checkpointID, IdleDetected: idle}, nil
}

// FinalizeLane closes an open lane and, when every lane in the session is
// closed, marks the session completed.
func (b *Bus) FinalizeLane(sessionID, laneID string) error {
	if err := store.Transact(b.DB, func(tx *sql.Tx) error {
		return store.CloseLaneTx(tx, laneID)
	}); err != nil {
		return err
	}

	lanes, err := store.ListLanes(b.DB, sessionID)
	if err != nil {
		return err
	}
	for _, l := range lanes {
		if l.Status == models.LaneOpen {
			return nil
		}
	}

	session, err := store.GetHandoffSession(b.DB, sessionID)
	if err != nil || session == nil {
		return err
	}
	return store.Transact(b.DB, func(tx *sql.Tx) error {
		return store.UpdateHandoffSessionTx(tx, sessionID, string(models.HandoffCompleted), session.TaskSummary, session.Decisions, session.FilesTouched, session.Todos, session.Metadata)
	})
}

// Shutdown flushes a final "agent_end" checkpoint on a best-effort basis
// (spec.md §4.11: "shutdown flushes a final agent_end checkpoint on
// best-effort basis") — failures are swallowed since shutdown must not
// block the host process from exiting.
func (b *Bus) Shutdown(sessionID, laneID, agent string) {
	snapshot, err := json.Marshal(map[string]string{"event": "agent_end"})
	if err != nil {
		return
	}
	_ = store.Transact(b.DB, func(tx *sql.Tx) error {
		_, err := store.RecordCheckpointTx(tx, &models.Checkpoint{SessionID: sessionID, LaneID: laneID, Agent: agent, Snapshot: snapshot})
		return err
	})
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return models.DefaultNamespace
	}
	return ns
}
