package models

// Event kind constants for the durable event log. Agents may emit custom
// kinds up to 128 chars; these are the kernel's own lifecycle kinds.
const (
	EventKindMemoryCreated    = "memory.created"
	EventKindMemoryUpdated    = "memory.updated"
	EventKindMemoryPromoted   = "memory.promoted"
	EventKindMemoryForgotten  = "memory.forgotten"
	EventKindMemoryAccessed   = "memory.accessed"

	EventKindCommitProposed = "commit.proposed"
	EventKindCommitApplying = "commit.applying"
	EventKindCommitApproved = "commit.approved"
	EventKindCommitRejected = "commit.rejected"
	EventKindCommitAutoStashed = "commit.auto_stashed"
	EventKindCommitRolledBack = "commit.rolled_back"

	EventKindConflictStashed  = "conflict.stashed"
	EventKindConflictResolved = "conflict.resolved"

	EventKindSceneCreated = "scene.created"
	EventKindSceneExtended = "scene.extended"

	EventKindSessionCreated = "session.created"
	EventKindSessionRevoked = "session.revoked"

	EventKindHandoffCheckpoint = "handoff.checkpoint"
	EventKindHandoffLaneOpened = "handoff.lane_opened"
	EventKindHandoffLaneClosed = "handoff.lane_closed"

	EventKindSleepCycleRun = "sleep.cycle_run"
)
