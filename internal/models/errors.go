package models

import "fmt"

// RecoverableError is implemented by enriched errors that carry structured
// context and remediation hints. Kernel, store, and output packages all key
// off this interface to avoid import cycles between layers.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// ValidationError wraps malformed or missing caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}
func (e *ValidationError) ErrorCode() string { return "VALIDATION" }
func (e *ValidationError) Context() map[string]string {
	return map[string]string{"field": e.Field, "reason": e.Reason}
}
func (e *ValidationError) SuggestedAction() string {
	return "correct the field and retry"
}
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ErrValidation is the sentinel matched by ValidationError.Is.
var ErrValidation = fmt.Errorf("validation error")

// PermissionError wraps a denied session/capability/scope/namespace check.
type PermissionError struct {
	Reason     string
	Capability string
	Scope      string
	Namespace  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Reason)
}
func (e *PermissionError) ErrorCode() string { return "PERMISSION" }
func (e *PermissionError) Context() map[string]string {
	return map[string]string{
		"reason":     e.Reason,
		"capability": e.Capability,
		"scope":      e.Scope,
		"namespace":  e.Namespace,
	}
}
func (e *PermissionError) SuggestedAction() string {
	return "request a session with the required capability, scope, and namespace"
}
func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// ErrPermission is the sentinel matched by PermissionError.Is.
var ErrPermission = fmt.Errorf("permission error")

// NotFoundError wraps a missing memory/scene/commit/stash/policy lookup.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}
func (e *NotFoundError) ErrorCode() string { return "NOT_FOUND" }
func (e *NotFoundError) Context() map[string]string {
	return map[string]string{"entity": e.Entity, "id": e.ID}
}
func (e *NotFoundError) SuggestedAction() string {
	return "verify the id and that it has not been purged"
}
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ErrNotFound is the sentinel matched by NotFoundError.Is.
var ErrNotFound = fmt.Errorf("not found")

// ConflictError wraps a CAS failure, idempotency-key collision, or
// unresolved invariant contradiction.
type ConflictError struct {
	Reason         string
	CurrentStatus  string
	ConflictingKey string
}

func (e *ConflictError) Error() string {
	if e.CurrentStatus != "" {
		return fmt.Sprintf("conflict: %s (current status %s)", e.Reason, e.CurrentStatus)
	}
	return fmt.Sprintf("conflict: %s", e.Reason)
}
func (e *ConflictError) ErrorCode() string { return "CONFLICT" }
func (e *ConflictError) Context() map[string]string {
	return map[string]string{
		"reason":          e.Reason,
		"current_status":  e.CurrentStatus,
		"conflicting_key": e.ConflictingKey,
	}
}
func (e *ConflictError) SuggestedAction() string {
	return "re-read the latest state and retry with a fresh request"
}
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ErrConflict is the sentinel matched by ConflictError.Is.
var ErrConflict = fmt.Errorf("conflict error")

// RateLimitedError wraps a write-quota rejection.
type RateLimitedError struct {
	Window string
	Limit  int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: quota of %d exceeded for window %s", e.Limit, e.Window)
}
func (e *RateLimitedError) ErrorCode() string { return "RATE_LIMITED" }
func (e *RateLimitedError) Context() map[string]string {
	return map[string]string{"window": e.Window, "limit": fmt.Sprintf("%d", e.Limit)}
}
func (e *RateLimitedError) SuggestedAction() string {
	return "wait for the quota window to roll over and retry"
}
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// ErrRateLimited is the sentinel matched by RateLimitedError.Is.
var ErrRateLimited = fmt.Errorf("rate limited")

// UnavailableError wraps a downed embedder/LLM or a locked store.
type UnavailableError struct {
	Dependency string
	Cause      string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Dependency, e.Cause)
}
func (e *UnavailableError) ErrorCode() string { return "UNAVAILABLE" }
func (e *UnavailableError) Context() map[string]string {
	return map[string]string{"dependency": e.Dependency, "cause": e.Cause}
}
func (e *UnavailableError) SuggestedAction() string {
	return "retry later or fall back to degraded mode"
}
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// ErrUnavailable is the sentinel matched by UnavailableError.Is.
var ErrUnavailable = fmt.Errorf("unavailable")

// CorruptionError wraps a decode/schema mismatch on stored data.
type CorruptionError struct {
	Entity string
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted %s: %s", e.Entity, e.Detail)
}
func (e *CorruptionError) ErrorCode() string { return "CORRUPTION" }
func (e *CorruptionError) Context() map[string]string {
	return map[string]string{"entity": e.Entity, "detail": e.Detail}
}
func (e *CorruptionError) SuggestedAction() string {
	return "inspect the row manually; this indicates a schema or encoding mismatch"
}
func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }

// ErrCorruption is the sentinel matched by CorruptionError.Is.
var ErrCorruption = fmt.Errorf("corruption")

// InternalError wraps an unexpected failure with no more specific kind.
type InternalError struct {
	Cause string
}

func (e *InternalError) Error() string { return fmt.Sprintf("internal error: %s", e.Cause) }
func (e *InternalError) ErrorCode() string { return "INTERNAL" }
func (e *InternalError) Context() map[string]string {
	return map[string]string{"cause": e.Cause}
}
func (e *InternalError) SuggestedAction() string {
	return "this is a bug; report it with reproduction steps"
}
func (e *InternalError) Is(target error) bool { return target == ErrInternal }

// ErrInternal is the sentinel matched by InternalError.Is.
var ErrInternal = fmt.Errorf("internal error")
