package store

import (
	"errors"
	"fmt"

	"github.com/engram-kernel/engram/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained for
// callers that reference store.RecoverableError.
type RecoverableError = models.RecoverableError

// CASContentionError is returned when a compare-and-set UPDATE affects zero
// rows because the row's status no longer matches the expected set. The
// caller owns deciding whether to re-read and retry.
type CASContentionError struct {
	Entity        string
	ID            string
	CurrentStatus string
	Expected      []string
}

func (e *CASContentionError) Error() string {
	return fmt.Sprintf("%s %s: expected status in %v, found %s", e.Entity, e.ID, e.Expected, e.CurrentStatus)
}
func (e *CASContentionError) ErrorCode() string { return "CAS_CONTENTION" }
func (e *CASContentionError) Context() map[string]string {
	return map[string]string{
		"entity":         e.Entity,
		"id":             e.ID,
		"current_status": e.CurrentStatus,
	}
}
func (e *CASContentionError) SuggestedAction() string {
	return "re-read the current state and retry with a fresh request"
}
func (e *CASContentionError) Is(target error) bool { return target == ErrCASContention }

// ErrCASContention is the sentinel matched by CASContentionError.Is.
var ErrCASContention = errors.New("compare-and-set contention")

// IdempotencyInProgressError is returned when a request_id probe row exists
// with no result yet recorded, meaning a concurrent caller is mid-flight.
type IdempotencyInProgressError struct {
	Namespace string
	RequestID string
	Command   string
}

func (e *IdempotencyInProgressError) Error() string { return "idempotent request already in progress" }
func (e *IdempotencyInProgressError) ErrorCode() string { return "IDEMPOTENCY_IN_PROGRESS" }
func (e *IdempotencyInProgressError) Context() map[string]string {
	return map[string]string{
		"namespace":  e.Namespace,
		"request_id": e.RequestID,
		"command":    e.Command,
	}
}
func (e *IdempotencyInProgressError) SuggestedAction() string {
	return "wait and retry, or use a new idempotency key"
}
func (e *IdempotencyInProgressError) Is(target error) bool {
	return target == ErrIdempotencyInProgress
}

// ErrIdempotencyInProgress is the sentinel matched by IdempotencyInProgressError.Is.
var ErrIdempotencyInProgress = errors.New("idempotency in progress")
