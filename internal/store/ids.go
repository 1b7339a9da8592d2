package store

import "github.com/google/uuid"

// NewID generates a new random identifier for any store-owned entity
// (memories, scenes, commits, sessions, handoff records, ...).
func NewID() string {
	return uuid.New().String()
}
