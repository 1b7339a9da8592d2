package policy

import (
	"time"

	"github.com/engram-kernel/engram/internal/models"
)

// MaskedItem is the redacted shape returned in place of a memory a session
// is not cleared to see, per spec.md §4.9 mask_for_namespace.
type MaskedItem struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
	Importance float64   `json:"importance"`
	Details    string    `json:"details"`
	Masked     bool      `json:"masked"`
}

// MaskForNamespace redacts mem's content while preserving enough shape
// (timestamp, importance) for a caller to know something existed there.
func MaskForNamespace(mem *models.Memory) MaskedItem {
	return MaskedItem{
		ID:         mem.ID,
		Type:       "private_event",
		Time:       mem.CreatedAt,
		Importance: mem.Strength,
		Details:    "[REDACTED]",
		Masked:     true,
	}
}

// MaskForScope is the confidentiality-scope analogue of MaskForNamespace;
// the redacted shape is identical, only the reason for masking differs.
func MaskForScope(mem *models.Memory) MaskedItem {
	return MaskForNamespace(mem)
}
