package staging

import (
	"database/sql"
	"strings"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

// Risk thresholds from spec.md §4.10 step 3: duplicate detection, invariant
// conflicts, and PII all escalate risk_score but only conflicts and PII push
// a commit to AUTO_STASHED (see EvaluateAdd's caller).
const (
	DuplicateRiskScore = 0.35
	ConflictRiskScore  = 0.72
	PIIRiskScore       = 0.85
	BaselineRiskScore  = 0.15
)

// EvaluateAdd runs the invariant/duplicate/PII checks for a proposed ADD of
// content, matching InvariantEngine.evaluate_add.
func EvaluateAdd(db *sql.DB, user, content string) (models.CommitChecks, error) {
	checks := models.CommitChecks{InvariantsOK: true}

	existing, err := store.GetAllMemories(db, store.MemoryFilters{Owner: user})
	if err != nil {
		return checks, err
	}
	normalized := strings.ToLower(strings.TrimSpace(content))
	for _, mem := range existing {
		if normalized != "" && strings.ToLower(strings.TrimSpace(mem.Content)) == normalized {
			checks.DuplicateOf = mem.ID
			checks.RiskScore = maxF(checks.RiskScore, DuplicateRiskScore)
			break
		}
	}

	var conflicts []models.InvariantConflict
	for _, pair := range ExtractInvariantPairs(content) {
		current, err := store.GetInvariant(db, user, pair.Key)
		if err != nil {
			return checks, err
		}
		if current == nil {
			continue
		}
		existingValue := strings.TrimSpace(current.Value)
		if existingValue != "" && !strings.EqualFold(existingValue, strings.TrimSpace(pair.Value)) {
			conflicts = append(conflicts, models.InvariantConflict{
				Key:      pair.Key,
				Existing: existingValue,
				Proposed: strings.TrimSpace(pair.Value),
			})
		}
	}
	if len(conflicts) > 0 {
		checks.InvariantsOK = false
		checks.Conflicts = conflicts
		checks.RiskScore = maxF(checks.RiskScore, ConflictRiskScore)
	}

	if ContainsPII(content) {
		checks.PIIRisk = true
		checks.RiskScore = maxF(checks.RiskScore, PIIRiskScore)
	}

	if len(conflicts) == 0 && !checks.PIIRisk && checks.DuplicateOf == "" {
		checks.RiskScore = maxF(checks.RiskScore, BaselineRiskScore)
	}

	return checks, nil
}

// RequiresStash reports whether checks force a commit to AUTO_STASHED
// rather than PENDING at creation time (spec.md §4.10: "created initially
// if checks indicate conflicts or pii_risk").
func RequiresStash(checks models.CommitChecks) bool {
	return !checks.InvariantsOK || checks.PIIRisk
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
