package category

import (
	"database/sql"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/engram-kernel/engram/internal/store"
)

var detectFence = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

type detectOutput struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func parseDetectResponse(raw string) (string, float64, bool) {
	text := strings.TrimSpace(raw)
	if m := detectFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", 0, false
	}
	text = text[start : end+1]

	var out detectOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return "", 0, false
	}
	name := strings.TrimSpace(out.Category)
	if name == "" {
		return "", 0, false
	}
	return name, out.Confidence, true
}

// DecayRate is the per-maintenance-cycle strength reduction applied to
// every category, whether or not it was reinforced since the last cycle.
const DecayRate = 0.05

// MinStrength is the floor below which a category is considered dormant
// but is still kept (categories are never auto-deleted, only merged).
const MinStrength = 0.05

// RunMaintenance decays every category by DecayRate (reinforced or not) and
// folds near-duplicate names (case/whitespace-insensitive match) into a
// single node (spec.md §4.5). The sleep cycle does not call it.
func RunMaintenance(db *sql.DB, user string) error {
	cats, err := store.ListCategories(db, user)
	if err != nil {
		return err
	}

	kept := make(map[string]*store.CategoryRow)
	for _, c := range cats {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if dup, ok := kept[key]; ok {
			if err := store.Transact(db, func(tx *sql.Tx) error {
				return store.MergeCategoriesTx(tx, c.ID, dup.ID)
			}); err != nil {
				return err
			}
			continue
		}
		kept[key] = c
	}

	for _, c := range kept {
		newStrength := c.Strength - DecayRate
		if newStrength < MinStrength {
			newStrength = MinStrength
		}
		if err := store.DecayCategory(db, c.ID, newStrength); err != nil {
			return err
		}
	}
	return nil
}
