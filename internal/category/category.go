// Package category maintains the hierarchical category graph described in
// spec.md §4.5: nodes are (user, name) pairs with an optional parent, a
// strength that reinforces on match and decays when unused, and an
// optional summary. There is no original_source file for this subsystem;
// the auto-detection keyword pre-filter and retrieval-boost weights below
// are my own design, grounded on spec.md §4.5's stated behavior and on
// internal/store/categories.go's upsert-with-reinforcement shape.
package category

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/engram-kernel/engram/internal/llm"
	"github.com/engram-kernel/engram/internal/store"
)

// Boost weights applied during hybrid retrieval (spec.md §4.7 step 6).
const (
	MatchBoost   = 0.15 // +w_cat: memory carries a category the query matched
	RelatedBoost = 0.07 // +w_rel: memory carries a parent/child of a matched category
)

// Detection is the outcome of auto-detecting a memory's primary category.
type Detection struct {
	Name       string
	Confidence float64
}

// Processor auto-detects and maintains categories for a user.
type Processor struct {
	Generator llm.Generator
}

// NewProcessor returns a Processor; gen may be nil to disable LLM-assisted
// detection (keyword pre-filter still applies).
func NewProcessor(gen llm.Generator) *Processor {
	return &Processor{Generator: gen}
}

var wordPattern = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]*`)

// Detect picks a primary category for content. It first tries a keyword
// pre-filter against the user's existing categories (a literal name match
// is high-confidence and skips the LLM entirely); only when nothing
// matches and a Generator is configured does it ask the LLM to propose a
// new or existing bucket.
func (p *Processor) Detect(ctx context.Context, db *sql.DB, user, content string) (Detection, error) {
	existing, err := store.ListCategories(db, user)
	if err != nil {
		return Detection{}, err
	}

	tokens := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(strings.ToLower(content), -1) {
		tokens[w] = true
	}
	for _, c := range existing {
		if tokens[strings.ToLower(c.Name)] {
			return Detection{Name: c.Name, Confidence: 0.9}, nil
		}
	}

	if p.Generator == nil {
		return Detection{}, nil
	}

	prompt := buildDetectPrompt(content, existing)
	raw, err := p.Generator.Generate(ctx, prompt)
	if err != nil {
		return Detection{}, nil //nolint:nilerr // LLM unavailability degrades to no detection, not a hard failure
	}
	name, confidence, ok := parseDetectResponse(raw)
	if !ok {
		return Detection{}, nil
	}
	return Detection{Name: name, Confidence: confidence}, nil
}

func buildDetectPrompt(content string, existing []*store.CategoryRow) string {
	var b strings.Builder
	b.WriteString("Classify this memory into a single short category name (snake_case, 1-3 words).\n")
	if len(existing) > 0 {
		b.WriteString("Prefer one of these existing categories when it fits: ")
		for i, c := range existing {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
		}
		b.WriteString("\n")
	}
	b.WriteString("Respond with JSON only: {\"category\": \"...\", \"confidence\": 0.0-1.0}\n\nMemory: ")
	b.WriteString(content)
	return b.String()
}

// ApplyCategories attaches categories to a memory at write time: if
// provided is non-empty it is used verbatim, otherwise Detect runs and its
// result (if any) becomes the sole attached category. Every attached
// category is upserted (reinforcing its strength) so repeated use keeps a
// category alive in the graph.
func (p *Processor) ApplyCategories(ctx context.Context, db *sql.DB, user, content string, provided []string) ([]string, error) {
	categories := provided
	if len(categories) == 0 {
		d, err := p.Detect(ctx, db, user, content)
		if err != nil {
			return nil, err
		}
		if d.Name != "" {
			categories = []string{d.Name}
		}
	}
	for _, name := range categories {
		if _, err := store.UpsertCategory(db, &store.CategoryRow{User: user, Name: name, Strength: 0.5}); err != nil {
			return nil, err
		}
	}
	return categories, nil
}

// Boost returns the retrieval-time category score contribution for a
// memory's categories given the set of categories the query matched
// (queryCats) and the user's full category graph (for parent/child
// relatedness). A direct match scores MatchBoost; a category that shares a
// parent with, or is the parent/child of, a matched category scores
// RelatedBoost instead. Only the highest applicable boost is returned;
// boosts from several of the memory's categories do not add up.
func Boost(memoryCats, queryCats []string, graph []*store.CategoryRow) float64 {
	if len(queryCats) == 0 || len(memoryCats) == 0 {
		return 0
	}
	queried := toSet(queryCats)
	byName := make(map[string]*store.CategoryRow, len(graph))
	for _, c := range graph {
		byName[c.Name] = c
	}

	best := 0.0
	for _, mc := range memoryCats {
		if queried[mc] {
			if MatchBoost > best {
				best = MatchBoost
			}
			continue
		}
		if isRelated(mc, queryCats, byName) && RelatedBoost > best {
			best = RelatedBoost
		}
	}
	return best
}

func isRelated(candidate string, queryCats []string, byName map[string]*store.CategoryRow) bool {
	cc, ok := byName[candidate]
	if !ok {
		return false
	}
	for _, q := range queryCats {
		qc, ok := byName[q]
		if !ok {
			continue
		}
		if cc.ParentID != "" && cc.ParentID == qc.ID {
			return true
		}
		if qc.ParentID != "" && qc.ParentID == cc.ID {
			return true
		}
		if cc.ParentID != "" && cc.ParentID == qc.ParentID {
			return true
		}
	}
	return false
}

func toSet(vs []string) map[string]bool {
	m := make(map[string]bool, len(vs))
	for _, v := range vs {
		m[v] = true
	}
	return m
}
