package retrieval

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/engram-kernel/engram/internal/category"
	"github.com/engram-kernel/engram/internal/decay"
	"github.com/engram-kernel/engram/internal/echo"
	"github.com/engram-kernel/engram/internal/intent"
	"github.com/engram-kernel/engram/internal/llm"
	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
	"github.com/engram-kernel/engram/internal/vectorindex"
)

// Scope weights applied to the composite score depending on where a
// matching vector node's payload says it lives, per spec.md §4.7.
const (
	ScopeWeightAgent     = 1.0
	ScopeWeightConnector = 0.97
	ScopeWeightCategory  = 0.94
	ScopeWeightGlobal    = 0.92
)

// EchoBoostCap bounds how much an echoed memory's category/keyword
// relevance can add to its composite score (spec.md §4.7 step 6).
const EchoBoostCap = 0.3

// MinStrength is the floor below which a memory is dropped from results.
const MinStrength = 0.05

// ReechoAccessThreshold is the access-count delta since the last re-echo
// that schedules another re-echo pass on this memory.
const ReechoAccessThreshold = 5

// AccessStrengthBoost is the bounded strength increase applied on each
// kept retrieval hit, reinforcing actively-recalled memories.
const AccessStrengthBoost = 0.05

// Params bundles one search call's inputs.
type Params struct {
	Query             string
	User              string
	Agent             string
	Limit             int
	Categories        []string
	AgentCategory     string
	ConnectorIDs      []string
	AllowedScopes     []models.ConfidentialityScope
	AllowedNamespaces []string
}

// Snippet is one ranked, possibly-masked hit returned to the caller.
type Snippet struct {
	MemoryID string  `json:"memory_id"`
	Content  string  `json:"content,omitempty"`
	Score    float64 `json:"score"`
	Type     string  `json:"type,omitempty"`
	Details  string  `json:"details,omitempty"`
	Masked   bool    `json:"masked"`
}

// ContextPacket is the full response shape for a search, spec.md §4.7 step 9.
type ContextPacket struct {
	Query      string    `json:"query"`
	Snippets   []Snippet `json:"snippets"`
	TokenUsage int       `json:"token_usage"`
	Masking    Masking   `json:"masking"`
}

// Masking reports how many candidates were redacted for policy reasons.
type Masking struct {
	MaskedCount     int `json:"masked_count"`
	TotalCandidates int `json:"total_candidates"`
}

// Ranker performs hybrid retrieval against the store and vector index.
type Ranker struct {
	DB       *sql.DB
	Vectors  *vectorindex.Index
	Embedder llm.Embedder
	Echo     *echo.Processor
	Category *category.Processor
	Decay    decay.Config
}

// New returns a Ranker wired to the given collaborators.
func New(db *sql.DB, vectors *vectorindex.Index, embedder llm.Embedder, echoProc *echo.Processor, catProc *category.Processor) *Ranker {
	return &Ranker{DB: db, Vectors: vectors, Embedder: embedder, Echo: echoProc, Category: catProc, Decay: decay.DefaultConfig()}
}

type scoredHit struct {
	memoryID string
	simScore float64
	scope    string
}

// Search runs the full hybrid retrieval pipeline and returns the ranked,
// masked result packet.
func (r *Ranker) Search(ctx context.Context, p Params) (*ContextPacket, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	classified := intent.Classify(p.Query)

	queryVec, err := r.Embedder.Embed(ctx, p.Query)
	if err != nil {
		return nil, err
	}

	overfetch := limit * 2
	filters := map[string]string{"user": p.User}
	vecHits, err := r.Vectors.Search("memories", queryVec, overfetch, filters)
	if err != nil {
		return nil, err
	}

	byMemory := collapseByMemoryID(vecHits)

	queryTerms := TokenSet(p.Query)
	graph, err := store.ListCategories(r.DB, p.User)
	if err != nil {
		return nil, err
	}

	var candidates []rankedCandidate
	now := time.Now()
	for _, hit := range byMemory {
		mem, err := store.GetMemory(r.DB, hit.memoryID)
		if err != nil {
			return nil, err
		}
		if mem == nil || mem.Tombstoned || mem.IsExpired(now) {
			continue
		}
		if mem.EffectiveStrength > 0 && mem.EffectiveStrength < MinStrength {
			continue
		}

		scopeWeight := resolveScopeWeight(classified, hit.scope, p)
		composite := hit.simScore * effectiveStrength(mem) * scopeWeight

		if len(queryTerms) > 0 {
			kw := KeywordScore(queryTerms, mem.Content, echoKeywords(mem), echoParaphrases(mem))
			hybrid := HybridScore(hit.simScore, kw, DefaultAlpha)
			composite = hybrid * effectiveStrength(mem) * scopeWeight
		}

		composite += category.Boost(mem.Categories, p.Categories, graph)
		if b := echoBoost(mem); b > 0 {
			composite += b
		}

		candidates = append(candidates, rankedCandidate{memory: mem, composite: composite})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].composite > candidates[j].composite })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	packet := &ContextPacket{Query: p.Query, Masking: Masking{TotalCandidates: len(byMemory)}}
	for _, c := range candidates {
		snippet := r.buildSnippet(c, p)
		if snippet.Masked {
			packet.Masking.MaskedCount++
		} else {
			r.applySideEffects(ctx, c.memory)
		}
		packet.Snippets = append(packet.Snippets, snippet)
		packet.TokenUsage += len(Tokenize(snippet.Content)) + len(Tokenize(snippet.Details))
	}

	return packet, nil
}

type rankedCandidate struct {
	memory    *models.Memory
	composite float64
}

func (r *Ranker) buildSnippet(c rankedCandidate, p Params) Snippet {
	mem := c.memory
	if !namespaceAllowed(mem.Namespace, p.AllowedNamespaces) || !scopeAllowed(mem.ConfidentialityScope, p.AllowedScopes) {
		return Snippet{
			MemoryID: mem.ID,
			Score:    c.composite,
			Type:     "private_event",
			Details:  "[REDACTED]",
			Masked:   true,
		}
	}
	return Snippet{MemoryID: mem.ID, Content: mem.Content, Score: c.composite}
}

func namespaceAllowed(ns string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == models.WildcardNamespace || a == ns {
			return true
		}
	}
	return false
}

func scopeAllowed(scope models.ConfidentialityScope, allowed []models.ConfidentialityScope) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == scope {
			return true
		}
	}
	return false
}

// applySideEffects increments access count, applies a bounded strength
// boost, schedules a re-echo when warranted, and checks for promotion,
// matching spec.md §4.7 step 8.
func (r *Ranker) applySideEffects(ctx context.Context, mem *models.Memory) {
	_ = store.IncrementAccess(r.DB, mem.ID)

	newStrength := mem.Strength + AccessStrengthBoost
	if newStrength > 1 {
		newStrength = 1
	}
	_, _ = store.UpdateMemory(r.DB, mem.ID, store.MemoryPatch{Strength: &newStrength})

	if r.Echo != nil && mem.AccessCount-mem.LastReechoAccessCount >= ReechoAccessThreshold && echo.Depth(mem.EchoDepth) != echo.Deep {
		result := r.Echo.Reecho(ctx, mem.Content, echo.Depth(mem.EchoDepth))
		depth := string(result.Depth)
		count := mem.AccessCount
		_, _ = store.UpdateMemory(r.DB, mem.ID, store.MemoryPatch{EchoDepth: &depth, LastReechoAccessCount: &count})
	}

	if r.Decay.ShouldPromote(mem.Tier == models.TierLML, mem.AccessCount, mem.Strength) {
		lml := models.TierLML
		_, _ = store.UpdateMemory(r.DB, mem.ID, store.MemoryPatch{Tier: &lml})
	}
}

func effectiveStrength(mem *models.Memory) float64 {
	if mem.EffectiveStrength > 0 {
		return mem.EffectiveStrength
	}
	return mem.Strength
}

func echoKeywords(mem *models.Memory) []string {
	if mem.Metadata == nil {
		return nil
	}
	if v, ok := mem.Metadata["echo_keywords"]; ok && v != "" {
		return splitPipe(v)
	}
	return nil
}

func echoParaphrases(mem *models.Memory) []string {
	if mem.Metadata == nil {
		return nil
	}
	if v, ok := mem.Metadata["echo_paraphrases"]; ok && v != "" {
		return splitPipe(v)
	}
	return nil
}

func splitPipe(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// echoBoost rewards a memory whose echo encoding went deeper than shallow,
// capped at EchoBoostCap.
func echoBoost(mem *models.Memory) float64 {
	switch echo.Depth(mem.EchoDepth) {
	case echo.Medium:
		return 0.15
	case echo.Deep:
		return EchoBoostCap
	default:
		return 0
	}
}

// resolveScopeWeight maps a vector payload's scope tag to the retrieval
// weight, adjusted slightly by query intent (episodic queries raise the
// global-scope weight by 0.02; the other scope weights are fixed).
func resolveScopeWeight(i intent.Intent, scopeTag string, p Params) float64 {
	switch scopeTag {
	case "agent":
		return ScopeWeightAgent
	case "connector":
		return ScopeWeightConnector
	case "category":
		return ScopeWeightCategory
	default:
		weight := ScopeWeightGlobal
		if i == intent.Episodic {
			weight += 0.02
		}
		return weight
	}
}

// collapseByMemoryID collapses multiple vector nodes (primary, paraphrase,
// question, content) that point at the same memory_id, keeping the max
// score, per spec.md §4.7 step 3.
func collapseByMemoryID(hits []models.VectorSearchResult) []scoredHit {
	best := make(map[string]scoredHit)
	for _, h := range hits {
		memoryID := h.Payload["memory_id"]
		if memoryID == "" {
			memoryID = h.ID
		}
		scope := h.Payload["scope"]
		if existing, ok := best[memoryID]; !ok || h.Score > existing.simScore {
			best[memoryID] = scoredHit{memoryID: memoryID, simScore: h.Score, scope: scope}
		}
	}
	out := make([]scoredHit, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	return out
}
