// Package episodic implements CAST-style scene/view grouping (spec.md
// §4.8): every written memory becomes a "view" that either joins an
// existing scene or starts a new one, plus a small entity knowledge graph
// over the characters mentioned across views. Grounded directly on
// original_source/engram-enterprise/engram_enterprise/episodic_store.py.
package episodic

import (
	"context"
	"database/sql"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/engram-kernel/engram/internal/llm"
	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/retrieval"
	"github.com/engram-kernel/engram/internal/store"
)

// TimeWindow is the default acceptance window for "same scene" grouping.
const TimeWindow = 30 * time.Minute

// TopicThreshold is the minimum topic-embedding cosine similarity counted
// as a scene-match signal.
const TopicThreshold = 0.7

// acceptanceThreshold is how many of the three proximity signals (time,
// place, topic) must agree before a view joins an existing scene.
const acceptanceThreshold = 2

// Store drives view ingestion and scene search against the database and an
// embedder used to vectorize topic labels.
type Store struct {
	DB          *sql.DB
	Embedder    llm.Embedder
	TimeWindow  time.Duration
	TopicThresh float64
}

// New returns a Store with the default 30-minute window and 0.7 topic threshold.
func New(db *sql.DB, embedder llm.Embedder) *Store {
	return &Store{DB: db, Embedder: embedder, TimeWindow: TimeWindow, TopicThresh: TopicThreshold}
}

// IngestResult reports where a newly written memory landed.
type IngestResult struct {
	ViewID  string
	SceneID string
}

// IngestMemoryAsView converts a freshly written memory into a view,
// attaching it to the best matching recent scene or starting a new one.
func (s *Store) IngestMemoryAsView(ctx context.Context, user, agent, memoryID, content string, metadata map[string]string, namespace string, ts time.Time) (*IngestResult, error) {
	if namespace == "" {
		namespace = "default"
	}
	placeType, placeValue := extractPlace(metadata)
	topicLabel := extractTopic(content)

	var topicEmbedding []float32
	if topicLabel != "" && s.Embedder != nil {
		emb, err := s.Embedder.Embed(ctx, topicLabel)
		if err == nil {
			topicEmbedding = emb
		}
	}
	characters := extractCharacters(content, metadata, agent)

	target, err := s.findSceneForView(user, namespace, ts, placeValue, topicEmbedding)
	if err != nil {
		return nil, err
	}

	var sceneID string
	if target != nil {
		sceneID = target.ID
		if err := s.attachToScene(target, memoryID, ts, placeValue, topicLabel, topicEmbedding, characters); err != nil {
			return nil, err
		}
	} else {
		participants := make([]string, 0, len(characters))
		for _, c := range characters {
			participants = append(participants, c.Name)
		}
		scene := &models.Scene{
			User:          user,
			Title:         topicLabel,
			Summary:       topicLabel,
			Topic:         topicLabel,
			Location:      placeValue,
			Participants:  participants,
			MemoryIDs:     []string{memoryID},
			StartTime:     ts,
			EndTime:       ts,
			Embedding:     topicEmbedding,
			SceneStrength: 1.0,
			Layer:         models.TierSML,
			Namespace:     namespace,
		}
		err := store.Transact(s.DB, func(tx *sql.Tx) error {
			id, err := store.CreateSceneTx(tx, scene)
			if err != nil {
				return err
			}
			sceneID = id
			return store.AppendSceneMemoryTx(tx, sceneID, memoryID)
		})
		if err != nil {
			return nil, err
		}
		flag := sceneID
		if _, err := store.UpdateMemory(s.DB, memoryID, store.MemoryPatch{SceneID: &flag}); err != nil {
			return nil, err
		}
	}

	view := &models.View{
		User:       user,
		Agent:      agent,
		Timestamp:  ts,
		Place:      placeValue,
		TopicLabel: topicLabel,
		TopicRef:   memoryID,
		Characters: characters,
		RawText:    content,
		Signals:    map[string]string{"place_type": placeType},
		SceneID:    sceneID,
		Namespace:  namespace,
		MemoryID:   memoryID,
	}
	var viewID string
	err = store.Transact(s.DB, func(tx *sql.Tx) error {
		id, err := store.CreateViewTx(tx, view)
		if err != nil {
			return err
		}
		viewID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.recordEntityEdges(characters); err != nil {
		return nil, err
	}

	return &IngestResult{ViewID: viewID, SceneID: sceneID}, nil
}

func (s *Store) recordEntityEdges(characters []models.ViewCharacter) error {
	if len(characters) < 2 {
		return nil
	}
	return store.Transact(s.DB, func(tx *sql.Tx) error {
		for i := 0; i < len(characters); i++ {
			for j := i + 1; j < len(characters); j++ {
				edge := models.EntityEdge{SourceID: characters[i].Name, TargetID: characters[j].Name, Type: "co_occurs", Weight: 1.0}
				if err := store.UpsertEntityEdgeTx(tx, edge); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) findSceneForView(user, namespace string, viewTime time.Time, placeValue string, topicEmbedding []float32) (*models.Scene, error) {
	candidates, err := store.ListRecentScenes(s.DB, user, 25)
	if err != nil {
		return nil, err
	}

	var best *models.Scene
	bestScore := -1.0
	for _, scene := range candidates {
		if scene.Namespace != namespace {
			continue
		}
		condCount := 0
		score := 0.0

		sceneTime := scene.EndTime
		if sceneTime.IsZero() {
			sceneTime = scene.StartTime
		}
		if !viewTime.IsZero() && !sceneTime.IsZero() {
			delta := viewTime.Sub(sceneTime)
			if delta < 0 {
				delta = -delta
			}
			if delta <= s.TimeWindow {
				condCount++
				score += 0.4
			}
		}

		if placeValue != "" && scene.Location != "" && strings.EqualFold(placeValue, scene.Location) {
			condCount++
			score += 0.3
		}

		sim := cosineSimilarity(topicEmbedding, scene.Embedding)
		if sim >= s.TopicThresh {
			condCount++
			boost := sim * 0.3
			if boost > 0.3 {
				boost = 0.3
			}
			score += boost
		}

		if condCount >= acceptanceThreshold && score > bestScore {
			bestScore = score
			best = scene
		}
	}
	return best, nil
}

func (s *Store) attachToScene(scene *models.Scene, memoryID string, viewTime time.Time, placeValue, topicLabel string, topicEmbedding []float32, characters []models.ViewCharacter) error {
	alreadyIn := false
	for _, id := range scene.MemoryIDs {
		if id == memoryID {
			alreadyIn = true
			break
		}
	}

	if !alreadyIn {
		if err := store.Transact(s.DB, func(tx *sql.Tx) error {
			return store.AppendSceneMemoryTx(tx, scene.ID, memoryID)
		}); err != nil {
			return err
		}
	}

	participants := toSet(scene.Participants)
	for _, c := range characters {
		participants[c.Name] = true
	}

	location := placeValue
	if location == "" {
		location = scene.Location
	}
	summary := scene.Summary
	if summary == "" {
		summary = topicLabel
	}
	topic := scene.Topic
	if topic == "" {
		topic = topicLabel
	}

	embedding := scene.Embedding
	if len(topicEmbedding) > 0 {
		if len(scene.Embedding) == len(topicEmbedding) {
			n := float64(len(scene.MemoryIDs))
			if n < 1 {
				n = 1
			}
			embedding = make([]float32, len(topicEmbedding))
			for i := range topicEmbedding {
				embedding[i] = float32((float64(scene.Embedding[i])*n + float64(topicEmbedding[i])) / (n + 1))
			}
		} else {
			embedding = topicEmbedding
		}
	}

	return store.UpdateSceneTx(s.DB, scene.ID, store.ScenePatch{
		EndTime:      &viewTime,
		Location:     &location,
		Summary:      &summary,
		Topic:        &topic,
		Participants: fromSet(participants),
		Embedding:    embedding,
	})
}

var nameRE = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`)
var skipNames = map[string]bool{"i": true, "we": true, "the": true, "this": true, "that": true}

func extractCharacters(content string, metadata map[string]string, agent string) []models.ViewCharacter {
	primary := metadata["actor_id"]
	if primary == "" {
		primary = metadata["speaker"]
	}
	if primary == "" {
		primary = agent
	}
	if primary == "" {
		primary = "char_self"
	}

	chars := []models.ViewCharacter{{Name: primary, Role: "MC"}}
	for _, m := range nameRE.FindAllString(content, -1) {
		name := strings.TrimSpace(m)
		if skipNames[strings.ToLower(name)] || name == primary {
			continue
		}
		chars = append(chars, models.ViewCharacter{Name: name, Role: "SC"})
	}

	seen := make(map[string]bool)
	var unique []models.ViewCharacter
	for _, c := range chars {
		key := c.Name + "|" + c.Role
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, c)
	}
	return unique
}

func extractPlace(metadata map[string]string) (string, string) {
	if v := metadata["place"]; v != "" {
		return "digital", v
	}
	if v := metadata["location"]; v != "" {
		return "digital", v
	}
	if v := metadata["repo"]; v != "" {
		return "digital", v
	}
	if v := metadata["workspace"]; v != "" {
		return "digital", v
	}
	return "digital", ""
}

func extractTopic(content string) string {
	terms := strings.Fields(strings.TrimSpace(content))
	if len(terms) == 0 {
		return "untitled"
	}
	if len(terms) > 10 {
		terms = terms[:10]
	}
	return strings.Join(terms, " ")
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toSet(vs []string) map[string]bool {
	m := make(map[string]bool, len(vs))
	for _, v := range vs {
		m[v] = true
	}
	return m
}

func fromSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SceneQuery describes a scene-search request (spec.md §4.8 scene search).
type SceneQuery struct {
	Query     string
	Place     string
	Entities  []string
	Namespace string
	Limit     int
}

// SceneMatch is one scored scene search result.
type SceneMatch struct {
	Scene *models.Scene
	Score float64
}

// SearchScenes builds a candidate pool from a user's recent scenes, scores
// each by topic-embedding similarity plus keyword overlap plus an optional
// place-match bonus, filters out scenes whose participants are disjoint from
// q.Entities when entities are given, and returns the top q.Limit matches.
func (s *Store) SearchScenes(ctx context.Context, user string, q SceneQuery) ([]SceneMatch, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	namespace := q.Namespace
	if namespace == "" {
		namespace = "default"
	}

	candidates, err := store.ListRecentScenes(s.DB, user, 200)
	if err != nil {
		return nil, err
	}

	var queryEmbedding []float32
	if q.Query != "" && s.Embedder != nil {
		queryEmbedding, _ = s.Embedder.Embed(ctx, q.Query)
	}
	queryTerms := retrieval.TokenSet(q.Query)

	matches := make([]SceneMatch, 0, len(candidates))
	for _, scene := range candidates {
		if scene.Namespace != namespace {
			continue
		}
		if len(q.Entities) > 0 && !sharesEntity(scene.Participants, q.Entities) {
			continue
		}

		sim := cosineSimilarity(queryEmbedding, scene.Embedding)
		keyword := retrieval.KeywordScore(queryTerms, scene.Summary+" "+scene.Topic, nil, nil)
		score := retrieval.HybridScore(sim, keyword, retrieval.DefaultAlpha)

		if q.Place != "" && strings.EqualFold(q.Place, scene.Location) {
			score += 0.15
		}

		if q.Query == "" && q.Place == "" && len(q.Entities) == 0 {
			score = scene.SceneStrength
		}

		matches = append(matches, SceneMatch{Scene: scene, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func sharesEntity(participants, wanted []string) bool {
	set := toSet(participants)
	for _, w := range wanted {
		if set[w] {
			return true
		}
	}
	return false
}
