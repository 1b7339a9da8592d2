package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/engram-kernel/engram/internal/llm"
	"github.com/engram-kernel/engram/internal/models"
)

// ConflictClassification is the closed set conflict resolution can declare.
type ConflictClassification string

const (
	ClassCompatible  ConflictClassification = "COMPATIBLE"
	ClassContradicts ConflictClassification = "CONTRADICTS"
	ClassSupersedes  ConflictClassification = "SUPERSEDES"
)

// Resolution is the LLM's verdict on whether a new memory conflicts with an
// existing one, matching conflict.py's ConflictResolution.
type Resolution struct {
	Classification ConflictClassification
	Confidence     float64
	MergedContent  string
	Explanation    string
}

const conflictPrompt = `You are comparing an existing memory against a newly proposed one.

Existing memory: %s
Created at: %s
Last accessed: %s
Access count: %d
Strength: %.2f

New memory: %s

Classify the relationship as one of COMPATIBLE, CONTRADICTS, or SUPERSEDES.
Respond with JSON only: {"classification": "...", "confidence": 0.0-1.0, "merged_content": "...", "explanation": "..."}`

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

type conflictOutput struct {
	Classification string   `json:"classification"`
	Confidence     *float64 `json:"confidence"`
	MergedContent  string   `json:"merged_content"`
	Explanation    string   `json:"explanation"`
}

// ResolveConflict asks the generator to classify newContent against
// existing, defaulting to a conservative COMPATIBLE verdict on any failure
// to call or parse the LLM (spec.md §7, matching resolve_conflict).
func ResolveConflict(ctx context.Context, gen llm.Generator, existing *models.Memory, newContent string) Resolution {
	fallback := Resolution{Classification: ClassCompatible, Confidence: 0.5, Explanation: "failed to parse LLM response"}
	if gen == nil {
		return fallback
	}

	prompt := fmt.Sprintf(conflictPrompt,
		existing.Content, existing.CreatedAt.Format("2006-01-02T15:04:05Z"), existing.LastAccessed.Format("2006-01-02T15:04:05Z"),
		existing.AccessCount, existing.Strength, newContent)

	raw, err := gen.Generate(ctx, prompt)
	if err != nil {
		return fallback
	}

	body := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}

	var out conflictOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return fallback
	}

	class := ConflictClassification(out.Classification)
	if class != ClassCompatible && class != ClassContradicts && class != ClassSupersedes {
		class = ClassCompatible
	}
	confidence := 0.5
	if out.Confidence != nil {
		confidence = *out.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Resolution{Classification: class, Confidence: confidence, MergedContent: out.MergedContent, Explanation: out.Explanation}
}
