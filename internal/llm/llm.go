// Package llm defines the two external capability interfaces the kernel
// treats as narrow collaborators (spec.md §1 Non-goals: "LLM text
// generation; embedding providers"), plus one concrete adapter for each.
package llm

import "context"

// Generator produces free-form text completions for a prompt. Used by
// internal/echo (medium/deep extraction) and internal/category (LLM-assisted
// auto-detection).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a fixed-dimension vector for internal/vectorindex.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
