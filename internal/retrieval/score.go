// Package retrieval implements the hybrid ranker described in spec.md
// §4.7: intent-routed vector search, strength/scope-weighted composite
// scoring, optional keyword scoring, and echo/category/graph boosts.
// The scoring helpers below are grounded directly on
// original_source/engram/core/retrieval.py.
package retrieval

import (
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\w+`)

// Tokenize lowercases and splits text into word tokens, matching tokenize().
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// TokenSet returns the deduplicated token set of text.
func TokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range Tokenize(text) {
		set[t] = true
	}
	return set
}

// CompositeScore multiplies similarity (or hybrid score) by strength.
func CompositeScore(similarity, strength float64) float64 {
	return similarity * strength
}

// KeywordScore computes a Jaccard-like overlap between queryTerms and the
// memory's content tokens plus its echo keywords/paraphrases, matching
// calculate_keyword_score. Returns 0 when queryTerms is empty.
func KeywordScore(queryTerms map[string]bool, content string, echoKeywords, echoParaphrases []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	contentTerms := TokenSet(content)
	for _, kw := range echoKeywords {
		contentTerms[strings.ToLower(kw)] = true
	}
	for _, p := range echoParaphrases {
		for _, t := range Tokenize(p) {
			contentTerms[t] = true
		}
	}
	if len(contentTerms) == 0 {
		return 0
	}
	matches := 0
	for t := range queryTerms {
		if contentTerms[t] {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	return float64(matches) / float64(len(queryTerms))
}

// HybridScore blends a vector similarity score and a keyword score, alpha
// weighting the semantic component (default 0.7 = 70% semantic).
func HybridScore(semanticScore, keywordScore, alpha float64) float64 {
	return alpha*semanticScore + (1-alpha)*keywordScore
}

// DefaultAlpha is the semantic/keyword blend weight used when the caller
// does not override it.
const DefaultAlpha = 0.7

// BM25Score scores doc against query using Okapi BM25 with corpus
// statistics, matching calculate_bm25_score. Used when document-frequency
// stats are available (left as an opt-in path for hosts that maintain a
// corpus index; KeywordScore is the default, stats-free scorer).
func BM25Score(queryTerms map[string]bool, docTerms []string, docFreq map[string]int, totalDocs int, avgDocLen, k1, b float64) float64 {
	if len(docTerms) == 0 || len(queryTerms) == 0 {
		return 0
	}
	docLen := float64(len(docTerms))
	if avgDocLen == 0 {
		avgDocLen = docLen
		if avgDocLen == 0 {
			avgDocLen = 1
		}
	}

	termFreq := make(map[string]int, len(docTerms))
	for _, t := range docTerms {
		termFreq[t]++
	}

	var score float64
	for term := range queryTerms {
		tf, ok := termFreq[term]
		if !ok {
			continue
		}
		df := docFreq[term]
		if df == 0 {
			df = 1
		}
		idf := math.Log((float64(totalDocs)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		tfComponent := (float64(tf) * (k1 + 1)) / (float64(tf) + k1*(1-b+b*docLen/avgDocLen))
		score += idf * tfComponent
	}
	return score
}
