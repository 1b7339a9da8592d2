// Package staging implements the proposal-commit lifecycle: invariant/PII
// checks at propose time, the CAS state machine, atomic apply with
// rollback, conflict-stash resolution, and trust-gated auto-merge (spec.md
// §4.10). Risk-scoring and invariant-pair extraction are grounded directly
// on original_source/engram/core/invariants.py; conflict classification on
// original_source/engram/core/conflict.py.
package staging

import (
	"regexp"
	"strings"
)

var (
	emailRE    = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	nameRE     = regexp.MustCompile(`(?i)\b(?:my\s+name\s+is|name:)\s*([A-Za-z][A-Za-z\s'-]{1,80})`)
	locationRE = regexp.MustCompile(`(?i)\b(?:i\s+live\s+in|based\s+in|location:)\s*([A-Za-z][A-Za-z\s'-]{1,80})`)
	secretRE   = regexp.MustCompile(`(?i)\b(password|api[_\s-]?key|secret|access token|private key)\b`)
)

// InvariantPair is a single-valued identity fact extracted from proposed content.
type InvariantPair struct {
	Key   string
	Value string
}

// ExtractInvariantPairs pulls identity.name / identity.primary_email /
// identity.location out of free text, matching extract_invariant_pairs.
func ExtractInvariantPairs(content string) []InvariantPair {
	var out []InvariantPair
	if m := nameRE.FindStringSubmatch(content); m != nil {
		out = append(out, InvariantPair{Key: "identity.name", Value: strings.TrimSpace(m[1])})
	}
	if m := emailRE.FindString(content); m != "" {
		out = append(out, InvariantPair{Key: "identity.primary_email", Value: strings.TrimSpace(m)})
	}
	if m := locationRE.FindStringSubmatch(content); m != nil {
		out = append(out, InvariantPair{Key: "identity.location", Value: strings.TrimSpace(m[1])})
	}
	return out
}

// ContainsPII reports whether content names a secret/credential term,
// matching _SECRET_RE.
func ContainsPII(content string) bool {
	return secretRE.MatchString(content)
}
