package intent

import "testing"

func TestClassify_EmptyQueryIsMixed(t *testing.T) {
	if got := Classify(""); got != Mixed {
		t.Fatalf("Classify(\"\") = %v, want Mixed", got)
	}
	if got := Classify("   \t\n"); got != Mixed {
		t.Fatalf("Classify(whitespace) = %v, want Mixed", got)
	}
}

func TestClassify_EpisodicDominance(t *testing.T) {
	cases := []string{
		"when did we last talk about the deploy",
		"what happened yesterday during the incident",
		"do you remember what I said last week",
	}
	for _, q := range cases {
		if got := Classify(q); got != Episodic {
			t.Errorf("Classify(%q) = %v, want Episodic", q, got)
		}
	}
}

func TestClassify_SemanticDominance(t *testing.T) {
	cases := []string{
		"what is my favorite editor",
		"what's my preferred coding style",
		"explain the default workflow",
	}
	for _, q := range cases {
		if got := Classify(q); got != Semantic {
			t.Errorf("Classify(%q) = %v, want Semantic", q, got)
		}
	}
}

func TestClassify_NoPatternMatchIsMixed(t *testing.T) {
	if got := Classify("banana plantain kumquat"); got != Mixed {
		t.Fatalf("Classify(no-match) = %v, want Mixed", got)
	}
}

func TestClassify_CloseScoresAreMixed(t *testing.T) {
	// "recall" (0.6 episodic) vs "explain" (0.6 semantic) tie - neither
	// side clears the 1.5x dominance ratio, so the query stays Mixed.
	if got := Classify("recall and explain this"); got != Mixed {
		t.Fatalf("Classify(tied scores) = %v, want Mixed", got)
	}
}
