// Package echo implements multi-modal echo encoding (spec.md §4.4):
// rehearsing a memory through keyword extraction, paraphrase, and
// implication generation strengthens its retention, mirroring the
// human effect of vocalizing information rather than just observing it.
// Grounded on original_source/engram/core/echo.py.
package echo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/engram-kernel/engram/internal/llm"
)

// Depth is the processing depth applied to a memory's echo encoding.
type Depth string

const (
	Shallow Depth = "shallow" // keywords only, no LLM call
	Medium  Depth = "medium"  // keywords + paraphrase
	Deep    Depth = "deep"    // full multi-modal echo
)

// StrengthMultiplier returns the retention boost applied to a memory's
// strength for having been echoed at this depth.
func (d Depth) StrengthMultiplier() float64 {
	switch d {
	case Medium:
		return 1.3
	case Deep:
		return 1.6
	default:
		return 1.0
	}
}

// Result is the outcome of echo-processing one piece of content.
type Result struct {
	Raw          string
	Paraphrases  []string
	Keywords     []string
	Implications []string
	Questions    []string
	QuestionForm string
	Category     string
	Importance   float64
	Depth        Depth
}

// Metadata flattens a Result into the string-keyed metadata map stored
// alongside a memory.
func (r Result) Metadata() map[string]string {
	return map[string]string{
		"echo_paraphrases":   strings.Join(r.Paraphrases, "|"),
		"echo_keywords":      strings.Join(r.Keywords, "|"),
		"echo_implications":  strings.Join(r.Implications, "|"),
		"echo_questions":     strings.Join(r.Questions, "|"),
		"echo_question_form": r.QuestionForm,
		"echo_category":      r.Category,
		"echo_depth":         string(r.Depth),
		"echo_importance":    fmt.Sprintf("%.4f", r.Importance),
	}
}

// AssessContext carries the extra signals _assess_depth considers beyond
// the raw content itself.
type AssessContext struct {
	MentionCount        int
	UserMarkedImportant bool
}

// Processor drives echo encoding, calling out to an llm.Generator for the
// medium/deep depths and falling back to a shallower depth on any failure.
type Processor struct {
	Generator  llm.Generator
	AutoDepth  bool
	DefaultDepth Depth
}

// NewProcessor returns a Processor with auto-depth detection enabled and a
// medium default, matching the original's config defaults.
func NewProcessor(gen llm.Generator) *Processor {
	return &Processor{Generator: gen, AutoDepth: true, DefaultDepth: Medium}
}

// Process echo-encodes content at depth, or auto-detects depth from content
// and ctx when depth is empty and AutoDepth is set.
func (p *Processor) Process(ctx context.Context, content string, depth Depth, actx *AssessContext) Result {
	if depth == "" {
		if p.AutoDepth {
			depth = AssessDepth(content, actx)
		} else {
			depth = p.DefaultDepth
		}
	}

	switch depth {
	case Shallow:
		return p.shallowEcho(content)
	case Medium:
		return p.mediumEcho(ctx, content)
	default:
		return p.deepEcho(ctx, content)
	}
}

var (
	importancePattern = regexp.MustCompile(`(?i)\b(important|remember|don't forget|always|never|must|critical)\b`)
	numberPattern     = regexp.MustCompile(`\d{3,}`)
	datePatterns      = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}/\d{1,2}(/\d{2,4})?`),
		regexp.MustCompile(`\d{1,2}-\d{1,2}(-\d{2,4})?`),
		regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\b`),
	}
	preferencePattern = regexp.MustCompile(`(?i)\b(prefer|like|love|hate|favorite|always use|never use)\b`)
	secretPattern     = regexp.MustCompile(`(?i)\b(password|api[_\s]?key|token|secret|credential|auth)\b`)
)

// AssessDepth auto-detects the appropriate echo depth from content signals:
// explicit importance markers, significant numbers, dates, proper nouns,
// preference statements, and credential markers, plus optional context
// signals (repetition, explicit user marking). Mirrors _assess_depth.
func AssessDepth(content string, actx *AssessContext) Depth {
	signals := 0

	if importancePattern.MatchString(content) {
		signals += 2
	}
	if numberPattern.MatchString(content) {
		signals++
	}
	for _, p := range datePatterns {
		if p.MatchString(content) {
			signals++
			break
		}
	}

	words := strings.Fields(content)
	if len(words) > 1 {
		for _, w := range words[1:] {
			if w != "" && isUpperFirst(w) {
				signals++
				break
			}
		}
	}

	if preferencePattern.MatchString(content) {
		signals++
	}
	if secretPattern.MatchString(content) {
		signals += 2
	}

	if actx != nil {
		if actx.MentionCount > 1 {
			signals++
		}
		if actx.UserMarkedImportant {
			signals += 2
		}
	}

	switch {
	case signals >= 3:
		return Deep
	case signals >= 1:
		return Medium
	default:
		return Shallow
	}
}

func isUpperFirst(w string) bool {
	r := []rune(w)
	return len(r) > 0 && r[0] >= 'A' && r[0] <= 'Z'
}

func (p *Processor) shallowEcho(content string) Result {
	return Result{
		Raw:        content,
		Keywords:   ExtractKeywordsSimple(content),
		Importance: 0.3,
		Depth:      Shallow,
	}
}

const echoProcessingPrompt = `Analyze this memory and produce echo encoding data as a JSON object.
Depth: %s
Instructions: %s
Fields: paraphrases (array of 3-5 diverse rephrasings), keywords (array of core concepts/entities),
implications (array of logical consequences), questions (array of questions this memory answers),
question_form (single question-form version), category (semantic bucket like fact/preference/goal),
importance (0.0-1.0 significance score).
Output JSON only, no markdown fencing.

Memory: %s`

func (p *Processor) mediumEcho(ctx context.Context, content string) Result {
	if p.Generator == nil {
		return p.shallowEcho(content)
	}
	prompt := fmt.Sprintf(echoProcessingPrompt, "medium",
		"Generate: paraphrases, keywords, category. Skip: implications, questions.", content)
	raw, err := p.Generator.Generate(ctx, prompt)
	if err != nil {
		return p.shallowEcho(content)
	}
	parsed, err := parseEchoResponse(raw)
	if err != nil || len(parsed.Paraphrases) == 0 || len(parsed.Keywords) == 0 {
		return p.shallowEcho(content)
	}
	questionForm := parsed.QuestionForm
	if questionForm == "" && len(parsed.Questions) > 0 {
		questionForm = parsed.Questions[0]
	}
	return Result{
		Raw:          content,
		Paraphrases:  parsed.Paraphrases,
		Keywords:     parsed.Keywords,
		QuestionForm: questionForm,
		Category:     parsed.Category,
		Importance:   parsed.Importance,
		Depth:        Medium,
	}
}

func (p *Processor) deepEcho(ctx context.Context, content string) Result {
	if p.Generator == nil {
		return p.mediumEcho(ctx, content)
	}
	prompt := fmt.Sprintf(echoProcessingPrompt, "deep",
		"Generate ALL fields: paraphrases, keywords, implications, questions, category.", content)
	raw, err := p.Generator.Generate(ctx, prompt)
	if err != nil {
		return p.mediumEcho(ctx, content)
	}
	parsed, err := parseEchoResponse(raw)
	if err != nil || len(parsed.Paraphrases) == 0 || len(parsed.Keywords) == 0 {
		return p.mediumEcho(ctx, content)
	}
	questionForm := parsed.QuestionForm
	if questionForm == "" && len(parsed.Questions) > 0 {
		questionForm = parsed.Questions[0]
	}
	return Result{
		Raw:          content,
		Paraphrases:  parsed.Paraphrases,
		Keywords:     parsed.Keywords,
		Implications: parsed.Implications,
		Questions:    parsed.Questions,
		QuestionForm: questionForm,
		Category:     parsed.Category,
		Importance:   parsed.Importance,
		Depth:        Deep,
	}
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "must": true, "shall": true, "can": true,
	"need": true, "dare": true, "ought": true, "used": true, "to": true, "of": true,
	"in": true, "for": true, "on": true, "with": true, "at": true, "by": true,
	"from": true, "as": true, "into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "between": true, "under": true, "again": true,
	"further": true, "then": true, "once": true, "here": true, "there": true, "when": true,
	"where": true, "why": true, "how": true, "all": true, "each": true, "few": true,
	"more": true, "most": true, "other": true, "some": true, "such": true, "no": true,
	"nor": true, "not": true, "only": true, "own": true, "same": true, "so": true,
	"than": true, "too": true, "very": true, "just": true, "and": true, "but": true,
	"if": true, "or": true, "because": true, "until": true, "while": true, "this": true,
	"that": true, "these": true, "those": true, "i": true, "me": true, "my": true,
	"myself": true, "we": true, "our": true, "you": true, "your": true, "he": true,
	"him": true, "his": true, "she": true, "her": true, "it": true, "its": true,
	"they": true, "them": true, "their": true, "what": true, "which": true, "who": true,
	"whom": true,
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// ExtractKeywordsSimple extracts up to 10 stopword-filtered, deduplicated
// keywords without any LLM call, matching _extract_keywords_simple.
func ExtractKeywordsSimple(content string) []string {
	words := wordPattern.FindAllString(strings.ToLower(content), -1)
	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		if len(w) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= 10 {
			break
		}
	}
	return out
}

// Reecho bumps a memory's echo depth one level (shallow->medium->deep,
// capped at deep) and reprocesses its content, strengthening the memory
// through rehearsal on retrieval.
func (p *Processor) Reecho(ctx context.Context, content string, currentDepth Depth) Result {
	var next Depth
	switch currentDepth {
	case Shallow:
		next = Medium
	case Medium:
		next = Deep
	default:
		next = Deep
	}
	return p.Process(ctx, content, next, nil)
}
