package echo

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// echoOutput mirrors the LLM's expected JSON shape for medium/deep echo.
type echoOutput struct {
	Paraphrases  []string `json:"paraphrases"`
	Keywords     []string `json:"keywords"`
	Implications []string `json:"implications"`
	Questions    []string `json:"questions"`
	QuestionForm string   `json:"question_form"`
	Category     string   `json:"category"`
	Importance   float64  `json:"importance"`
}

var (
	fencePattern       = regexp.MustCompile(`(?is)` + "```" + `(?:json)?\s*(.*?)\s*` + "```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
)

// parseEchoResponse parses an LLM's free-form text response into an
// echoOutput, tolerating markdown code fences, trailing commas, and a few
// known key aliases, matching _parse_echo_response/_repair_json.
func parseEchoResponse(response string) (echoOutput, error) {
	jsonStr := extractJSONBlob(response)

	var out echoOutput
	if err := json.Unmarshal([]byte(jsonStr), &out); err == nil {
		return out, nil
	}

	repaired := repairJSON(jsonStr)
	if err := json.Unmarshal([]byte(repaired), &out); err == nil {
		return out, nil
	}

	data, err := loadJSONDict(repaired)
	if err != nil {
		data, err = loadJSONDict(jsonStr)
	}
	if err != nil {
		return echoOutput{}, fmt.Errorf("could not parse echo response as JSON: %w", err)
	}
	normalizeEchoDict(data)
	coerceListFields(data)

	normalizedBytes, err := json.Marshal(data)
	if err != nil {
		return echoOutput{}, err
	}
	if err := json.Unmarshal(normalizedBytes, &out); err != nil {
		return echoOutput{}, fmt.Errorf("normalized echo response still invalid: %w", err)
	}
	return out, nil
}

// extractJSONBlob pulls the JSON payload out of a fenced code block, or
// falls back to the first '{'..last '}' span, matching _extract_json_blob.
func extractJSONBlob(response string) string {
	text := strings.TrimSpace(response)
	if text == "" {
		return text
	}
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end != -1 && end > start {
		return strings.TrimSpace(text[start : end+1])
	}
	return text
}

// repairJSON strips trailing commas before a closing brace/bracket,
// matching _repair_json.
func repairJSON(text string) string {
	if text == "" {
		return text
	}
	return trailingCommaRegex.ReplaceAllString(text, "$1")
}

func loadJSONDict(text string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, err
	}
	return data, nil
}

// normalizeEchoDict aliases a couple of known near-miss keys an LLM tends
// to produce, matching _normalize_echo_dict.
func normalizeEchoDict(data map[string]any) {
	if _, ok := data["paraphrases"]; !ok {
		if v, ok := data["paraphrase"]; ok {
			data["paraphrases"] = v
			delete(data, "paraphrase")
		}
	}
	if _, ok := data["questions"]; !ok {
		if v, ok := data["question_form"]; ok {
			data["questions"] = v
		}
	}
}

// coerceListFields mirrors EchoOutput's _coerce_list validator: a scalar
// value for a list field becomes a single-element list instead of failing
// to parse.
func coerceListFields(data map[string]any) {
	for _, key := range []string{"paraphrases", "keywords", "implications", "questions"} {
		v, ok := data[key]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case []any:
			// already a list
		case string:
			data[key] = []any{v}
		default:
			data[key] = []any{fmt.Sprintf("%v", v)}
		}
	}
}
