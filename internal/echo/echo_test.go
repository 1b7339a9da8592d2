package echo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	response string
	err      error
}

func (f fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func TestAssessDepth_SecretMarkerForcesDeep(t *testing.T) {
	require.Equal(t, Deep, AssessDepth("my api_key=sk-abc123, remember this is important", nil))
}

func TestAssessDepth_NoSignalsIsShallow(t *testing.T) {
	require.Equal(t, Shallow, AssessDepth("the weather is nice today", nil))
}

func TestAssessDepth_SinglePreferenceSignalIsMedium(t *testing.T) {
	require.Equal(t, Medium, AssessDepth("I prefer tabs over spaces", nil))
}

func TestAssessDepth_ContextSignalsCanForceDeep(t *testing.T) {
	require.Equal(t, Deep, AssessDepth("tabs over spaces", &AssessContext{UserMarkedImportant: true, MentionCount: 3}))
}

func TestProcess_ShallowSkipsLLM(t *testing.T) {
	p := NewProcessor(nil)
	res := p.Process(context.Background(), "remember to buy milk", Shallow, nil)
	require.Equal(t, Shallow, res.Depth)
	require.NotEmpty(t, res.Keywords)
	require.Empty(t, res.Paraphrases)
}

func TestProcess_DeepFallsBackThroughMediumToShallowOnParseFailure(t *testing.T) {
	p := NewProcessor(fakeGenerator{response: "not json at all"})
	res := p.Process(context.Background(), "my password is hunter2", Deep, nil)
	require.Equal(t, Shallow, res.Depth, "deep falls back to medium, whose parse also fails, so the result is shallow")
}

func TestProcess_DeepParsesFencedJSON(t *testing.T) {
	raw := "```json\n{\"paraphrases\":[\"a\",\"b\"],\"keywords\":[\"k1\",\"k2\"],\"implications\":[\"i1\"],\"questions\":[\"q1\"],\"category\":\"fact\",\"importance\":0.7,}\n```"
	p := NewProcessor(fakeGenerator{response: raw})
	res := p.Process(context.Background(), "some deep content", Deep, nil)
	require.Equal(t, Deep, res.Depth)
	require.Equal(t, []string{"a", "b"}, res.Paraphrases)
	require.Equal(t, []string{"k1", "k2"}, res.Keywords)
	require.InDelta(t, 0.7, res.Importance, 1e-9)
}

func TestDepth_StrengthMultiplier(t *testing.T) {
	require.Equal(t, 1.0, Shallow.StrengthMultiplier())
	require.Equal(t, 1.3, Medium.StrengthMultiplier())
	require.Equal(t, 1.6, Deep.StrengthMultiplier())
}

func TestReecho_BumpsOneLevelUnlessAlreadyDeep(t *testing.T) {
	raw := `{"paraphrases":["a","b"],"keywords":["k1","k2"],"category":"fact","importance":0.5}`
	p := NewProcessor(fakeGenerator{response: raw})

	res := p.Reecho(context.Background(), "remember this", Shallow)
	require.Equal(t, Medium, res.Depth, "shallow re-echoes one level up to medium")

	res = p.Reecho(context.Background(), "remember this", Deep)
	require.Equal(t, Deep, res.Depth, "re-echo at Deep must not overflow past Deep")
}
