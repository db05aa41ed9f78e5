package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planDoc struct {
	Complexity int      `json:"complexity"`
	Reasoning  string   `json:"reasoning"`
	Steps      []string `json:"steps"`
}

func TestParseTrailingComma(t *testing.T) {
	res := Parse(`{"a":1,}`, map[string]any{})
	require.True(t, res.Ok())
	assert.Equal(t, map[string]any{"a": float64(1)}, res.Value)
}

func TestParseNotJSONReturnsFallback(t *testing.T) {
	fallback := map[string]any{"x": 1}
	res := Parse("not json", fallback)
	assert.False(t, res.Ok())
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, fallback, res.Value)
	assert.ErrorIs(t, res.Err, ErrNoStructure)
}

func TestParseFallbackUntouchedOnDecodeFailure(t *testing.T) {
	fallback := map[string]any{"x": 1}
	res := Parse(`{"x": [1, 2, }`, fallback)
	// Whatever the outcome, the caller's map must not be written to.
	assert.Equal(t, map[string]any{"x": 1}, fallback)
	if !res.Ok() {
		assert.Equal(t, fallback, res.Value)
	}
}

func TestParseFencedWithProse(t *testing.T) {
	raw := "Here is the plan you asked for:\n```json\n{\"complexity\": 3, \"reasoning\": \"needs docs\", \"steps\": [\"web_search\", \"library_docs\"]}\n```\nLet me know if you need anything else."
	res := Parse(raw, planDoc{Complexity: 1})
	require.True(t, res.Ok())
	assert.Equal(t, 3, res.Value.Complexity)
	assert.Equal(t, []string{"web_search", "library_docs"}, res.Value.Steps)
}

func TestParseNestedAndTrailingProse(t *testing.T) {
	raw := `Result: {"outer": {"inner": {"v": "a}b"}}, "n": 2} and then {"other": true}`
	res := Parse(raw, map[string]any{})
	require.True(t, res.Ok())
	assert.Equal(t, float64(2), res.Value["n"])
	inner := res.Value["outer"].(map[string]any)["inner"].(map[string]any)
	assert.Equal(t, "a}b", inner["v"])
}

func TestParseSingleQuotesAndBareKeys(t *testing.T) {
	raw := `{complexity: 2, reasoning: 'it\'s a "quick" question', steps: ['web_search',],}`
	res := Parse(raw, planDoc{})
	require.True(t, res.Ok(), "err: %v", res.Err)
	assert.Equal(t, 2, res.Value.Complexity)
	assert.Equal(t, `it's a "quick" question`, res.Value.Reasoning)
	assert.Equal(t, []string{"web_search"}, res.Value.Steps)
}

func TestParsePreservesEmbeddedNewlinesAndQuotes(t *testing.T) {
	raw := `{"reasoning": "line one\nline \"two\"", "steps": []}`
	res := Parse(raw, planDoc{})
	require.True(t, res.Ok())
	assert.Equal(t, "line one\nline \"two\"", res.Value.Reasoning)
}

func TestParseEscapesRawNewlinesInStrings(t *testing.T) {
	raw := "{\"reasoning\": \"first\nsecond\"}"
	res := Parse(raw, planDoc{})
	require.True(t, res.Ok())
	assert.Equal(t, "first\nsecond", res.Value.Reasoning)
}

func TestParseCodeFenceInsideValue(t *testing.T) {
	raw := "```json\n{\"answer\": \"Use:\\n```go\\nfmt.Println(1)\\n```\"}\n```"
	res := Parse(raw, map[string]string{})
	require.True(t, res.Ok(), "err: %v", res.Err)
	assert.Equal(t, "Use:\n```go\nfmt.Println(1)\n```", res.Value["answer"])
}

func TestParseTruncatedObject(t *testing.T) {
	raw := `{"complexity": 4, "reasoning": "deep topic", "steps": ["web_search", "deep_ana`
	res := Parse(raw, planDoc{})
	require.True(t, res.Ok(), "err: %v", res.Err)
	assert.Equal(t, 4, res.Value.Complexity)
	assert.Equal(t, []string{"web_search", "deep_ana"}, res.Value.Steps)
}

func TestParsePythonLiterals(t *testing.T) {
	res := Parse(`{"ok": True, "gap": None, "flag": False}`, map[string]any{})
	require.True(t, res.Ok())
	assert.Equal(t, true, res.Value["ok"])
	assert.Nil(t, res.Value["gap"])
	assert.Equal(t, false, res.Value["flag"])
}

func TestParseTopLevelArray(t *testing.T) {
	res := Parse(`The critiques: [{"issue": "a"}, {"issue": "b"}]`, []map[string]string(nil))
	require.True(t, res.Ok())
	require.Len(t, res.Value, 2)
	assert.Equal(t, "b", res.Value[1]["issue"])
}

func TestParseTypeMismatchFallsBack(t *testing.T) {
	res := Parse(`{"complexity": "high"}`, planDoc{Complexity: 2})
	assert.False(t, res.Ok())
	assert.Equal(t, 2, res.Value.Complexity)
	assert.Error(t, res.Err)
}

func TestParseNeverPanics(t *testing.T) {
	inputs := []string{
		"", "{", "}", "[", "]", "```", "```json", `{"a":`, `{'`, `{"a": "\`, "{{{{[[[", `\\\\`,
		"{\"a\":\x00}", "null", `{"a": 1}}}}`, "\xff\xfe{", `{,}`, `{:}`, `[,]`,
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			res := Parse(in, map[string]any{"fallback": true})
			if !res.Ok() {
				assert.Equal(t, map[string]any{"fallback": true}, res.Value)
			}
		}, "input %q", in)
	}
}

func TestExtract(t *testing.T) {
	got, err := Extract("prefix {a: 1,} suffix")
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, got)

	_, err = Extract("nothing here")
	assert.ErrorIs(t, err, ErrNoStructure)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "fallback", OutcomeFallback.String())
}
