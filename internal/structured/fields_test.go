package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const truncatedPlan = `{"complexity": "3", "reasoning": "Needs \"framework\" docs", "includeCodeExamples": true,
"steps": ["web_search", "deep_analysis", "library_docs"], "toolsToSkip": ["academic_se`

func TestStringField(t *testing.T) {
	v, ok := StringField(truncatedPlan, "reasoning")
	assert.True(t, ok)
	assert.Equal(t, `Needs "framework" docs`, v)

	_, ok = StringField(truncatedPlan, "outputFormat")
	assert.False(t, ok)

	v, ok = StringField(`{"outputFormat": "compari`, "outputFormat")
	assert.True(t, ok)
	assert.Equal(t, "compari", v)
}

func TestIntField(t *testing.T) {
	v, ok := IntField(truncatedPlan, "complexity")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = IntField(`{complexity: 7}`, "complexity")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestBoolField(t *testing.T) {
	v, ok := BoolField(truncatedPlan, "includeCodeExamples")
	assert.True(t, ok)
	assert.True(t, v)

	_, ok = BoolField(truncatedPlan, "missing")
	assert.False(t, ok)
}

func TestStringListField(t *testing.T) {
	assert.Equal(t, []string{"web_search", "deep_analysis", "library_docs"}, StringListField(truncatedPlan, "steps"))
	assert.Empty(t, StringListField(truncatedPlan, "toolsToSkip"))
	assert.Nil(t, StringListField(truncatedPlan, "absent"))
	assert.Equal(t, []string{"a]b", "c"}, StringListField(`{"x": ["a]b", "c"]}`, "x"))
}

func TestFlexNumbers(t *testing.T) {
	type doc struct {
		A FlexInt   `json:"a"`
		B FlexInt   `json:"b"`
		C FlexInt   `json:"c"`
		D FlexFloat `json:"d"`
		E FlexFloat `json:"e"`
	}
	res := Parse(`{"a": "3", "b": 2.6, "c": "high", "d": "85%", "e": 0.9}`, doc{})
	require.True(t, res.Ok())
	assert.Equal(t, FlexInt(3), res.Value.A)
	assert.Equal(t, FlexInt(3), res.Value.B)
	assert.Equal(t, FlexInt(0), res.Value.C)
	assert.InDelta(t, 0.85, float64(res.Value.D), 1e-9)
	assert.InDelta(t, 0.9, float64(res.Value.E), 1e-9)
}

func TestFlexString(t *testing.T) {
	var got map[string]FlexString
	res := Parse(`{"nodes": 5, "latency": "12 ms", "ratio": 0.85, "ha": true, "odd": [1], "none": null}`, got)
	require.True(t, res.Ok())
	assert.Equal(t, map[string]FlexString{
		"nodes":   "5",
		"latency": "12 ms",
		"ratio":   "0.85",
		"ha":      "true",
		"odd":     "",
		"none":    "",
	}, res.Value)
}
