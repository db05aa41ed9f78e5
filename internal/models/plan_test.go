package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatingMonotonic(t *testing.T) {
	prev := map[Tool]bool{}
	for d := MinDepthLevel; d <= MaxDepthLevel; d++ {
		enabled := ToolsForDepth(d)
		current := map[Tool]bool{}
		for _, tool := range enabled {
			current[tool] = true
		}
		for tool := range prev {
			assert.True(t, current[tool], "tool %s enabled at depth %d but not %d", tool, d-1, d)
		}
		assert.GreaterOrEqual(t, len(current), len(prev))
		prev = current
	}
}

func TestGatingTable(t *testing.T) {
	assert.True(t, EnabledAt(ToolWebSearch, 1))
	assert.False(t, EnabledAt(ToolReasoning, 1))
	assert.True(t, EnabledAt(ToolReasoning, 2))
	assert.False(t, EnabledAt(ToolLibraryDocs, 2))
	assert.True(t, EnabledAt(ToolLibraryDocs, 3))
	assert.False(t, EnabledAt(ToolAcademicSearch, 3))
	assert.True(t, EnabledAt(ToolAcademicSearch, 4))
	assert.True(t, EnabledAt(ToolConsensus, 4))
	assert.False(t, EnabledAt(Tool("shell"), 4))
}

func TestCapped(t *testing.T) {
	p := ActionPlan{
		Complexity: 4,
		Steps:      []Tool{ToolWebSearch, ToolReasoning, ToolLibraryDocs, ToolAcademicSearch, ToolChallenge},
	}
	c := p.Capped(2)
	assert.Equal(t, 2, c.Complexity)
	assert.Equal(t, []Tool{ToolWebSearch, ToolReasoning, ToolChallenge}, c.Steps)
	// original untouched
	assert.Len(t, p.Steps, 5)

	assert.Equal(t, p, p.Capped(0))
	assert.Equal(t, 3, ActionPlan{Complexity: 3}.Capped(-1).Complexity)
	assert.Equal(t, 1, ActionPlan{Complexity: 3}.Capped(1).Complexity)
}

func TestClampDepth(t *testing.T) {
	assert.Equal(t, 1, ClampDepth(0))
	assert.Equal(t, 3, ClampDepth(3))
	assert.Equal(t, 4, ClampDepth(9))
}

func TestWantsCode(t *testing.T) {
	yes := true
	assert.True(t, ActionPlan{IncludeCodeExamples: &yes}.WantsCode(false))
	assert.False(t, ActionPlan{}.WantsCode(false))
}
