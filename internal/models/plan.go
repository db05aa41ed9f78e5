package models

// Tool names a step of an ActionPlan.
type Tool string

// Plan steps
const (
	ToolWebSearch      Tool = "web_search"
	ToolSubQuestions   Tool = "sub_questions"
	ToolReasoning      Tool = "deep_analysis"
	ToolLibraryDocs    Tool = "library_docs"
	ToolAcademicSearch Tool = "academic_search"
	ToolConsensus      Tool = "consensus"
	ToolChallenge      Tool = "challenge"
)

// Depth bounds
const (
	MinDepthLevel = 1
	MaxDepthLevel = 4
)

// MinDepth is the gating table: the lowest depth level at which each tool is
// enabled. The planner filters steps and the executor launches tasks with it.
var MinDepth = map[Tool]int{
	ToolWebSearch:      1,
	ToolSubQuestions:   1,
	ToolChallenge:      1,
	ToolReasoning:      2,
	ToolLibraryDocs:    3,
	ToolAcademicSearch: 4,
	ToolConsensus:      4,
}

// KnownTools lists every tool in canonical step order.
var KnownTools = []Tool{
	ToolWebSearch,
	ToolSubQuestions,
	ToolReasoning,
	ToolLibraryDocs,
	ToolAcademicSearch,
	ToolConsensus,
	ToolChallenge,
}

// IsKnown reports whether t is a recognised tool.
func (t Tool) IsKnown() bool {
	_, ok := MinDepth[t]
	return ok
}

// EnabledAt reports whether tool t may run at depth.
func EnabledAt(t Tool, depth int) bool {
	min, ok := MinDepth[t]
	return ok && depth >= min
}

// ToolsForDepth returns the tools enabled at depth in canonical order.
func ToolsForDepth(depth int) []Tool {
	var out []Tool
	for _, t := range KnownTools {
		if EnabledAt(t, depth) {
			out = append(out, t)
		}
	}
	return out
}

// ClampDepth forces depth into [MinDepthLevel, MaxDepthLevel].
func ClampDepth(depth int) int {
	if depth < MinDepthLevel {
		return MinDepthLevel
	}
	if depth > MaxDepthLevel {
		return MaxDepthLevel
	}
	return depth
}

// Plan sources
const (
	PlanSourceConsensus = "consensus"
	PlanSourceHeuristic = "heuristic"
	PlanSourceSingle    = "single"
	PlanSourceFallback  = "fallback"
)

// ActionPlan is produced once per query by the planner.
type ActionPlan struct {
	Complexity          int    `json:"complexity"`
	Reasoning           string `json:"reasoning"`
	Steps               []Tool `json:"steps"`
	ToolsToSkip         []Tool `json:"toolsToSkip,omitempty"`
	IncludeCodeExamples *bool  `json:"includeCodeExamples,omitempty"`
	OutputFormat        string `json:"outputFormat,omitempty"`
	Source              string `json:"source,omitempty"`
}

// HasStep reports whether the plan lists t.
func (p ActionPlan) HasStep(t Tool) bool {
	for _, s := range p.Steps {
		if s == t {
			return true
		}
	}
	return false
}

// Skips reports whether the plan explicitly skips t.
func (p ActionPlan) Skips(t Tool) bool {
	for _, s := range p.ToolsToSkip {
		if s == t {
			return true
		}
	}
	return false
}

// WantsCode reports the plan's code-example preference, defaulting to def.
func (p ActionPlan) WantsCode(def bool) bool {
	if p.IncludeCodeExamples == nil {
		return def
	}
	return *p.IncludeCodeExamples
}

// Capped returns a copy of p with complexity limited to maxDepth and every
// step gated above maxDepth removed. A non-positive maxDepth is a no-op.
func (p ActionPlan) Capped(maxDepth int) ActionPlan {
	if maxDepth <= 0 {
		return p
	}
	maxDepth = ClampDepth(maxDepth)
	out := p
	if out.Complexity > maxDepth {
		out.Complexity = maxDepth
	}
	out.Steps = nil
	for _, s := range p.Steps {
		if EnabledAt(s, maxDepth) {
			out.Steps = append(out.Steps, s)
		}
	}
	return out
}

// SubQuestion is a user-supplied decomposition of the main query.
type SubQuestion struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// ResearchOptions is the option bag accepted by the pipeline.
type ResearchOptions struct {
	Constraints         []string      `json:"constraints,omitempty"`
	AvoidSources        []string      `json:"avoidSources,omitempty"`
	TechStack           []string      `json:"techStack,omitempty"`
	SubQuestions        []SubQuestion `json:"subQuestions,omitempty"`
	MaxDepth            int           `json:"maxDepth,omitempty"`
	IncludeCodeExamples *bool         `json:"includeCodeExamples,omitempty"`
}
