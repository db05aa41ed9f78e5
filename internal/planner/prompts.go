package planner

import (
	"fmt"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

const plannerSystem = "You are a research planner. You decide how deep to research a question and which tools to use. Respond with JSON only."

const judgeSystem = "You are a judge comparing research plans. Respond with JSON only."

func planningPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", in.Query)
	if c := strings.TrimSpace(in.Context); c != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", c)
	}
	o := in.Options
	if len(o.Constraints) > 0 {
		fmt.Fprintf(&b, "\nConstraints: %s\n", strings.Join(o.Constraints, "; "))
	}
	if len(o.AvoidSources) > 0 {
		fmt.Fprintf(&b, "Sources to avoid: %s\n", strings.Join(o.AvoidSources, ", "))
	}
	if len(o.TechStack) > 0 {
		fmt.Fprintf(&b, "Tech stack: %s\n", strings.Join(o.TechStack, ", "))
	}
	if len(o.SubQuestions) > 0 {
		b.WriteString("Sub-questions:\n")
		for _, sq := range o.SubQuestions {
			fmt.Fprintf(&b, "- [%s] %s\n", sq.ID, sq.Question)
		}
	}
	if o.MaxDepth > 0 {
		fmt.Fprintf(&b, "Maximum depth allowed: %d\n", o.MaxDepth)
	}

	b.WriteString("\nAvailable tools and the minimum complexity at which each may run:\n")
	for _, t := range models.KnownTools {
		fmt.Fprintf(&b, "- %s (complexity >= %d)\n", t, models.MinDepth[t])
	}
	b.WriteString(`
Return a JSON object:
{
  "complexity": 1-4,
  "reasoning": "one or two sentences",
  "steps": ["tool", ...],
  "toolsToSkip": ["tool", ...],
  "includeCodeExamples": true|false,
  "outputFormat": "prose|comparison|tutorial|reference"
}`)
	return b.String()
}

func judgePrompt(in Input, cands []candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nCandidate plans:\n", in.Query)
	for i, c := range cands {
		steps := make([]string, len(c.plan.Steps))
		for j, s := range c.plan.Steps {
			steps[j] = string(s)
		}
		fmt.Fprintf(&b, "[%d] complexity=%d steps=%s\n    reasoning: %s\n",
			i, c.plan.Complexity, strings.Join(steps, ","), c.plan.Reasoning)
	}
	fmt.Fprintf(&b, "\nPick the plan that best balances thoroughness and cost for this question.\nReturn {\"index\": <0-%d>}.", len(cands)-1)
	return b.String()
}
