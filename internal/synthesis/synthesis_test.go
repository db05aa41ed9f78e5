package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm/llmtest"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func phasedInput() Input {
	return Input{
		Query: "How does etcd implement raft",
		Options: models.ResearchOptions{SubQuestions: []models.SubQuestion{
			{ID: "q1", Question: "What is a raft leader?"},
			{ID: "q2", Question: "How are snapshots taken?"},
		}},
		Evidence: &models.ExecutionResult{
			WebResult: &models.WebResult{Content: "etcd uses raft"},
			SubQuestionResults: []models.SubQuestionResult{
				{ID: "q2", Question: "How are snapshots taken?", Web: &models.WebResult{Content: "snapshots every 10000 entries"}},
			},
		},
		Manifest: models.GlobalManifest{Numerics: map[string]string{"snapshot interval": "10000 entries"}},
	}
}

func newSynth(t *testing.T, p llm.Provider) *Synthesizer {
	return New(llm.NewPool(p), Options{DigestTokenBudget: 50, Tokens: llm.ApproxTokenCounter(), Logger: zaptest.NewLogger(t)})
}

func TestSinglePass(t *testing.T) {
	p := llmtest.Static("a", `{"overview": "etcd replicates a log", "additionalInsights": "watch out for disk latency"}`)
	doc := newSynth(t, p).Synthesize(context.Background(), Input{Query: "raft?"})

	assert.Equal(t, "etcd replicates a log", doc.Overview)
	assert.Equal(t, "watch out for disk latency", doc.AdditionalInsights)
	assert.Empty(t, doc.SubQuestions)
	assert.Equal(t, 1, p.CallCount("synthesis"))
}

func TestProseOverviewIsKept(t *testing.T) {
	p := llmtest.Static("a", "Plain prose answer.")
	doc := newSynth(t, p).Synthesize(context.Background(), Input{Query: "raft?"})
	assert.Equal(t, "Plain prose answer.", doc.Overview)
}

func TestPhased(t *testing.T) {
	long := strings.Repeat("overview words ", 200)
	p := llmtest.Router("a",
		llmtest.Reply("synthesis_overview", `{"overview": "`+long+`"}`),
		llmtest.Rule{Component: "synthesis_subanswer", Match: "Sub-question: How are snapshots taken?", Reply: func(llm.Request) (string, error) { return "every 10000 entries", nil }},
		llmtest.Rule{Component: "synthesis_subanswer", Reply: func(llm.Request) (string, error) { return "", errors.New("down") }},
	)
	s := newSynth(t, p)
	doc := s.Synthesize(context.Background(), phasedInput())

	assert.Equal(t, []string{"q1", "q2"}, doc.SubQuestionIDs())
	assert.Equal(t, NoAnswer, doc.SubQuestions["q1"].Answer)
	assert.Equal(t, "every 10000 entries", doc.SubQuestions["q2"].Answer)
	assert.Equal(t, "How are snapshots taken?", doc.SubQuestions["q2"].Question)
	assert.Equal(t, 2, p.CallCount("synthesis_subanswer"))

	for _, c := range p.Calls() {
		if c.Component != "synthesis_subanswer" {
			continue
		}
		assert.Contains(t, c.Prompt, "GLOBAL FACT MANIFEST")
		assert.Contains(t, c.Prompt, "OVERVIEW (fixed")
		// the anchor is the digest, not the full overview
		assert.NotContains(t, c.Prompt, long)
		if strings.Contains(c.Prompt, "Sub-question: How are snapshots taken?") {
			assert.Contains(t, c.Prompt, "snapshots every 10000 entries")
		}
	}
}

func TestDigestRespectsBudget(t *testing.T) {
	s := New(nil, Options{DigestTokenBudget: 10, Tokens: llm.ApproxTokenCounter()})
	d := s.Digest(strings.Repeat("token ", 500))
	assert.LessOrEqual(t, s.opts.Tokens.Count(d), 10)
	assert.Len(t, d, 40)
	assert.Equal(t, "short", s.Digest("  short  "))
}

func TestResynthesizeCarriesMandatoryGaps(t *testing.T) {
	p := llmtest.Static("a", `{"overview": "rewritten"}`)
	doc := newSynth(t, p).Resynthesize(context.Background(), Input{Query: "raft?"}, []string{"no failure modes discussed"})

	assert.Equal(t, "rewritten", doc.Overview)
	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "MANDATORY")
	assert.Contains(t, calls[0].Prompt, "- no failure modes discussed")
}

func TestResynthesizePhasedCarriesGapsToSubAnswers(t *testing.T) {
	p := llmtest.New("a", func(req llm.Request) (string, error) {
		if req.Component == "synthesis_subanswer" {
			return "Leaders time out after 1000 ms.", nil
		}
		return `{"overview": "rewritten"}`, nil
	})
	in := Input{
		Query:   "raft?",
		Options: models.ResearchOptions{SubQuestions: []models.SubQuestion{{ID: "q1", Question: "How are leaders elected?"}}},
	}
	doc := newSynth(t, p).Resynthesize(context.Background(), in, []string{"explain election timeout"})

	assert.Equal(t, "Leaders time out after 1000 ms.", doc.SubQuestions["q1"].Answer)
	for _, component := range []string{"synthesis_overview", "synthesis_subanswer"} {
		var prompt string
		for _, c := range p.Calls() {
			if c.Component == component {
				prompt = c.Prompt
			}
		}
		require.NotEmpty(t, prompt, component)
		assert.Contains(t, prompt, "MANDATORY", component)
		assert.Contains(t, prompt, "- explain election timeout", component)
	}
}

func TestRegenerateSection(t *testing.T) {
	doc := models.SynthesisOutput{
		Overview:     "anchor text",
		SubQuestions: map[string]models.SubAnswer{"q1": {Question: "Leader?", Answer: "old"}},
	}
	p := llmtest.Static("a", "  new answer  ")
	text, ok := newSynth(t, p).RegenerateSection(context.Background(), Input{Query: "raft?"}, doc, "q1", []string{"cite a source"})
	require.True(t, ok)
	assert.Equal(t, "new answer", text)

	req := p.Calls()[0]
	assert.Equal(t, "repair_section", req.Component)
	assert.Contains(t, req.Prompt, "MINIMAL EDIT")
	assert.Contains(t, req.Prompt, "anchor text")
	assert.Contains(t, req.Prompt, "- cite a source")

	_, ok = newSynth(t, p).RegenerateSection(context.Background(), Input{}, doc, "missing", nil)
	assert.False(t, ok)

	_, ok = newSynth(t, llmtest.Failing("b", errors.New("down"))).RegenerateSection(context.Background(), Input{}, doc, "q1", nil)
	assert.False(t, ok)
}

func TestRerollKeepsOverview(t *testing.T) {
	doc := models.SynthesisOutput{
		Overview: "The interval is 10000 entries.",
		SubQuestions: map[string]models.SubAnswer{
			"q1": {Question: "Leader?", Answer: "leader text"},
			"q2": {Question: "Snapshots?", Answer: "every 500 entries"},
		},
		Order: []string{"q1", "q2"},
	}
	p := llmtest.Static("a", "every 10000 entries")
	out := newSynth(t, p).RerollSubAnswers(context.Background(), phasedInput(), doc, []string{"q2", models.SectionOverview, "nope"},
		map[string][]string{"q2": {"500 vs 10000"}})

	assert.Equal(t, doc.Overview, out.Overview)
	assert.Equal(t, "leader text", out.SubQuestions["q1"].Answer)
	assert.Equal(t, "every 10000 entries", out.SubQuestions["q2"].Answer)
	assert.Equal(t, "every 500 entries", doc.SubQuestions["q2"].Answer, "input document must not be mutated")
	require.Equal(t, 1, p.CallCount("pvr_reroll"))
	assert.Contains(t, p.Calls()[0].Prompt, "- 500 vs 10000")
}
