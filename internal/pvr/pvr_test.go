package pvr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm/llmtest"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/synthesis"
)

func document() models.SynthesisOutput {
	return models.SynthesisOutput{
		Overview: "Snapshots are taken every 10000 entries.",
		SubQuestions: map[string]models.SubAnswer{
			"q1": {Question: "Leader?", Answer: "One leader per term."},
			"q2": {Question: "Snapshots?", Answer: "Every 500 entries."},
			"q3": {Question: "Disk?", Answer: "Uses bbolt."},
		},
		Order: []string{"q1", "q2", "q3"},
	}
}

const (
	inconsistent = `{"entailmentScore": 0.6, "contradictions": [
		{"claimA": "every 10000 entries", "claimB": "every 500 entries", "severity": "HIGH", "section": "q2"},
		{"claimA": "bbolt", "claimB": "boltdb", "severity": "low", "section": "q3"},
		{"claimA": "overview claim", "claimB": "other", "severity": "high", "section": "overview"}
	]}`
	consistent = `{"entailmentScore": 0.95, "contradictions": []}`
)

type rewriteAll struct {
	calls int
	ids   []string
}

// RerollSubAnswers rewrites every section, including ones it was not asked
// to touch, so the checker's own anchoring is exercised.
func (r *rewriteAll) RerollSubAnswers(_ context.Context, _ synthesis.Input, doc models.SynthesisOutput, ids []string, _ map[string][]string) models.SynthesisOutput {
	r.calls++
	r.ids = ids
	out := doc.WithSection(models.SectionOverview, "rewritten overview")
	for _, id := range doc.SubQuestionIDs() {
		out = out.WithSection(id, "Every 10000 entries.")
	}
	return out
}

func TestCheckSkipsWithoutSubQuestions(t *testing.T) {
	p := llmtest.Static("a", consistent)
	res := New(p, nil, Options{}).Check(context.Background(), models.SynthesisOutput{Overview: "x"}, models.GlobalManifest{})
	assert.True(t, res.Skipped)
	assert.True(t, res.IsConsistent)
	assert.Equal(t, 0, p.CallCount(""))
}

func TestCheckFailureIsSkipped(t *testing.T) {
	for name, p := range map[string]llm.Provider{
		"error":    llmtest.Failing("a", errors.New("down")),
		"garbage":  llmtest.Static("a", "looks fine to me"),
		"no score": llmtest.Static("a", `{"contradictions": []}`),
	} {
		t.Run(name, func(t *testing.T) {
			res := New(p, nil, Options{Logger: zaptest.NewLogger(t)}).Check(context.Background(), document(), models.GlobalManifest{})
			assert.True(t, res.Skipped)
			assert.True(t, res.IsConsistent)
		})
	}
}

func TestCheckMarksHighSeveritySections(t *testing.T) {
	c := New(llmtest.Static("a", inconsistent), nil, Options{Logger: zaptest.NewLogger(t)})
	res := c.Check(context.Background(), document(), models.GlobalManifest{})

	assert.False(t, res.IsConsistent)
	assert.InDelta(t, 0.6, res.EntailmentScore, 1e-9)
	assert.Len(t, res.Contradictions, 3)
	assert.Equal(t, "high", res.Contradictions[0].Severity)
	// the overview is never a re-roll target
	assert.Equal(t, []string{"q2"}, res.SectionsToReroll)
}

func TestConsistencyNeedsScoreAndNoBlockingContradiction(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		opts   Options
		expect bool
	}{
		{"clean", consistent, Options{}, true},
		{"low score", `{"entailmentScore": 0.5, "contradictions": []}`, Options{}, false},
		{"custom threshold", `{"entailmentScore": 0.5, "contradictions": []}`, Options{EntailmentThreshold: 0.4}, true},
		{"percent score", `{"entailmentScore": "90%"}`, Options{}, true},
		{"minor only", `{"entailmentScore": 0.9, "contradictions": [{"claimA": "a", "claimB": "b", "severity": "medium", "section": "q1"}]}`, Options{}, true},
		{"medium blocks when configured", `{"entailmentScore": 0.9, "contradictions": [{"claimA": "a", "claimB": "b", "severity": "medium", "section": "q1"}]}`, Options{RerollSeverity: "medium"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(llmtest.Static("a", tt.reply), nil, tt.opts).Check(context.Background(), document(), models.GlobalManifest{})
			assert.Equal(t, tt.expect, res.IsConsistent)
		})
	}
}

func TestReconcileAnchorsOverview(t *testing.T) {
	p := llmtest.Sequence("a", inconsistent, consistent)
	r := &rewriteAll{}
	c := New(p, r, Options{Logger: zaptest.NewLogger(t)})
	doc := document()

	first := c.Check(context.Background(), doc, models.GlobalManifest{})
	out, res := c.Reconcile(context.Background(), synthesis.Input{}, doc, first)

	assert.Equal(t, doc.Overview, out.Overview)
	assert.Equal(t, "Every 10000 entries.", out.SubQuestions["q2"].Answer)
	assert.Equal(t, doc.SubQuestions["q1"], out.SubQuestions["q1"])
	assert.Equal(t, doc.SubQuestions["q3"], out.SubQuestions["q3"])
	assert.Equal(t, []string{"q2"}, r.ids)

	assert.True(t, res.IsConsistent)
	assert.Equal(t, []string{"q2"}, res.Rerolled)
	assert.Equal(t, 2, p.CallCount("pvr_check"))
}

func TestReconcileVerifiesOnlyOnce(t *testing.T) {
	p := llmtest.Static("a", inconsistent)
	r := &rewriteAll{}
	c := New(p, r, Options{})
	doc := document()

	first := c.Check(context.Background(), doc, models.GlobalManifest{})
	_, res := c.Reconcile(context.Background(), synthesis.Input{}, doc, first)

	assert.Equal(t, 1, r.calls)
	assert.Equal(t, 2, p.CallCount("pvr_check"))
	assert.False(t, res.IsConsistent)
	require.NotEmpty(t, res.Contradictions)
}

func TestReconcileNoopWhenConsistent(t *testing.T) {
	r := &rewriteAll{}
	c := New(llmtest.Static("a", consistent), r, Options{})
	doc := document()
	first := c.Check(context.Background(), doc, models.GlobalManifest{})
	out, res := c.Reconcile(context.Background(), synthesis.Input{}, doc, first)

	assert.Equal(t, doc, out)
	assert.Equal(t, first, res)
	assert.Equal(t, 0, r.calls)
}
