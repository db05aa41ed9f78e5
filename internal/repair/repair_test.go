package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/critique"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm/llmtest"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/synthesis"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingFiller struct {
	gaps []string
}

func (f *recordingFiller) FillGaps(_ context.Context, _ string, res *models.ExecutionResult, gaps []string, _ []string) int {
	f.gaps = gaps
	res.GapFills = append(res.GapFills, models.GapFill{Gap: gaps[0], Result: &models.WebResult{Content: "more"}})
	return 1
}

func document() models.SynthesisOutput {
	return models.SynthesisOutput{
		Overview: "etcd uses raft.",
		SubQuestions: map[string]models.SubAnswer{
			"q1": {Question: "Leader?", Answer: "old leader answer"},
			"q2": {Question: "Snapshots?", Answer: "Periodic snapshots."},
		},
		Order: []string{"q1", "q2"},
	}
}

func majors(section string, n int, prefix string) []models.CategorizedCritique {
	out := make([]models.CategorizedCritique, n)
	for i := range out {
		out[i] = models.CategorizedCritique{Category: models.SeverityMajor, Section: section, Issue: fmt.Sprintf("%s %d", prefix, i)}
	}
	return out
}

func ballotJSON(section string, n int) string {
	var parts []string
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf(`{"category": "MAJOR", "section": %q, "issue": "post-repair issue %d"}`, section, i))
	}
	return `{"critiques": [` + strings.Join(parts, ",") + `]}`
}

func initialState(ballots critique.Ballots) State {
	return State{Doc: document(), Verdict: critique.Aggregate(ballots, critique.Rules{}), Ballots: ballots}
}

func targetedBallots() critique.Ballots {
	return critique.Ballots{
		"a": majors("q1", 3, "pre"),
		"b": majors("q1", 3, "pre"),
		"c": {{Category: models.SeverityMinor, Section: "q2", Issue: "wordy"}},
	}
}

type harness struct {
	loop   *Loop
	writer *llmtest.Fake
	voters []*llmtest.Fake
	filler *recordingFiller
}

func newHarness(t *testing.T, writer *llmtest.Fake, voteReply string) harness {
	return newHarnessWith(t, writer,
		llmtest.Static("a", voteReply),
		llmtest.Static("b", voteReply),
		llmtest.Static("c", `{"critiques": []}`),
	)
}

func newHarnessWith(t *testing.T, writer *llmtest.Fake, voters ...*llmtest.Fake) harness {
	providers := make([]llm.Provider, len(voters))
	for i, v := range voters {
		providers[i] = v
	}
	logger := zaptest.NewLogger(t)
	synth := synthesis.New(llm.NewPool(writer), synthesis.Options{Tokens: llm.ApproxTokenCounter(), Logger: logger})
	voter := critique.NewVoter(llm.NewPool(providers...), 0, logger)
	filler := &recordingFiller{}
	return harness{
		loop:   New(filler, synth, voter, critique.Rules{}, logger),
		writer: writer,
		voters: voters,
		filler: filler,
	}
}

func input() synthesis.Input {
	return synthesis.Input{Query: "How does etcd implement raft", Evidence: &models.ExecutionResult{}}
}

func TestSufficientStateIsUntouched(t *testing.T) {
	h := newHarness(t, llmtest.Static("w", "x"), `{"critiques": []}`)
	st := initialState(critique.Ballots{"a": nil})
	require.True(t, st.Verdict.Sufficient)

	got, out := h.loop.Run(context.Background(), input(), st)
	assert.Equal(t, st, got)
	assert.Equal(t, ModeNone, out.Mode)
	assert.Equal(t, 0, h.writer.CallCount(""))
}

func TestTargetedRepairAccepted(t *testing.T) {
	h := newHarness(t, llmtest.Static("w", "new leader answer"), ballotJSON("q1", 1))
	st := initialState(targetedBallots())
	require.Equal(t, []string{"q1"}, st.Verdict.FailingSections)

	in := input()
	got, out := h.loop.Run(context.Background(), in, st)

	require.True(t, out.Accepted, out.Reason)
	assert.Equal(t, ModeTargeted, out.Mode)
	assert.Equal(t, []string{"q1"}, out.Sections)
	assert.Equal(t, 3, out.MajorBefore)
	assert.Equal(t, 1, out.MajorAfter)
	assert.Equal(t, 1, out.GapsFilled)
	assert.Len(t, in.Evidence.GapFills, 1)

	assert.Equal(t, "new leader answer", got.Doc.SubQuestions["q1"].Answer)
	assert.Equal(t, st.Doc.Overview, got.Doc.Overview)
	assert.Equal(t, st.Doc.SubQuestions["q2"], got.Doc.SubQuestions["q2"])
	assert.True(t, got.Verdict.Sufficient)
	assert.Equal(t, "old leader answer", st.Doc.SubQuestions["q1"].Answer, "pre-repair state must not be mutated")

	// untouched sections keep their cached critiques
	assert.Equal(t, targetedBallots()["c"], got.Ballots["c"])

	// voters only saw the regenerated section
	for _, v := range h.voters {
		calls := v.Calls()
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0].Prompt, "new leader answer")
		assert.NotContains(t, calls[0].Prompt, "Periodic snapshots.")
	}

	req := h.writer.Calls()[0]
	assert.Equal(t, "repair_section", req.Component)
	assert.Contains(t, req.Prompt, "- pre 0")
}

func TestRegressionGuardRevertsRepair(t *testing.T) {
	for name, reply := range map[string]string{
		"worse": ballotJSON("q1", 4),
		"equal": ballotJSON("q1", 3),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, llmtest.Static("w", "new leader answer"), reply)
			st := initialState(targetedBallots())

			got, out := h.loop.Run(context.Background(), input(), st)
			assert.False(t, out.Accepted)
			assert.Equal(t, st.Doc, got.Doc)
			assert.Equal(t, st.Verdict, got.Verdict)
			assert.GreaterOrEqual(t, out.MajorAfter, out.MajorBefore)
		})
	}
}

func TestFailedRevoteRejectsRepair(t *testing.T) {
	down := errors.New("timeout")
	h := newHarnessWith(t, llmtest.Static("w", "new leader answer"),
		llmtest.Failing("a", down),
		llmtest.Failing("b", down),
		llmtest.Failing("c", down),
	)
	st := initialState(targetedBallots())

	got, out := h.loop.Run(context.Background(), input(), st)
	assert.False(t, out.Accepted)
	assert.Equal(t, ModeTargeted, out.Mode)
	assert.Equal(t, "no voter re-reviewed the repair", out.Reason)
	assert.Equal(t, st, got)
}

func TestSilentVoterKeepsCachedCritiques(t *testing.T) {
	// b times out on the re-vote; its three cached MAJORs on q1 still count
	h := newHarnessWith(t, llmtest.Static("w", "new leader answer"),
		llmtest.Static("a", ballotJSON("q1", 3)),
		llmtest.Failing("b", errors.New("timeout")),
		llmtest.Static("c", `{"critiques": []}`),
	)
	st := initialState(targetedBallots())

	got, out := h.loop.Run(context.Background(), input(), st)
	assert.False(t, out.Accepted)
	assert.Equal(t, 3, out.MajorAfter)
	assert.Equal(t, st, got)
}

func TestOverviewRegeneratedFirst(t *testing.T) {
	writer := llmtest.New("w", func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, `SECTION "Overview"`) {
			return "corrected overview", nil
		}
		return "corrected leader answer", nil
	})
	ballots := critique.Ballots{
		"a": append(majors("q1", 2, "pre"), majors(models.SectionOverview, 2, "ov")...),
		"b": append(majors("q1", 2, "pre"), majors(models.SectionOverview, 2, "ov")...),
	}
	h := newHarness(t, writer, `{"critiques": []}`)
	st := initialState(ballots)
	require.Equal(t, []string{"q1", models.SectionOverview}, st.Verdict.FailingSections)

	got, out := h.loop.Run(context.Background(), input(), st)
	require.True(t, out.Accepted)
	assert.Equal(t, []string{models.SectionOverview, "q1"}, out.Sections)
	assert.Equal(t, "corrected overview", got.Doc.Overview)

	calls := writer.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Prompt, `SECTION "Overview"`)
	// the sub-answer is repaired against the corrected anchor
	assert.Contains(t, calls[1].Prompt, "corrected overview")
}

func TestGlobalRepairResynthesizes(t *testing.T) {
	spread := func() []models.CategorizedCritique {
		return []models.CategorizedCritique{
			{Category: models.SeverityMajor, Section: models.SectionOverview, Issue: "no failure modes"},
			{Category: models.SeverityMajor, Section: "q1", Issue: "no election timeout"},
			{Category: models.SeverityMajor, Section: "q2", Issue: "no snapshot cost"},
		}
	}
	h := newHarness(t, llmtest.Static("w", `{"overview": "complete rewrite"}`), `{"critiques": []}`)
	st := initialState(critique.Ballots{"a": spread(), "b": spread()})
	require.True(t, st.Verdict.Global())

	got, out := h.loop.Run(context.Background(), input(), st)
	require.True(t, out.Accepted)
	assert.Equal(t, ModeGlobal, out.Mode)
	assert.Equal(t, "complete rewrite", got.Doc.Overview)
	assert.Equal(t, []string{"no failure modes", "no election timeout", "no snapshot cost"}, h.filler.gaps)

	req := h.writer.Calls()[0]
	assert.Contains(t, req.Prompt, "MANDATORY")
	assert.Contains(t, req.Prompt, "- no snapshot cost")

	t.Run("phased", func(t *testing.T) {
		writer := llmtest.New("w", func(req llm.Request) (string, error) {
			if req.Component == "synthesis_subanswer" {
				return "rewritten sub-answer", nil
			}
			return `{"overview": "complete rewrite"}`, nil
		})
		h := newHarness(t, writer, `{"critiques": []}`)
		in := input()
		in.Options.SubQuestions = []models.SubQuestion{{ID: "q1", Question: "Leader?"}, {ID: "q2", Question: "Snapshots?"}}

		got, out := h.loop.Run(context.Background(), in, st)
		require.True(t, out.Accepted)
		assert.Equal(t, "rewritten sub-answer", got.Doc.SubQuestions["q2"].Answer)

		sub := 0
		for _, c := range writer.Calls() {
			if c.Component != "synthesis_subanswer" {
				continue
			}
			sub++
			assert.Contains(t, c.Prompt, "- no election timeout")
			assert.Contains(t, c.Prompt, "- no snapshot cost")
		}
		assert.Equal(t, 2, sub)
	})
}

func TestNothingRegeneratedKeepsState(t *testing.T) {
	h := newHarness(t, llmtest.Static("w", "old leader answer"), ballotJSON("q1", 0))
	st := initialState(targetedBallots())

	got, out := h.loop.Run(context.Background(), input(), st)
	assert.False(t, out.Accepted)
	assert.Equal(t, st, got)
	for _, v := range h.voters {
		assert.Equal(t, 0, v.CallCount(""))
	}
}
