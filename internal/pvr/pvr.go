// Package pvr checks that phased sub-answers agree with the overview and the
// fact manifest, and re-rolls the ones that do not.
package pvr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/manifest"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/structured"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/synthesis"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Reroller regenerates sub-answers with the overview fixed.
type Reroller interface {
	RerollSubAnswers(ctx context.Context, in synthesis.Input, doc models.SynthesisOutput, ids []string, conflicts map[string][]string) models.SynthesisOutput
}

// Options configure the checker.
type Options struct {
	// EntailmentThreshold is the minimum score for a consistent document.
	EntailmentThreshold float64
	// RerollSeverity is the lowest contradiction severity that fails the
	// check and marks its section for re-roll.
	RerollSeverity string
	CallTimeout    time.Duration
	Logger         *zap.Logger
}

type Checker struct {
	provider llm.Provider
	reroller Reroller
	opts     Options
	logger   *zap.Logger
}

func New(provider llm.Provider, reroller Reroller, opts Options) *Checker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EntailmentThreshold <= 0 {
		opts.EntailmentThreshold = 0.85
	}
	if models.SeverityRank(opts.RerollSeverity) == 0 {
		opts.RerollSeverity = models.ContradictionHigh
	}
	return &Checker{provider: provider, reroller: reroller, opts: opts, logger: opts.Logger}
}

type checkJSON struct {
	EntailmentScore *structured.FlexFloat  `json:"entailmentScore"`
	Contradictions  []models.Contradiction `json:"contradictions"`
}

// Check verifies doc. Documents without sub-answers, and checks whose call
// or parse failed, are reported as skipped and consistent.
func (c *Checker) Check(ctx context.Context, doc models.SynthesisOutput, m models.GlobalManifest) models.PVRResult {
	if len(doc.SubQuestions) == 0 {
		metrics.PVRChecks.WithLabelValues("skipped").Inc()
		return models.PVRResult{IsConsistent: true, EntailmentScore: 1, Skipped: true}
	}
	ctx, span := tracing.StartSpan(ctx, "pvr.check")
	defer span.End()

	content := llm.TryGenerate(ctx, c.provider, llm.Request{
		Component:   "pvr_check",
		System:      checkSystem,
		Prompt:      checkPrompt(doc, m),
		Temperature: 0,
		Timeout:     c.opts.CallTimeout,
	}, c.logger)
	r := structured.Parse(content, checkJSON{})
	if content == "" || !r.Ok() || r.Value.EntailmentScore == nil {
		if content != "" {
			metrics.ParseFallbacks.WithLabelValues("pvr").Inc()
		}
		metrics.PVRChecks.WithLabelValues("skipped").Inc()
		c.logger.Warn("PVR: verification unavailable, treating document as consistent")
		return models.PVRResult{IsConsistent: true, EntailmentScore: 1, Skipped: true}
	}

	res := c.evaluate(doc, float64(*r.Value.EntailmentScore), r.Value.Contradictions)
	outcome := "consistent"
	if !res.IsConsistent {
		outcome = "inconsistent"
	}
	metrics.PVRChecks.WithLabelValues(outcome).Inc()
	c.logger.Info("PVR: check complete",
		zap.Bool("consistent", res.IsConsistent),
		zap.Float64("entailment", res.EntailmentScore),
		zap.Int("contradictions", len(res.Contradictions)),
		zap.Strings("reroll", res.SectionsToReroll),
	)
	return res
}

func (c *Checker) evaluate(doc models.SynthesisOutput, score float64, raw []models.Contradiction) models.PVRResult {
	if score > 1 && score <= 100 {
		score /= 100
	}
	score = min(max(score, 0), 1)
	threshold := models.SeverityRank(c.opts.RerollSeverity)

	res := models.PVRResult{EntailmentScore: score, Contradictions: []models.Contradiction{}, SectionsToReroll: []string{}}
	blocking := false
	for _, ct := range raw {
		ct.Severity = strings.ToLower(strings.TrimSpace(ct.Severity))
		ct.Section = strings.TrimSpace(ct.Section)
		if strings.TrimSpace(ct.ClaimA) == "" && strings.TrimSpace(ct.ClaimB) == "" {
			continue
		}
		res.Contradictions = append(res.Contradictions, ct)
		if models.SeverityRank(ct.Severity) < threshold {
			continue
		}
		blocking = true
		if _, ok := doc.SubQuestions[ct.Section]; ok {
			res.SectionsToReroll = append(res.SectionsToReroll, ct.Section)
		}
	}
	res.SectionsToReroll = util.Dedup(res.SectionsToReroll)
	res.IsConsistent = !blocking && score >= c.opts.EntailmentThreshold
	return res
}

// Reconcile re-rolls the sections first marked and verifies the result once
// more. Only those sections may change; the overview is kept byte for byte.
// Contradictions that survive are reported rather than retried.
func (c *Checker) Reconcile(ctx context.Context, in synthesis.Input, doc models.SynthesisOutput, first models.PVRResult) (models.SynthesisOutput, models.PVRResult) {
	if first.IsConsistent || len(first.SectionsToReroll) == 0 || c.reroller == nil {
		return doc, first
	}
	ctx, span := tracing.StartSpan(ctx, "pvr.reconcile")
	defer span.End()

	conflicts := make(map[string][]string)
	for _, ct := range first.Contradictions {
		if util.ContainsFold(first.SectionsToReroll, ct.Section) {
			conflicts[ct.Section] = append(conflicts[ct.Section], fmt.Sprintf("%q conflicts with %q", ct.ClaimA, ct.ClaimB))
		}
	}
	candidate := c.reroller.RerollSubAnswers(ctx, in, doc, first.SectionsToReroll, conflicts)

	out := doc
	var rerolled []string
	for _, id := range first.SectionsToReroll {
		text, ok := candidate.Section(id)
		if !ok || text == "" {
			continue
		}
		if prev, _ := doc.Section(id); prev == text {
			continue
		}
		out = out.WithSection(id, text)
		rerolled = append(rerolled, id)
	}
	metrics.Rerolls.Add(float64(len(rerolled)))
	if len(rerolled) == 0 {
		first.Rerolled = []string{}
		return doc, first
	}

	second := c.Check(ctx, out, in.Manifest)
	second.Rerolled = rerolled
	if second.Skipped {
		// keep the first findings visible when re-verification could not run
		second.Contradictions = first.Contradictions
		second.IsConsistent = false
		second.EntailmentScore = first.EntailmentScore
	}
	c.logger.Info("PVR: reconciled",
		zap.Strings("rerolled", rerolled),
		zap.Bool("consistent", second.IsConsistent),
		zap.Int("remaining_contradictions", len(second.Contradictions)),
	)
	return out, second
}

const checkSystem = `You verify the internal consistency of a research report.
Compare every sub-answer with the overview and the fact manifest. Report claims that contradict each other.
Respond with JSON only:
{"entailmentScore": 0.0-1.0,
 "contradictions": [{"claimA": "...", "claimB": "...", "severity": "low|medium|high", "section": "sub-answer id"}]}`

func checkPrompt(doc models.SynthesisOutput, m models.GlobalManifest) string {
	var b strings.Builder
	if r := manifest.Render(m); r != "" {
		b.WriteString(r)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "OVERVIEW:\n%s\n", doc.Overview)
	for _, id := range doc.SubQuestionIDs() {
		sa := doc.SubQuestions[id]
		fmt.Fprintf(&b, "\nSUB-ANSWER [%s] %s\n%s\n", id, sa.Question, sa.Answer)
	}
	return b.String()
}
