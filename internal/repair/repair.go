// Package repair runs the single targeted repair pass over an insufficient
// document.
package repair

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/critique"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/synthesis"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Repair modes
const (
	ModeNone     = "none"
	ModeGlobal   = "global"
	ModeTargeted = "targeted"
)

// GapFiller gathers more evidence for named gaps.
type GapFiller interface {
	FillGaps(ctx context.Context, query string, res *models.ExecutionResult, gaps []string, avoid []string) int
}

// Rewriter regenerates a whole document or single sections.
type Rewriter interface {
	Resynthesize(ctx context.Context, in synthesis.Input, gaps []string) models.SynthesisOutput
	RegenerateSection(ctx context.Context, in synthesis.Input, doc models.SynthesisOutput, section string, critiques []string) (string, bool)
}

// Reviewer produces ballots, optionally for a subset of sections.
type Reviewer interface {
	Vote(ctx context.Context, s critique.Subject, challenge []string, sections []string) critique.Ballots
}

// State is a document together with the verdict and ballots that evaluated
// it. The three are only ever replaced together.
type State struct {
	Doc     models.SynthesisOutput    `json:"doc"`
	Verdict models.SufficiencyVerdict `json:"verdict"`
	Ballots critique.Ballots          `json:"-"`
}

// Outcome describes what the repair pass did.
type Outcome struct {
	Mode        string   `json:"mode"`
	Accepted    bool     `json:"accepted"`
	Sections    []string `json:"sections,omitempty"`
	GapsFilled  int      `json:"gapsFilled"`
	MajorBefore int      `json:"majorBefore"`
	MajorAfter  int      `json:"majorAfter"`
	Reason      string   `json:"reason,omitempty"`
}

type Loop struct {
	filler   GapFiller
	rewriter Rewriter
	reviewer Reviewer
	rules    critique.Rules
	logger   *zap.Logger
}

func New(filler GapFiller, rewriter Rewriter, reviewer Reviewer, rules critique.Rules, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{filler: filler, rewriter: rewriter, reviewer: reviewer, rules: rules, logger: logger}
}

// Run attempts one repair of an insufficient state. The returned state is
// either the repaired one, accepted only when the median MAJOR count
// strictly dropped, or st unchanged.
func (l *Loop) Run(ctx context.Context, in synthesis.Input, st State) (State, Outcome) {
	out := Outcome{Mode: ModeNone, MajorBefore: st.Verdict.MedianMajor, MajorAfter: st.Verdict.MedianMajor}
	if st.Verdict.Sufficient {
		out.Reason = "verdict already sufficient"
		return st, out
	}
	ctx, span := tracing.StartSpan(ctx, "repair.run", attribute.Bool("global", st.Verdict.Global()))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("repair").Observe(time.Since(start).Seconds()) }()

	if l.filler != nil && in.Evidence != nil && len(st.Verdict.CriticalGaps) > 0 {
		out.GapsFilled = l.filler.FillGaps(ctx, in.Query, in.Evidence, st.Verdict.CriticalGaps, in.Options.AvoidSources)
	}

	var (
		doc     models.SynthesisOutput
		ballots critique.Ballots
	)
	if st.Verdict.Global() {
		out.Mode = ModeGlobal
		doc = l.rewriter.Resynthesize(ctx, in, st.Verdict.CriticalGaps)
		out.Sections = doc.SectionIDs()
		fresh := l.reviewer.Vote(ctx, subject(in, doc), nil, nil)
		if fresh.Responded() == 0 {
			return l.unverified(st, out)
		}
		ballots = critique.MergeDifferential(st.Ballots, fresh, nil)
	} else {
		out.Mode = ModeTargeted
		doc, out.Sections = l.targeted(ctx, in, st)
		if len(out.Sections) == 0 {
			out.Reason = "no section could be regenerated"
			metrics.RepairOutcomes.WithLabelValues(out.Mode, "skipped").Inc()
			l.logger.Warn("Repair: nothing regenerated, keeping original document")
			return st, out
		}
		fresh := l.reviewer.Vote(ctx, subject(in, doc), nil, out.Sections)
		if fresh.Responded() == 0 {
			return l.unverified(st, out)
		}
		ballots = critique.MergeDifferential(st.Ballots, fresh, out.Sections)
	}

	verdict := critique.Aggregate(ballots, l.rules)
	out.MajorAfter = verdict.MedianMajor
	if verdict.MedianMajor >= st.Verdict.MedianMajor {
		out.Reason = "median MAJOR count did not decrease"
		metrics.RepairOutcomes.WithLabelValues(out.Mode, "rejected").Inc()
		l.logger.Info("Repair: rejected by regression guard",
			zap.String("mode", out.Mode),
			zap.Int("major_before", out.MajorBefore),
			zap.Int("major_after", out.MajorAfter),
		)
		return st, out
	}

	out.Accepted = true
	metrics.RepairOutcomes.WithLabelValues(out.Mode, "accepted").Inc()
	l.logger.Info("Repair: accepted",
		zap.String("mode", out.Mode),
		zap.Strings("sections", out.Sections),
		zap.Int("major_before", out.MajorBefore),
		zap.Int("major_after", out.MajorAfter),
		zap.Bool("sufficient", verdict.Sufficient),
	)
	return State{Doc: doc, Verdict: verdict, Ballots: ballots}, out
}

// unverified rejects a repair no voter could re-review.
func (l *Loop) unverified(st State, out Outcome) (State, Outcome) {
	out.Reason = "no voter re-reviewed the repair"
	metrics.RepairOutcomes.WithLabelValues(out.Mode, "rejected").Inc()
	l.logger.Warn("Repair: rejected, re-vote produced no ballots", zap.String("mode", out.Mode))
	return st, out
}

// targeted regenerates each failing section, overview first so later
// sections are written against the corrected anchor. It returns the new
// document and the sections that actually changed.
func (l *Loop) targeted(ctx context.Context, in synthesis.Input, st State) (models.SynthesisOutput, []string) {
	doc := st.Doc.Clone()
	var changed []string
	for _, section := range repairOrder(st.Verdict.FailingSections, doc) {
		text, ok := l.rewriter.RegenerateSection(ctx, in, doc, section, sectionIssues(st.Ballots, section))
		if !ok {
			continue
		}
		if prev, _ := doc.Section(section); prev == text {
			continue
		}
		doc = doc.WithSection(section, text)
		changed = append(changed, section)
	}
	return doc, changed
}

func repairOrder(failing []string, doc models.SynthesisOutput) []string {
	var order []string
	if util.ContainsFold(failing, models.SectionOverview) {
		order = append(order, models.SectionOverview)
	}
	for _, s := range failing {
		if s == models.SectionOverview || s == models.SectionGlobal || !doc.HasSection(s) {
			continue
		}
		order = append(order, s)
	}
	return util.Dedup(order)
}

// sectionIssues collects the blocking critiques cited against a section,
// or every critique for it when none are blocking.
func sectionIssues(ballots critique.Ballots, section string) []string {
	var blocking, all []string
	for _, voter := range util.SortedKeys(ballots) {
		for _, c := range ballots[voter] {
			if c.Section != section {
				continue
			}
			all = append(all, c.Issue)
			if c.Category.Blocking() {
				blocking = append(blocking, c.Issue)
			}
		}
	}
	if len(blocking) > 0 {
		return util.Dedup(blocking)
	}
	return util.Dedup(all)
}

func subject(in synthesis.Input, doc models.SynthesisOutput) critique.Subject {
	return critique.Subject{Query: in.Query, Context: in.Context, Constraints: in.Options.Constraints, Doc: doc}
}
