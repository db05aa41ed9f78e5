// Package pipeline runs a research question end to end: plan, gather,
// synthesize, verify, critique and repair.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/critique"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/docs"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/executor"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/manifest"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/planner"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/pvr"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/repair"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/synthesis"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

var (
	// ErrNoProviders is returned before any work when the model pool is
	// empty.
	ErrNoProviders = errors.New("pipeline: no text-generation providers configured")
	ErrEmptyQuery  = errors.New("pipeline: empty query")
)

const summaryLen = 600

// Progress checkpoints, in order.
var steps = []string{"planning", "gathering", "manifest", "synthesizing", "verifying", "challenging", "voting", "repairing", "formatting"}

// Settings supplies the tunable thresholds. config.Watcher implements it so
// edits to the config file apply to the next run.
type Settings interface {
	Pipeline() config.PipelineConfig
}

// StaticSettings is a fixed Settings value.
type StaticSettings config.PipelineConfig

func (s StaticSettings) Pipeline() config.PipelineConfig { return config.PipelineConfig(s) }

// Deps are the collaborators shared by every run. Search, Papers and Docs
// are optional.
type Deps struct {
	Pool     *llm.Pool
	Search   search.Client
	Papers   executor.PaperSearcher
	Docs     docs.Lookup
	Settings Settings
	Tokens   *llm.TokenCounter
	Observer Observer
	Logger   *zap.Logger
}

type Pipeline struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Settings == nil {
		deps.Settings = StaticSettings{}
	}
	if deps.Tokens == nil {
		deps.Tokens = llm.NewTokenCounter()
	}
	return &Pipeline{deps: deps, logger: deps.Logger}
}

// Request is one research question.
type Request struct {
	Query           string
	EnrichedContext string
	// DepthLevel forces the depth; nil lets the plan decide.
	DepthLevel *int
	Options    models.ResearchOptions
}

// Structured is the machine-readable result.
type Structured struct {
	Synthesis models.SynthesisOutput    `json:"synthesis"`
	Challenge models.ChallengeResult    `json:"challenge"`
	Verdict   models.SufficiencyVerdict `json:"verdict"`
	PVR       models.PVRResult          `json:"pvr"`
	Plan      models.ActionPlan         `json:"plan"`
	Manifest  models.GlobalManifest     `json:"manifest"`
	Repair    repair.Outcome            `json:"repair"`
	Sources   []string                  `json:"sources"`
	Depth     int                       `json:"depth"`
	Counters  Counters                  `json:"counters"`
}

type Result struct {
	RunID            string               `json:"runId"`
	Markdown         string               `json:"markdown"`
	Structured       Structured           `json:"structured"`
	Sections         []formatting.Section `json:"sections"`
	ExecutiveSummary string               `json:"executiveSummary"`
}

// run carries the per-run components, all built over a counting pool.
type run struct {
	id     string
	cfg    config.PipelineConfig
	state  *RunState
	pool   *llm.Pool
	logger *zap.Logger
	step   int
}

func (p *Pipeline) progress(r *run) {
	if r.step < len(steps) {
		p.deps.Observer.OnProgress(steps[r.step], len(steps)-r.step-1)
	}
	r.step++
}

// Run answers req. Only a missing provider pool or an empty query is an
// error; every collaborator failure degrades to a partial answer.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.deps.Pool.Len() == 0 {
		return nil, ErrNoProviders
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}

	start := time.Now()
	r := &run{id: uuid.New().String(), cfg: p.deps.Settings.Pipeline(), state: &RunState{}}
	r.pool = r.state.wrap(p.deps.Pool)
	r.logger = p.logger.With(zap.String("run_id", r.id))

	ctx, span := tracing.StartSpan(ctx, "pipeline.run", attribute.String("run_id", r.id))
	defer span.End()
	r.logger.Info("Pipeline: run started",
		zap.String("query", req.Query),
		zap.Int("sub_questions", len(req.Options.SubQuestions)),
		zap.Strings("providers", p.deps.Pool.Names()),
	)

	// plan
	p.progress(r)
	requested := 0
	if req.DepthLevel != nil {
		requested = models.ClampDepth(*req.DepthLevel)
	}
	plan := planner.New(r.pool, r.cfg.CallTimeout, r.logger).Plan(ctx, planner.Input{
		Query:   req.Query,
		Context: req.EnrichedContext,
		Options: req.Options,
		Depth:   requested,
	})
	depth := plan.Complexity
	if requested > 0 {
		depth = requested
	}
	if req.Options.MaxDepth > 0 {
		depth = min(depth, models.ClampDepth(req.Options.MaxDepth))
	}
	plan = atDepth(plan, depth)

	// gather
	p.progress(r)
	exec := executor.New(executor.Deps{
		Search:      p.deps.Search,
		Papers:      p.deps.Papers,
		Docs:        p.deps.Docs,
		Pool:        r.pool,
		CallTimeout: r.cfg.CallTimeout,
		MaxGapFills: r.cfg.MaxGapFills,
		Logger:      r.logger,
	})
	evidence := exec.Execute(ctx, executor.Task{
		Query:   req.Query,
		Context: req.EnrichedContext,
		Plan:    plan,
		Depth:   depth,
		Options: req.Options,
	})

	// manifest
	p.progress(r)
	fm := manifest.New(r.pool.Primary(), r.cfg.CallTimeout, r.logger).Extract(ctx, req.Query, evidence)

	// synthesize
	p.progress(r)
	synth := synthesis.New(r.pool, synthesis.Options{
		DigestTokenBudget: r.cfg.DigestTokenBudget,
		CallTimeout:       r.cfg.CallTimeout,
		MaxOutputTokens:   r.cfg.MaxOutputTokens,
		Tokens:            p.deps.Tokens,
		Logger:            r.logger,
	})
	in := synthesis.Input{
		Query:    req.Query,
		Context:  req.EnrichedContext,
		Options:  req.Options,
		Plan:     plan,
		Evidence: evidence,
		Manifest: fm,
	}
	doc := synth.Synthesize(ctx, in)

	// verify
	p.progress(r)
	checker := pvr.New(r.pool.Primary(), synth, pvr.Options{
		EntailmentThreshold: r.cfg.EntailmentThreshold,
		RerollSeverity:      r.cfg.RerollSeverity,
		CallTimeout:         r.cfg.CallTimeout,
		Logger:              r.logger,
	})
	consistency := checker.Check(ctx, doc, fm)
	if !consistency.Skipped {
		r.state.checksRun.Add(1)
	}
	if !consistency.IsConsistent {
		doc, consistency = checker.Reconcile(ctx, in, doc, consistency)
		if len(consistency.Rerolled) > 0 {
			r.state.checksRun.Add(1)
			r.state.rerolls.Add(int64(len(consistency.Rerolled)))
		}
	}

	// challenge and vote
	p.progress(r)
	subject := critique.Subject{Query: req.Query, Context: req.EnrichedContext, Constraints: req.Options.Constraints, Doc: doc}
	rules := critique.Rules{MajorCeiling: r.cfg.MajorCeiling, GlobalSpread: r.cfg.GlobalSpreadSections}
	voter := critique.NewVoter(r.pool, r.cfg.CallTimeout, r.logger)

	var challenge models.ChallengeResult
	if plan.Skips(models.ToolChallenge) {
		challenge = models.ChallengeResult{Critiques: []string{}}
	} else {
		challenge = critique.NewChallenger(r.pool.Primary(), r.cfg.CallTimeout, r.logger).Challenge(ctx, subject)
	}

	p.progress(r)
	st := repair.State{Doc: doc}
	if challenge.HasSignificantGaps {
		st.Ballots = voter.Vote(ctx, subject, challenge.Critiques, nil)
		st.Verdict = critique.Aggregate(st.Ballots, rules)
	} else {
		st.Verdict = models.SufficiencyVerdict{
			Sufficient:           true,
			ShortCircuited:       true,
			CriticalGaps:         []string{},
			StylisticPreferences: []string{},
			FailingSections:      []string{},
		}
		r.logger.Info("Pipeline: no significant gaps, vote skipped")
	}

	// repair
	p.progress(r)
	outcome := repair.Outcome{Mode: repair.ModeNone, MajorBefore: st.Verdict.MedianMajor, MajorAfter: st.Verdict.MedianMajor}
	if !st.Verdict.Sufficient {
		r.state.repairs.Add(1)
		st, outcome = repair.New(exec, synth, voter, rules, r.logger).Run(ctx, in, st)
	}

	// format
	p.progress(r)
	sources := evidence.Sources()
	res := &Result{
		RunID: r.id,
		Markdown: formatting.Render(st.Doc, sources, formatting.Options{
			Title:      req.Query,
			Notes:      notes(consistency, st.Verdict),
			SummaryLen: summaryLen,
		}),
		Sections:         formatting.Sections(st.Doc),
		ExecutiveSummary: formatting.ExecutiveSummary(st.Doc, summaryLen),
		Structured: Structured{
			Synthesis: st.Doc,
			Challenge: challenge,
			Verdict:   st.Verdict,
			PVR:       consistency,
			Plan:      plan,
			Manifest:  fm,
			Repair:    outcome,
			Sources:   sources,
			Depth:     depth,
			Counters:  r.state.Snapshot(),
		},
	}

	status := "sufficient"
	if !st.Verdict.Sufficient {
		status = "insufficient"
	}
	metrics.RecordPipeline(status, time.Since(start).Seconds())
	r.logger.Info("Pipeline: run finished",
		zap.String("plan_source", plan.Source),
		zap.Int("depth", depth),
		zap.Bool("sufficient", st.Verdict.Sufficient),
		zap.Bool("repaired", outcome.Accepted),
		zap.Int64("provider_calls", res.Structured.Counters.ProviderCalls),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// atDepth moves plan to depth. Raising it enables every tool gated at the
// new depth unless the plan skips it.
func atDepth(plan models.ActionPlan, depth int) models.ActionPlan {
	if depth <= plan.Complexity {
		return plan.Capped(depth)
	}
	out := plan
	out.Complexity = depth
	out.Steps = append([]models.Tool(nil), plan.Steps...)
	for _, t := range models.ToolsForDepth(depth) {
		if !out.HasStep(t) && !out.Skips(t) {
			out.Steps = append(out.Steps, t)
		}
	}
	return out
}

func notes(c models.PVRResult, v models.SufficiencyVerdict) []string {
	var out []string
	if !c.Skipped && !c.IsConsistent && len(c.Contradictions) > 0 {
		out = append(out, fmt.Sprintf("%d contradiction(s) between sections could not be resolved.", len(c.Contradictions)))
	}
	if !v.Sufficient {
		out = append(out, fmt.Sprintf("Reviewers judged this answer incomplete (%d critical issue(s), median %d major).", v.CriticalCount, v.MedianMajor))
	}
	return out
}
