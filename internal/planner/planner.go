// Package planner turns a research query into an ActionPlan by polling every
// configured model and arbitrating between their proposals.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/structured"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// Input is what the planner sees of a request.
type Input struct {
	Query   string
	Context string
	Options models.ResearchOptions
	// Depth is the caller's requested depth level, 0 when unset. It only
	// steers the static fallback.
	Depth int
}

// Planner produces one ActionPlan per query.
type Planner struct {
	pool    *llm.Pool
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a planner over pool. timeout bounds each proposal and the
// judge call; zero uses the provider default.
func New(pool *llm.Pool, timeout time.Duration, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{pool: pool, timeout: timeout, logger: logger}
}

// candidate is one model's normalized proposal.
type candidate struct {
	provider   string
	plan       models.ActionPlan
	confidence float64
}

// Plan never fails. Without providers, without any usable proposal, or
// when the judge call errors it returns the static fallback plan.
func (p *Planner) Plan(ctx context.Context, in Input) models.ActionPlan {
	ctx, span := tracing.StartSpan(ctx, "planner.plan")
	defer span.End()
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("plan").Observe(time.Since(start).Seconds()) }()

	providers := p.pool.All()
	if len(providers) == 0 {
		return p.finish(FallbackPlan(in, "no inference provider configured"), in)
	}

	proposals := make([]*candidate, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, prov := range providers {
		g.Go(func() error {
			proposals[i] = p.propose(gctx, prov, in)
			return nil
		})
	}
	_ = g.Wait()

	var cands []candidate
	for _, c := range proposals {
		if c != nil {
			cands = append(cands, *c)
		}
	}
	metrics.PlanCandidates.Observe(float64(len(cands)))
	p.logger.Info("Planner: proposals collected",
		zap.Int("providers", len(providers)),
		zap.Int("candidates", len(cands)),
	)

	switch len(cands) {
	case 0:
		return p.finish(FallbackPlan(in, "no model produced a usable plan"), in)
	case 1:
		plan := cands[0].plan
		plan.Source = models.PlanSourceSingle
		return p.finish(plan, in)
	}

	scoreCandidates(cands)
	idx, err := p.judge(ctx, providers[0], in, cands)
	if err != nil {
		p.logger.Warn("Planner: judge call failed, using fallback plan", zap.Error(err))
		return p.finish(FallbackPlan(in, "plan arbitration failed"), in)
	}
	if idx < 0 || idx >= len(cands) {
		best := bestByConfidence(cands)
		p.logger.Info("Planner: judge output unusable, picking highest confidence",
			zap.Int("judge_index", idx),
			zap.String("provider", cands[best].provider),
		)
		plan := cands[best].plan
		plan.Source = models.PlanSourceHeuristic
		return p.finish(plan, in)
	}
	plan := cands[idx].plan
	plan.Source = models.PlanSourceConsensus
	return p.finish(plan, in)
}

func (p *Planner) finish(plan models.ActionPlan, in Input) models.ActionPlan {
	plan = plan.Capped(in.Options.MaxDepth)
	if plan.IncludeCodeExamples == nil && in.Options.IncludeCodeExamples != nil {
		v := *in.Options.IncludeCodeExamples
		plan.IncludeCodeExamples = &v
	}
	metrics.PlanSelections.WithLabelValues(plan.Source).Inc()
	p.logger.Info("Planner: plan selected",
		zap.String("source", plan.Source),
		zap.Int("complexity", plan.Complexity),
		zap.Any("steps", plan.Steps),
	)
	return plan
}

// rawPlan is the wire shape of a proposal.
type rawPlan struct {
	Complexity          structured.FlexInt `json:"complexity"`
	Reasoning           string             `json:"reasoning"`
	Steps               []string           `json:"steps"`
	ToolsToSkip         []string           `json:"toolsToSkip"`
	IncludeCodeExamples *bool              `json:"includeCodeExamples"`
	OutputFormat        string             `json:"outputFormat"`
}

func (p *Planner) propose(ctx context.Context, prov llm.Provider, in Input) *candidate {
	content := llm.TryGenerate(ctx, prov, llm.Request{
		Component:   "planner",
		System:      plannerSystem,
		Prompt:      planningPrompt(in),
		Temperature: 0.3,
		Timeout:     p.timeout,
	}, p.logger)
	if strings.TrimSpace(content) == "" {
		return nil
	}
	res := structured.Parse(content, rawPlan{})
	raw := res.Value
	if !res.Ok() {
		metrics.ParseFallbacks.WithLabelValues("planner").Inc()
		var ok bool
		raw, ok = recoverPartial(content)
		if !ok {
			p.logger.Warn("Planner: proposal unreadable", zap.String("provider", prov.Name()))
			return nil
		}
	}
	plan := Normalize(raw.toPlan())
	return &candidate{provider: prov.Name(), plan: plan}
}

func (r rawPlan) toPlan() models.ActionPlan {
	plan := models.ActionPlan{
		Complexity:          int(r.Complexity),
		Reasoning:           strings.TrimSpace(r.Reasoning),
		IncludeCodeExamples: r.IncludeCodeExamples,
		OutputFormat:        strings.TrimSpace(r.OutputFormat),
	}
	for _, s := range r.Steps {
		plan.Steps = append(plan.Steps, models.Tool(s))
	}
	for _, s := range r.ToolsToSkip {
		plan.ToolsToSkip = append(plan.ToolsToSkip, models.Tool(s))
	}
	return plan
}

// recoverPartial pulls individual fields out of a response the parser could
// not decode. A result needs at least a complexity or one step.
func recoverPartial(content string) (rawPlan, bool) {
	var r rawPlan
	c, hasComplexity := structured.IntField(content, "complexity")
	r.Complexity = structured.FlexInt(c)
	r.Reasoning, _ = structured.StringField(content, "reasoning")
	r.Steps = structured.StringListField(content, "steps")
	r.ToolsToSkip = structured.StringListField(content, "toolsToSkip")
	r.OutputFormat, _ = structured.StringField(content, "outputFormat")
	if v, ok := structured.BoolField(content, "includeCodeExamples"); ok {
		r.IncludeCodeExamples = &v
	}
	return r, hasComplexity || len(r.Steps) > 0
}

// Normalize clamps complexity, canonicalizes and de-duplicates step names,
// drops unknown and skipped tools, and filters steps by the gating table at
// the plan's own complexity.
func Normalize(plan models.ActionPlan) models.ActionPlan {
	out := plan
	if out.Complexity == 0 {
		out.Complexity = 2
	}
	out.Complexity = models.ClampDepth(out.Complexity)

	out.ToolsToSkip = canonicalTools(plan.ToolsToSkip)
	out.Steps = nil
	for _, t := range canonicalTools(plan.Steps) {
		if out.Skips(t) || !models.EnabledAt(t, out.Complexity) {
			continue
		}
		out.Steps = append(out.Steps, t)
	}
	return out
}

var toolAliases = map[string]models.Tool{
	"search":            models.ToolWebSearch,
	"websearch":         models.ToolWebSearch,
	"web":               models.ToolWebSearch,
	"reasoning":         models.ToolReasoning,
	"analysis":          models.ToolReasoning,
	"deepanalysis":      models.ToolReasoning,
	"docs":              models.ToolLibraryDocs,
	"documentation":     models.ToolLibraryDocs,
	"librarydocs":       models.ToolLibraryDocs,
	"academic":          models.ToolAcademicSearch,
	"papers":            models.ToolAcademicSearch,
	"arxiv":             models.ToolAcademicSearch,
	"academicsearch":    models.ToolAcademicSearch,
	"subquestions":      models.ToolSubQuestions,
	"consensus":         models.ToolConsensus,
	"multimodel":        models.ToolConsensus,
	"challenge":         models.ToolChallenge,
	"critique":          models.ToolChallenge,
	"consensusvalidate": models.ToolConsensus,
}

func canonicalTools(in []models.Tool) []models.Tool {
	seen := make(map[models.Tool]struct{})
	var out []models.Tool
	for _, raw := range in {
		t := canonicalTool(string(raw))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func canonicalTool(s string) models.Tool {
	s = strings.ToLower(strings.TrimSpace(s))
	if t := models.Tool(s); t.IsKnown() {
		return t
	}
	squashed := strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	return toolAliases[squashed]
}

// scoreCandidates sets each candidate's heuristic confidence from step
// coverage, reasoning substance and agreement with the other proposals.
func scoreCandidates(cands []candidate) {
	for i := range cands {
		plan := cands[i].plan
		enabled := len(models.ToolsForDepth(plan.Complexity))
		coverage := 0.0
		if enabled > 0 {
			coverage = float64(len(plan.Steps)) / float64(enabled)
		}
		reasoning := float64(len(plan.Reasoning)) / 200.0
		if reasoning > 1 {
			reasoning = 1
		}
		agree := 0
		for j := range cands {
			if j != i && cands[j].plan.Complexity == plan.Complexity {
				agree++
			}
		}
		agreement := float64(agree) / float64(len(cands)-1)
		cands[i].confidence = 0.4*coverage + 0.2*reasoning + 0.4*agreement
	}
}

// bestByConfidence returns the index of the highest-confidence candidate;
// ties keep the earliest.
func bestByConfidence(cands []candidate) int {
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].confidence > cands[best].confidence {
			best = i
		}
	}
	return best
}

type judgeChoice struct {
	Index *structured.FlexInt `json:"index"`
}

var firstInt = regexp.MustCompile(`-?\d+`)

// judge asks the primary model to pick a candidate. A transport error is
// returned; unreadable output yields -1.
func (p *Planner) judge(ctx context.Context, prov llm.Provider, in Input, cands []candidate) (int, error) {
	resp, err := prov.Generate(ctx, llm.Request{
		Component:   "plan_judge",
		System:      judgeSystem,
		Prompt:      judgePrompt(in, cands),
		Temperature: 0.1,
		Timeout:     p.timeout,
	})
	if err != nil {
		return -1, err
	}
	res := structured.Parse(resp.Content, judgeChoice{})
	if res.Ok() && res.Value.Index != nil {
		return int(*res.Value.Index), nil
	}
	if m := firstInt.FindString(resp.Content); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n, nil
		}
	}
	return -1, nil
}

// FallbackPlan is the static plan used when no model-produced plan is
// available.
func FallbackPlan(in Input, why string) models.ActionPlan {
	depth := in.Depth
	if depth <= 0 {
		depth = EstimateComplexity(in.Query, in.Options)
	}
	depth = models.ClampDepth(depth)

	var steps []models.Tool
	for _, t := range []models.Tool{models.ToolWebSearch, models.ToolReasoning, models.ToolLibraryDocs, models.ToolSubQuestions, models.ToolChallenge} {
		if !models.EnabledAt(t, depth) {
			continue
		}
		if t == models.ToolLibraryDocs && len(in.Options.TechStack) == 0 {
			continue
		}
		if t == models.ToolSubQuestions && len(in.Options.SubQuestions) == 0 {
			continue
		}
		steps = append(steps, t)
	}
	plan := models.ActionPlan{
		Complexity: depth,
		Reasoning:  fmt.Sprintf("Fallback plan (%s): depth %d heuristic steps.", why, depth),
		Steps:      steps,
		Source:     models.PlanSourceFallback,
	}
	if len(in.Options.TechStack) > 0 {
		yes := true
		plan.IncludeCodeExamples = &yes
	}
	return plan
}

// EstimateComplexity guesses a depth from the shape of the request.
func EstimateComplexity(query string, opts models.ResearchOptions) int {
	depth := 2
	words := len(strings.Fields(query))
	if words <= 6 && len(opts.SubQuestions) == 0 && len(opts.TechStack) == 0 {
		depth = 1
	}
	if len(opts.TechStack) > 0 {
		depth = 3
	}
	if len(opts.SubQuestions) >= 3 || words > 40 {
		depth++
	}
	return models.ClampDepth(depth)
}
