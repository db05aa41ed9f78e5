// Package executor gathers evidence for a plan, gated by depth level.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/docs"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/structured"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// PaperSearcher finds papers for a query and never fails.
type PaperSearcher interface {
	Search(ctx context.Context, query string) []models.Paper
}

// Deps are the executor's collaborators. Any of Search, Papers and Docs may
// be nil; the matching tasks are then skipped.
type Deps struct {
	Search      search.Client
	Papers      PaperSearcher
	Docs        docs.Lookup
	Pool        *llm.Pool
	CallTimeout time.Duration
	MaxGapFills int
	Logger      *zap.Logger
}

// Executor runs the two gathering phases.
type Executor struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps) *Executor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxGapFills <= 0 {
		deps.MaxGapFills = 3
	}
	return &Executor{deps: deps, logger: deps.Logger}
}

// Task is one execution request.
type Task struct {
	Query   string
	Context string
	Plan    models.ActionPlan
	Depth   int
	Options models.ResearchOptions
}

// allowed reports whether tool t may run for this task.
func (t Task) allowed(tool models.Tool) bool {
	return models.EnabledAt(tool, t.Depth) && t.Plan.HasStep(tool) && !t.Plan.Skips(tool)
}

// subQuestionsAllowed: user-supplied sub-questions are searched whenever
// searching is planned at all.
func (t Task) subQuestionsAllowed() bool {
	if len(t.Options.SubQuestions) == 0 || !models.EnabledAt(models.ToolSubQuestions, t.Depth) {
		return false
	}
	if t.Plan.Skips(models.ToolSubQuestions) {
		return false
	}
	return t.Plan.HasStep(models.ToolSubQuestions) || t.Plan.HasStep(models.ToolWebSearch)
}

// Execute gathers evidence. Collaborator failures leave their slot empty;
// the result is always non-nil.
func (e *Executor) Execute(ctx context.Context, task Task) *models.ExecutionResult {
	task.Depth = models.ClampDepth(task.Depth)
	ctx, span := tracing.StartSpan(ctx, "executor.execute", attribute.Int("depth", task.Depth))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("execute").Observe(time.Since(start).Seconds()) }()

	res := &models.ExecutionResult{Depth: task.Depth, DocCache: map[string]string{}}
	e.phaseOne(ctx, task, res)

	if task.allowed(models.ToolReasoning) {
		res.DeepAnalysis = e.deepAnalysis(ctx, task, res)
	}
	if task.allowed(models.ToolConsensus) && res.DeepAnalysis != "" {
		res.Consensus = e.consensus(ctx, task, res.DeepAnalysis)
	}

	e.logger.Info("Executor: evidence gathered",
		zap.Int("depth", task.Depth),
		zap.Bool("web", !res.WebResult.Empty()),
		zap.Int("sub_questions", len(res.SubQuestionResults)),
		zap.Int("papers", len(res.AcademicPapers)),
		zap.Int("docs", len(res.LibraryDocs)),
		zap.Bool("analysis", res.DeepAnalysis != ""),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res
}

// phaseOne runs every permitted gathering task concurrently. Each member
// writes its own slot.
func (e *Executor) phaseOne(ctx context.Context, task Task, res *models.ExecutionResult) {
	var (
		web      *models.WebResult
		papers   []models.Paper
		libDocs  []models.LibraryDoc
		subs     []models.SubQuestionResult
		avoid    = task.Options.AvoidSources
		g, gctx  = errgroup.WithContext(ctx)
		docTopic = strings.Join(util.Keywords(task.Query, 4), " ")
	)

	if task.allowed(models.ToolWebSearch) && e.deps.Search != nil {
		g.Go(func() error {
			web = e.search(gctx, searchQuery(task.Query, task.Options.Constraints), avoid)
			return nil
		})
	}

	if task.allowed(models.ToolAcademicSearch) && e.deps.Papers != nil {
		g.Go(func() error {
			papers = e.deps.Papers.Search(gctx, task.Query)
			return nil
		})
	}

	if task.allowed(models.ToolLibraryDocs) && e.deps.Docs != nil {
		stack := util.Dedup(task.Options.TechStack)
		libDocs = make([]models.LibraryDoc, len(stack))
		for i, lib := range stack {
			g.Go(func() error {
				libDocs[i] = e.fetchDocs(gctx, lib, docTopic)
				return nil
			})
		}
	}

	if task.subQuestionsAllowed() && e.deps.Search != nil {
		subs = make([]models.SubQuestionResult, len(task.Options.SubQuestions))
		for i, sq := range task.Options.SubQuestions {
			g.Go(func() error {
				subs[i] = models.SubQuestionResult{
					ID:       sq.ID,
					Question: sq.Question,
					Web:      e.search(gctx, sq.Question, avoid),
				}
				return nil
			})
		}
	}

	_ = g.Wait()

	res.WebResult = web
	res.AcademicPapers = papers
	res.LibraryDocs = libDocs
	res.SubQuestionResults = subs
	for _, d := range libDocs {
		if d.Found {
			res.DocCache[d.Library] = d.Content
		}
	}
}

func searchQuery(query string, constraints []string) string {
	if len(constraints) == 0 {
		return query
	}
	return query + " " + strings.Join(constraints, " ")
}

func (e *Executor) search(ctx context.Context, query string, avoid []string) *models.WebResult {
	r, err := e.deps.Search.Search(ctx, query)
	if err != nil {
		e.logger.Warn("Executor: search failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	r = search.Exclude(r, avoid)
	return &r
}

func (e *Executor) fetchDocs(ctx context.Context, lib, topic string) models.LibraryDoc {
	doc := models.LibraryDoc{Library: lib, Topic: topic}
	content, err := e.deps.Docs.Fetch(ctx, lib, topic)
	switch {
	case docs.IsNotFound(err):
		e.logger.Info("Executor: no documentation", zap.String("library", lib))
	case err != nil:
		e.logger.Warn("Executor: documentation fetch failed", zap.String("library", lib), zap.Error(err))
	default:
		doc.Content = content
		doc.Found = true
	}
	return doc
}

func (e *Executor) deepAnalysis(ctx context.Context, task Task, res *models.ExecutionResult) string {
	prompt := fmt.Sprintf(`Research question: %s

%s
Evidence gathered so far:
%s

Reason step by step about what the evidence establishes, where sources disagree, and what remains uncertain. Write a concise analysis (no more than 400 words).`,
		task.Query, contextBlock(task.Context), res.EvidenceText(1500))
	return llm.TryGenerate(ctx, e.deps.Pool.Primary(), llm.Request{
		Component:   "deep_analysis",
		System:      "You are a careful research analyst.",
		Prompt:      prompt,
		Temperature: 0.4,
		Timeout:     e.deps.CallTimeout,
	}, e.logger)
}

type consensusVote struct {
	Agrees     *bool                `json:"agrees"`
	Confidence structured.FlexFloat `json:"confidence"`
	Note       string               `json:"note"`
}

// consensus asks every model whether it agrees with the analysis. Failed or
// unreadable votes are not counted.
func (e *Executor) consensus(ctx context.Context, task Task, analysis string) *models.ConsensusValidation {
	providers := e.deps.Pool.All()
	if len(providers) == 0 {
		return nil
	}
	votes := make([]*consensusVote, len(providers))
	prompt := fmt.Sprintf(`Research question: %s

Proposed analysis:
%s

Do you agree with the analysis's main conclusions? Return JSON: {"agrees": true|false, "confidence": 0-1, "note": "one sentence"}`,
		task.Query, analysis)

	g, gctx := errgroup.WithContext(ctx)
	for i, prov := range providers {
		g.Go(func() error {
			content := llm.TryGenerate(gctx, prov, llm.Request{
				Component:   "consensus",
				System:      "You independently validate research conclusions. Respond with JSON only.",
				Prompt:      prompt,
				Temperature: 0.2,
				Timeout:     e.deps.CallTimeout,
			}, e.logger)
			r := structured.Parse(content, consensusVote{})
			if r.Ok() && r.Value.Agrees != nil {
				v := r.Value
				votes[i] = &v
			}
			return nil
		})
	}
	_ = g.Wait()

	cv := &models.ConsensusValidation{}
	agree := 0
	for _, v := range votes {
		if v == nil {
			continue
		}
		cv.Votes++
		if *v.Agrees {
			agree++
		}
		if n := strings.TrimSpace(v.Note); n != "" {
			cv.Notes = append(cv.Notes, n)
		}
	}
	if cv.Votes > 0 {
		cv.Agreement = float64(agree) / float64(cv.Votes)
	}
	return cv
}

// FillGaps searches for each named gap, up to the configured maximum, and
// appends what it finds to res. It returns the number of gaps filled.
func (e *Executor) FillGaps(ctx context.Context, query string, res *models.ExecutionResult, gaps []string, avoid []string) int {
	if e.deps.Search == nil || res == nil {
		return 0
	}
	gaps = util.Dedup(gaps)
	if len(gaps) > e.deps.MaxGapFills {
		gaps = gaps[:e.deps.MaxGapFills]
	}
	fills := make([]models.GapFill, len(gaps))
	g, gctx := errgroup.WithContext(ctx)
	for i, gap := range gaps {
		g.Go(func() error {
			q := util.TruncateString(query+" "+gap, 300, true)
			fills[i] = models.GapFill{Gap: gap, Result: e.search(gctx, q, avoid)}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range fills {
		if f.Result.Empty() {
			continue
		}
		res.GapFills = append(res.GapFills, f)
		n++
	}
	e.logger.Info("Executor: gaps filled", zap.Int("requested", len(gaps)), zap.Int("filled", n))
	return n
}

func contextBlock(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return ""
	}
	return "Context:\n" + c + "\n"
}
