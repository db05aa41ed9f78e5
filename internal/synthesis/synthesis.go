// Package synthesis turns gathered evidence into a structured answer.
//
// Without sub-questions one call writes the whole document. With
// sub-questions synthesis is phased: the overview is written first, reduced
// to a token-budgeted digest, and every sub-answer is then written
// concurrently against that digest and the fact manifest so sections agree
// with each other.
package synthesis

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/structured"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// NoAnswer fills a sub-answer whose generation failed.
const NoAnswer = "No answer could be generated from the gathered evidence."

// Options tune the synthesizer.
type Options struct {
	DigestTokenBudget int
	CallTimeout       time.Duration
	MaxOutputTokens   int
	Tokens            *llm.TokenCounter
	Logger            *zap.Logger
}

type Synthesizer struct {
	pool   *llm.Pool
	opts   Options
	logger *zap.Logger
}

func New(pool *llm.Pool, opts Options) *Synthesizer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DigestTokenBudget <= 0 {
		opts.DigestTokenBudget = 1500
	}
	if opts.Tokens == nil {
		opts.Tokens = llm.NewTokenCounter()
	}
	return &Synthesizer{pool: pool, opts: opts, logger: opts.Logger}
}

// Input is everything a synthesis call may draw on.
type Input struct {
	Query    string
	Context  string
	Options  models.ResearchOptions
	Plan     models.ActionPlan
	Evidence *models.ExecutionResult
	Manifest models.GlobalManifest
	// Mandatory lists requirements the answer must address, such as gaps
	// carried into a full re-synthesis.
	Mandatory []string
}

type documentJSON struct {
	Overview           string `json:"overview"`
	AdditionalInsights string `json:"additionalInsights"`
}

// Synthesize writes the document. It never fails; a failed overview call
// yields an empty overview.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) models.SynthesisOutput {
	phased := len(in.Options.SubQuestions) > 0
	ctx, span := tracing.StartSpan(ctx, "synthesis.synthesize", attribute.Bool("phased", phased))
	defer span.End()
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("synthesis").Observe(time.Since(start).Seconds()) }()

	component := "synthesis"
	if phased {
		component = "synthesis_overview"
	}
	content := s.generate(ctx, component, synthSystem, documentPrompt(in), 0.5)
	doc := parseDocument(content)
	if !phased {
		s.logger.Info("Synthesizer: single-pass document written",
			zap.Int("overview_len", len(doc.Overview)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return doc
	}

	digest := s.Digest(doc.Overview)
	answers := make([]models.SubAnswer, len(in.Options.SubQuestions))
	g, gctx := errgroup.WithContext(ctx)
	for i, sq := range in.Options.SubQuestions {
		g.Go(func() error {
			answers[i] = models.SubAnswer{
				Question: sq.Question,
				Answer:   s.subAnswer(gctx, in, sq, digest),
			}
			return nil
		})
	}
	_ = g.Wait()

	doc.SubQuestions = make(map[string]models.SubAnswer, len(answers))
	for i, sq := range in.Options.SubQuestions {
		doc.SubQuestions[sq.ID] = answers[i]
		doc.Order = append(doc.Order, sq.ID)
	}
	s.logger.Info("Synthesizer: phased document written",
		zap.Int("sub_answers", len(answers)),
		zap.Int("digest_tokens", s.opts.Tokens.Count(digest)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return doc
}

// Digest cuts the overview to the configured token budget.
func (s *Synthesizer) Digest(overview string) string {
	return s.opts.Tokens.Truncate(strings.TrimSpace(overview), s.opts.DigestTokenBudget)
}

func (s *Synthesizer) subAnswer(ctx context.Context, in Input, sq models.SubQuestion, anchor string) string {
	content := strings.TrimSpace(s.generate(ctx, "synthesis_subanswer", subAnswerSystem, subAnswerPrompt(in, sq, anchor, nil), 0.4))
	if content == "" {
		return NoAnswer
	}
	return content
}

// Resynthesize rewrites the whole document with gaps as mandatory
// requirements.
func (s *Synthesizer) Resynthesize(ctx context.Context, in Input, gaps []string) models.SynthesisOutput {
	in.Mandatory = append(append([]string(nil), in.Mandatory...), gaps...)
	return s.Synthesize(ctx, in)
}

// RegenerateSection rewrites one section under a minimal-edit instruction.
// It reports false when the call failed and the section should be kept.
func (s *Synthesizer) RegenerateSection(ctx context.Context, in Input, doc models.SynthesisOutput, section string, critiques []string) (string, bool) {
	current, ok := doc.Section(section)
	if !ok {
		return "", false
	}
	ctx, span := tracing.StartSpan(ctx, "synthesis.regenerate", attribute.String("section", section))
	defer span.End()

	content := strings.TrimSpace(s.generate(ctx, "repair_section", repairSystem,
		repairPrompt(in, doc, section, current, critiques), 0.2))
	if content == "" {
		return "", false
	}
	return content, true
}

// RerollSubAnswers regenerates the listed sub-answers concurrently with the
// overview as a fixed anchor and manifest values mandated. Only listed
// sub-question sections can change; the overview is never rewritten.
func (s *Synthesizer) RerollSubAnswers(ctx context.Context, in Input, doc models.SynthesisOutput, ids []string, conflicts map[string][]string) models.SynthesisOutput {
	ctx, span := tracing.StartSpan(ctx, "synthesis.reroll", attribute.Int("sections", len(ids)))
	defer span.End()

	var targets []string
	for _, id := range ids {
		if _, ok := doc.SubQuestions[id]; ok {
			targets = append(targets, id)
		}
	}
	rerolled := make([]string, len(targets))
	anchor := s.Digest(doc.Overview)
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range targets {
		sq := models.SubQuestion{ID: id, Question: doc.SubQuestions[id].Question}
		fix := conflicts[id]
		if len(fix) == 0 {
			fix = []string{"The previous answer contradicted the overview or the manifest."}
		}
		g.Go(func() error {
			text := strings.TrimSpace(s.generate(gctx, "pvr_reroll", subAnswerSystem, subAnswerPrompt(in, sq, anchor, fix), 0.3))
			rerolled[i] = text
			return nil
		})
	}
	_ = g.Wait()

	out := doc
	for i, id := range targets {
		if rerolled[i] == "" {
			continue
		}
		out = out.WithSection(id, rerolled[i])
	}
	return out
}

func (s *Synthesizer) generate(ctx context.Context, component, system, prompt string, temperature float64) string {
	return llm.TryGenerate(ctx, s.pool.Primary(), llm.Request{
		Component:       component,
		System:          system,
		Prompt:          prompt,
		Temperature:     temperature,
		Timeout:         s.opts.CallTimeout,
		MaxOutputTokens: s.opts.MaxOutputTokens,
	}, s.logger)
}

// parseDocument reads the overview JSON. Prose output is taken as the
// overview itself.
func parseDocument(content string) models.SynthesisOutput {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.SynthesisOutput{}
	}
	r := structured.Parse(content, documentJSON{})
	if !r.Ok() || strings.TrimSpace(r.Value.Overview) == "" {
		metrics.ParseFallbacks.WithLabelValues("synthesis").Inc()
		return models.SynthesisOutput{Overview: content}
	}
	return models.SynthesisOutput{
		Overview:           strings.TrimSpace(r.Value.Overview),
		AdditionalInsights: strings.TrimSpace(r.Value.AdditionalInsights),
	}
}
