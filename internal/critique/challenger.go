// Package critique reviews a synthesized document: one challenger pass that
// decides whether review is needed, then a multi-model vote aggregated under
// the HCSP severity rules.
package critique

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/structured"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// Subject is the document under review and what it was asked to answer.
type Subject struct {
	Query       string
	Context     string
	Constraints []string
	Doc         models.SynthesisOutput
}

type Challenger struct {
	provider llm.Provider
	timeout  time.Duration
	logger   *zap.Logger
}

func NewChallenger(provider llm.Provider, timeout time.Duration, logger *zap.Logger) *Challenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Challenger{provider: provider, timeout: timeout, logger: logger}
}

type challengeJSON struct {
	Critiques          []string `json:"critiques"`
	HasSignificantGaps *bool    `json:"hasSignificantGaps"`
}

// Challenge runs one critique pass over the whole document. When the pass
// fails the result reports gaps so the vote still runs.
func (c *Challenger) Challenge(ctx context.Context, s Subject) models.ChallengeResult {
	ctx, span := tracing.StartSpan(ctx, "critique.challenge")
	defer span.End()

	content := llm.TryGenerate(ctx, c.provider, llm.Request{
		Component:   "challenge",
		System:      challengeSystem,
		Prompt:      subjectPrompt(s, nil),
		Temperature: 0.3,
		Timeout:     c.timeout,
	}, c.logger)
	if content == "" {
		metrics.RecordCollaborator("challenger", "error")
		return models.ChallengeResult{Critiques: []string{}, HasSignificantGaps: true}
	}

	var out models.ChallengeResult
	r := structured.Parse(content, challengeJSON{})
	if r.Ok() && r.Value.HasSignificantGaps != nil {
		out = models.ChallengeResult{Critiques: r.Value.Critiques, HasSignificantGaps: *r.Value.HasSignificantGaps}
	} else {
		metrics.ParseFallbacks.WithLabelValues("challenger").Inc()
		gaps, ok := structured.BoolField(content, "hasSignificantGaps")
		out = models.ChallengeResult{
			Critiques:          structured.StringListField(content, "critiques"),
			HasSignificantGaps: gaps || !ok,
		}
	}
	out.Critiques = util.Dedup(out.Critiques)
	metrics.RecordCollaborator("challenger", "success")
	c.logger.Info("Challenger: review complete",
		zap.Int("critiques", len(out.Critiques)),
		zap.Bool("significant_gaps", out.HasSignificantGaps),
	)
	return out
}

const challengeSystem = `You are a demanding reviewer of research reports.
Find gaps, unsupported claims and ignored constraints. Ignore style.
Respond with JSON only: {"critiques": ["..."], "hasSignificantGaps": true|false}
Set hasSignificantGaps to false only if the report fully answers the question.`

// subjectPrompt renders the review target. A non-nil sections list limits
// the document to those sections.
func subjectPrompt(s Subject, sections []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", s.Query)
	if c := strings.TrimSpace(s.Context); c != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", c)
	}
	if len(s.Constraints) > 0 {
		fmt.Fprintf(&b, "\nConstraints the report must honor: %s\n", strings.Join(s.Constraints, "; "))
	}
	b.WriteString("\nREPORT:\n")
	if sections == nil {
		b.WriteString(s.Doc.Text())
		return b.String()
	}
	for i, id := range sections {
		body, ok := s.Doc.Section(id)
		if !ok {
			continue
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## [%s] %s\n%s", id, s.Doc.SectionTitle(id), body)
	}
	return b.String()
}
