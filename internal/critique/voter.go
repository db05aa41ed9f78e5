package critique

import (
	"context"
	"fmt"
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

// Ballots maps a voter key to the critiques that voter emitted. A nil entry
// means the voter did not answer; an empty non-nil entry is a clean ballot.
type Ballots map[string][]models.CategorizedCritique

// Responded counts the voters that returned a usable ballot.
func (b Ballots) Responded() int {
	n := 0
	for _, list := range b {
		if list != nil {
			n++
		}
	}
	return n
}

// Voter polls every provider in the pool for categorized critiques.
type Voter struct {
	pool    *llm.Pool
	timeout time.Duration
	logger  *zap.Logger
}

func NewVoter(pool *llm.Pool, timeout time.Duration, logger *zap.Logger) *Voter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Voter{pool: pool, timeout: timeout, logger: logger}
}

// Keys returns the ballot key of every voter, in pool order. Duplicate
// provider names get a positional suffix.
func (v *Voter) Keys() []string {
	names := v.pool.Names()
	seen := make(map[string]int, len(names))
	keys := make([]string, len(names))
	for i, n := range names {
		seen[n]++
		if seen[n] > 1 {
			n = fmt.Sprintf("%s#%d", n, i)
		}
		keys[i] = n
	}
	return keys
}

type ballotJSON struct {
	Critiques []struct {
		Category string `json:"category"`
		Section  string `json:"section"`
		Issue    string `json:"issue"`
	} `json:"critiques"`
}

// Vote asks every voter to review s. A nil sections list reviews the whole
// document; otherwise only those sections are shown and critiques naming
// other sections are dropped. A voter whose call or reply fails gets a nil
// ballot.
func (v *Voter) Vote(ctx context.Context, s Subject, challenge []string, sections []string) Ballots {
	ctx, span := tracing.StartSpan(ctx, "critique.vote")
	defer span.End()
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("vote").Observe(time.Since(start).Seconds()) }()

	providers := v.pool.All()
	keys := v.Keys()
	results := make([][]models.CategorizedCritique, len(providers))
	prompt := votePrompt(s, challenge, sections)

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			content := llm.TryGenerate(gctx, p, llm.Request{
				Component:   "vote",
				System:      voteSystem,
				Prompt:      prompt,
				Temperature: 0.2,
				Timeout:     v.timeout,
			}, v.logger)
			results[i] = normalizeBallot(content, s.Doc, sections)
			return nil
		})
	}
	_ = g.Wait()

	out := make(Ballots, len(providers))
	for i, k := range keys {
		out[k] = results[i]
	}
	v.logger.Info("Voter: ballots collected",
		zap.Int("voters", len(out)),
		zap.Int("responded", out.Responded()),
		zap.Strings("sections", sections),
	)
	return out
}

func normalizeBallot(content string, doc models.SynthesisOutput, sections []string) []models.CategorizedCritique {
	if content == "" {
		return nil
	}
	r := structured.Parse(content, ballotJSON{})
	if !r.Ok() {
		metrics.ParseFallbacks.WithLabelValues("voter").Inc()
		return nil
	}
	out := []models.CategorizedCritique{}
	var allowed map[string]bool
	if sections != nil {
		allowed = make(map[string]bool, len(sections))
		for _, s := range sections {
			allowed[s] = true
		}
	}
	for _, c := range r.Value.Critiques {
		issue := strings.TrimSpace(c.Issue)
		if issue == "" {
			continue
		}
		sev, ok := models.ParseSeverity(c.Category)
		if !ok {
			sev = models.SeverityMinor
		}
		section := strings.TrimSpace(c.Section)
		switch {
		case section == "":
			section = models.SectionOverview
		case strings.EqualFold(section, models.SectionGlobal):
			section = models.SectionGlobal
		case !doc.HasSection(section):
			section = models.SectionOverview
		}
		if allowed != nil && !allowed[section] {
			continue
		}
		out = append(out, models.CategorizedCritique{Category: sev, Section: section, Issue: issue})
	}
	return out
}

const voteSystem = `You are one of several independent reviewers judging whether a research report is sufficient.
Classify every issue you find:
- CRITICAL: the report is broken for its purpose (wrong answer, non-working code, missing success criteria)
- MAJOR: a substantive gap or unsupported claim
- MINOR: a small omission or imprecision
- PEDANTIC: style or wording
Name the section id each issue belongs to (the id in brackets), or "global" for report-wide problems.
Respond with JSON only: {"critiques": [{"category": "MAJOR", "section": "overview", "issue": "..."}]}`

func votePrompt(s Subject, challenge []string, sections []string) string {
	var b strings.Builder
	b.WriteString(subjectPrompt(s, sections))
	if len(challenge) > 0 {
		b.WriteString("\n\nA first reviewer raised:\n")
		for _, c := range challenge {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("Confirm or reject these and add your own findings.")
	}
	return b.String()
}
