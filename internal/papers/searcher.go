package papers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/structured"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const (
	maxKeywords   = 5
	maxCategories = 3
)

// Searcher turns a research query into relevant papers. Every index request
// passes through one shared Spacer.
type Searcher struct {
	index      Index
	spacer     *ratecontrol.Spacer
	backoff    ratecontrol.Backoff
	maxResults int
	judge      llm.Provider
	timeout    time.Duration
	logger     *zap.Logger
}

// SearcherOptions configures a Searcher. Judge may be nil, in which case
// relevance is checked lexically. JudgeTimeout bounds each judge call.
type SearcherOptions struct {
	Spacer       *ratecontrol.Spacer
	Backoff      ratecontrol.Backoff
	MaxResults   int
	Judge        llm.Provider
	JudgeTimeout time.Duration
	Logger       *zap.Logger
}

func NewSearcher(index Index, opts SearcherOptions) *Searcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 8
	}
	return &Searcher{
		index:      index,
		spacer:     opts.Spacer,
		backoff:    opts.Backoff,
		maxResults: opts.MaxResults,
		judge:      opts.Judge,
		timeout:    opts.JudgeTimeout,
		logger:     opts.Logger,
	}
}

// Search never fails: exhausted retries and index errors yield no papers.
func (s *Searcher) Search(ctx context.Context, query string) []models.Paper {
	keywords := util.Keywords(query, maxKeywords)
	if len(keywords) == 0 {
		return nil
	}
	categories := InferCategories(keywords, maxCategories)

	papers := s.fetch(ctx, NarrowQuery(keywords, categories))
	if len(papers) == 0 {
		s.logger.Info("Paper search: narrow query empty, trying broad query",
			zap.Strings("keywords", keywords))
		papers = s.fetch(ctx, BroadQuery(keywords))
	}
	if len(papers) == 0 {
		metrics.RecordCollaborator("papers", "empty")
		return nil
	}
	metrics.RecordCollaborator("papers", "success")
	return s.revalidate(ctx, query, keywords, papers)
}

func (s *Searcher) fetch(ctx context.Context, searchQuery string) []models.Paper {
	for attempt := 0; attempt <= s.backoff.MaxRetries; attempt++ {
		if s.spacer != nil {
			if err := s.spacer.Wait(ctx); err != nil {
				return nil
			}
		}
		data, err := s.index.Query(ctx, searchQuery, s.maxResults)
		if errors.Is(err, ErrRateLimited) {
			if attempt == s.backoff.MaxRetries {
				break
			}
			metrics.PaperRetries.Inc()
			s.logger.Warn("Paper index rate limited, backing off",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", s.backoff.Delay(attempt)),
			)
			if s.backoff.Sleep(ctx, attempt) != nil {
				return nil
			}
			continue
		}
		if err != nil {
			metrics.RecordCollaborator("papers", "error")
			s.logger.Warn("Paper index query failed", zap.Error(err))
			return nil
		}
		papers, err := ParseFeed(data)
		if err != nil {
			s.logger.Warn("Paper feed unreadable", zap.Error(err))
			return nil
		}
		return papers
	}
	metrics.RecordCollaborator("papers", "rate_limited")
	s.logger.Warn("Paper index retries exhausted", zap.Int("max_retries", s.backoff.MaxRetries))
	return nil
}

type relevanceVerdict struct {
	Relevant []int `json:"relevant"`
}

// revalidate keeps papers that actually address the query. The judge picks
// by index; a judge failure falls back to keyword overlap.
func (s *Searcher) revalidate(ctx context.Context, query string, keywords []string, papers []models.Paper) []models.Paper {
	if s.judge != nil {
		var b strings.Builder
		for i, p := range papers {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i, p.Title, util.TruncateString(p.Abstract, 400, true))
		}
		content := llm.TryGenerate(ctx, s.judge, llm.Request{
			Component: "paper_relevance",
			System:    "You screen academic papers for relevance. Respond with JSON only.",
			Prompt: fmt.Sprintf(`Research question: %s

Papers:
%s
Return {"relevant": [indices of papers that directly help answer the question]}.`, query, b.String()),
			Temperature: 0.1,
			Timeout:     s.timeout,
		}, s.logger)
		res := structured.Parse(content, relevanceVerdict{Relevant: nil})
		if res.Ok() {
			var out []models.Paper
			seen := make(map[int]struct{})
			for _, i := range res.Value.Relevant {
				if i < 0 || i >= len(papers) {
					continue
				}
				if _, dup := seen[i]; dup {
					continue
				}
				seen[i] = struct{}{}
				out = append(out, papers[i])
			}
			return out
		}
		metrics.ParseFallbacks.WithLabelValues("paper_relevance").Inc()
	}
	return lexicalFilter(keywords, papers)
}

func lexicalFilter(keywords []string, papers []models.Paper) []models.Paper {
	var out []models.Paper
	for _, p := range papers {
		text := strings.ToLower(p.Title + " " + p.Abstract)
		for _, k := range keywords {
			if strings.Contains(text, k) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
