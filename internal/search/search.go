// Package search provides web-search clients.
package search

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

// ErrNoResults is returned when every client came back empty.
var ErrNoResults = errors.New("search: no results")

// Client runs one web query.
type Client interface {
	Search(ctx context.Context, query string) (models.WebResult, error)
}

// Chain tries clients in order and returns the first non-empty result.
type Chain struct {
	clients []namedClient
	logger  *zap.Logger
}

type namedClient struct {
	name   string
	client Client
}

// NewChain builds an empty chain; add clients with With.
func NewChain(logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{logger: logger}
}

// With appends a client. Nil clients are ignored.
func (c *Chain) With(name string, client Client) *Chain {
	if client != nil {
		c.clients = append(c.clients, namedClient{name: name, client: client})
	}
	return c
}

// Len reports how many clients are configured.
func (c *Chain) Len() int { return len(c.clients) }

func (c *Chain) Search(ctx context.Context, query string) (models.WebResult, error) {
	var lastErr error
	for _, nc := range c.clients {
		res, err := nc.client.Search(ctx, query)
		switch {
		case err != nil:
			metrics.RecordCollaborator("search_"+nc.name, "error")
			c.logger.Warn("Search provider failed",
				zap.String("provider", nc.name),
				zap.String("query", query),
				zap.Error(err),
			)
			lastErr = err
			continue
		case res.Empty():
			metrics.RecordCollaborator("search_"+nc.name, "empty")
			continue
		}
		metrics.RecordCollaborator("search_"+nc.name, "success")
		res.Query = query
		return res, nil
	}
	if lastErr != nil {
		return models.WebResult{}, lastErr
	}
	return models.WebResult{}, ErrNoResults
}

// Exclude drops sources whose URL contains any avoided fragment.
func Exclude(res models.WebResult, avoid []string) models.WebResult {
	if len(avoid) == 0 {
		return res
	}
	out := res
	out.Sources = nil
	for _, src := range res.Sources {
		keep := true
		ls := strings.ToLower(src)
		for _, a := range avoid {
			a = strings.ToLower(strings.TrimSpace(a))
			if a != "" && strings.Contains(ls, a) {
				keep = false
				break
			}
		}
		if keep {
			out.Sources = append(out.Sources, src)
		}
	}
	return out
}

type hit struct {
	title   string
	url     string
	snippet string
}

// render folds hits into the content/sources shape.
func render(answer string, hits []hit, max int) models.WebResult {
	var b strings.Builder
	if a := strings.TrimSpace(answer); a != "" {
		b.WriteString(a)
		b.WriteString("\n\n")
	}
	var sources []string
	for i, h := range hits {
		if max > 0 && i >= max {
			break
		}
		b.WriteString("- ")
		if h.title != "" {
			b.WriteString(h.title)
			b.WriteString(": ")
		}
		b.WriteString(strings.TrimSpace(h.snippet))
		if h.url != "" {
			b.WriteString(" (")
			b.WriteString(h.url)
			b.WriteString(")")
			sources = append(sources, h.url)
		}
		b.WriteString("\n")
	}
	return models.WebResult{Content: strings.TrimSpace(b.String()), Sources: sources}
}
