// Package papers searches the arXiv academic index.
package papers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// ErrRateLimited is the index's "slow down" signal.
var ErrRateLimited = errors.New("papers: rate limited")

const defaultEndpoint = "http://export.arxiv.org/api/query"

// Index runs a raw search and returns the Atom feed body.
type Index interface {
	Query(ctx context.Context, searchQuery string, maxResults int) ([]byte, error)
}

// Arxiv is the export.arxiv.org query API.
type Arxiv struct {
	endpoint string
	http     *circuitbreaker.HTTPWrapper
}

func NewArxiv(endpoint string, client *circuitbreaker.HTTPWrapper) *Arxiv {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Arxiv{endpoint: endpoint, http: client}
}

func (a *Arxiv) Query(ctx context.Context, searchQuery string, maxResults int) ([]byte, error) {
	q := url.Values{}
	q.Set("search_query", searchQuery)
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("sortBy", "relevance")
	full := a.endpoint + "?" + q.Encode()

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, a.endpoint)
	defer span.End()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("arxiv http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
