package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

const defaultTavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey     string
	endpoint   string
	maxResults int
	http       *circuitbreaker.HTTPWrapper
}

func NewTavily(apiKey, endpoint string, maxResults int, client *circuitbreaker.HTTPWrapper) *Tavily {
	if endpoint == "" {
		endpoint = defaultTavilyEndpoint
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Tavily{apiKey: apiKey, endpoint: endpoint, maxResults: maxResults, http: client}
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string) (models.WebResult, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return models.WebResult{}, errors.New("tavily: API key is missing")
	}
	payload, err := json.Marshal(map[string]any{
		"query":          query,
		"api_key":        t.apiKey,
		"search_depth":   "advanced",
		"include_answer": true,
		"max_results":    t.maxResults,
	})
	if err != nil {
		return models.WebResult{}, err
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, t.endpoint)
	defer span.End()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.WebResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := t.http.Do(req)
	if err != nil {
		return models.WebResult{}, fmt.Errorf("tavily request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.WebResult{}, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return models.WebResult{}, fmt.Errorf("tavily decode: %w", err)
	}
	hits := make([]hit, 0, len(tr.Results))
	for _, r := range tr.Results {
		hits = append(hits, hit{title: r.Title, url: r.URL, snippet: r.Content})
	}
	return render(tr.Answer, hits, t.maxResults), nil
}
