package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

const defaultContext7Endpoint = "https://context7.com/api/v1"

// Context7 resolves a library name to a Context7 id and fetches its
// LLM-oriented documentation as plain text.
type Context7 struct {
	endpoint  string
	apiKey    string
	maxTokens int
	http      *circuitbreaker.HTTPWrapper
}

func NewContext7(endpoint, apiKey string, maxTokens int, client *circuitbreaker.HTTPWrapper) *Context7 {
	if endpoint == "" {
		endpoint = defaultContext7Endpoint
	}
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return &Context7{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, maxTokens: maxTokens, http: client}
}

type context7Search struct {
	Results []struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		TrustScore  float64 `json:"trustScore"`
		TotalTokens int     `json:"totalTokens"`
	} `json:"results"`
}

func (c *Context7) Fetch(ctx context.Context, library, topic string) (string, error) {
	id, err := c.resolve(ctx, library)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("type", "txt")
	q.Set("tokens", strconv.Itoa(c.maxTokens))
	if topic != "" {
		q.Set("topic", topic)
	}
	body, err := c.get(ctx, c.endpoint+id+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(body))
	if text == "" || strings.HasPrefix(text, "No content available") {
		return "", ErrNotFound
	}
	return text, nil
}

func (c *Context7) resolve(ctx context.Context, library string) (string, error) {
	lib := strings.TrimSpace(library)
	if lib == "" {
		return "", ErrNotFound
	}
	if strings.HasPrefix(lib, "/") {
		return lib, nil
	}
	body, err := c.get(ctx, c.endpoint+"/search?query="+url.QueryEscape(lib))
	if err != nil {
		return "", err
	}
	var sr context7Search
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("context7 search decode: %w", err)
	}
	if len(sr.Results) == 0 || sr.Results[0].ID == "" {
		return "", ErrNotFound
	}
	return sr.Results[0].ID, nil
}

func (c *Context7) get(ctx context.Context, full string) ([]byte, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodGet, full)
	defer span.End()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("context7 request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("context7 http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// IsNotFound reports whether err is the not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
