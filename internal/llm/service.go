package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// ServiceProvider calls the Shannon llm-service /agent/query endpoint.
type ServiceProvider struct {
	name    string
	model   string
	baseURL string
	client  *http.Client
}

func NewServiceProvider(name, model, baseURL string, client *http.Client) *ServiceProvider {
	if baseURL == "" {
		baseURL = "http://llm-service:8000"
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ServiceProvider{name: name, model: model, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *ServiceProvider) Name() string { return p.name }

type serviceResponse struct {
	Response     string `json:"response"`
	TokensUsed   int    `json:"tokens_used"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	ModelUsed    string `json:"model_used"`
	Provider     string `json:"provider"`
}

func (p *ServiceProvider) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	ctxMap := map[string]any{
		"role":        "research_" + req.Component,
		"temperature": req.Temperature,
	}
	if req.System != "" {
		ctxMap["system_prompt"] = req.System
	}
	if model != "" {
		ctxMap["model_override"] = model
	}
	if req.MaxOutputTokens > 0 {
		ctxMap["max_tokens"] = req.MaxOutputTokens
	}
	body, err := json.Marshal(map[string]any{"query": req.Prompt, "context": ctxMap})
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/agent/query", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("failed to call LLM service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Response{}, fmt.Errorf("LLM service returned status %d", resp.StatusCode)
	}

	var sr serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Response{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.TrimSpace(sr.Response) == "" {
		return Response{}, ErrEmptyResponse
	}
	out := Response{
		Content:      sr.Response,
		Provider:     p.name,
		Model:        model,
		InputTokens:  sr.InputTokens,
		OutputTokens: sr.OutputTokens,
	}
	if sr.ModelUsed != "" {
		out.Model = sr.ModelUsed
	}
	if out.InputTokens == 0 && out.OutputTokens == 0 && sr.TokensUsed > 0 {
		// split unknown; attribute to output so cost stays conservative
		out.OutputTokens = sr.TokensUsed
	}
	return out, nil
}
