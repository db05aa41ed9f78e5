// Package llm defines the text-generation provider contract and its
// concrete clients.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is one generation call. Zero values fall back to the provider's
// configured defaults.
type Request struct {
	Prompt          string
	System          string
	Model           string
	Temperature     float64
	Timeout         time.Duration
	MaxOutputTokens int
	// Component labels the caller in logs and spans, e.g. "planner".
	Component string
}

// Response is the text a provider returned plus usage accounting.
type Response struct {
	Content      string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Provider generates text from a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}
