package llm

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/pricing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// Defaults fill zero fields of a Request.
type Defaults struct {
	Temperature     float64
	Timeout         time.Duration
	MaxOutputTokens int
}

// GuardOptions carries the shared infrastructure a Guard needs. Nil fields
// disable the matching concern.
type GuardOptions struct {
	Kind     string
	Defaults Defaults
	Breaker  *circuitbreaker.CircuitBreaker
	Limiter  *ratecontrol.ProviderLimiter
	Prices   *pricing.Table
	Tokens   *TokenCounter
	Logger   *zap.Logger
}

// Guard wraps a Provider with timeouts, rate limiting, a circuit breaker,
// usage accounting and tracing.
type Guard struct {
	inner Provider
	opts  GuardOptions
}

// NewGuard wraps inner.
func NewGuard(inner Provider, opts GuardOptions) *Guard {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Kind == "" {
		opts.Kind = "unknown"
	}
	return &Guard{inner: inner, opts: opts}
}

func (g *Guard) Name() string { return g.inner.Name() }

// Generate applies defaults and forwards to the wrapped provider.
func (g *Guard) Generate(ctx context.Context, req Request) (Response, error) {
	if req.Temperature == 0 {
		req.Temperature = g.opts.Defaults.Temperature
	}
	if req.Timeout == 0 {
		req.Timeout = g.opts.Defaults.Timeout
	}
	if req.MaxOutputTokens == 0 {
		req.MaxOutputTokens = g.opts.Defaults.MaxOutputTokens
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "llm.generate",
		attribute.String("llm.provider", g.inner.Name()),
		attribute.String("llm.component", req.Component),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	inputEstimate := g.opts.Tokens.Count(req.System) + g.opts.Tokens.Count(req.Prompt)
	if g.opts.Limiter != nil {
		if err = g.opts.Limiter.Wait(ctx, g.opts.Kind, inputEstimate+req.MaxOutputTokens); err != nil {
			metrics.RecordProviderCall(g.inner.Name(), req.Model, "rate_limited", 0, 0, 0, 0)
			return Response{}, err
		}
	}

	start := time.Now()
	var resp Response
	if g.opts.Breaker != nil {
		resp, err = circuitbreaker.Call(ctx, g.opts.Breaker, func(ctx context.Context) (Response, error) {
			return g.inner.Generate(ctx, req)
		})
	} else {
		resp, err = g.inner.Generate(ctx, req)
	}
	elapsed := time.Since(start)

	if err != nil {
		status := "error"
		switch {
		case circuitbreaker.IsRejection(err):
			status = "circuit_open"
		case errors.Is(err, context.DeadlineExceeded):
			status = "timeout"
		}
		metrics.RecordProviderCall(g.inner.Name(), req.Model, status, elapsed.Seconds(), 0, 0, 0)
		g.opts.Logger.Warn("LLM call failed",
			zap.String("provider", g.inner.Name()),
			zap.String("component", req.Component),
			zap.String("status", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return Response{}, err
	}

	if resp.Provider == "" {
		resp.Provider = g.inner.Name()
	}
	if resp.InputTokens == 0 {
		resp.InputTokens = inputEstimate
	}
	if resp.OutputTokens == 0 {
		resp.OutputTokens = g.opts.Tokens.Count(resp.Content)
	}
	if g.opts.Prices != nil {
		resp.CostUSD = g.opts.Prices.CostForSplit(resp.Model, resp.InputTokens, resp.OutputTokens)
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.InputTokens),
		attribute.Int("llm.output_tokens", resp.OutputTokens),
	)
	metrics.RecordProviderCall(resp.Provider, resp.Model, "success", elapsed.Seconds(), resp.InputTokens, resp.OutputTokens, resp.CostUSD)
	g.opts.Logger.Debug("LLM call completed",
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model),
		zap.String("component", req.Component),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Float64("cost_usd", resp.CostUSD),
	)
	return resp, nil
}
