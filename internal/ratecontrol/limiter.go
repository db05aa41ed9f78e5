package ratecontrol

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ProviderLimiter holds one request bucket and one token bucket per provider.
type ProviderLimiter struct {
	limits *Limits

	mu       sync.Mutex
	requests map[string]*rate.Limiter
	tokens   map[string]*rate.Limiter
}

// NewProviderLimiter builds a limiter over limits.
func NewProviderLimiter(limits *Limits) *ProviderLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &ProviderLimiter{
		limits:   limits,
		requests: make(map[string]*rate.Limiter),
		tokens:   make(map[string]*rate.Limiter),
	}
}

func (p *ProviderLimiter) buckets(provider string) (*rate.Limiter, *rate.Limiter) {
	key := normalize(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	if req, ok := p.requests[key]; ok {
		return req, p.tokens[key]
	}
	limit := p.limits.ForProvider(key)
	var req, tok *rate.Limiter
	if limit.RPM > 0 {
		burst := limit.RPM / 10
		if burst < 1 {
			burst = 1
		}
		req = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), burst)
	}
	if limit.TPM > 0 {
		tok = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	p.requests[key] = req
	p.tokens[key] = tok
	return req, tok
}

// Wait blocks until provider may send a request of estimatedTokens, or ctx
// is done. Requests larger than the whole token budget only wait for the
// request bucket.
func (p *ProviderLimiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	req, tok := p.buckets(provider)
	if req != nil {
		if err := req.Wait(ctx); err != nil {
			return err
		}
	}
	if tok != nil && estimatedTokens > 0 && estimatedTokens <= tok.Burst() {
		if err := tok.WaitN(ctx, estimatedTokens); err != nil {
			return err
		}
	}
	return nil
}
