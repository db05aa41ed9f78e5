package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/pricing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
)

// Pool is the ordered set of configured providers. The first provider is
// the primary: it plans, judges and synthesizes.
type Pool struct {
	providers []Provider
}

// NewPool keeps the non-nil providers in order.
func NewPool(providers ...Provider) *Pool {
	p := &Pool{}
	for _, pr := range providers {
		if pr != nil {
			p.providers = append(p.providers, pr)
		}
	}
	return p
}

// Len returns the number of providers. A nil pool is empty.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.providers)
}

// All returns a copy of the provider list.
func (p *Pool) All() []Provider {
	if p == nil {
		return nil
	}
	return append([]Provider(nil), p.providers...)
}

// Primary returns the first provider, or nil for an empty pool.
func (p *Pool) Primary() Provider {
	if p.Len() == 0 {
		return nil
	}
	return p.providers[0]
}

// Names lists provider names in order.
func (p *Pool) Names() []string {
	out := make([]string, 0, p.Len())
	for _, pr := range p.All() {
		out = append(out, pr.Name())
	}
	return out
}

// BuildOptions is the shared infrastructure handed to every guarded provider.
type BuildOptions struct {
	Limiter    *ratecontrol.ProviderLimiter
	Prices     *pricing.Table
	Tokens     *TokenCounter
	HTTPClient *http.Client
	Logger     *zap.Logger
	Defaults   Defaults
}

// FromConfig builds one guarded provider per config entry. Entries whose
// API key cannot be resolved are skipped with a warning; an empty result is
// not an error here.
func FromConfig(ctx context.Context, cfgs []config.ProviderConfig, opts BuildOptions) (*Pool, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Tokens == nil {
		opts.Tokens = NewTokenCounter()
	}
	breakerCfg := circuitbreaker.GetLLMConfig().ToConfig()

	pool := &Pool{}
	for i, pc := range cfgs {
		name := pc.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", pc.Model, i)
		}
		kind := strings.ToLower(pc.Kind)
		if kind == "" {
			kind = DetectKind(pc.Model)
		}
		key := pc.ResolveAPIKey()
		if key == "" && kind != config.KindService {
			logger.Warn("Skipping provider without API key",
				zap.String("provider", name),
				zap.String("api_key_env", pc.APIKeyEnv),
			)
			continue
		}

		var inner Provider
		switch kind {
		case config.KindOpenAI:
			inner = NewOpenAIProvider(name, pc.Model, key, pc.BaseURL)
		case config.KindAnthropic:
			inner = NewAnthropicProvider(name, pc.Model, key, pc.BaseURL)
		case config.KindGemini:
			gp, err := NewGeminiProvider(ctx, name, pc.Model, key, pc.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			inner = gp
		case config.KindService:
			inner = NewServiceProvider(name, pc.Model, pc.BaseURL, opts.HTTPClient)
		default:
			return nil, fmt.Errorf("provider %s: cannot determine kind for model %q", name, pc.Model)
		}

		defaults := opts.Defaults
		if pc.Temperature > 0 {
			defaults.Temperature = pc.Temperature
		}
		if pc.Timeout > 0 {
			defaults.Timeout = pc.Timeout
		}
		if pc.MaxOutputTokens > 0 {
			defaults.MaxOutputTokens = pc.MaxOutputTokens
		}
		cb := circuitbreaker.NewCircuitBreaker("llm-"+name, breakerCfg, logger)
		circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("llm-"+name, "llm", cb)

		pool.providers = append(pool.providers, NewGuard(inner, GuardOptions{
			Kind:     kind,
			Defaults: defaults,
			Breaker:  cb,
			Limiter:  opts.Limiter,
			Prices:   opts.Prices,
			Tokens:   opts.Tokens,
			Logger:   logger,
		}))
		logger.Info("Provider configured",
			zap.String("provider", name),
			zap.String("kind", kind),
			zap.String("model", pc.Model),
		)
	}
	return pool, nil
}
