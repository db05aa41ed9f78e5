// Package ratecontrol paces outgoing provider traffic.
//
// Limits are read from the rate_limits section of a YAML file. Every piece of
// pacing state (per-provider token buckets, the paper index spacer) lives in
// values owned by whoever constructs them; nothing here is package-global.
package ratecontrol

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		DefaultTPM        int `yaml:"default_tpm"`
		ProviderOverrides map[string]struct {
			RPM int `yaml:"rpm"`
			TPM int `yaml:"tpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

// RateLimit is a requests-per-minute / tokens-per-minute pair. Zero means
// unlimited.
type RateLimit struct {
	RPM int
	TPM int
}

// Limits resolves the RateLimit for a provider.
type Limits struct {
	defaults  RateLimit
	overrides map[string]RateLimit
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"gemini":    {RPM: 40, TPM: 80000},
	"service":   {RPM: 60, TPM: 120000},
}

// DefaultLimits returns the built-in per-provider limits.
func DefaultLimits() *Limits {
	return &Limits{overrides: map[string]RateLimit{}}
}

// LoadLimits reads rate_limits from the YAML file at path. An empty path
// returns DefaultLimits.
func LoadLimits(path string) (*Limits, error) {
	if path == "" {
		return DefaultLimits(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limits: %w", err)
	}
	return ParseLimits(data)
}

// ParseLimits parses the rate_limits section of a YAML document.
func ParseLimits(data []byte) (*Limits, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rate limits: %w", err)
	}
	l := &Limits{
		defaults:  RateLimit{RPM: cfg.RateLimits.DefaultRPM, TPM: cfg.RateLimits.DefaultTPM},
		overrides: make(map[string]RateLimit, len(cfg.RateLimits.ProviderOverrides)),
	}
	for name, o := range cfg.RateLimits.ProviderOverrides {
		l.overrides[normalize(name)] = RateLimit{RPM: o.RPM, TPM: o.TPM}
	}
	return l, nil
}

// ForProvider returns the limit for provider: an explicit override, then the
// built-in table, then the file defaults.
func (l *Limits) ForProvider(provider string) RateLimit {
	key := normalize(provider)
	if l != nil {
		if o, ok := l.overrides[key]; ok {
			return o
		}
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		if l == nil {
			return limit
		}
		return CombineLimits(limit, l.defaults)
	}
	if l == nil {
		return RateLimit{}
	}
	return l.defaults
}

// CombineLimits takes the stricter positive value of each dimension.
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{
		RPM: minPositive(a.RPM, b.RPM),
		TPM: minPositive(a.TPM, b.TPM),
	}
	return limit
}

// DelayFor returns the pause a single request of estimatedTokens should
// observe under limit when no token bucket is available.
func DelayFor(limit RateLimit, estimatedTokens int) time.Duration {
	if (limit.RPM <= 0 && limit.TPM <= 0) || estimatedTokens < 0 {
		return 0
	}
	var delayMs float64
	if limit.RPM > 0 {
		delayMs = math.Max(delayMs, 60000.0/float64(limit.RPM))
	}
	if limit.TPM > 0 && estimatedTokens > 0 {
		perToken := 60000.0 / float64(limit.TPM)
		delayMs = math.Max(delayMs, perToken*float64(estimatedTokens))
	}
	if delayMs <= 0 {
		return 0
	}
	if delayMs > 60000 {
		delayMs = 60000
	}
	return time.Duration(math.Ceil(delayMs)) * time.Millisecond
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
