package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// Provider kinds
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
	KindService   = "service"
)

// ProviderConfig describes one text-generation model instance.
type ProviderConfig struct {
	Name            string        `mapstructure:"name"`
	Kind            string        `mapstructure:"kind"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	APIKeyEnv       string        `mapstructure:"api_key_env"`
	Temperature     float64       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
}

// ResolveAPIKey returns the inline key or, failing that, the key from the
// named environment variable.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

type SearchConfig struct {
	TavilyAPIKeyEnv    string        `mapstructure:"tavily_api_key_env"`
	TavilyEndpoint     string        `mapstructure:"tavily_endpoint"`
	DuckDuckGoEndpoint string        `mapstructure:"duckduckgo_endpoint"`
	MaxResults         int           `mapstructure:"max_results"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type PapersConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	MinSpacing  time.Duration `mapstructure:"min_spacing"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type DocsConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	LocalCacheSize int           `mapstructure:"local_cache_size"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// PipelineConfig holds the tunable thresholds of the validation stages.
// It is the only section reloaded while the process runs.
type PipelineConfig struct {
	MajorCeiling         int           `mapstructure:"major_ceiling"`
	EntailmentThreshold  float64       `mapstructure:"entailment_threshold"`
	RerollSeverity       string        `mapstructure:"reroll_severity"`
	GlobalSpreadSections int           `mapstructure:"global_spread_sections"`
	DigestTokenBudget    int           `mapstructure:"digest_token_budget"`
	CallTimeout          time.Duration `mapstructure:"call_timeout"`
	MaxOutputTokens      int           `mapstructure:"max_output_tokens"`
	MaxGapFills          int           `mapstructure:"max_gap_fills"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the full process configuration.
type Config struct {
	Providers      []ProviderConfig `mapstructure:"providers"`
	Search         SearchConfig     `mapstructure:"search"`
	Papers         PapersConfig     `mapstructure:"papers"`
	Docs           DocsConfig       `mapstructure:"docs"`
	Pipeline       PipelineConfig   `mapstructure:"pipeline"`
	Logging        LoggingConfig    `mapstructure:"logging"`
	Metrics        MetricsConfig    `mapstructure:"metrics"`
	Tracing        tracing.Config   `mapstructure:"tracing"`
	RateLimitsFile string           `mapstructure:"rate_limits_file"`
	PricingFile    string           `mapstructure:"pricing_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.tavily_api_key_env", "TAVILY_API_KEY")
	v.SetDefault("search.tavily_endpoint", "https://api.tavily.com/search")
	v.SetDefault("search.duckduckgo_endpoint", "https://html.duckduckgo.com/html/")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout", "20s")

	v.SetDefault("papers.endpoint", "http://export.arxiv.org/api/query")
	v.SetDefault("papers.min_spacing", "3s")
	v.SetDefault("papers.max_retries", 3)
	v.SetDefault("papers.backoff_base", "2s")
	v.SetDefault("papers.backoff_max", "30s")
	v.SetDefault("papers.max_results", 8)
	v.SetDefault("papers.timeout", "30s")

	v.SetDefault("docs.endpoint", "https://context7.com/api/v1")
	v.SetDefault("docs.api_key_env", "CONTEXT7_API_KEY")
	v.SetDefault("docs.redis_addr", "")
	v.SetDefault("docs.cache_ttl", "24h")
	v.SetDefault("docs.local_cache_size", 256)
	v.SetDefault("docs.max_tokens", 4000)
	v.SetDefault("docs.timeout", "30s")

	v.SetDefault("pipeline.major_ceiling", 3)
	v.SetDefault("pipeline.entailment_threshold", 0.85)
	v.SetDefault("pipeline.reroll_severity", "high")
	v.SetDefault("pipeline.global_spread_sections", 3)
	v.SetDefault("pipeline.digest_token_budget", 1500)
	v.SetDefault("pipeline.call_timeout", "120s")
	v.SetDefault("pipeline.max_output_tokens", 4096)
	v.SetDefault("pipeline.max_gap_fills", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "shannon-researcher")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("rate_limits_file", "")
	v.SetDefault("pricing_file", "")
}

// Load reads the YAML file at path (or $RESEARCHER_CONFIG when path is
// empty) over the built-in defaults. RESEARCHER_* environment variables
// override file values, e.g. RESEARCHER_PIPELINE_MAJOR_CEILING. With no file
// at all the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RESEARCHER_CONFIG")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RESEARCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides honours the short-form variables used by the deployment
// scripts.
func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var port int
		_, _ = fmt.Sscanf(p, "%d", &port)
		if port > 0 {
			cfg.Metrics.Port = port
		}
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if v := os.Getenv("MAJOR_CEILING"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Pipeline.MajorCeiling = x
		}
	}
	if v := os.Getenv("ENTAILMENT_THRESHOLD"); v != "" {
		var x float64
		_, _ = fmt.Sscanf(v, "%f", &x)
		if x > 0 {
			cfg.Pipeline.EntailmentThreshold = x
		}
	}
}

// Validate checks value ranges and provider kinds.
func (c *Config) Validate() error {
	for i, p := range c.Providers {
		switch strings.ToLower(p.Kind) {
		case KindOpenAI, KindAnthropic, KindGemini, KindService, "":
		default:
			return fmt.Errorf("providers[%d]: unknown kind %q", i, p.Kind)
		}
		if p.Model == "" && p.Kind != KindService {
			return fmt.Errorf("providers[%d]: model is required", i)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			return fmt.Errorf("providers[%d]: temperature %v out of range", i, p.Temperature)
		}
	}
	return c.Pipeline.Validate()
}

// Validate checks the pipeline thresholds.
func (p PipelineConfig) Validate() error {
	if p.MajorCeiling < 1 {
		return fmt.Errorf("pipeline.major_ceiling must be >= 1, got %d", p.MajorCeiling)
	}
	if p.EntailmentThreshold < 0 || p.EntailmentThreshold > 1 {
		return fmt.Errorf("pipeline.entailment_threshold must be within [0,1], got %v", p.EntailmentThreshold)
	}
	switch strings.ToLower(p.RerollSeverity) {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("pipeline.reroll_severity must be low, medium or high, got %q", p.RerollSeverity)
	}
	if p.GlobalSpreadSections < 2 {
		return fmt.Errorf("pipeline.global_spread_sections must be >= 2, got %d", p.GlobalSpreadSections)
	}
	return nil
}
