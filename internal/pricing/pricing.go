// Package pricing estimates the USD cost of text-generation calls from a
// per-model price table.
package pricing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	pmetrics "github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
)

// Config structure for the pricing section of the models file
type config struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]map[string]ModelPrice `yaml:"models"`
	} `yaml:"pricing"`
}

// ModelPrice is the per-1K-token price of one model.
type ModelPrice struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

// defaultCombinedPer1K is used when neither the table nor the file knows the
// model.
const defaultCombinedPer1K = 0.002

var builtIn = map[string]ModelPrice{
	"gpt-4o":            {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":       {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4.1":           {InputPer1K: 0.002, OutputPer1K: 0.008},
	"gpt-4.1-mini":      {InputPer1K: 0.0004, OutputPer1K: 0.0016},
	"claude-sonnet-4-5": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-haiku-4-5":  {InputPer1K: 0.001, OutputPer1K: 0.005},
	"gemini-2.5-pro":    {InputPer1K: 0.00125, OutputPer1K: 0.01},
	"gemini-2.5-flash":  {InputPer1K: 0.0003, OutputPer1K: 0.0025},
}

// Table resolves model prices. The zero value uses the built-in prices.
type Table struct {
	defaultPer1K float64
	models       map[string]ModelPrice
}

// Default returns a Table with only the built-in prices.
func Default() *Table {
	return &Table{defaultPer1K: defaultCombinedPer1K, models: map[string]ModelPrice{}}
}

// Load reads the pricing section from the YAML file at path. An empty path
// returns Default.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing: %w", err)
	}
	return Parse(data)
}

// Parse builds a Table from YAML.
func Parse(data []byte) (*Table, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}
	t := Default()
	if cfg.Pricing.Defaults.CombinedPer1K < 0 {
		return nil, errors.New("pricing.defaults.combined_per_1k must be >= 0")
	}
	if cfg.Pricing.Defaults.CombinedPer1K > 0 {
		t.defaultPer1K = cfg.Pricing.Defaults.CombinedPer1K
	}
	for provider, models := range cfg.Pricing.Models {
		for name, p := range models {
			if p.InputPer1K < 0 || p.OutputPer1K < 0 || p.CombinedPer1K < 0 {
				return nil, fmt.Errorf("negative price for %s:%s", provider, name)
			}
			t.models[strings.ToLower(name)] = p
		}
	}
	return t, nil
}

// Lookup returns the price of model. Dated model snapshots such as
// "claude-haiku-4-5-20251001" match their undated entry.
func (t *Table) Lookup(model string) (ModelPrice, bool) {
	key := strings.ToLower(strings.TrimSpace(model))
	if key == "" {
		return ModelPrice{}, false
	}
	if t != nil {
		if p, ok := t.models[key]; ok {
			return p, true
		}
	}
	if p, ok := builtIn[key]; ok {
		return p, true
	}
	best, bestLen := ModelPrice{}, 0
	for name, p := range builtIn {
		if strings.HasPrefix(key, name) && len(name) > bestLen {
			best, bestLen = p, len(name)
		}
	}
	return best, bestLen > 0
}

// CostForSplit computes cost using the input/output split when available,
// falling back to the combined or default price.
func (t *Table) CostForSplit(model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	if p, ok := t.Lookup(model); ok {
		if p.InputPer1K > 0 && p.OutputPer1K > 0 {
			return (float64(inputTokens)/1000.0)*p.InputPer1K + (float64(outputTokens)/1000.0)*p.OutputPer1K
		}
		if p.CombinedPer1K > 0 {
			return (float64(inputTokens+outputTokens) / 1000.0) * p.CombinedPer1K
		}
	}
	if model == "" {
		pmetrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		pmetrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	per1K := defaultCombinedPer1K
	if t != nil && t.defaultPer1K > 0 {
		per1K = t.defaultPer1K
	}
	return float64(inputTokens+outputTokens) / 1000.0 * per1K
}
