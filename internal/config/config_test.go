package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sampleYAML = `
providers:
  - name: gpt
    kind: openai
    model: gpt-4o-mini
    api_key_env: TEST_OPENAI_KEY
    temperature: 0.4
    timeout: 90s
  - name: claude
    kind: anthropic
    model: claude-haiku-4-5
    api_key: inline-key
pipeline:
  major_ceiling: 4
  entailment_threshold: 0.9
papers:
  min_spacing: 5s
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "researcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RESEARCHER_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.Providers)
	assert.Equal(t, 3, cfg.Pipeline.MajorCeiling)
	assert.InDelta(t, 0.85, cfg.Pipeline.EntailmentThreshold, 1e-9)
	assert.Equal(t, "high", cfg.Pipeline.RerollSeverity)
	assert.Equal(t, 3*time.Second, cfg.Papers.MinSpacing)
	assert.Equal(t, 3, cfg.Papers.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Docs.CacheTTL)
	assert.Equal(t, "https://api.tavily.com/search", cfg.Search.TavilyEndpoint)
	assert.Equal(t, 2112, cfg.Metrics.Port)
	assert.Equal(t, "shannon-researcher", cfg.Tracing.ServiceName)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "from-env")
	path := writeConfig(t, t.TempDir(), sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers[0].Model)
	assert.Equal(t, 90*time.Second, cfg.Providers[0].Timeout)
	assert.Equal(t, "from-env", cfg.Providers[0].ResolveAPIKey())
	assert.Equal(t, "inline-key", cfg.Providers[1].ResolveAPIKey())
	assert.Equal(t, 4, cfg.Pipeline.MajorCeiling)
	assert.Equal(t, 5*time.Second, cfg.Papers.MinSpacing)
	// untouched keys keep defaults
	assert.Equal(t, 3, cfg.Pipeline.GlobalSpreadSections)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleYAML)
	t.Setenv("RESEARCHER_PIPELINE_GLOBAL_SPREAD_SECTIONS", "5")
	t.Setenv("METRICS_PORT", "9100")
	t.Setenv("MAJOR_CEILING", "2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.GlobalSpreadSections)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, 2, cfg.Pipeline.MajorCeiling)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := PipelineConfig{MajorCeiling: 3, EntailmentThreshold: 0.85, RerollSeverity: "high", GlobalSpreadSections: 3}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.MajorCeiling = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.EntailmentThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = valid
	bad.RerollSeverity = "extreme"
	assert.Error(t, bad.Validate())

	cfg := &Config{Pipeline: valid, Providers: []ProviderConfig{{Kind: "bedrock", Model: "x"}}}
	assert.Error(t, cfg.Validate())

	cfg.Providers = []ProviderConfig{{Kind: KindOpenAI}}
	assert.Error(t, cfg.Validate())
}

func TestWatcherReloadsPipeline(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, cfg.Pipeline, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	changed := make(chan PipelineConfig, 4)
	w.OnChange(func(p PipelineConfig) { changed <- p })
	assert.Equal(t, 4, w.Pipeline().MajorCeiling)

	writeConfig(t, dir, "pipeline:\n  major_ceiling: 6\n")

	select {
	case p := <-changed:
		assert.Equal(t, 6, p.MajorCeiling)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Equal(t, 6, w.Pipeline().MajorCeiling)
}

func TestWatcherKeepsPreviousOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, cfg.Pipeline, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	writeConfig(t, dir, "pipeline:\n  entailment_threshold: 7\n")
	time.Sleep(300 * time.Millisecond)
	assert.InDelta(t, 0.9, w.Pipeline().EntailmentThreshold, 1e-9)
}
