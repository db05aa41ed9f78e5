// Package manifest distills gathered evidence into the fact sheet every
// synthesis prompt is anchored to.
package manifest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/structured"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

const (
	maxFacts      = 15
	maxNumerics   = 20
	evidenceBlock = 2000
)

// Extractor builds the GlobalManifest with one provider call.
type Extractor struct {
	provider llm.Provider
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// New returns an Extractor. A nil provider always yields the deterministic
// manifest.
func New(provider llm.Provider, timeout time.Duration, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{provider: provider, timeout: timeout, logger: logger, now: time.Now}
}

type rawManifest struct {
	KeyFacts []string                         `json:"keyFacts"`
	Numerics map[string]structured.FlexString `json:"numerics"`
	Sources  []string                         `json:"sources"`
}

// Extract never fails: when the call or its parse fails the manifest is
// derived from the evidence itself.
func (e *Extractor) Extract(ctx context.Context, query string, res *models.ExecutionResult) models.GlobalManifest {
	ctx, span := tracing.StartSpan(ctx, "manifest.extract")
	defer span.End()
	start := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("manifest").Observe(time.Since(start).Seconds()) }()

	evidence := res.EvidenceText(evidenceBlock)
	if evidence == "" {
		return models.GlobalManifest{Numerics: map[string]string{}, ExtractedAt: e.now()}
	}

	content := llm.TryGenerate(ctx, e.provider, llm.Request{
		Component:   "manifest",
		System:      extractSystem,
		Prompt:      fmt.Sprintf("Research question: %s\n\nEvidence:\n%s", query, evidence),
		Temperature: 0.1,
		Timeout:     e.timeout,
	}, e.logger)

	r := structured.Parse(content, rawManifest{})
	if content == "" || !r.Ok() || (len(r.Value.KeyFacts) == 0 && len(r.Value.Numerics) == 0) {
		if content != "" {
			metrics.ParseFallbacks.WithLabelValues("manifest").Inc()
		}
		m := Deterministic(res)
		m.ExtractedAt = e.now()
		e.logger.Info("Manifest: using deterministic fallback",
			zap.Int("numerics", len(m.Numerics)),
			zap.Int("sources", len(m.Sources)),
		)
		return m
	}

	m := models.GlobalManifest{
		KeyFacts:    capList(util.Dedup(r.Value.KeyFacts), maxFacts),
		Numerics:    cleanNumerics(r.Value.Numerics),
		Sources:     util.Dedup(append(res.Sources(), r.Value.Sources...)),
		ExtractedAt: e.now(),
	}
	e.logger.Info("Manifest: extracted",
		zap.Int("facts", len(m.KeyFacts)),
		zap.Int("numerics", len(m.Numerics)),
		zap.Int("sources", len(m.Sources)),
	)
	return m
}

const extractSystem = `You extract a canonical fact sheet from research evidence.
Return JSON only:
{"keyFacts": ["short factual statement", ...],
 "numerics": {"what the number measures": "value with unit", ...},
 "sources": ["url", ...]}
Copy numbers exactly as they appear in the evidence. Do not invent values.`

// numericPattern matches a short label followed by a number with an optional
// unit, e.g. "p99 latency of 12 ms" or "market share: 31%".
var numericPattern = regexp.MustCompile(`(?i)\b([a-z][a-z0-9\- ]{2,40}?)\s*(?:of|is|was|at|to|reached|:|=)\s*(~?\$?\d[\d,]*(?:\.\d+)?(?:%|\s?(?:percent|seconds|minutes|hours|million|billion|trillion|requests|users|ms|kb|mb|gb|tb|s|x|k|m)\b)?)`)

// Deterministic builds a manifest from evidence without any provider call.
func Deterministic(res *models.ExecutionResult) models.GlobalManifest {
	m := models.GlobalManifest{Numerics: map[string]string{}, Sources: res.Sources()}
	text := res.EvidenceText(0)
	for _, match := range numericPattern.FindAllStringSubmatch(text, -1) {
		if len(m.Numerics) >= maxNumerics {
			break
		}
		label := strings.TrimSpace(strings.ToLower(match[1]))
		if _, ok := m.Numerics[label]; ok || label == "" {
			continue
		}
		m.Numerics[label] = strings.TrimSpace(match[2])
	}
	return m
}

func cleanNumerics(in map[string]structured.FlexString) map[string]string {
	out := make(map[string]string, len(in))
	for _, k := range util.SortedKeys(in) {
		if len(out) >= maxNumerics {
			break
		}
		key, val := strings.TrimSpace(k), strings.TrimSpace(string(in[k]))
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}

func capList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// Render formats the manifest as a prompt block. An empty manifest renders
// as "".
func Render(m models.GlobalManifest) string {
	if m.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("GLOBAL FACT MANIFEST (authoritative; use these exact values and never contradict them)\n")
	if len(m.KeyFacts) > 0 {
		b.WriteString("Key facts:\n")
		for _, f := range m.KeyFacts {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	if len(m.Numerics) > 0 {
		b.WriteString("Numbers:\n")
		for _, k := range util.SortedKeys(m.Numerics) {
			fmt.Fprintf(&b, "- %s: %s\n", k, m.Numerics[k])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
