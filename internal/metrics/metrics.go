package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// Provider metrics
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_provider_calls_total",
			Help: "Total number of text-generation calls",
		},
		[]string{"provider", "model", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_provider_latency_seconds",
			Help:    "Text-generation call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"provider", "model"},
	)

	ProviderTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_provider_tokens_total",
			Help: "Tokens consumed by text-generation calls",
		},
		[]string{"provider", "model", "direction"},
	)

	ProviderCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_provider_cost_usd_total",
			Help: "Estimated spend on text-generation calls in USD",
		},
		[]string{"provider", "model"},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_pricing_fallback_total",
			Help: "Cost estimates that used the default price",
		},
		[]string{"reason"},
	)

	// Collaborator metrics
	CollaboratorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_collaborator_calls_total",
			Help: "Calls to search, paper and documentation providers",
		},
		[]string{"collaborator", "status"},
	)

	PaperRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_paper_retries_total",
			Help: "Paper index retries after a rate-limit signal",
		},
	)

	DocCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_doc_cache_hits_total",
			Help: "Documentation cache hits by tier",
		},
		[]string{"tier"},
	)

	DocCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_doc_cache_misses_total",
			Help: "Documentation cache misses",
		},
	)

	// Planning and validation metrics
	PlanSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_plan_selections_total",
			Help: "Plans selected by source",
		},
		[]string{"source"},
	)

	PlanCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_plan_candidates",
			Help:    "Number of parsed plan candidates per query",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
		},
	)

	ParseFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_parse_fallbacks_total",
			Help: "Structured-output parses that returned the fallback",
		},
		[]string{"component"},
	)

	PVRChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_pvr_checks_total",
			Help: "Consistency checks by outcome",
		},
		[]string{"outcome"},
	)

	Rerolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_rerolled_sections_total",
			Help: "Sections regenerated by speculative re-roll",
		},
	)

	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_verdicts_total",
			Help: "Sufficiency verdicts by outcome",
		},
		[]string{"outcome"},
	)

	MedianMajor = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_verdict_median_major",
			Help:    "Median MAJOR critique count per voting round",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 10},
		},
	)

	RepairOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_repair_outcomes_total",
			Help: "Repair iterations by outcome",
		},
		[]string{"mode", "outcome"},
	)
)

// RecordProviderCall records one text-generation call.
func RecordProviderCall(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int, costUSD float64) {
	ProviderCalls.WithLabelValues(provider, model, status).Inc()
	if durationSeconds > 0 {
		ProviderLatency.WithLabelValues(provider, model).Observe(durationSeconds)
	}
	if inputTokens > 0 {
		ProviderTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		ProviderTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
	if costUSD > 0 {
		ProviderCostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordCollaborator records one search, paper or docs call.
func RecordCollaborator(collaborator, status string) {
	CollaboratorCalls.WithLabelValues(collaborator, status).Inc()
}

// RecordVerdict records a voting round.
func RecordVerdict(sufficient bool, medianMajor int) {
	outcome := "insufficient"
	if sufficient {
		outcome = "sufficient"
	}
	Verdicts.WithLabelValues(outcome).Inc()
	MedianMajor.Observe(float64(medianMajor))
}

// RecordPipeline records a finished run.
func RecordPipeline(status string, durationSeconds float64) {
	PipelineRuns.WithLabelValues(status).Inc()
	PipelineDuration.Observe(durationSeconds)
}
