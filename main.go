package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/docs"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/papers"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/pipeline"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/pricing"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/search"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	var (
		configPath  = flag.String("config", getEnvOrDefault("RESEARCHER_CONFIG", ""), "path to the YAML config file")
		depth       = flag.Int("depth", 0, "force the research depth (1-4); 0 lets the plan decide")
		maxDepth    = flag.Int("max-depth", 0, "upper bound on the research depth")
		extra       = flag.String("context", "", "enriched context passed to every stage")
		asJSON      = flag.Bool("json", false, "print the full structured result as JSON")
		code        = flag.String("code", "", "include code examples: yes or no; empty lets the plan decide")
		constraints listFlag
		avoid       listFlag
		tech        listFlag
		subqs       listFlag
	)
	flag.Var(&constraints, "constraint", "constraint the answer must respect (repeatable)")
	flag.Var(&avoid, "avoid", "source to exclude from web results (repeatable)")
	flag.Var(&tech, "tech", "technology whose documentation should be consulted (repeatable)")
	flag.Var(&subqs, "subq", "sub-question as id=question (repeatable)")
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: researcher [flags] <query>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(sctx)
		}()
	}

	circuitbreaker.StartMetricsCollection(ctx, 15*time.Second)
	if cfg.Metrics.Enabled {
		srv := startAdminServer(cfg.Metrics.Port, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	limits := ratecontrol.DefaultLimits()
	if cfg.RateLimitsFile != "" {
		if l, err := ratecontrol.LoadLimits(cfg.RateLimitsFile); err != nil {
			logger.Warn("Failed to load rate limits, using defaults", zap.String("path", cfg.RateLimitsFile), zap.Error(err))
		} else {
			limits = l
		}
	}
	prices := pricing.Default()
	if cfg.PricingFile != "" {
		if t, err := pricing.Load(cfg.PricingFile); err != nil {
			logger.Warn("Failed to load pricing, using defaults", zap.String("path", cfg.PricingFile), zap.Error(err))
		} else {
			prices = t
		}
	}

	tokens := llm.NewTokenCounter()
	pool, err := llm.FromConfig(ctx, cfg.Providers, llm.BuildOptions{
		Limiter:    ratecontrol.NewProviderLimiter(limits),
		Prices:     prices,
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: cfg.Pipeline.CallTimeout},
		Logger:     logger,
		Defaults: llm.Defaults{
			Timeout:         cfg.Pipeline.CallTimeout,
			MaxOutputTokens: cfg.Pipeline.MaxOutputTokens,
		},
	})
	if err != nil {
		logger.Fatal("Failed to build providers", zap.Error(err))
	}
	logger.Info("Providers ready", zap.Strings("providers", pool.Names()))

	var settings pipeline.Settings = pipeline.StaticSettings(cfg.Pipeline)
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, cfg.Pipeline, logger)
		if err != nil {
			logger.Warn("Config hot reload disabled", zap.Error(err))
		} else {
			defer w.Stop()
			w.OnChange(func(p config.PipelineConfig) {
				logger.Info("Pipeline thresholds reloaded",
					zap.Int("major_ceiling", p.MajorCeiling),
					zap.Float64("entailment_threshold", p.EntailmentThreshold),
				)
			})
			settings = w
		}
	}

	lookup, closeDocs := buildDocs(ctx, cfg.Docs, logger)
	defer closeDocs()

	p := pipeline.New(pipeline.Deps{
		Pool:     pool,
		Search:   buildSearch(cfg.Search, logger),
		Papers:   buildPapers(cfg.Papers, pool, cfg.Pipeline.CallTimeout, logger),
		Docs:     lookup,
		Settings: settings,
		Tokens:   tokens,
		Observer: pipeline.ObserverFunc(func(step string, remaining int) {
			logger.Info("Research progress", zap.String("step", step), zap.Int("remaining", remaining))
		}),
		Logger: logger,
	})

	req := pipeline.Request{
		Query:           query,
		EnrichedContext: *extra,
		Options: models.ResearchOptions{
			Constraints:  constraints,
			AvoidSources: avoid,
			TechStack:    tech,
			MaxDepth:     *maxDepth,
		},
	}
	if *depth > 0 {
		req.DepthLevel = depth
	}
	switch strings.ToLower(*code) {
	case "yes", "true":
		v := true
		req.Options.IncludeCodeExamples = &v
	case "no", "false":
		v := false
		req.Options.IncludeCodeExamples = &v
	}
	for _, raw := range subqs {
		sq, err := parseSubQuestion(raw, len(req.Options.SubQuestions)+1)
		if err != nil {
			logger.Fatal("Invalid sub-question", zap.String("value", raw), zap.Error(err))
		}
		req.Options.SubQuestions = append(req.Options.SubQuestions, sq)
	}

	res, err := p.Run(ctx, req)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoProviders) {
			logger.Error("No providers configured; set an API key for at least one provider")
		}
		logger.Fatal("Research failed", zap.Error(err))
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			logger.Fatal("Failed to encode result", zap.Error(err))
		}
		return
	}
	fmt.Println(res.Markdown)
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(lc.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		lvl, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	// stdout carries the report
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func startAdminServer(port int, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		breakers := map[string]string{}
		status := "healthy"
		for name, st := range circuitbreaker.GlobalMetricsCollector.Snapshot() {
			breakers[name] = st.String()
			if st == circuitbreaker.StateOpen {
				status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "breakers": breakers})
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()
	return server
}

func buildSearch(sc config.SearchConfig, logger *zap.Logger) search.Client {
	chain := search.NewChain(logger)
	if key := os.Getenv(sc.TavilyAPIKeyEnv); sc.TavilyAPIKeyEnv != "" && key != "" {
		hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: sc.Timeout}, "tavily", "search", logger)
		chain.With("tavily", search.NewTavily(key, sc.TavilyEndpoint, sc.MaxResults, hw))
	}
	hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: sc.Timeout}, "duckduckgo", "search", logger)
	chain.With("duckduckgo", search.NewDuckDuckGo(sc.DuckDuckGoEndpoint, sc.MaxResults, hw, ratecontrol.NewSpacer(time.Second)))
	return chain
}

func buildPapers(pc config.PapersConfig, pool *llm.Pool, callTimeout time.Duration, logger *zap.Logger) *papers.Searcher {
	hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: pc.Timeout}, "arxiv", "papers", logger)
	return papers.NewSearcher(papers.NewArxiv(pc.Endpoint, hw), papers.SearcherOptions{
		Spacer: ratecontrol.NewSpacer(pc.MinSpacing),
		Backoff: ratecontrol.Backoff{
			Base:       pc.BackoffBase,
			Max:        pc.BackoffMax,
			MaxRetries: pc.MaxRetries,
		},
		MaxResults:   pc.MaxResults,
		Judge:        pool.Primary(),
		JudgeTimeout: callTimeout,
		Logger:       logger,
	})
}

func buildDocs(ctx context.Context, dc config.DocsConfig, logger *zap.Logger) (docs.Lookup, func()) {
	hw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: dc.Timeout}, "context7", "docs", logger)
	inner := docs.NewContext7(dc.Endpoint, getEnvOrDefault(dc.APIKeyEnv, ""), dc.MaxTokens, hw)

	var remote docs.Store
	closer := func() {}
	if dc.RedisAddr != "" {
		rs, err := docs.NewRedisStore(ctx, dc.RedisAddr, logger)
		if err != nil {
			logger.Warn("Shared doc cache unavailable, using local cache only", zap.String("addr", dc.RedisAddr), zap.Error(err))
		} else {
			remote = rs
			closer = func() { _ = rs.Close() }
		}
	}
	cache := docs.NewCache(docs.NewLocalLRU(dc.LocalCacheSize), remote, dc.CacheTTL)
	return docs.NewCachedLookup(inner, cache, logger), closer
}

func parseSubQuestion(raw string, n int) (models.SubQuestion, error) {
	id, q, ok := strings.Cut(raw, "=")
	if !ok {
		id, q = "q"+strconv.Itoa(n), raw
	}
	id, q = strings.TrimSpace(id), strings.TrimSpace(q)
	if id == "" || q == "" {
		return models.SubQuestion{}, fmt.Errorf("sub-question needs an id and a question")
	}
	return models.SubQuestion{ID: id, Question: q}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if key == "" {
		return defaultValue
	}
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
