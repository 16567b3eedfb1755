package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/arborly/scoutline/internal/cache"
	"github.com/arborly/scoutline/internal/config"
	"github.com/arborly/scoutline/internal/fetch"
	"github.com/arborly/scoutline/internal/llm"
	"github.com/arborly/scoutline/internal/pipeline"
	"github.com/arborly/scoutline/internal/prompt"
	"github.com/arborly/scoutline/internal/render"
	"github.com/arborly/scoutline/internal/robots"
	"github.com/arborly/scoutline/internal/search"
	"github.com/arborly/scoutline/internal/urlfilter"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		query             string
		outputPath        string
		promptsPath       string
		searxURL          string
		searxKey          string
		llmBaseURL        string
		llmModel          string
		llmKey            string
		numBetterQueries  int
		maxResultsPerQ    int
		totalMaxResults   int
		minRelevanceScore int
		disallowedDomains string
		maxConcurrent     int
		perDomainDelay    time.Duration
		fetchTimeout      time.Duration
		userAgent         string
		maxContentChars   int
		cacheDir          string
		cacheClear        bool
		cacheMaxAge       time.Duration
		verbose           bool
	)

	flag.StringVar(&query, "query", "", "Natural-language research query (required)")
	flag.StringVar(&outputPath, "output", "report.md", "Path to write the rendered report; .pdf renders a PDF")
	flag.StringVar(&promptsPath, "prompts", "prompts.yaml", "Path to the YAML prompt template store")
	flag.StringVar(&searxURL, "searx.url", os.Getenv("SEARX_URL"), "SearxNG base URL")
	flag.StringVar(&searxKey, "searx.key", os.Getenv("SEARX_KEY"), "SearxNG API key (optional)")
	flag.StringVar(&llmBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL")
	flag.StringVar(&llmModel, "llm.model", os.Getenv("LLM_MODEL"), "Model name")
	flag.StringVar(&llmKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for OpenAI-compatible server")
	flag.IntVar(&numBetterQueries, "expand.n", 3, "Number of sub-queries to expand the query into")
	flag.IntVar(&maxResultsPerQ, "search.maxPerQuery", 8, "Maximum search results kept per sub-query")
	flag.IntVar(&totalMaxResults, "search.maxTotal", 20, "Maximum candidates kept across all sub-queries")
	flag.IntVar(&minRelevanceScore, "relevance.min", 2, "Minimum relevance score (0-5) to keep a candidate")
	flag.StringVar(&disallowedDomains, "domains.deny", "", "Comma-separated list of blocked domains")
	flag.IntVar(&maxConcurrent, "fetch.concurrency", 8, "Maximum concurrent fetches across the run")
	flag.DurationVar(&perDomainDelay, "fetch.perDomainDelay", 2*time.Second, "Minimum spacing between requests to the same origin")
	flag.DurationVar(&fetchTimeout, "fetch.timeout", 20*time.Second, "Per-request fetch timeout")
	flag.StringVar(&userAgent, "fetch.userAgent", "scoutline/1.0 (+https://github.com/arborly/scoutline)", "User-Agent sent on search/fetch/robots requests")
	flag.IntVar(&maxContentChars, "fetch.maxContentChars", 12000, "Maximum extracted characters kept per fetched document")
	flag.StringVar(&cacheDir, "cache.dir", ".scoutline-cache", "Content cache directory")
	flag.BoolVar(&cacheClear, "cache.clear", false, "Clear the content cache before running")
	flag.DurationVar(&cacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this before running; 0 disables")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if strings.TrimSpace(query) == "" {
		log.Error().Msg("missing -query")
		os.Exit(2)
	}

	cfg := config.Config{
		LLMAPIKey:            llmKey,
		LLMBaseURL:           llmBaseURL,
		LLMModel:             llmModel,
		LLMTemperature:       0.2,
		NumBetterQueries:     numBetterQueries,
		MaxResultsPerQuery:   maxResultsPerQ,
		TotalMaxResults:      totalMaxResults,
		MinRelevanceScore:    minRelevanceScore,
		DisallowedDomains:    splitCSV(disallowedDomains),
		LLMTokensExpand:      400,
		LLMTokensRelevance:   20,
		LLMTokensSummarize:   600,
		LLMTokensMerge:       1200,
		LLMConcurrency:       4,
		MaxConcurrentFetches: maxConcurrent,
		PerDomainDelay:       perDomainDelay,
		FetchTimeout:         fetchTimeout,
		RedirectMaxHops:      5,
		UserAgent:            userAgent,
		MaxContentChars:      maxContentChars,
		CacheEnabled:         cacheDir != "",
		CacheDirectory:       cacheDir,
		PromptsPath:          promptsPath,
		SearchBaseURL:        searxURL,
		SearchAPIKey:         searxKey,
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}

	if err := run(context.Background(), cfg, query, outputPath, cacheClear, cacheMaxAge); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(ctx context.Context, cfg config.Config, query, outputPath string, cacheClear bool, cacheMaxAge time.Duration) error {
	if cfg.CacheEnabled {
		if err := os.MkdirAll(cfg.CacheDirectory, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
		if cacheClear {
			if err := cache.ClearDir(cfg.CacheDirectory); err != nil {
				log.Warn().Err(err).Msg("cache clear failed; continuing")
			}
		}
		if cacheMaxAge > 0 {
			if _, err := cache.PurgeContentCacheByAge(cfg.CacheDirectory, cacheMaxAge); err != nil {
				log.Warn().Err(err).Msg("content cache purge failed; continuing")
			}
			if _, err := cache.PurgeLLMCacheByAge(cfg.CacheDirectory, cacheMaxAge); err != nil {
				log.Warn().Err(err).Msg("llm cache purge failed; continuing")
			}
		}
	}

	prompts, err := prompt.Load(cfg.PromptsPath)
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	transportCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		transportCfg.BaseURL = cfg.LLMBaseURL
	}
	aiClient := openai.NewClientWithConfig(transportCfg)
	completer := &llm.Completer{
		Client:      &llm.OpenAIProvider{Inner: aiClient},
		Model:       cfg.LLMModel,
		Temperature: float32(cfg.LLMTemperature),
		CallTimeout: 60 * time.Second,
	}

	searchProvider := &search.SearxNG{
		BaseURL:    cfg.SearchBaseURL,
		APIKey:     cfg.SearchAPIKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		UserAgent:  cfg.UserAgent,
	}

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	fetcher := &fetch.Client{
		HTTPClient:           httpClient,
		UserAgent:            cfg.UserAgent,
		URLFilter:            urlfilter.New(cfg.DisallowedDomainSet()),
		Robots:               robots.NewChecker(httpClient, cfg.UserAgent, 10*time.Second),
		Cache:                &cache.ContentCache{Dir: cfg.CacheDirectory, Enabled: cfg.CacheEnabled},
		MaxConcurrentFetches: int64(cfg.MaxConcurrentFetches),
		PerDomainDelay:       cfg.PerDomainDelay,
		FetchTimeout:         cfg.FetchTimeout,
		RedirectMaxHops:      cfg.RedirectMaxHops,
		MaxContentChars:      cfg.MaxContentChars,
	}

	orchestrator := &pipeline.Orchestrator{
		Config:    cfg,
		Search:    searchProvider,
		Fetcher:   fetcher,
		LLM:       completer,
		Prompts:   prompts,
		URLFilter: urlfilter.New(cfg.DisallowedDomainSet()),
	}

	result, err := orchestrator.Run(ctx, query)
	if err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	if strings.EqualFold(filepath.Ext(outputPath), ".pdf") {
		data, err := render.RenderPDF(result)
		if err != nil {
			return fmt.Errorf("render pdf: %w", err)
		}
		return os.WriteFile(outputPath, data, 0o644)
	}

	markdown := render.RenderMarkdown(result)
	return os.WriteFile(outputPath, []byte(markdown), 0o644)
}
