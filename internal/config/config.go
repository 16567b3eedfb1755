// Package config holds the Orchestrator's typed configuration, resolved
// once at construction time from the options spec.md §6 recognizes. The
// teacher resolves a Dynamically-typed config only informally (flags
// assembled directly into internal/app.Config); this package is the
// explicit typed record with validation spec.md §9 calls for.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/arborly/scoutline/internal/perrors"
)

// Config is a 1:1 mapping of spec.md §6's option table, plus the service
// endpoints the CLI wires up (LLMBaseURL, SearchBaseURL, SearchAPIKey),
// the LLM concurrency cap (LLMConcurrency), and two fields from the
// teacher's fetch/cache code that the distilled spec left implicit:
// RedirectMaxHops (bounded redirect following, internal/fetch/fetch.go's
// checkRedirectFunc) and CacheStrictPerms (mirrors internal/cache's
// LLMCache.StrictPerms, 0700/0600). CacheStrictPerms is carried on the
// record only; nothing in this module reads it.
type Config struct {
	LLMAPIKey        string
	LLMBaseURL       string
	LLMModel         string
	LLMTemperature   float64
	NumBetterQueries int

	MaxResultsPerQuery int
	TotalMaxResults    int
	MinRelevanceScore  int
	DisallowedDomains  []string

	LLMTokensExpand    int
	LLMTokensRelevance int
	LLMTokensSummarize int
	LLMTokensMerge     int
	LLMConcurrency     int

	MaxConcurrentFetches int
	PerDomainDelay       time.Duration
	FetchTimeout         time.Duration
	RedirectMaxHops      int
	UserAgent            string
	MaxContentChars      int

	CacheEnabled     bool
	CacheDirectory   string
	CacheStrictPerms bool

	PromptsPath string
	LogLevel    string

	SearchBaseURL string
	SearchAPIKey  string
}

// Validate enforces spec.md §6's bounds, returning a wrapped
// perrors.ErrConfigInvalid naming the first offending field.
func (c *Config) Validate() error {
	invalid := func(field, reason string) error {
		return fmt.Errorf("%s: %s: %w", field, reason, perrors.ErrConfigInvalid)
	}

	if strings.TrimSpace(c.LLMAPIKey) == "" {
		return invalid("llm_api_key", "must not be empty")
	}
	if strings.TrimSpace(c.LLMModel) == "" {
		return invalid("llm_model", "must not be empty")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return invalid("llm_temperature", "must be within [0,2]")
	}
	if c.NumBetterQueries < 1 {
		return invalid("num_better_queries", "must be >= 1")
	}
	if c.MaxResultsPerQuery < 1 {
		return invalid("max_results_per_query", "must be >= 1")
	}
	if c.TotalMaxResults < 1 {
		return invalid("total_max_results", "must be >= 1")
	}
	if c.MinRelevanceScore < 0 || c.MinRelevanceScore > 5 {
		return invalid("min_relevance_score", "must be within [0,5]")
	}
	if c.MaxConcurrentFetches < 1 {
		return invalid("max_concurrent_fetches", "must be >= 1")
	}
	if c.PerDomainDelay < 0 {
		return invalid("per_domain_delay", "must be >= 0")
	}
	if c.FetchTimeout <= 0 {
		return invalid("fetch_timeout", "must be > 0")
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		return invalid("user_agent", "must not be empty")
	}
	if c.MaxContentChars < 1 {
		return invalid("max_content_chars", "must be >= 1")
	}
	if c.CacheEnabled && strings.TrimSpace(c.CacheDirectory) == "" {
		return invalid("cache_directory", "must be set when cache_enabled")
	}
	if strings.TrimSpace(c.PromptsPath) == "" {
		return invalid("prompts_path", "must not be empty")
	}
	if c.LLMConcurrency < 1 {
		return invalid("llm_concurrency (derived from configuration)", "must be >= 1")
	}
	return nil
}

// DisallowedDomainSet lowercases and dedupes DisallowedDomains for
// passing directly to internal/urlfilter.New.
func (c *Config) DisallowedDomainSet() []string {
	out := make([]string, 0, len(c.DisallowedDomains))
	seen := make(map[string]struct{}, len(c.DisallowedDomains))
	for _, d := range c.DisallowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
