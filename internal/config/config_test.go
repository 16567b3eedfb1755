package config

import (
	"errors"
	"testing"
	"time"

	"github.com/arborly/scoutline/internal/perrors"
)

func validConfig() Config {
	return Config{
		LLMAPIKey:            "key",
		LLMModel:             "gpt-test",
		LLMTemperature:       0.2,
		NumBetterQueries:     3,
		MaxResultsPerQuery:   5,
		TotalMaxResults:      20,
		MinRelevanceScore:    2,
		MaxConcurrentFetches: 4,
		PerDomainDelay:       time.Second,
		FetchTimeout:         10 * time.Second,
		UserAgent:            "scoutline/1.0",
		MaxContentChars:      8000,
		PromptsPath:          "prompts.yaml",
		LLMConcurrency:       2,
	}
}

func TestValidate_Accepts(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsBadFields(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.LLMAPIKey = "" },
		func(c *Config) { c.LLMTemperature = 3 },
		func(c *Config) { c.NumBetterQueries = 0 },
		func(c *Config) { c.MinRelevanceScore = 6 },
		func(c *Config) { c.MaxConcurrentFetches = 0 },
		func(c *Config) { c.PerDomainDelay = -1 },
		func(c *Config) { c.FetchTimeout = 0 },
		func(c *Config) { c.UserAgent = "" },
		func(c *Config) { c.MaxContentChars = 0 },
		func(c *Config) { c.PromptsPath = "" },
		func(c *Config) { c.LLMConcurrency = 0 },
	}
	for i, mutate := range cases {
		c := validConfig()
		mutate(&c)
		if err := c.Validate(); !errors.Is(err, perrors.ErrConfigInvalid) {
			t.Errorf("case %d: expected ErrConfigInvalid, got %v", i, err)
		}
	}
}

func TestDisallowedDomainSet_DedupesAndLowercases(t *testing.T) {
	c := validConfig()
	c.DisallowedDomains = []string{"Example.com", " example.com ", "Other.org"}
	got := c.DisallowedDomainSet()
	if len(got) != 2 {
		t.Fatalf("expected 2 unique domains, got %v", got)
	}
}
