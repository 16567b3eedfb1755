package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arborly/scoutline/internal/cache"
	"github.com/arborly/scoutline/internal/config"
	"github.com/arborly/scoutline/internal/fetch"
	"github.com/arborly/scoutline/internal/llm"
	"github.com/arborly/scoutline/internal/model"
	"github.com/arborly/scoutline/internal/prompt"
	"github.com/arborly/scoutline/internal/robots"
	"github.com/arborly/scoutline/internal/search"
	"github.com/arborly/scoutline/internal/urlfilter"
)

func testPrompts() *prompt.Store {
	return prompt.NewStore(map[string]string{
		"expand_query":         "Produce {{num_queries}} sub-queries.",
		"expand_query_user":    "Query: {{query}}",
		"score_relevance":      "Score 0-5 relevance.",
		"score_relevance_user": "Query: {{query}}\nTitle: {{title}}\nSnippet: {{snippet}}",
		"summarize_doc":        "Summarize for the query.",
		"summarize_doc_user":   "Query: {{query}}\nContent: {{content}}",
		"merge_answer":         "Merge summaries into one answer.",
		"merge_answer_user":    "Query: {{query}}\nSummaries:\n{{summaries}}",
	})
}

// scriptedLLM answers structured/text calls from a fixed queue of JSON/text
// bodies, in call order, regardless of request contents — enough to drive
// the Orchestrator through a scenario deterministically.
type scriptedLLM struct {
	bodies []string
	i      int
}

func (s *scriptedLLM) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.i >= len(s.bodies) {
		return openai.ChatCompletionResponse{}, errNoMoreScriptedResponses
	}
	body := s.bodies[s.i]
	s.i++
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: body}}},
	}, nil
}

var errNoMoreScriptedResponses = &scriptError{"scripted LLM exhausted"}

type scriptError struct{ msg string }

func (e *scriptError) Error() string { return e.msg }

func newOrchestrator(t *testing.T, llmBodies []string, searchResults map[string][]search.Result) (*Orchestrator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><article><p>some real page content here</p></article></body></html>"))
	}))
	t.Cleanup(srv.Close)

	rc := robots.NewChecker(srv.Client(), "scoutline-test", 0)
	rc.AllowPrivateHosts = true

	fetcher := &fetch.Client{
		HTTPClient:           srv.Client(),
		UserAgent:            "scoutline-test",
		URLFilter:            urlfilter.New(nil),
		Robots:               rc,
		Cache:                &cache.ContentCache{Dir: t.TempDir(), Enabled: true},
		MaxConcurrentFetches: 4,
		PerDomainDelay:       time.Millisecond,
		FetchTimeout:         5 * time.Second,
		MaxContentChars:      10000,
	}

	completer := &llm.Completer{Client: &scriptedLLM{bodies: llmBodies}, Model: "test-model", BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	o := &Orchestrator{
		Config: config.Config{
			NumBetterQueries:     2,
			MaxResultsPerQuery:   10,
			TotalMaxResults:      20,
			MinRelevanceScore:    0,
			LLMConcurrency:       4,
			LLMTokensExpand:      100,
			LLMTokensRelevance:   10,
			LLMTokensSummarize:   200,
			LLMTokensMerge:       300,
			MaxConcurrentFetches: 4,
		},
		Search:    &fakeSearchProvider{results: searchResults},
		Fetcher:   fetcher,
		LLM:       completer,
		Prompts:   testPrompts(),
		URLFilter: urlfilter.New(nil),
	}
	return o, srv
}

type fakeSearchProvider struct {
	results map[string][]search.Result
}

func (f *fakeSearchProvider) Name() string { return "fake" }

func (f *fakeSearchProvider) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	return f.results[query], nil
}

func TestRun_DedupesAcrossSubQueries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html><body><article><p>dup content</p></article></body></html>"))
	}))
	defer srv.Close()

	dupURL := srv.URL + "/x"
	results := map[string][]search.Result{
		"AI news 2025":            {{Title: "A", URL: dupURL, Snippet: "s"}, {Title: "B", URL: srv.URL + "/b", Snippet: "s"}},
		"recent AI breakthroughs": {{Title: "C", URL: dupURL, Snippet: "s"}, {Title: "D", URL: srv.URL + "/d", Snippet: "s"}, {Title: "E", URL: srv.URL + "/e", Snippet: "s"}},
	}

	o, _ := newOrchestrator(t, nil, nil)
	o.Search = &fakeSearchProvider{results: results}

	subQueries := []string{"AI news 2025", "recent AI breakthroughs"}
	candidates := o.search(context.Background(), subQueries)

	if len(candidates) != 4 {
		t.Fatalf("expected 4 deduped candidates, got %d: %+v", len(candidates), candidates)
	}
	count := 0
	for _, c := range candidates {
		if c.URL == dupURL {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected dup URL to appear exactly once, got %d", count)
	}
}

func TestRun_EmptyCandidatesAfterRelevance_NoMergeCall(t *testing.T) {
	o, _ := newOrchestrator(t, nil, nil)
	o.Config.MinRelevanceScore = 5
	// scriptedLLM has zero bodies, so any merge LLM call would fail and
	// leave a fallback warning; with an empty candidate list the merge
	// phase must not call the LLM at all.
	result := o.merge(context.Background(), "q", nil)
	if result.FinalAnswer != "" {
		t.Errorf("expected empty final answer, got %q", result.FinalAnswer)
	}
	if len(result.Documents) != 0 {
		t.Errorf("expected zero documents")
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no merge LLM call (no fallback warning), got %v", result.Warnings)
	}
}

func TestMerge_FallsBackToConcatenationOnLLMFailure(t *testing.T) {
	o, _ := newOrchestrator(t, nil, nil) // no scripted responses -> every call fails
	docs := []model.SummarizedDoc{
		{FetchedDoc: model.FetchedDoc{URL: "https://a.test/1"}, Summary: "summary one"},
		{FetchedDoc: model.FetchedDoc{URL: "https://a.test/2"}, Summary: "summary two"},
	}
	result := o.merge(context.Background(), "q", docs)
	if !strings.Contains(result.FinalAnswer, "== Source 1 ==") {
		t.Errorf("expected deterministic fallback format, got %q", result.FinalAnswer)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a fallback warning to be recorded")
	}
}

func TestScoreRelevance_FiltersBelowThreshold(t *testing.T) {
	// Two candidates; the scripted LLM answers {"score":5} then {"score":1}.
	o, _ := newOrchestrator(t, []string{`{"score":5}`, `{"score":1}`}, nil)
	o.Config.MinRelevanceScore = 3
	candidates := []model.Candidate{
		{RawHit: model.RawHit{URL: "https://a.test/1"}},
		{RawHit: model.RawHit{URL: "https://a.test/2"}},
	}
	out := o.scoreRelevance(context.Background(), candidates)
	if len(out) != 1 {
		t.Fatalf("expected 1 candidate to survive the threshold, got %d: %+v", len(out), out)
	}
}

func TestExpand_FallsBackToRawQueryOnLLMUnavailable(t *testing.T) {
	// No scripted responses at all: every CreateChatCompletion call fails
	// immediately, so expand must fall back to [query] rather than abort.
	o, _ := newOrchestrator(t, nil, nil)
	subQueries, err := o.expand(context.Background(), "origin query")
	if err != nil {
		t.Fatalf("expected fallback, got error: %v", err)
	}
	if len(subQueries) != 1 || subQueries[0] != "origin query" {
		t.Errorf("expected fallback to [query], got %+v", subQueries)
	}
}
