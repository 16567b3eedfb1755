// Package pipeline implements the Pipeline Orchestrator (spec §4.8): the
// six-phase expand/search/relevance/fetch/summarize/merge run that turns
// a query into a FinalResult. It replaces the teacher's single linear
// App.Run method (internal/app/app.go) — brief-parse, plan, search,
// fetch, synthesize, verify, render — with the phase-barrier structure
// spec.md §4.8 and §5 require, fanning out within each phase with
// golang.org/x/sync/errgroup the way Tangerg-lynx/flow/batch.go fans out
// batch segments.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/arborly/scoutline/internal/canonical"
	"github.com/arborly/scoutline/internal/config"
	"github.com/arborly/scoutline/internal/fetch"
	"github.com/arborly/scoutline/internal/llm"
	"github.com/arborly/scoutline/internal/model"
	"github.com/arborly/scoutline/internal/perrors"
	"github.com/arborly/scoutline/internal/prompt"
	"github.com/arborly/scoutline/internal/search"
	"github.com/arborly/scoutline/internal/urlfilter"
)

// Orchestrator runs the six-phase pipeline described in spec.md §4.8.
type Orchestrator struct {
	Config    config.Config
	Search    search.Provider
	Fetcher   *fetch.Client
	LLM       *llm.Completer
	Prompts   *prompt.Store
	URLFilter *urlfilter.Filter
}

// expandSchema is the JSON shape requested from Phase 1's structured LLM
// call: a list of sub-queries. The schema does not fix the list length;
// expand enforces the upper bound.
type expandSchema struct {
	Queries []string `json:"queries"`
}

// relevanceSchema is the JSON shape requested from Phase 3's structured
// LLM call: an integer 0..5.
type relevanceSchema struct {
	Score int `json:"score"`
}

// Run executes the full pipeline for query and returns the merged
// FinalResult. It never panics; per-item failures in Phases 2-5 are
// absorbed and logged, per spec.md §7's propagation rules.
func (o *Orchestrator) Run(ctx context.Context, query string) (model.FinalResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subQueries, err := o.expand(ctx, query)
	if err != nil {
		return model.FinalResult{}, err
	}

	candidates := o.search(ctx, subQueries)
	candidates = o.scoreRelevance(ctx, candidates)

	docs := o.fetchAll(ctx, candidates)
	summarized := o.summarizeAll(ctx, query, docs)

	return o.merge(ctx, query, summarized), nil
}

// Phase 1 — Expand. One structured LLM call asks for num_better_queries
// sub-queries. A longer list is truncated to num_better_queries; a shorter
// non-empty list is used as returned, not padded or rejected. On
// LLMUnavailable, fall back to [query]; on LLMBadOutput (including an
// empty list), abort with PipelineAborted(expand).
func (o *Orchestrator) expand(ctx context.Context, query string) ([]string, error) {
	system, err := o.Prompts.Render("expand_query", map[string]string{
		"num_queries": fmt.Sprintf("%d", o.Config.NumBetterQueries),
	})
	if err != nil {
		return nil, &perrors.PipelineAborted{Phase: "expand", Err: err}
	}
	user, err := o.Prompts.Render("expand_query_user", map[string]string{"query": query})
	if err != nil {
		return nil, &perrors.PipelineAborted{Phase: "expand", Err: err}
	}

	var out expandSchema
	err = o.LLM.CompleteStructured(ctx, system, user, expandSchema{}, o.Config.LLMTokensExpand, &out)
	if err != nil {
		if isLLMUnavailable(err) {
			log.Warn().Err(err).Msg("query expansion unavailable; continuing with raw query")
			return []string{query}, nil
		}
		return nil, &perrors.PipelineAborted{Phase: "expand", Err: err}
	}
	if len(out.Queries) == 0 {
		return nil, &perrors.PipelineAborted{Phase: "expand", Err: fmt.Errorf("expand returned zero sub-queries: %w", perrors.ErrLLMBadOutput)}
	}

	queries := out.Queries
	if len(queries) > o.Config.NumBetterQueries {
		queries = queries[:o.Config.NumBetterQueries]
	}
	return queries, nil
}

// Phase 2 — Search. Fans out across sub-queries, dedups by canonical
// URL keeping the first-seen sub-query index, filters denied URLs, and
// truncates to total_max_results.
func (o *Orchestrator) search(ctx context.Context, subQueries []string) []model.Candidate {
	hitsBySubQuery := make([][]search.Result, len(subQueries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range subQueries {
		i, q := i, q
		g.Go(func() error {
			results, err := o.Search.Search(gctx, q, o.Config.MaxResultsPerQuery)
			if err != nil {
				// Provider contract says this should not happen, but guard
				// anyway: a search failure is per-sub-query, never fatal.
				log.Warn().Err(err).Str("query", q).Msg("search provider returned error; treating as no results")
				return nil
			}
			hitsBySubQuery[i] = results
			return nil
		})
	}
	_ = g.Wait() // Search never returns a fatal error; g.Wait() cannot fail here.

	seen := make(map[string]struct{}) // canonical URL already turned into a candidate
	var candidates []model.Candidate
	for idx, results := range hitsBySubQuery {
		for _, r := range results {
			key, err := canonical.URL(r.URL)
			if err != nil {
				continue
			}
			if !o.URLFilter.IsAllowed(r.URL) {
				continue
			}
			if _, ok := seen[key]; ok {
				continue // first-seen wins; later sub-queries add no new candidate
			}
			seen[key] = struct{}{}
			candidates = append(candidates, model.Candidate{
				RawHit: model.RawHit{
					Title:          r.Title,
					URL:            r.URL,
					Snippet:        r.Snippet,
					OriginSubQuery: subQueries[idx],
				},
				CanonicalURL:      key,
				OriginSubQueryIdx: idx,
				RelevanceScore:    -1,
			})
		}
	}

	if o.Config.TotalMaxResults > 0 && len(candidates) > o.Config.TotalMaxResults {
		candidates = candidates[:o.Config.TotalMaxResults]
	}
	return candidates
}

// Phase 3 — Relevance. Issues a structured LLM call per candidate,
// bounded fan-out equal to the LLM concurrency cap. A failed call scores
// 0 and continues rather than aborting the run.
func (o *Orchestrator) scoreRelevance(ctx context.Context, candidates []model.Candidate) []model.Candidate {
	limit := o.Config.LLMConcurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	for i := range candidates {
		i := i
		g.Go(func() error {
			score := o.relevanceScore(gctx, candidates[i])
			mu.Lock()
			candidates[i].RelevanceScore = score
			candidates[i].Scored = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := candidates[:0]
	for _, c := range candidates {
		if c.RelevanceScore >= o.Config.MinRelevanceScore {
			out = append(out, c)
		}
	}
	return out
}

func (o *Orchestrator) relevanceScore(ctx context.Context, c model.Candidate) int {
	system, err := o.Prompts.Render("score_relevance", nil)
	if err != nil {
		log.Warn().Err(err).Msg("relevance prompt missing; scoring 0")
		return 0
	}
	user, err := o.Prompts.Render("score_relevance_user", map[string]string{
		"query":   c.OriginSubQuery,
		"title":   c.Title,
		"snippet": c.Snippet,
	})
	if err != nil {
		log.Warn().Err(err).Str("url", c.URL).Msg("relevance prompt render failed; scoring 0")
		return 0
	}

	var out relevanceSchema
	if err := o.LLM.CompleteStructured(ctx, system, user, relevanceSchema{}, o.Config.LLMTokensRelevance, &out); err != nil {
		log.Warn().Err(err).Str("url", c.URL).Msg("relevance scoring failed; scoring 0")
		return 0
	}
	if out.Score < 0 {
		return 0
	}
	if out.Score > 5 {
		return 5
	}
	return out.Score
}

// Phase 4 — Fetch. Submits candidates to the HTTP Fetcher concurrently;
// the Fetcher's own semaphores enforce politeness, so no additional
// Orchestrator-level limit is imposed here. Candidates whose fetch fails
// or whose text is empty are dropped with a logged reason.
func (o *Orchestrator) fetchAll(ctx context.Context, candidates []model.Candidate) []fetchedPair {
	results := make([]fetchedPair, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			doc, err := o.Fetcher.Fetch(gctx, c.URL)
			if err != nil {
				log.Warn().Err(err).Str("url", c.URL).Msg("fetch failed; dropping candidate")
				return nil
			}
			results[i] = fetchedPair{candidate: c, doc: doc, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]fetchedPair, 0, len(results))
	for _, r := range results {
		if r.ok {
			out = append(out, r)
		}
	}
	return out
}

type fetchedPair struct {
	candidate model.Candidate
	doc       model.FetchedDoc
	ok        bool
}

// Phase 5 — Summarize. One LLM text completion per FetchedDoc, bounded
// by the LLM concurrency cap. A failed summarization drops the document
// rather than aborting the run.
func (o *Orchestrator) summarizeAll(ctx context.Context, query string, docs []fetchedPair) []model.SummarizedDoc {
	limit := o.Config.LLMConcurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]*model.SummarizedDoc, len(docs))
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			summary, err := o.summarizeOne(gctx, query, d)
			if err != nil {
				log.Warn().Err(err).Str("url", d.doc.URL).Msg("summarization failed; dropping document")
				return nil
			}
			results[i] = &model.SummarizedDoc{
				FetchedDoc: d.doc,
				Candidate:  d.candidate,
				Summary:    summary,
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.SummarizedDoc, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (o *Orchestrator) summarizeOne(ctx context.Context, query string, d fetchedPair) (string, error) {
	system, err := o.Prompts.Render("summarize_doc", nil)
	if err != nil {
		return "", err
	}
	user, err := o.Prompts.Render("summarize_doc_user", map[string]string{
		"query":   query,
		"content": d.doc.ContentText,
	})
	if err != nil {
		return "", err
	}
	return o.LLM.CompleteText(ctx, system, user, o.Config.LLMTokensSummarize)
}

// Phase 6 — Merge. One LLM call synthesizes final_answer from the
// per-doc summaries. On failure, falls back to a deterministic
// concatenation with "== Source N ==" headers, per spec.md's scenario 6.
func (o *Orchestrator) merge(ctx context.Context, query string, docs []model.SummarizedDoc) model.FinalResult {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].Candidate, docs[j].Candidate
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore // primary: relevance descending
		}
		if a.OriginSubQueryIdx != b.OriginSubQueryIdx {
			return a.OriginSubQueryIdx < b.OriginSubQueryIdx // secondary: first-seen sub-query ascending
		}
		return a.CanonicalURL < b.CanonicalURL // tertiary: canonical URL lexicographic
	})

	if len(docs) == 0 {
		return model.FinalResult{Documents: docs, FinalAnswer: ""}
	}

	answer, err := o.mergeViaLLM(ctx, query, docs)
	if err != nil {
		log.Warn().Err(err).Msg("merge LLM call failed; falling back to deterministic concatenation")
		answer = fallbackConcatenate(docs)
		return model.FinalResult{
			Documents:   docs,
			FinalAnswer: answer,
			Warnings:    []string{"final answer generated by deterministic fallback: merge LLM call failed"},
		}
	}
	return model.FinalResult{Documents: docs, FinalAnswer: answer}
}

func (o *Orchestrator) mergeViaLLM(ctx context.Context, query string, docs []model.SummarizedDoc) (string, error) {
	system, err := o.Prompts.Render("merge_answer", nil)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "== Source %d ==\nURL: %s\nSummary: %s\n\n", i+1, d.URL, d.Summary)
	}
	user, err := o.Prompts.Render("merge_answer_user", map[string]string{
		"query":     query,
		"summaries": b.String(),
	})
	if err != nil {
		return "", err
	}
	return o.LLM.CompleteText(ctx, system, user, o.Config.LLMTokensMerge)
}

func fallbackConcatenate(docs []model.SummarizedDoc) string {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "== Source %d ==\n%s\n\n", i+1, d.Summary)
	}
	return strings.TrimSpace(b.String())
}

func isLLMUnavailable(err error) bool {
	return errors.Is(err, perrors.ErrLLMUnavailable)
}
