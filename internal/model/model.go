// Package model holds the run-scoped data types shared across the
// pipeline's stages (spec §3): the record shapes that flow from search
// hit through candidate, fetched document, and summarized document to the
// final merged result. Keeping them in one package lets fetch, llm, and
// pipeline depend on the same definitions without importing each other.
package model

// RawHit is a single search result before deduplication, carrying the
// sub-query that produced it.
type RawHit struct {
	Title          string
	URL            string
	Snippet        string
	OriginSubQuery string
}

// Candidate is a RawHit deduplicated by canonical URL and, once Phase 3
// has run, scored for relevance.
type Candidate struct {
	RawHit
	CanonicalURL string
	// OriginSubQueryIdx is the index of the first sub-query (in iteration
	// order) that produced this candidate, used to keep Phase 2's
	// dedup/ordering stable.
	OriginSubQueryIdx int
	RelevanceScore    int
	Scored            bool
}

// FetchSource records whether a FetchedDoc's text came from the network
// or was served from the content cache.
type FetchSource string

const (
	FetchSourceNetwork FetchSource = "network"
	FetchSourceCache   FetchSource = "cache"
)

// FetchedDoc is the result of a successful HTTP Fetcher call.
type FetchedDoc struct {
	URL         string
	Status      int
	ContentText string
	ByteLength  int
	Source      FetchSource
}

// SummarizedDoc adds a per-document LLM summary to a FetchedDoc, along
// with the Candidate it was fetched for (carries title, snippet, score).
type SummarizedDoc struct {
	FetchedDoc
	Candidate Candidate
	Summary   string
}

// FinalResult is the Orchestrator's output: an ordered list of
// SummarizedDoc plus the merged answer derived from their summaries.
type FinalResult struct {
	Documents   []SummarizedDoc
	FinalAnswer string
	Warnings    []string
}
