// Package search implements the Search Client (spec §4.5): a thin wrapper
// over a third-party web-search API returning {title, url, snippet}
// tuples. The contract never raises to the Orchestrator on transport
// failure; it logs and returns an empty result set instead, matching the
// teacher's internal/app.go call sites, which already treat a search
// error as non-fatal ("search error; continuing").
package search

import (
	"context"
)

// Result is a single search hit from a provider, augmented with the
// sub-query that produced it so Phase 2 of the Orchestrator can build
// spec.md's RawHit{title, url, snippet, origin_subquery}.
type Result struct {
	Title          string
	URL            string
	Snippet        string
	Source         string // provider name, for observability
	OriginSubQuery string
}

// Provider is a minimal interface for search providers. Search must never
// return an error to a caller that cannot act on it differently than an
// empty result; implementations log their own transport failures and
// return (nil, nil).
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Name() string
}

// DomainPolicy allows providers to filter or block results/requests by host.
// Implementations should treat Denylist as taking precedence over Allowlist.
type DomainPolicy struct {
	Allowlist []string
	Denylist  []string
}
