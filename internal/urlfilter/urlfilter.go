// Package urlfilter implements the pure domain-blocklist predicate used to
// reject search hits and fetch targets before any network or disk I/O
// happens. It is intentionally dependency-free: it is a pure function over
// a parsed URL and a configured blocklist, and no third-party library in
// the retrieved pack does less than net/url already provides here (see
// DESIGN.md).
package urlfilter

import (
	"net/url"
	"strings"
)

// Filter holds a lower-cased, deduplicated domain blocklist. A zero-value
// Filter allows everything except non-HTTP(S) schemes and unparsable URLs.
type Filter struct {
	blocked map[string]struct{}
}

// New builds a Filter from a list of disallowed domains. Entries are
// suffix-matched with a strict dot boundary: "youtube.com" also blocks
// "m.youtube.com" but not "notyoutube.com".
func New(disallowedDomains []string) *Filter {
	f := &Filter{blocked: make(map[string]struct{}, len(disallowedDomains))}
	for _, d := range disallowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		f.blocked[d] = struct{}{}
	}
	return f
}

// IsAllowed reports whether raw may be searched or fetched: it must parse as
// an absolute http(s) URL whose host is not blocked and not a subdomain of a
// blocked entry.
func (f *Filter) IsAllowed(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if f == nil {
		return true
	}
	return !f.hostBlocked(host)
}

func (f *Filter) hostBlocked(host string) bool {
	for blocked := range f.blocked {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}
