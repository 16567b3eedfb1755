// Package canonical implements URL canonicalization shared by the pipeline's
// dedup and cache-key logic. A canonical URL has a lower-cased scheme and
// host, no default port, no fragment, and query parameters sorted by key.
package canonical

import (
	"net/url"
	"sort"
	"strings"
)

// URL returns the canonical form of raw, or an error if raw does not parse
// as a URL. A relative reference is not rejected; it is normalized and
// returned like any other input. Canonicalization is idempotent:
// URL(URL(u)) == URL(u).
func URL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	normalize(u)
	return u.String(), nil
}

// Origin returns scheme://host:port (port omitted when default for the
// scheme), used as the robots.txt and per-origin pacing key.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	normalize(u)
	return u.Scheme + "://" + u.Host, nil
}

// Host returns the lower-cased host (without port) for blocklist matching.
func Host(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}

func normalize(u *url.URL) {
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	hostname := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = hostname
	}

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
}
