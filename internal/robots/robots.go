// Package robots implements the per-origin robots.txt checker (spec §4.2).
// It fetches and parses an origin's robots.txt on the first query for that
// origin (concurrent first queries may each fetch; the first result stored
// is kept for the process lifetime), fails open (allow) on any network or
// parse error, and answers subsequent queries for that origin from an
// in-memory cache. Parsing and
// path/user-agent matching is delegated to github.com/temoto/robotstxt,
// already a direct dependency of the theaidguild-kirk-ai pack repo and the
// idiomatic choice over hand-rolling a robots.txt parser.
package robots

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/arborly/scoutline/internal/canonical"
)

// Checker answers "may user-agent fetch URL?" against cached robots.txt
// rulesets, one per origin, guarded by a mutex during population.
type Checker struct {
	HTTPClient        *http.Client
	UserAgent         string
	FetchTimeout      time.Duration
	AllowPrivateHosts bool

	mu      sync.Mutex
	origins map[string]*entry
}

type entry struct {
	data     *robotstxt.RobotsData
	allowAll bool // fail-open: robots.txt missing, malformed, or unreachable
}

// NewChecker constructs a Checker with process-lifetime caching.
func NewChecker(httpClient *http.Client, userAgent string, fetchTimeout time.Duration) *Checker {
	return &Checker{
		HTTPClient:   httpClient,
		UserAgent:    userAgent,
		FetchTimeout: fetchTimeout,
		origins:      make(map[string]*entry),
	}
}

// CanFetch reports whether userAgent may fetch rawURL under the origin's
// robots.txt rules. On first query for an origin it fetches and parses
// robots.txt (fail-open on any error); subsequent calls are O(1) lookups
// against the cached ruleset.
func (c *Checker) CanFetch(ctx context.Context, userAgent, rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	origin, err := canonical.Origin(rawURL)
	if err != nil {
		return false
	}

	e := c.entryFor(ctx, origin)
	if e.allowAll {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	group := e.data.FindGroup(userAgent)
	return group.Test(path)
}

func (c *Checker) entryFor(ctx context.Context, origin string) *entry {
	c.mu.Lock()
	if e, ok := c.origins[origin]; ok {
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()

	e := c.fetchAndParse(ctx, origin)

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent first-query for the same origin may have already stored
	// a result; keep whichever one landed first so callers never observe a
	// ruleset swap mid-run.
	if existing, ok := c.origins[origin]; ok {
		return existing
	}
	c.origins[origin] = e
	return e
}

func (c *Checker) fetchAndParse(ctx context.Context, origin string) *entry {
	host := hostOf(origin)
	if !c.AllowPrivateHosts && isLocalOrPrivateHost(host) {
		return &entry{allowAll: true}
	}

	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return &entry{allowAll: true}
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &entry{allowAll: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &entry{allowAll: true}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &entry{allowAll: true}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &entry{allowAll: true}
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil || data == nil {
		return &entry{allowAll: true}
	}
	return &entry{data: data}
}

func hostOf(origin string) string {
	without := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	host, _, err := net.SplitHostPort(without)
	if err != nil {
		return without
	}
	return host
}

func isLocalOrPrivateHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "localhost" || h == "localhost.localdomain" || h == "::1" || h == "[::1]" {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return true
		}
	}
	return false
}
