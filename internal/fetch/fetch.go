// Package fetch implements the HTTP Fetcher (spec §4.7): a politeness-
// bounded, cache-integrated, robots-gated page fetcher. It keeps the
// teacher's Client struct and its redirect policy; the response
// Content-Type is used only to pick a charset and never causes a response
// to be rejected. It replaces the teacher's per-client channel-based concurrency
// gate and conditional-request HTTP cache with the primitives spec.md
// §4.7 actually calls for: a global semaphore, per-origin rate limiting,
// and in-flight fetch deduplication, promoted to golang.org/x/sync's
// sibling packages (already present in the pack, e.g.
// Tangerg-lynx/flow/batch.go imports golang.org/x/sync/errgroup).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/arborly/scoutline/internal/cache"
	"github.com/arborly/scoutline/internal/canonical"
	"github.com/arborly/scoutline/internal/extract"
	"github.com/arborly/scoutline/internal/model"
	"github.com/arborly/scoutline/internal/perrors"
	"github.com/arborly/scoutline/internal/robots"
	"github.com/arborly/scoutline/internal/urlfilter"
)

// Client fetches and extracts page text, enforcing the politeness and
// caching contract of spec.md §4.7.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string

	URLFilter *urlfilter.Filter
	Robots    *robots.Checker
	Cache     *cache.ContentCache

	// MaxConcurrentFetches bounds the number of fetches in flight across
	// the whole run. Zero means a single fetch at a time, never unbounded.
	MaxConcurrentFetches int64
	// PerDomainDelay is the minimum spacing between requests to the same
	// origin.
	PerDomainDelay time.Duration
	// FetchTimeout bounds a single fetch end to end, including redirects.
	FetchTimeout time.Duration
	// RedirectMaxHops caps redirect following. Zero means default (5).
	RedirectMaxHops int
	// MaxContentChars truncates extracted text. Zero means unlimited.
	MaxContentChars int

	once     sync.Once
	sem      *semaphore.Weighted
	sf       singleflight.Group
	limiters sync.Map // origin -> *rate.Limiter
}

func (c *Client) init() {
	c.once.Do(func() {
		n := c.MaxConcurrentFetches
		if n <= 0 {
			n = 1
		}
		c.sem = semaphore.NewWeighted(n)
	})
}

func (c *Client) limiterFor(origin string) *rate.Limiter {
	if v, ok := c.limiters.Load(origin); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Every(c.PerDomainDelay), 1)
	actual, _ := c.limiters.LoadOrStore(origin, lim)
	return actual.(*rate.Limiter)
}

// Fetch implements the HTTP Fetcher contract. It never panics and always
// returns either a populated model.FetchedDoc or a *perrors.FetchError.
func (c *Client) Fetch(ctx context.Context, rawURL string) (model.FetchedDoc, error) {
	c.init()

	if !c.URLFilter.IsAllowed(rawURL) {
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchFiltered}
	}

	key, err := canonical.URL(rawURL)
	if err != nil {
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchFiltered, Err: err}
	}

	if cached, ok := c.Cache.Get(ctx, key); ok {
		return model.FetchedDoc{
			URL:         key,
			Status:      http.StatusOK,
			ContentText: string(cached),
			ByteLength:  len(cached),
			Source:      model.FetchSourceCache,
		}, nil
	}

	if c.Robots != nil && !c.Robots.CanFetch(ctx, c.UserAgent, rawURL) {
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchRobotsDenied}
	}

	// singleflight collapses concurrent Fetch calls for the same
	// canonical URL into a single network round trip, satisfying the
	// "at most one fetch in flight per URL" invariant beyond what the
	// cache alone provides.
	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.fetchOnce(ctx, rawURL, key)
	})
	if err != nil {
		var fe *perrors.FetchError
		if errors.As(err, &fe) {
			return model.FetchedDoc{}, fe
		}
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchTransport, Err: err}
	}
	return v.(model.FetchedDoc), nil
}

func (c *Client) fetchOnce(ctx context.Context, rawURL, key string) (model.FetchedDoc, error) {
	origin, err := canonical.Origin(rawURL)
	if err != nil {
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchFiltered, Err: err}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchTimeout, Err: err}
	}
	defer c.sem.Release(1)

	// per_domain_delay = 0 means no per-origin pacing at all: only the
	// global semaphore above bounds concurrency.
	if c.PerDomainDelay > 0 {
		if err := c.limiterFor(origin).Wait(ctx); err != nil {
			return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchTimeout, Err: err}
		}
	}

	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, status, err := c.get(reqCtx, rawURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchTimeout, Err: err}
		}
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchTransport, Err: err}
	}
	if status < 200 || status > 299 {
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchHTTPStatus, StatusCode: status}
	}

	doc := extract.FromHTML(body)
	text := strings.TrimSpace(doc.Text)
	if text == "" {
		return model.FetchedDoc{}, &perrors.FetchError{URL: rawURL, Kind: perrors.FetchEmptyContent}
	}
	if c.MaxContentChars > 0 {
		runes := []rune(text)
		if len(runes) > c.MaxContentChars {
			text = string(runes[:c.MaxContentChars])
		}
	}

	_ = c.Cache.Put(ctx, key, []byte(text))

	return model.FetchedDoc{
		URL:         key,
		Status:      status,
		ContentText: text,
		ByteLength:  len(text),
		Source:      model.FetchSourceNetwork,
	}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return nil, 0, fmt.Errorf("unsupported URL scheme: %q", rawURL)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	// No explicit Accept-Encoding: net/http's Transport only decompresses
	// gzip automatically when it adds that header itself. Setting it here
	// would leave resp.Body gzip-compressed for decodeBody to mangle.

	client := c.getHTTPClient()
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	decoded, err := decodeBody(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		decoded = raw
	}
	return decoded, resp.StatusCode, nil
}

// decodeBody transcodes raw page bytes to UTF-8 using the charset named
// in the Content-Type header (or sniffed from the body). With no declared
// charset, valid UTF-8 is kept as UTF-8 and other bytes are decoded as
// windows-1252, charset.DetermineEncoding's default; get keeps the bytes
// unmodified only when decoding returns an error. golang.org/x/text was a
// declared-but-unused teacher dependency; this is its first real job.
func decodeBody(raw []byte, contentType string) ([]byte, error) {
	e, _, _ := charset.DetermineEncoding(raw, contentType)
	if e == nil {
		return raw, nil
	}
	decoded, err := e.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{CheckRedirect: c.checkRedirectFunc()}
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
