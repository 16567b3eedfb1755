// Package cache implements the durable stores used by the pipeline: the
// content-addressed page-text cache (spec §4.3), generalized from the
// teacher's internal/cache/httpcache.go atomic write-temp-rename layout,
// and an LLM response cache (LLMCache) whose entries are written in place.
// The LLM client in this module does not read or write LLMCache; only the
// age-based purge in invalidate.go touches its files.
package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"lukechampine.com/blake3"
)

// ContentCache stores extracted page text on disk, one file per canonical
// URL, named by the hex BLAKE3 digest of the key. spec.md allows "SHA-256 or
// equivalent"; BLAKE3 is the content hash already used by the
// rohmanhakim-docs-crawler pack repo and is faster at this size with no
// durability tradeoff. Reads never raise: a missing or unreadable file is
// treated as a cache miss. A readable file's contents are returned as
// stored; they are not checked for corruption. When Enabled is false, both operations are
// no-ops, per spec.md's cache_enabled switch.
type ContentCache struct {
	Dir     string
	Enabled bool
}

func (c *ContentCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("content cache: dir not configured")
	}
	return os.MkdirAll(c.Dir, 0o755)
}

func (c *ContentCache) path(key string) string {
	sum := blake3.Sum256([]byte(key))
	return filepath.Join(c.Dir, hex(sum[:])+".txt")
}

// Get returns the cached text for key, and whether it was present. Any
// filesystem error is treated as a miss, never surfaced to the caller.
func (c *ContentCache) Get(_ context.Context, key string) ([]byte, bool) {
	if c == nil || !c.Enabled {
		return nil, false
	}
	if err := c.ensureDir(); err != nil {
		return nil, false
	}
	b, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return b, true
}

// Put writes text to the cache under key. The write is atomic: data lands
// in a temp file in the same directory, then is renamed into place, so a
// concurrent reader never observes a partial write. Concurrent writers to
// the same key are allowed; the content is a pure function of the URL at
// fetch time, so last-writer-wins is an acceptable outcome.
func (c *ContentCache) Put(_ context.Context, key string, text []byte) error {
	if c == nil || !c.Enabled {
		return nil
	}
	if err := c.ensureDir(); err != nil {
		return err
	}
	dst := c.path(key)
	tmp := dst + ".tmp-" + randSuffix()
	if err := os.WriteFile(tmp, text, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func hex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}

func randSuffix() string {
	// A temp-file suffix only needs to avoid same-process collisions; the
	// final rename is what provides atomicity, not this name's entropy.
	return time.Now().UTC().Format("150405.000000000")
}
