package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ClearDir removes dir and all contents, then recreates it empty so callers
// can keep using the same path immediately.
func ClearDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// PurgeContentCacheByAge removes .txt entries older than maxAge, judged by
// file modification time. Content cache entries carry no embedded timestamp;
// spec.md treats the cache as durable and leaves expiry to operators, so
// this is an opt-in operational tool, never called automatically by the
// pipeline.
func PurgeContentCacheByAge(dir string, maxAge time.Duration) (int, error) {
	return purgeBySuffixAndAge(dir, ".txt", maxAge)
}

// PurgeLLMCacheByAge removes LLM cache entries (.json files) older than
// maxAge, judged by file modification time.
func PurgeLLMCacheByAge(dir string, maxAge time.Duration) (int, error) {
	return purgeBySuffixAndAge(dir, ".json", maxAge)
}

func purgeBySuffixAndAge(dir string, suffix string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime().UTC()) <= maxAge {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return removed, nil
	}
	return removed, err
}
