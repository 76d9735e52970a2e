// Package cache stores toolchain and dependency artifacts between runs.
//
// Entries are opaque blobs addressed by a fingerprint of the job environment.
// All operations are best effort for callers: a miss and an error both mean
// "rebuild from scratch".
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Key is a hex sha256 fingerprint.
type Key string

// Fingerprint derives a cache key from the runner environment, a
// toolchain/environment descriptor and a user supplied key.
func Fingerprint(runsOn, descriptor, userKey string) Key {
	h := sha256.New()
	for _, part := range []string{runsOn, descriptor, userKey} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return Key(hex.EncodeToString(h.Sum(nil)))
}

func (k Key) valid() bool {
	if len(k) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(string(k))
	return err == nil
}

// Cache is a best-effort blob store.
type Cache interface {
	// Get returns the blob for key; ok is false on a miss.
	Get(ctx context.Context, key Key) (blob []byte, ok bool, err error)
	// Put stores blob under key, replacing any previous value.
	Put(ctx context.Context, key Key, blob []byte) error
}

// FileCache stores blobs under Dir as {key[0:2]}/{key}.tgz. Writes go to a
// temp file in the same directory and are renamed into place, so concurrent
// readers see either the old blob or the new one.
type FileCache struct {
	Dir string
}

// NewFileCache creates a filesystem cache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

func (c *FileCache) path(key Key) string {
	return filepath.Join(c.Dir, string(key[:2]), string(key)+".tgz")
}

func (c *FileCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !key.valid() {
		return nil, false, fmt.Errorf("invalid cache key %q", key)
	}
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return data, true, nil
}

func (c *FileCache) Put(ctx context.Context, key Key, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !key.valid() {
		return fmt.Errorf("invalid cache key %q", key)
	}
	target := c.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "tmp-"+string(key)+"-")
	if err != nil {
		return fmt.Errorf("create temp cache entry: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp cache entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache entry: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("publish cache entry: %w", err)
	}
	committed = true
	return nil
}

// Prune removes entries (and abandoned temp files) last written before
// now-maxAge. It returns the number of files removed.
func (c *FileCache) Prune(maxAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-maxAge)
	removed := 0
	err := filepath.WalkDir(c.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".tgz") && !strings.HasPrefix(name, "tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("prune cache: %w", err)
	}
	return removed, nil
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key][]byte
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Key][]byte)}
}

func (c *MemoryCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	blob, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, key Key, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(blob))
	copy(stored, blob)
	c.mu.Lock()
	c.entries[key] = stored
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
