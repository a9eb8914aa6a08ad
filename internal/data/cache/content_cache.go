// Package cache stores handler and bundler results on disk, addressed by
// kind, variant and content hash, under a root namespaced by the config hash.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"packt/internal/core/errors"
	"packt/internal/shared/observability"
	"packt/internal/shared/util"
)

type Kind string

const (
	KindHandler Kind = "handler"
	KindBundler Kind = "bundler"
)

func (k Kind) valid() bool {
	return k == KindHandler || k == KindBundler
}

// envelope is the on-disk record. The addressing fields are repeated so a
// file copied to the wrong place reads as a miss.
type envelope struct {
	Kind      Kind            `json:"kind"`
	Variant   string          `json:"variant"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

type ContentCache struct {
	root   string
	memory *lru[string, json.RawMessage]
	hits   atomic.Int64
	misses atomic.Int64
}

// New opens (creating if needed) a cache rooted at root. memoryEntries bounds
// the in-process front; zero disables it.
func New(root string, memoryEntries int) (*ContentCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.IO("create cache root", root, err)
	}
	return &ContentCache{root: root, memory: newLRU[string, json.RawMessage](memoryEntries)}, nil
}

// Root returns the namespaced directory entries are stored under.
func (c *ContentCache) Root() string {
	return c.root
}

func (c *ContentCache) path(kind Kind, variant, hash string) string {
	return filepath.Join(c.root, string(kind), variant, hash)
}

func memoryKey(kind Kind, variant, hash string) string {
	return string(kind) + "/" + variant + "/" + hash
}

// Get decodes the entry for (kind, variant, hash) into out and reports whether
// it was found. Missing, unreadable, or corrupt entries are misses.
func (c *ContentCache) Get(kind Kind, variant, hash string, out any) bool {
	if err := validateKey(kind, variant, hash); err != nil {
		c.miss(kind)
		return false
	}

	key := memoryKey(kind, variant, hash)
	if payload, ok := c.memory.get(key); ok {
		if err := json.Unmarshal(payload, out); err == nil {
			c.hit(kind)
			return true
		}
		c.memory.remove(key)
	}

	path := c.path(kind, variant, hash)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("cache read failed", "path", path, "error", err)
		}
		c.miss(kind)
		return false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Debug("cache entry corrupt", "path", path, "error", err)
		c.miss(kind)
		return false
	}
	if env.Kind != kind || env.Variant != variant || env.Hash != hash || len(env.Payload) == 0 {
		slog.Debug("cache entry does not match its address", "path", path)
		c.miss(kind)
		return false
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		slog.Debug("cache payload does not decode", "path", path, "error", err)
		c.miss(kind)
		return false
	}

	c.memory.put(key, env.Payload)
	c.hit(kind)
	return true
}

// Put stores payload for (kind, variant, hash). The file is written to a temp
// name and renamed into place, so readers never observe a partial entry and
// concurrent writers of the same key both succeed.
func (c *ContentCache) Put(kind Kind, variant, hash string, payload any) error {
	if err := validateKey(kind, variant, hash); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode cache payload")
	}
	data, err := json.Marshal(envelope{
		Kind:      kind,
		Variant:   variant,
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
		Payload:   raw,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode cache entry")
	}

	path := c.path(kind, variant, hash)
	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.IO("write cache entry", path, err)
	}
	c.memory.put(memoryKey(kind, variant, hash), raw)
	return nil
}

// Stats returns the hit and miss counts since the cache was opened or last reset.
func (c *ContentCache) Stats() (hits, misses int) {
	return int(c.hits.Load()), int(c.misses.Load())
}

// ResetStats zeroes the counters and returns their previous values.
func (c *ContentCache) ResetStats() (hits, misses int) {
	return int(c.hits.Swap(0)), int(c.misses.Swap(0))
}

func (c *ContentCache) hit(kind Kind) {
	c.hits.Add(1)
	observability.CacheHitsTotal.WithLabelValues(string(kind)).Inc()
}

func (c *ContentCache) miss(kind Kind) {
	c.misses.Add(1)
	observability.CacheMissesTotal.WithLabelValues(string(kind)).Inc()
}

func validateKey(kind Kind, variant, hash string) error {
	if !kind.valid() {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("unknown cache kind %q", kind))
	}
	if !safeComponent(variant) {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("invalid cache variant %q", variant))
	}
	if !safeComponent(hash) {
		return errors.New(errors.CodeValidationError, fmt.Sprintf("invalid cache hash %q", hash))
	}
	return nil
}

func safeComponent(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`) && !strings.HasPrefix(s, ".")
}

// PruneNamespaces removes every config-hash directory under cacheDir except
// keep, returning how many were removed. Entries written under an older
// config can never be read again once the hash changes.
func PruneNamespaces(cacheDir, keep string) (int, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.IO("list cache namespaces", cacheDir, err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == keep || !isHex(entry.Name()) {
			continue
		}
		dir := filepath.Join(cacheDir, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			return removed, errors.IO("remove cache namespace", dir, err)
		}
		removed++
	}
	return removed, nil
}

func isHex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
