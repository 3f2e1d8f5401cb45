// Package cache stores resolved profiles with thundering herd prevention.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/sfcache"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/localfs"
	"github.com/codeGROOVE-dev/sfcache/pkg/store/null"

	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

// DefaultTTL is how long a resolved profile stays valid.
const DefaultTTL = 24 * time.Hour

// Stats holds cache hit/miss statistics.
type Stats struct {
	Hits   int64
	Misses int64
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Cache wraps sfcache for resolved profiles. A nil *Cache is valid and caches nothing.
type Cache struct {
	tc     *sfcache.TieredCache[string, []byte]
	logger *slog.Logger
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache with disk persistence at the user cache directory.
func New(ttl time.Duration) (*Cache, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return NewWithPath(ttl, filepath.Join(cacheDir, "fedprobe"))
}

// NewWithPath creates a Cache with disk persistence at the specified path.
func NewWithPath(ttl time.Duration, cachePath string) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(cachePath, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	persist, err := localfs.New[string, []byte]("fedprobe", cachePath)
	if err != nil {
		return nil, fmt.Errorf("create persistence layer: %w", err)
	}

	tc, err := sfcache.NewTiered[string, []byte](persist, sfcache.TTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{tc: tc, ttl: ttl, logger: slog.Default()}, nil
}

// NewNull creates a Cache without persistence.
func NewNull() *Cache {
	tc, err := sfcache.NewTiered[string, []byte](null.New[string, []byte]())
	if err != nil {
		panic("sfcache.NewTiered with null store: " + err.Error())
	}
	return &Cache{tc: tc, ttl: DefaultTTL, logger: slog.Default()}
}

// SetLogger replaces the cache's logger.
func (c *Cache) SetLogger(logger *slog.Logger) {
	if c != nil && logger != nil {
		c.logger = logger
	}
}

// TTL returns the default TTL for cache entries.
func (c *Cache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Close flushes and releases the persistence layer.
func (c *Cache) Close() error {
	if c == nil || c.tc == nil {
		return nil
	}
	return c.tc.Close()
}

// Stats returns hit/miss counters since creation.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Key derives the cache key of an identifier resolved under an optional network filter.
func Key(network profile.Network, identifier string) string {
	hash := sha256.Sum256([]byte(string(network) + "|" + identifier))
	return hex.EncodeToString(hash[:])
}

// ResolveFunc produces a profile on a cache miss.
type ResolveFunc func(ctx context.Context) (*profile.Profile, error)

// GetSet returns the cached profile for key, or calls resolve once for all concurrent
// callers of the same key. Results that are not Cacheable are returned but not stored,
// and errors are never stored.
func (c *Cache) GetSet(ctx context.Context, key string, resolve ResolveFunc) (*profile.Profile, error) {
	if c == nil || c.tc == nil {
		return resolve(ctx)
	}

	var fetched bool
	data, err := c.tc.GetSet(ctx, key, func(ctx context.Context) ([]byte, error) {
		fetched = true
		p, err := resolve(ctx)
		if err != nil {
			return nil, err
		}
		if !p.Cacheable() {
			c.logger.DebugContext(ctx, "result not cacheable", "network", p.Network, "url", p.URL)
			return nil, &uncacheableError{profile: p}
		}
		return json.Marshal(p)
	}, c.ttl)

	if fetched {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
		c.logger.DebugContext(ctx, "cache hit", "key", key)
	}

	var uncacheable *uncacheableError
	if errors.As(err, &uncacheable) {
		return uncacheable.profile.Clone(), nil
	}
	if err != nil {
		return nil, err
	}

	var p profile.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.WarnContext(ctx, "discarding corrupt cache entry", "key", key, "error", err)
		return resolve(ctx)
	}
	return &p, nil
}

type uncacheableError struct{ profile *profile.Profile }

func (*uncacheableError) Error() string { return "result not cacheable" }
