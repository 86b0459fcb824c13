// Package cache implements the sharded decision cache: a bounded, TTL-aware
// key→FaultDecision map keyed by the fingerprint computed in
// internal/fingerprint. Eviction uses hashicorp/golang-lru's own
// recency-ordered eviction per shard, and dgryski/go-rendezvous provides
// shard assignment so a shard-count change on reload remaps the minimum
// number of keys.
package cache

import (
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	rendezvous "github.com/dgryski/go-rendezvous"

	"github.com/cespare/xxhash/v2"
	"github.com/edgecomet/imposter/pkg/types"
)

// Config mirrors DecisionCacheConfig.
type Config struct {
	Enabled bool
	// MaxSize is the total entry budget across all shards.
	MaxSize int
	// TTLSeconds is 0 for "never expires".
	TTLSeconds int64
	// Shards is the number of independent per-shard maps. Defaults to
	// runtime.NumCPU() when unset.
	Shards int
}

func (c Config) ttl() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Metrics accumulates cache-wide counters; all fields are updated with
// atomic ops since shards run under independent locks.
type Metrics struct {
	Hits        int64
	Misses      int64
	Inserts     int64
	Evictions   int64
	Expirations int64
}

// HitRate reports the fraction of lookups that were hits, 0 when there have
// been no lookups yet.
func (m *Metrics) HitRate() float64 {
	hits := atomic.LoadInt64(&m.Hits)
	misses := atomic.LoadInt64(&m.Misses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

type entry struct {
	decision  types.FaultDecision
	createdAt time.Time
}

// Cache is the sharded decision cache. Each shard is an independent
// hashicorp/golang-lru.Cache (already internally mutex-guarded), so the
// only cross-shard shared state is the rendezvous ring (immutable after
// construction) and the atomic Metrics counters.
type Cache struct {
	cfg     Config
	shards  []*lru.Cache
	names   []string
	byName  map[string]int
	ring    *rendezvous.Rendezvous
	Metrics Metrics
}

// New builds a decision cache per cfg. Shard count and per-shard capacity
// default respectively to runtime.NumCPU() and an even split of MaxSize.
func New(cfg Config) (*Cache, error) {
	if cfg.Shards <= 0 {
		cfg.Shards = runtime.NumCPU()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	perShard := cfg.MaxSize / cfg.Shards
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache{
		cfg:    cfg,
		shards: make([]*lru.Cache, cfg.Shards),
		names:  make([]string, cfg.Shards),
		byName: make(map[string]int, cfg.Shards),
	}
	for i := 0; i < cfg.Shards; i++ {
		shard, err := lru.New(perShard)
		if err != nil {
			return nil, err
		}
		c.shards[i] = shard
		name := strconv.Itoa(i)
		c.names[i] = name
		c.byName[name] = i
	}
	c.ring = rendezvous.New(c.names, hashRendezvousKey)
	return c, nil
}

func hashRendezvousKey(s string) uint64 {
	return xxhash.Sum64String(s)
}

func (c *Cache) shardFor(key uint64) *lru.Cache {
	name := c.ring.Lookup(strconv.FormatUint(key, 16))
	return c.shards[c.byName[name]]
}

// Get returns the cached decision for key, or (zero, false) on miss or
// expiration. Expiration is evaluated eagerly on read; an expired entry
// counts as both a miss and an expiration.
func (c *Cache) Get(key uint64) (types.FaultDecision, bool) {
	if !c.cfg.Enabled {
		return types.FaultDecision{}, false
	}
	shard := c.shardFor(key)
	v, ok := shard.Get(key)
	if !ok {
		atomic.AddInt64(&c.Metrics.Misses, 1)
		return types.FaultDecision{}, false
	}
	e := v.(*entry)
	if ttl := c.cfg.ttl(); ttl > 0 && time.Since(e.createdAt) > ttl {
		shard.Remove(key)
		atomic.AddInt64(&c.Metrics.Misses, 1)
		atomic.AddInt64(&c.Metrics.Expirations, 1)
		return types.FaultDecision{}, false
	}
	atomic.AddInt64(&c.Metrics.Hits, 1)
	return e.decision, true
}

// Insert stores decision under key, evicting the shard's least-recently-used
// entry first if the shard is full (golang-lru.Cache.Add's own eviction,
// which moves an entry to most-recently-used on every Get so the eviction
// target always tracks recency).
func (c *Cache) Insert(key uint64, decision types.FaultDecision) {
	if !c.cfg.Enabled {
		return
	}
	shard := c.shardFor(key)
	evicted := shard.Add(key, &entry{decision: decision, createdAt: time.Now()})
	atomic.AddInt64(&c.Metrics.Inserts, 1)
	if evicted {
		atomic.AddInt64(&c.Metrics.Evictions, 1)
	}
}

// Size returns the current total entry count across all shards.
func (c *Cache) Size() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

// Reshard rebuilds the cache with a new shard count, used on config reload.
// Rendezvous hashing means only keys whose shard assignment actually
// changes need to move; since entries are cheap to recompute (they are
// memoized decisions, not source of truth) this implementation simply
// drops the old shards rather than migrating entries, trading a cold cache
// for reload simplicity. The `go-rendezvous` ring is still what makes the
// *next* steady state minimally disruptive compared to plain modulo
// sharding, which would remap nearly everything on every resize.
func (c *Cache) Reshard(shards int) (*Cache, error) {
	cfg := c.cfg
	cfg.Shards = shards
	return New(cfg)
}
