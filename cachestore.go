package rdns

import (
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// CacheKey identifies a cached response. qname is lowercased and stripped
// of its trailing dot exactly once, at construction; it is never
// re-normalized on lookup.
type CacheKey struct {
	Name string
	Type uint16
	DO   bool
}

// newCacheKey derives the CacheKey for an incoming query.
func newCacheKey(q *dns.Msg) CacheKey {
	return CacheKey{
		Name: normalizeName(q.Question[0].Name),
		Type: q.Question[0].Qtype,
		DO:   dnssecOK(q),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// CachedEntry is a self-contained wire response plus freshness
// timestamps. Bytes is replayed by rewriting the transaction id and
// question section onto a fresh message; the entry itself is never
// mutated after insertion.
type CachedEntry struct {
	Bytes      []byte
	ExpiresAt  time.Time
	StaleUntil time.Time
}

// CacheState classifies a CachedEntry relative to now and the
// configured prefetch threshold.
type CacheState int

const (
	StateFresh CacheState = iota
	StateNearExpiry
	StateStale
	StateDead
)

func (s CacheState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateNearExpiry:
		return "near-expiry"
	case StateStale:
		return "stale"
	default:
		return "dead"
	}
}

// classify derives the CacheState of an entry at time now, given the
// prefetch threshold from the TTL policy.
func (e *CachedEntry) classify(now time.Time, prefetchThreshold time.Duration) CacheState {
	switch {
	case now.Before(e.ExpiresAt.Add(-prefetchThreshold)):
		return StateFresh
	case now.Before(e.ExpiresAt):
		return StateNearExpiry
	case now.Before(e.StaleUntil):
		return StateStale
	default:
		return StateDead
	}
}

// TTLPolicy holds the configured TTL clamps and timing windows that
// govern cache insertion and serving behavior, per §4.2.
type TTLPolicy struct {
	MinTTL uint32
	MaxTTL uint32

	NegativeTTL    uint32 // fallback, used when no SOA minimum is present
	NegativeMinTTL uint32
	NegativeMaxTTL uint32

	PrefetchThreshold time.Duration
	StaleWindow       time.Duration
	ProbeTTL          time.Duration
}

// DefaultTTLPolicy returns sane defaults matching the reference config.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		MinTTL:            0,
		MaxTTL:            86400,
		NegativeTTL:       60,
		NegativeMinTTL:    0,
		NegativeMaxTTL:    10800,
		PrefetchThreshold: 10 * time.Second,
		StaleWindow:       30 * time.Second,
		ProbeTTL:          10 * time.Second,
	}
}

func clampTTL(ttl, lo, hi uint32) uint32 {
	if hi > 0 && ttl > hi {
		ttl = hi
	}
	if ttl < lo {
		ttl = lo
	}
	return ttl
}

// positiveTTL clamps the lowest record TTL in a successful answer to
// [MinTTL, MaxTTL].
func (p TTLPolicy) positiveTTL(recordMinTTL uint32) uint32 {
	return clampTTL(recordMinTTL, p.MinTTL, p.MaxTTL)
}

// negativeTTL clamps a negative TTL (SOA minimum if present, otherwise
// the configured fallback) to [NegativeMinTTL, NegativeMaxTTL].
func (p TTLPolicy) negativeTTL(soaMinimum uint32, hasSOA bool) uint32 {
	ttl := p.NegativeTTL
	if hasSOA {
		ttl = soaMinimum
	}
	return clampTTL(ttl, p.NegativeMinTTL, p.NegativeMaxTTL)
}

// newEntry builds a CachedEntry with ExpiresAt/StaleUntil derived from
// ttl and the policy's stale window.
func (p TTLPolicy) newEntry(bytes []byte, ttl uint32, now time.Time) *CachedEntry {
	expires := now.Add(time.Duration(ttl) * time.Second)
	return &CachedEntry{
		Bytes:      bytes,
		ExpiresAt:  expires,
		StaleUntil: expires.Add(p.StaleWindow),
	}
}

const storeShardCount = 32

// shardedStore is a lock-striped key/value store of CachedEntry with
// per-shard LRU capacity eviction. It generalizes the single-mutex
// design used elsewhere in the stack into N independently-locked
// shards, so reads and writes for unrelated keys never contend.
type shardedStore struct {
	shards [storeShardCount]*storeShard
}

type storeShard struct {
	mu         sync.Mutex
	capacity   int
	items      map[CacheKey]*storeNode
	head, tail *storeNode
}

type storeNode struct {
	key        CacheKey
	entry      *CachedEntry
	prev, next *storeNode
}

// newShardedStore returns a store with the given total capacity spread
// evenly across shards. A capacity of 0 means unbounded.
func newShardedStore(capacity int) *shardedStore {
	s := &shardedStore{}
	perShard := 0
	if capacity > 0 {
		perShard = capacity / storeShardCount
		if perShard < 1 {
			perShard = 1
		}
	}
	for i := range s.shards {
		s.shards[i] = newStoreShard(perShard)
	}
	return s
}

func newStoreShard(capacity int) *storeShard {
	head := &storeNode{}
	tail := &storeNode{}
	head.next = tail
	tail.prev = head
	return &storeShard{
		capacity: capacity,
		items:    make(map[CacheKey]*storeNode),
		head:     head,
		tail:     tail,
	}
}

func (s *shardedStore) shardFor(key CacheKey) *storeShard {
	return s.shards[keyHash(key)%storeShardCount]
}

// keyHash is a simple FNV-1a hash over the key fields, used only to
// pick a shard; it has no correctness requirement beyond reasonable
// distribution.
func keyHash(key CacheKey) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(key.Name); i++ {
		h ^= uint32(key.Name[i])
		h *= 16777619
	}
	h ^= uint32(key.Type)
	h *= 16777619
	if key.DO {
		h ^= 1
	}
	return h
}

// get returns the entry for key, or nil if absent. A hit moves the
// entry to the front of its shard's LRU list.
func (s *shardedStore) get(key CacheKey) *CachedEntry {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	node := shard.items[key]
	if node == nil {
		return nil
	}
	shard.moveToFront(node)
	return node.entry
}

// insert replaces (or creates) the entry for key. Replacement is
// atomic from the point of view of any concurrent get on the same key.
func (s *shardedStore) insert(key CacheKey, entry *CachedEntry) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if node, ok := shard.items[key]; ok {
		node.entry = entry
		shard.moveToFront(node)
		return
	}
	node := &storeNode{key: key, entry: entry}
	shard.pushFront(node)
	shard.items[key] = node
	shard.evictOverCapacity()
}

// invalidate removes key unconditionally.
func (s *shardedStore) invalidate(key CacheKey) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	node, ok := shard.items[key]
	if !ok {
		return
	}
	shard.unlink(node)
	delete(shard.items, key)
}

// size returns the total number of entries across all shards.
func (s *shardedStore) size() int {
	var n int
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += len(shard.items)
		shard.mu.Unlock()
	}
	return n
}

// flush empties every shard.
func (s *shardedStore) flush() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.head.next = shard.tail
		shard.tail.prev = shard.head
		shard.items = make(map[CacheKey]*storeNode)
		shard.mu.Unlock()
	}
}

// sweepDead removes every entry that is Dead as of now, across all
// shards. No goroutine in the package calls it; without a call, a Dead
// entry stays in its shard until it is replaced or evicted by capacity.
func (s *shardedStore) sweepDead(now time.Time) {
	for _, shard := range s.shards {
		shard.mu.Lock()
		node := shard.head.next
		for node != shard.tail {
			next := node.next
			if now.After(node.entry.StaleUntil) || now.Equal(node.entry.StaleUntil) {
				shard.unlink(node)
				delete(shard.items, node.key)
			}
			node = next
		}
		shard.mu.Unlock()
	}
}

func (shard *storeShard) moveToFront(node *storeNode) {
	shard.unlink(node)
	shard.pushFront(node)
}

func (shard *storeShard) pushFront(node *storeNode) {
	node.next = shard.head.next
	node.prev = shard.head
	shard.head.next.prev = node
	shard.head.next = node
}

func (shard *storeShard) unlink(node *storeNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (shard *storeShard) evictOverCapacity() {
	if shard.capacity <= 0 {
		return
	}
	for len(shard.items) > shard.capacity {
		oldest := shard.tail.prev
		if oldest == shard.head {
			return
		}
		shard.unlink(oldest)
		delete(shard.items, oldest.key)
	}
}
