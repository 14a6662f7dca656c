package rdns

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyNormalization(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("Example.COM.", dns.TypeA)
	k := newCacheKey(q)
	require.Equal(t, "example.com", k.Name)
	require.Equal(t, dns.TypeA, k.Type)
	require.False(t, k.DO)
}

func TestCacheStateClassify(t *testing.T) {
	now := time.Now()
	policy := DefaultTTLPolicy()
	entry := policy.newEntry([]byte("x"), 100, now)

	require.Equal(t, StateFresh, entry.classify(now, policy.PrefetchThreshold))
	require.Equal(t, StateNearExpiry, entry.classify(now.Add(95*time.Second), policy.PrefetchThreshold))
	require.Equal(t, StateStale, entry.classify(now.Add(110*time.Second), policy.PrefetchThreshold))
	require.Equal(t, StateDead, entry.classify(now.Add(200*time.Second), policy.PrefetchThreshold))
}

func TestTTLPolicyClamping(t *testing.T) {
	p := TTLPolicy{MinTTL: 10, MaxTTL: 100, NegativeTTL: 60, NegativeMinTTL: 5, NegativeMaxTTL: 300}
	require.EqualValues(t, 10, p.positiveTTL(1))
	require.EqualValues(t, 100, p.positiveTTL(1000))
	require.EqualValues(t, 50, p.positiveTTL(50))

	require.EqualValues(t, 60, p.negativeTTL(0, false))
	require.EqualValues(t, 30, p.negativeTTL(30, true))
	require.EqualValues(t, 5, p.negativeTTL(0, true))
}

func TestShardedStoreInsertGetInvalidate(t *testing.T) {
	s := newShardedStore(0)
	key := CacheKey{Name: "example.com", Type: dns.TypeA}
	entry := &CachedEntry{Bytes: []byte("a"), ExpiresAt: time.Now().Add(time.Minute)}

	require.Nil(t, s.get(key))
	s.insert(key, entry)
	require.Equal(t, entry, s.get(key))
	require.Equal(t, 1, s.size())

	s.invalidate(key)
	require.Nil(t, s.get(key))
	require.Equal(t, 0, s.size())
}

func TestShardedStoreEvictsOverCapacity(t *testing.T) {
	s := newShardedStore(32) // 1 entry per shard
	for i := 0; i < 64; i++ {
		key := CacheKey{Name: string(rune('a' + i%26)), Type: uint16(i)}
		s.insert(key, &CachedEntry{ExpiresAt: time.Now().Add(time.Minute)})
	}
	require.LessOrEqual(t, s.size(), 32)
}

func TestShardedStoreSweepDead(t *testing.T) {
	s := newShardedStore(0)
	now := time.Now()
	key := CacheKey{Name: "dead.example", Type: dns.TypeA}
	s.insert(key, &CachedEntry{StaleUntil: now.Add(-time.Second)})
	s.sweepDead(now)
	require.Nil(t, s.get(key))
}
