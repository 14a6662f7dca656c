package rdns

import (
	"context"
	"strconv"
	"time"

	expirationcache "github.com/0xERR0R/expiration-cache"
)

// negativeProbeStore implements the two-hit negative caching marker:
// the first negative answer for a key inserts a probe instead of
// populating the negative cache; a second negative answer for the same
// key, observed while the probe is still present, is what actually
// gets cached. Backed by 0xERR0R/expiration-cache since entries are
// pure TTL markers with no LRU ordering requirement.
type negativeProbeStore struct {
	cache *expirationcache.ExpirationLRUCache[struct{}]
	ttl   time.Duration
}

func newNegativeProbeStore(ttl time.Duration) *negativeProbeStore {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &negativeProbeStore{
		cache: expirationcache.NewCache[struct{}](context.Background(), expirationcache.Options{}),
		ttl:   ttl,
	}
}

func (s *negativeProbeStore) seen(key CacheKey) bool {
	v, _ := s.cache.Get(probeCacheKey(key))
	return v != nil
}

func (s *negativeProbeStore) mark(key CacheKey) {
	v := struct{}{}
	s.cache.Put(probeCacheKey(key), &v, s.ttl)
}

func probeCacheKey(key CacheKey) string {
	t := "0"
	if key.DO {
		t = "1"
	}
	return key.Name + "\x00" + t + "\x00" + strconv.Itoa(int(key.Type))
}
