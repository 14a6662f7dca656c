package rdns

import (
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestRefreshWorkerPoolCoalescesInFlight(t *testing.T) {
	var mu sync.Mutex
	var calls int
	release := make(chan struct{})

	pool := NewRefreshWorkerPool(1, 8, func(q *dns.Msg, ci ClientInfo, key CacheKey) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
	})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	key := newCacheKey(q)

	pool.Schedule(q, ClientInfo{}, key)
	time.Sleep(20 * time.Millisecond) // let the worker pick it up
	pool.Schedule(q, ClientInfo{}, key)
	pool.Schedule(q, ClientInfo{}, key)

	close(release)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls, "duplicate triggers for an in-flight key must be dropped")
}

func TestRefreshWorkerPoolRunsAgainAfterCompletion(t *testing.T) {
	done := make(chan struct{}, 2)
	pool := NewRefreshWorkerPool(1, 8, func(q *dns.Msg, ci ClientInfo, key CacheKey) {
		done <- struct{}{}
	})

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	key := newCacheKey(q)

	pool.Schedule(q, ClientInfo{}, key)
	<-done

	pool.Schedule(q, ClientInfo{}, key)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a second scheduled refresh to run once the first completed")
	}
}
