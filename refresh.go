package rdns

import (
	"sync"

	"github.com/miekg/dns"
)

// RefreshWorkerPool implements background refresh (§4.8) as a bounded
// channel of refresh requests consumed by a small worker pool, rather
// than a goroutine per trigger. Multiple triggers for the same key
// while a refresh is already in flight are dropped, giving single-
// flight coalescing for free.
type RefreshWorkerPool struct {
	requests chan refreshRequest
	resolve  func(q *dns.Msg, ci ClientInfo, key CacheKey)

	mu       sync.Mutex
	inflight map[CacheKey]bool
}

type refreshRequest struct {
	query *dns.Msg
	ci    ClientInfo
	key   CacheKey
}

// NewRefreshWorkerPool starts numWorkers goroutines draining a
// queueSize-deep channel of refresh requests. resolve is called with
// the original query, client info and cache key for each request that
// isn't already in flight; it's expected to run the resolve step and
// write through to the cache on success, mirroring the handler's own
// step 6 and step 8.
func NewRefreshWorkerPool(numWorkers, queueSize int, resolve func(q *dns.Msg, ci ClientInfo, key CacheKey)) *RefreshWorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &RefreshWorkerPool{
		requests: make(chan refreshRequest, queueSize),
		resolve:  resolve,
		inflight: make(map[CacheKey]bool),
	}
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *RefreshWorkerPool) worker() {
	for req := range p.requests {
		p.resolve(req.query, req.ci, req.key)
		p.mu.Lock()
		delete(p.inflight, req.key)
		p.mu.Unlock()
	}
}

// Schedule enqueues a background refresh for key unless one is already
// in flight or the queue is full, in which case the trigger is simply
// dropped: the entry keeps serving from cache within its stale window
// and the next near-expiry/stale hit will try again.
func (p *RefreshWorkerPool) Schedule(query *dns.Msg, ci ClientInfo, key CacheKey) {
	p.mu.Lock()
	if p.inflight[key] {
		p.mu.Unlock()
		return
	}
	p.inflight[key] = true
	p.mu.Unlock()

	select {
	case p.requests <- refreshRequest{query: query.Copy(), ci: ci, key: key}:
	default:
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
		Log.With("key", key.Name).Debug("refresh queue full, dropping trigger")
	}
}
