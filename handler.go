package rdns

import (
	"time"

	"github.com/miekg/dns"
)

// HandlerOptions wires together every stage the query handler
// orchestrates: local zones, the domain filter, the upstream resolver
// (a ForwarderClient or a Recursor, selected at config time), and the
// TTL policy and cache sizing that govern write-through caching.
type HandlerOptions struct {
	Zones    *ZoneStore
	Filter   *DomainFilter
	Resolver Resolver
	// IsRecursor selects the short in-handler retry loop (3 attempts,
	// 100ms spacing) that wraps the entire resolve() call when the
	// resolver is the iterative recursor, per §4.7 step 6.
	IsRecursor bool

	TTL TTLPolicy

	AnswerCacheSize   int
	NegativeCacheSize int

	// Negative caching policy, mirrors cache.negative.* config.
	NegativeEnabled bool
	CacheNXDOMAIN   bool
	CacheNODATA     bool
	// TwoHit requires a negative result to be seen twice before it's
	// cached, absorbing a single transient upstream failure instead of
	// caching it as authoritative. When false, the first miss is cached
	// immediately.
	TwoHit bool

	RefreshWorkers   int
	RefreshQueueSize int
}

// Handler is the query handler conductor: the single entry point a
// listener calls for every inbound request.
type Handler struct {
	opt      HandlerOptions
	answers  *shardedStore
	negative *shardedStore
	probes   *negativeProbeStore
	refresh  *RefreshWorkerPool
}

var _ Resolver = &Handler{}

// NewHandler builds a Handler and starts its background refresh
// worker pool.
func NewHandler(opt HandlerOptions) *Handler {
	h := &Handler{
		opt:      opt,
		answers:  newShardedStore(opt.AnswerCacheSize),
		negative: newShardedStore(opt.NegativeCacheSize),
		probes:   newNegativeProbeStore(opt.TTL.ProbeTTL),
	}
	h.refresh = NewRefreshWorkerPool(opt.RefreshWorkers, opt.RefreshQueueSize, h.runRefresh)
	return h
}

func (h *Handler) String() string { return "Handler" }

// Resolve implements the 8-step pipeline from §4.7.
func (h *Handler) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	// 1. Parse.
	if len(q.Question) == 0 {
		Log.With("error", (&MalformedRequestError{Reason: "no question in query"}).Error()).Debug("malformed request")
		return servfail(q), nil
	}
	qname := q.Question[0].Name
	qtype := q.Question[0].Qtype
	log := logger("handler", q, ci)

	// 2. Filter.
	if !h.opt.Filter.Allowed(qname) {
		log.Debug((&DeniedError{Reason: "domain filter"}).Error())
		return refused(q), nil
	}

	// 3. Local zone.
	if recs, ok := h.opt.Zones.Lookup(qname, qtype); ok {
		a := composeReply(q, dns.RcodeSuccess)
		a.Answer = recs
		return a, nil
	}

	key := newCacheKey(q)
	now := time.Now()

	// 4. Positive cache lookup.
	if entry := h.answers.get(key); entry != nil {
		switch entry.classify(now, h.opt.TTL.PrefetchThreshold) {
		case StateFresh:
			return h.serveEntry(q, entry), nil
		case StateNearExpiry, StateStale:
			reply := h.serveEntry(q, entry)
			h.refresh.Schedule(q, ci, key)
			return reply, nil
		}
		// Dead: fall through to resolving a fresh answer.
	}

	// 5. Negative cache lookup. Same states as positive, but no
	// background refresh is scheduled for Near-expiry/Stale negatives.
	if h.opt.NegativeEnabled {
		if entry := h.negative.get(key); entry != nil {
			if entry.classify(now, h.opt.TTL.PrefetchThreshold) != StateDead {
				return h.serveEntry(q, entry), nil
			}
		}
	}

	// 6. Resolve.
	upstream, err := h.resolveUpstream(q, ci)
	rcode, records, authority := classifyUpstreamResult(upstream, err)
	if err != nil {
		log.With("error", err).Debug("upstream resolve failed")
	}

	// 7. Emit.
	reply := composeReply(q, rcode)
	reply.Answer = records

	// 8. Write-through cache.
	h.writeThrough(key, q, rcode, records, authority, now)

	return reply, nil
}

// resolveUpstream performs step 6: direct dispatch to a forwarder, or a
// short retry loop around the entire recursor resolve() call to smooth
// transient network failure into SERVFAIL only when persistent.
func (h *Handler) resolveUpstream(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if !h.opt.IsRecursor {
		return h.opt.Resolver.Resolve(q, ci)
	}
	const attempts = 3
	const spacing = 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		a, err := h.opt.Resolver.Resolve(q, ci)
		if err == nil {
			return a, nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(spacing)
		}
	}
	return nil, lastErr
}

// classifyUpstreamResult maps a resolver outcome to (rcode, answer
// records, authority/SOA records), per §4.7 step 6.
func classifyUpstreamResult(a *dns.Msg, err error) (rcode int, records, authority []dns.RR) {
	if err != nil {
		if unr, ok := err.(*UpstreamNoRecordsError); ok {
			return unr.Rcode, nil, nil
		}
		return dns.RcodeServerFailure, nil, nil
	}
	if a == nil {
		return dns.RcodeServerFailure, nil, nil
	}
	return a.Rcode, a.Answer, a.Ns
}

// writeThrough implements step 8. ServFail and Refused are never
// cached. NXDOMAIN (and NODATA, if enabled) go through the two-hit
// probe policy when TwoHit is set; otherwise the first negative result
// is cached directly.
func (h *Handler) writeThrough(key CacheKey, q *dns.Msg, rcode int, records, authority []dns.RR, now time.Time) {
	if rcode == dns.RcodeSuccess && len(records) > 0 {
		ttl, _ := minTTLRecords(records)
		bytes, err := buildCacheMessage(q, rcode, records)
		if err != nil {
			return
		}
		h.answers.insert(key, h.opt.TTL.newEntry(bytes, h.opt.TTL.positiveTTL(ttl), now))
		return
	}

	isNXDOMAIN := rcode == dns.RcodeNameError && h.opt.CacheNXDOMAIN
	isNODATA := rcode == dns.RcodeSuccess && len(records) == 0 && h.opt.CacheNODATA
	if !h.opt.NegativeEnabled || !(isNXDOMAIN || isNODATA) {
		return
	}
	if h.negative.get(key) != nil {
		return
	}
	if h.opt.TwoHit && !h.probes.seen(key) {
		h.probes.mark(key)
		return
	}
	soaMin, hasSOA := soaMinimum(authority)
	bytes, err := buildCacheMessage(q, rcode, nil)
	if err != nil {
		return
	}
	h.negative.insert(key, h.opt.TTL.newEntry(bytes, h.opt.TTL.negativeTTL(soaMin, hasSOA), now))
}

// runRefresh is the resolve function handed to the refresh worker
// pool: it re-runs step 6 and, on success, step 8. Failures are
// silent; the existing entry keeps serving within its stale window.
func (h *Handler) runRefresh(q *dns.Msg, ci ClientInfo, key CacheKey) {
	upstream, err := h.resolveUpstream(q, ci)
	if err != nil {
		Log.With("error", (&BackgroundRefreshFailureError{Key: key, Err: err}).Error()).Debug("background refresh failed")
		return
	}
	rcode, records, authority := classifyUpstreamResult(upstream, nil)
	if rcode != dns.RcodeSuccess || len(records) == 0 {
		return
	}
	h.writeThrough(key, q, rcode, records, authority, time.Now())
}

// serveEntry decodes a cached wire response and rewrites the parts of
// the header that must reflect the current request: transaction id and
// the echoed RD flag. AA, AD are always cleared and RA is always set,
// matching every other reply path.
func (h *Handler) serveEntry(q *dns.Msg, entry *CachedEntry) *dns.Msg {
	a := new(dns.Msg)
	if err := a.Unpack(entry.Bytes); err != nil {
		return servfail(q)
	}
	a.Id = q.Id
	a.Response = true
	a.Opcode = dns.OpcodeQuery
	a.RecursionDesired = q.RecursionDesired
	a.RecursionAvailable = true
	a.Authoritative = false
	a.AuthenticatedData = false
	a.Question = q.Question
	return a
}

// buildCacheMessage builds the canonical wire-format message stored in
// a CachedEntry: header, question and answer section, nothing else.
func buildCacheMessage(q *dns.Msg, rcode int, records []dns.RR) ([]byte, error) {
	m := new(dns.Msg)
	m.SetRcode(q, rcode)
	m.RecursionAvailable = true
	m.Answer = records
	return m.Pack()
}

// soaMinimum returns the minimum field of the first SOA record found
// in authority, used as the negative TTL per RFC 2308.
func soaMinimum(authority []dns.RR) (uint32, bool) {
	for _, rr := range authority {
		if soa, ok := rr.(*dns.SOA); ok {
			return soa.Minttl, true
		}
	}
	return 0, false
}
