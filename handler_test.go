package rdns

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, resolver *TestResolver) *Handler {
	t.Helper()
	zones := NewZoneStore()
	filter := NewDomainFilter(nil, nil)
	return NewHandler(HandlerOptions{
		Zones:             zones,
		Filter:            filter,
		Resolver:          resolver,
		TTL:               DefaultTTLPolicy(),
		AnswerCacheSize:   1024,
		NegativeCacheSize: 1024,
		NegativeEnabled:   true,
		CacheNXDOMAIN:     true,
		CacheNODATA:       false,
		TwoHit:            true,
	})
}

func aMsg(q *dns.Msg, ip string) *dns.Msg {
	a := new(dns.Msg)
	a.SetReply(q)
	rr, _ := dns.NewRR(q.Question[0].Name + " 60 IN A " + ip)
	a.Answer = []dns.RR{rr}
	return a
}

func TestHandlerDeniedByFilter(t *testing.T) {
	resolver := &TestResolver{}
	zones := NewZoneStore()
	filter := NewDomainFilter(nil, []string{"blocked.example.com"})
	h := NewHandler(HandlerOptions{Zones: zones, Filter: filter, Resolver: resolver, TTL: DefaultTTLPolicy()})

	q := new(dns.Msg)
	q.SetQuestion("blocked.example.com.", dns.TypeA)
	a, err := h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeRefused, a.Rcode)
	require.Equal(t, 0, resolver.HitCount())
}

func TestHandlerCachesPositiveAnswer(t *testing.T) {
	resolver := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		return aMsg(q, "1.2.3.4"), nil
	}}
	h := newTestHandler(t, resolver)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	a1, err := h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a1.Rcode)
	require.Equal(t, 1, resolver.HitCount())

	a2, err := h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a2.Rcode)
	require.Equal(t, 1, resolver.HitCount(), "second query should be served from cache")
}

func TestHandlerTwoHitNegativeCaching(t *testing.T) {
	resolver := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		a := new(dns.Msg)
		a.SetRcode(q, dns.RcodeNameError)
		return a, nil
	}}
	h := newTestHandler(t, resolver)

	q := new(dns.Msg)
	q.SetQuestion("missing.example.com.", dns.TypeA)

	_, err := h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, resolver.HitCount())
	require.Nil(t, h.negative.get(newCacheKey(q)), "first NXDOMAIN only marks the probe")

	_, err = h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 2, resolver.HitCount())
	require.NotNil(t, h.negative.get(newCacheKey(q)), "second NXDOMAIN within probe window populates the negative cache")

	_, err = h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 2, resolver.HitCount(), "third query served from negative cache")
}

func TestHandlerSingleHitNegativeCachingWhenTwoHitDisabled(t *testing.T) {
	resolver := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		a := new(dns.Msg)
		a.SetRcode(q, dns.RcodeNameError)
		return a, nil
	}}
	zones := NewZoneStore()
	filter := NewDomainFilter(nil, nil)
	h := NewHandler(HandlerOptions{
		Zones:             zones,
		Filter:            filter,
		Resolver:          resolver,
		TTL:               DefaultTTLPolicy(),
		AnswerCacheSize:   1024,
		NegativeCacheSize: 1024,
		NegativeEnabled:   true,
		CacheNXDOMAIN:     true,
		TwoHit:            false,
	})

	q := new(dns.Msg)
	q.SetQuestion("missing.example.com.", dns.TypeA)

	_, err := h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, resolver.HitCount())
	require.NotNil(t, h.negative.get(newCacheKey(q)), "first NXDOMAIN populates the negative cache when two-hit is disabled")

	_, err = h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, 1, resolver.HitCount(), "second query served from negative cache")
}

func TestHandlerLocalZoneBypassesResolverAndCache(t *testing.T) {
	resolver := &TestResolver{}
	zones := NewZoneStore()
	require.NoError(t, zones.ingest(zoneFile{
		Origin: "home.arpa.",
		TTL:    300,
		Records: []zoneRecordT{
			{Name: "router", Type: "A", Value: "192.168.1.1"},
		},
	}))
	filter := NewDomainFilter(nil, nil)
	h := NewHandler(HandlerOptions{Zones: zones, Filter: filter, Resolver: resolver, TTL: DefaultTTLPolicy()})

	q := new(dns.Msg)
	q.SetQuestion("router.home.arpa.", dns.TypeA)
	a, err := h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a.Rcode)
	require.Len(t, a.Answer, 1)
	require.Equal(t, 0, resolver.HitCount())
}

func TestHandlerServesStaleAndSchedulesRefresh(t *testing.T) {
	calls := make(chan struct{}, 4)
	resolver := &TestResolver{ResolveFunc: func(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
		calls <- struct{}{}
		return aMsg(q, "5.6.7.8"), nil
	}}
	h := newTestHandler(t, resolver)
	h.opt.TTL.StaleWindow = time.Second

	q := new(dns.Msg)
	q.SetQuestion("stale.example.com.", dns.TypeA)
	key := newCacheKey(q)

	bytes, err := buildCacheMessage(q, dns.RcodeSuccess, aMsg(q, "9.9.9.9").Answer)
	require.NoError(t, err)
	now := time.Now()
	h.answers.insert(key, &CachedEntry{
		Bytes:      bytes,
		ExpiresAt:  now.Add(-time.Millisecond),
		StaleUntil: now.Add(time.Second),
	})

	a, err := h.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a.Rcode)

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("expected background refresh to call the resolver")
	}
}
