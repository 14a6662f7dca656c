package rdns

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	expirationcache "github.com/0xERR0R/expiration-cache"
	"github.com/miekg/dns"
)

// DNSSECPolicy controls how the recursor treats the DO bit and
// signature records it encounters while walking the delegation chain.
// This build carries no DNSSEC validator, so only "off" is accepted at
// load time; "process" and "validate" both name behavior this binary
// cannot provide and are rejected rather than silently downgraded.
type DNSSECPolicy int

const (
	DNSSECOff DNSSECPolicy = iota
	DNSSECProcess
	DNSSECValidate
)

// ParseDNSSECPolicy parses the recursor.dnssec config value. Only "off"
// (or empty) is accepted by this build; "process" and "validate" are
// ConfigErrors since no DNSSEC validator is compiled in.
func ParseDNSSECPolicy(s string) (DNSSECPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return DNSSECOff, nil
	case "process", "validate":
		return 0, NewConfigError("recursor.dnssec", fmt.Errorf("dnssec=%q requires building with DNSSEC support, which this binary does not have", s))
	default:
		return 0, NewConfigError("recursor.dnssec", fmt.Errorf("dnssec must be one of off|process|validate, got %q", s))
	}
}

// RecursorOptions configures the iterative recursor, per §4.5.
type RecursorOptions struct {
	Roots             []string
	NSCacheSize       int
	RecordCacheSize   int
	RecursionLimit    int
	NSRecursionLimit  int
	TimeoutMS         int
	Attempts          int
	CaseRandomization bool
	DNSSEC            DNSSECPolicy
	NetFilter         *NetFilter
}

// Recursor walks the delegation chain from a set of root hints,
// maintaining bounded NS and record caches, applying a nameserver IP
// filter, optional 0x20 case randomization, and a retry loop around
// each top-level resolve call.
type Recursor struct {
	opt       RecursorOptions
	udp       *dns.Client
	tcp       *dns.Client
	nsCache   *expirationcache.ExpirationLRUCache[[]string]
	recCache  *expirationcache.ExpirationLRUCache[dns.Msg]
	rootAddrs []string
}

var _ Resolver = &Recursor{}

// NewRecursor returns a configured Recursor. Root hints must be given
// as bare IP addresses; port 53 is assumed.
func NewRecursor(opt RecursorOptions) (*Recursor, error) {
	if len(opt.Roots) == 0 {
		return nil, NewConfigError("roots", fmt.Errorf("at least one root hint is required"))
	}
	if opt.RecursionLimit <= 0 {
		opt.RecursionLimit = 16
	}
	if opt.NSRecursionLimit <= 0 {
		opt.NSRecursionLimit = 4
	}
	if opt.Attempts <= 0 {
		opt.Attempts = 1
	}
	timeout := time.Duration(opt.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	roots := make([]string, len(opt.Roots))
	for i, ip := range opt.Roots {
		roots[i] = net.JoinHostPort(ip, "53")
	}

	return &Recursor{
		opt:       opt,
		udp:       &dns.Client{Net: "udp", TLSConfig: &tls.Config{}, Timeout: timeout},
		tcp:       &dns.Client{Net: "tcp", TLSConfig: &tls.Config{}, Timeout: timeout},
		nsCache:   expirationcache.NewCache[[]string](context.Background(), expirationcache.Options{MaxSize: uint(opt.NSCacheSize)}),
		recCache:  expirationcache.NewCache[dns.Msg](context.Background(), expirationcache.Options{MaxSize: uint(opt.RecordCacheSize)}),
		rootAddrs: roots,
	}, nil
}

// Resolve walks the hierarchy for a single question. ci is accepted to
// satisfy the Resolver interface but the recursor doesn't vary its
// behavior by client.
func (r *Recursor) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	if len(q.Question) == 0 {
		return nil, &MalformedRequestError{Reason: "no question in query"}
	}
	question := q.Question[0]
	log := logger("recursor", q, ci)

	var lastErr error
	timeout := time.Duration(r.opt.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	for attempt := 0; attempt < r.opt.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		a, err := r.resolveOnce(ctx, question, dnssecOK(q))
		cancel()
		if err == nil {
			reply := composeReply(q, a.Rcode)
			reply.Answer = a.Answer
			reply.Ns = a.Ns
			reply.Extra = a.Extra
			return reply, nil
		}
		lastErr = err
		log.With("attempt", attempt+1, "error", err).Debug("recursor attempt failed")
	}
	return nil, lastErr
}

func (r *Recursor) String() string { return "Recursor" }

// resolveOnce performs a single top-to-bottom walk of the delegation
// chain, starting fresh from the root hints (NS cache lookups still
// let it skip ahead when a zone cut is already known).
func (r *Recursor) resolveOnce(ctx context.Context, question dns.Question, do bool) (*dns.Msg, error) {
	recKey := recordCacheKey(question)
	if cached, _ := r.recCache.Get(recKey); cached != nil {
		return cached, nil
	}

	servers := r.nearestKnownServers(question.Name)

	for depth := 0; depth < r.opt.RecursionLimit; depth++ {
		server, ok := r.pickAllowedServer(servers)
		if !ok {
			return nil, fmt.Errorf("no permitted nameserver to contact for %s", question.Name)
		}

		resp, err := r.query(ctx, server, question, do)
		if err != nil {
			return nil, err
		}

		if resp.Rcode == dns.RcodeNameError {
			return resp, nil
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, &UpstreamNoRecordsError{Rcode: resp.Rcode}
		}
		if len(resp.Answer) > 0 {
			if ttl, ok := minTTLRecords(resp.Answer); ok && ttl > 0 {
				r.recCache.Put(recKey, resp, time.Duration(ttl)*time.Second)
			}
			return resp, nil
		}

		referral := referralServers(resp)
		if len(referral.names) == 0 {
			// NOERROR with no answers and no referral: NODATA.
			return resp, nil
		}

		next, err := r.resolveReferral(ctx, referral, depth)
		if err != nil {
			return nil, err
		}
		servers = next
	}
	return nil, fmt.Errorf("recursion limit reached resolving %s", question.Name)
}

func recordCacheKey(question dns.Question) string {
	return strings.ToLower(question.Name) + "\x00" + dns.TypeToString[question.Qtype]
}

// nearestKnownServers returns the cached server set for the longest
// known ancestor zone of name, or the root hints if nothing is cached.
func (r *Recursor) nearestKnownServers(name string) []string {
	labels := dns.SplitDomainName(name)
	for i := 0; i < len(labels); i++ {
		zone := dns.Fqdn(strings.Join(labels[i:], "."))
		if addrs, _ := r.nsCache.Get(zone); addrs != nil {
			return *addrs
		}
	}
	return r.rootAddrs
}

func (r *Recursor) pickAllowedServer(servers []string) (string, bool) {
	if len(servers) == 0 {
		return "", false
	}
	order := rand.Perm(len(servers))
	for _, i := range order {
		server := servers[i]
		host, _, err := net.SplitHostPort(server)
		if err != nil {
			host = server
		}
		ip := net.ParseIP(host)
		if r.opt.NetFilter != nil && ip != nil && !r.opt.NetFilter.Allowed(ip) {
			continue
		}
		return server, true
	}
	return "", false
}

// query sends a single question to server, applying 0x20 case
// randomization if enabled and falling back to TCP on truncation.
func (r *Recursor) query(ctx context.Context, server string, question dns.Question, do bool) (*dns.Msg, error) {
	q := new(dns.Msg)
	q.SetQuestion(randomizeCase(question.Name, r.opt.CaseRandomization), question.Qtype)
	q.Question[0].Qclass = question.Qclass
	q.RecursionDesired = false
	if do {
		q.SetEdns0(1232, true)
	}

	a, _, err := r.udp.ExchangeContext(ctx, q, server)
	if err != nil {
		return nil, &UpstreamTransientFailureError{Upstream: server, Err: err}
	}
	if a.Truncated {
		a, _, err = r.tcp.ExchangeContext(ctx, q, server)
		if err != nil {
			return nil, &UpstreamTransientFailureError{Upstream: server, Err: err}
		}
	}
	if len(a.Question) == 0 || !strings.EqualFold(a.Question[0].Name, q.Question[0].Name) {
		return nil, fmt.Errorf("response from %s has no matching question for %q", server, q.Question[0].Name)
	}
	return a, nil
}

// resolveReferral extracts the next hop nameserver addresses from an
// NS+glue referral. NS records without glue are resolved via a bounded
// sub-walk, capped by NSRecursionLimit so a malicious or broken
// delegation can't cause unbounded recursion.
func (r *Recursor) resolveReferral(ctx context.Context, referral referralInfo, depth int) ([]string, error) {
	var addrs []string
	for _, rr := range referral.glue {
		switch rec := rr.(type) {
		case *dns.A:
			addrs = append(addrs, net.JoinHostPort(rec.A.String(), "53"))
		case *dns.AAAA:
			addrs = append(addrs, net.JoinHostPort(rec.AAAA.String(), "53"))
		}
	}
	if len(addrs) > 0 {
		r.nsCache.Put(referral.zone, &addrs, 10*time.Minute)
		return addrs, nil
	}

	if depth >= r.opt.NSRecursionLimit {
		return nil, fmt.Errorf("ns recursion limit reached resolving glue for %s", referral.zone)
	}
	for _, ns := range referral.names {
		resp, err := r.resolveOnce(ctx, dns.Question{Name: dns.Fqdn(ns), Qtype: dns.TypeA, Qclass: dns.ClassINET}, false)
		if err != nil {
			continue
		}
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				addrs = append(addrs, net.JoinHostPort(a.A.String(), "53"))
			}
		}
		if len(addrs) > 0 {
			break
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("could not resolve any nameserver address for %s", referral.zone)
	}
	r.nsCache.Put(referral.zone, &addrs, 10*time.Minute)
	return addrs, nil
}

type referralInfo struct {
	zone  string
	names []string
	glue  []dns.RR
}

func referralServers(resp *dns.Msg) referralInfo {
	var info referralInfo
	for _, rr := range resp.Ns {
		ns, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		info.zone = ns.Header().Name
		info.names = append(info.names, ns.Ns)
	}
	if len(info.names) == 0 {
		return referralInfo{}
	}
	nameSet := make(map[string]bool, len(info.names))
	for _, n := range info.names {
		nameSet[strings.ToLower(n)] = true
	}
	for _, rr := range resp.Extra {
		switch rr.Header().Rrtype {
		case dns.TypeA, dns.TypeAAAA:
			if nameSet[strings.ToLower(rr.Header().Name)] {
				info.glue = append(info.glue, rr)
			}
		}
	}
	return info
}

// randomizeCase flips the case of ASCII letters in name when enabled
// (0x20 encoding), to detect off-path response injection. The response
// name is matched case-insensitively against this.
func randomizeCase(name string, enabled bool) string {
	if !enabled {
		return name
	}
	b := []byte(name)
	for i, c := range b {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			if rand.Intn(2) == 0 {
				b[i] = c ^ 0x20
			}
		}
	}
	return string(b)
}
