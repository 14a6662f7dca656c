package rdns

import (
	"strconv"

	"github.com/miekg/dns"
)

// Return the query name from a DNS query.
func qName(q *dns.Msg) string {
	if len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}

// Returns a NXDOMAIN answer for a query.
func nxdomain(q *dns.Msg) *dns.Msg {
	a := new(dns.Msg)
	a.SetReply(q)
	a.SetRcode(q, dns.RcodeNameError)
	return a
}

// Returns a SERVFAIL answer for a query. Used whenever a stage fails to
// produce a usable answer (recursor or forwarder error, malformed
// request past the point a question could be parsed).
func servfail(q *dns.Msg) *dns.Msg {
	return composeReply(q, dns.RcodeServerFailure)
}

// Returns a REFUSED answer for a query, used by the domain and
// nameserver filters.
func refused(q *dns.Msg) *dns.Msg {
	return composeReply(q, dns.RcodeRefused)
}

// rCode returns the RCODE of a message as a string, used as the label
// for the per-listener response counters. Returns "dropped" for a nil
// message.
func rCode(a *dns.Msg) string {
	if a == nil {
		return "dropped"
	}
	if name, ok := dns.RcodeToString[a.Rcode]; ok {
		return name
	}
	return strconv.Itoa(a.Rcode)
}

// isNoData reports whether a response is the NOERROR-with-no-answers
// case (RFC 2308 NODATA), as opposed to NXDOMAIN.
func isNoData(a *dns.Msg) bool {
	return a != nil && a.Rcode == dns.RcodeSuccess && len(a.Answer) == 0
}

// composeReply builds the response envelope for a query: copies the ID,
// opcode and question section from the request and sets
// RecursionAvailable unconditionally, since this server is a recursor
// from the client's point of view regardless of its internal resolve
// mode or the request's RecursionDesired bit. It never asserts the AD
// bit and never performs DNSSEC validation. The reply carries no EDNS(0)
// OPT record, even when the request had one.
func composeReply(q *dns.Msg, rcode int) *dns.Msg {
	a := new(dns.Msg)
	a.SetRcode(q, rcode)
	a.RecursionAvailable = true
	a.AuthenticatedData = false
	return a
}

// dnssecOK reports whether the query carries EDNS(0) with the DO bit
// set.
func dnssecOK(q *dns.Msg) bool {
	opt := q.IsEdns0()
	return opt != nil && opt.Do()
}

// minTTLRecords returns the lowest TTL among the resource records in the
// given record sets, skipping the OPT pseudo-record. The second return
// value is false if the sets hold no records at all, e.g. the empty
// answer section of a NODATA/NXDOMAIN response.
func minTTLRecords(rrs ...[]dns.RR) (uint32, bool) {
	var (
		min   uint32 = ^uint32(0)
		found bool
	)
	for _, set := range rrs {
		for _, rr := range set {
			if _, ok := rr.(*dns.OPT); ok {
				continue
			}
			if h := rr.Header(); h.Ttl < min {
				min = h.Ttl
				found = true
			}
		}
	}
	return min, found
}
