package rdns

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// Resolver answers a DNS query. Handler, ForwarderClient, Recursor and
// QueryLog all satisfy this interface so they can be composed and
// swapped out.
type Resolver interface {
	Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error)
	fmt.Stringer
}

// ClientInfo carries metadata about the client a query was received from.
// It's threaded through every resolver stage so decisions (and logging)
// can take the originating listener and source address into account.
type ClientInfo struct {
	// SourceIP is the IP address of the client that sent the query.
	SourceIP net.IP
	// Listener is the ID of the listener that accepted the query.
	Listener string
}

// logger returns a request-scoped Logger carrying the resolver id, query
// name/type and client info fields every stage logs with.
func logger(id string, q *dns.Msg, ci ClientInfo) Logger {
	l := Log.With("id", id, "client", ci.SourceIP, "listener", ci.Listener)
	if len(q.Question) > 0 {
		l = l.With("qname", q.Question[0].Name, "qtype", dns.TypeToString[q.Question[0].Qtype])
	}
	return l
}
