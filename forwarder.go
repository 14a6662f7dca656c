package rdns

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// ForwarderClient sends queries to a fixed set of upstream resolvers.
// Each endpoint is registered twice, once for UDP and once for TCP,
// mirroring how the reference forwarder builds its nameserver config
// group. Queries go out over UDP first; a truncated response triggers
// an immediate retry over TCP to the same endpoint. A transport
// failure (not a structured rcode) advances to the next configured
// endpoint. trust_negative_responses means NXDOMAIN/NODATA answers are
// returned to the caller verbatim, never treated as failures to retry.
type ForwarderClient struct {
	id        string
	endpoints []*forwarderEndpoint
	next      atomic.Uint64
}

type forwarderEndpoint struct {
	addr string
	udp  *Pipeline
	tcp  *Pipeline
}

var _ Resolver = &ForwarderClient{}

// NewForwarderClient returns a forwarder over the given "ip:port"
// upstreams. timeout bounds each individual UDP or TCP attempt.
func NewForwarderClient(id string, upstreams []string, timeout time.Duration) (*ForwarderClient, error) {
	if len(upstreams) == 0 {
		return nil, NewConfigError("upstreams", fmt.Errorf("at least one upstream is required"))
	}
	f := &ForwarderClient{id: id}
	for _, addr := range upstreams {
		udpClient := &dns.Client{Net: "udp", TLSConfig: &tls.Config{}, Timeout: timeout}
		tcpClient := &dns.Client{Net: "tcp", TLSConfig: &tls.Config{}, Timeout: timeout}
		f.endpoints = append(f.endpoints, &forwarderEndpoint{
			addr: addr,
			udp:  NewPipeline(addr, udpClient, NewListenerMetrics("client", id+"-udp"), timeout),
			tcp:  NewPipeline(addr, tcpClient, NewListenerMetrics("client", id+"-tcp"), timeout),
		})
	}
	return f, nil
}

// Resolve sends q to the upstream endpoints in round-robin order,
// failing over to the next endpoint on a transport error and falling
// back to TCP on a truncated UDP response.
func (f *ForwarderClient) Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	log := logger(f.id, q, ci)
	start := int(f.next.Add(1)-1) % len(f.endpoints)

	var lastErr error
	for i := 0; i < len(f.endpoints); i++ {
		ep := f.endpoints[(start+i)%len(f.endpoints)]

		a, err := ep.udp.Resolve(q.Copy())
		if err != nil {
			lastErr = &UpstreamTransientFailureError{Upstream: ep.addr, Err: err}
			log.With("upstream", ep.addr, "error", err).Debug("upstream transport failure, trying next endpoint")
			continue
		}

		if a.Truncated {
			log.With("upstream", ep.addr).Debug("truncated response, retrying over tcp")
			a, err = ep.tcp.Resolve(q.Copy())
			if err != nil {
				lastErr = &UpstreamTransientFailureError{Upstream: ep.addr, Err: err}
				log.With("upstream", ep.addr, "error", err).Debug("tcp retry failed, trying next endpoint")
				continue
			}
		}

		return a, nil
	}
	return nil, lastErr
}

func (f *ForwarderClient) String() string {
	addrs := make([]string, len(f.endpoints))
	for i, ep := range f.endpoints {
		addrs[i] = ep.addr
	}
	return fmt.Sprintf("Forwarder(%s)", strings.Join(addrs, ","))
}
