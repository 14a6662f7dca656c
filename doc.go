/*
Package rdns implements a caching DNS resolver: a single fixed pipeline
of local zone lookup, domain and nameserver filtering, a multi-tier
response cache, and an upstream stage that is either a set of
forwarder resolvers or an iterative recursor walking the delegation
chain from a set of root hints.

Handler

Handler is the query handler conductor. It implements the full
request path: domain filter, local zone lookup, cache lookup (positive
and negative, each with its own freshness state), upstream resolve,
and write-through caching, including the two-hit policy for negative
answers and background refresh for near-expiry and stale entries.

Resolvers

ForwarderClient and Recursor both implement Resolver and stand in for
the upstream stage: a forwarder dispatches to a configured set of
nameservers round-robin, while Recursor performs iterative resolution
from root hints, maintaining its own bounded NS and record caches.

Listeners

DNSListener accepts queries over UDP or TCP and forwards each one to a
single Resolver, typically the Handler.

	zones, _ := rdns.LoadZoneDir("zones")
	filter := rdns.NewDomainFilter(nil, nil)
	fwd, _ := rdns.NewForwarderClient("upstream", []string{"1.1.1.1:53"}, 2*time.Second)
	h := rdns.NewHandler(rdns.HandlerOptions{Zones: zones, Filter: filter, Resolver: fwd})
	l := rdns.NewDNSListener("udp", "127.0.0.1:53", "udp", rdns.ListenOptions{}, h)
	panic(l.Start())
*/
package rdns
