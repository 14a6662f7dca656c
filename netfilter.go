package rdns

import "net"

// NetFilter governs which nameserver IPs the recursor is permitted to
// contact, e.g. to keep it from following delegation into loopback or
// private ranges. It is independent of DomainFilter, which governs
// client-facing query names instead.
type NetFilter struct {
	allow []*net.IPNet
	deny  []*net.IPNet
}

// NewNetFilter parses the allow and deny CIDR lists. An invalid entry
// in either list is a ConfigError.
func NewNetFilter(allowCIDRs, denyCIDRs []string) (*NetFilter, error) {
	allow, err := parseCIDRs(allowCIDRs)
	if err != nil {
		return nil, NewConfigError("filters.allow_nets", err)
	}
	deny, err := parseCIDRs(denyCIDRs)
	if err != nil {
		return nil, NewConfigError("filters.deny_nets", err)
	}
	return &NetFilter{allow: allow, deny: deny}, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// Allowed reports whether the recursor may contact ip. If an allowlist
// is configured, ip must match one of its networks. An ip matching any
// deny network is always rejected, even if also allow-listed.
func (f *NetFilter) Allowed(ip net.IP) bool {
	if matchesAnyNet(ip, f.deny) {
		return false
	}
	if len(f.allow) == 0 {
		return true
	}
	return matchesAnyNet(ip, f.allow)
}

func matchesAnyNet(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
