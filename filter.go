package rdns

import (
	"strings"
)

// DomainFilter holds two suffix lists, allow and block, compared
// against the normalized query name. A name q matches a suffix s iff
// q == s or q ends with "."+s.
//
// Decision: if an allowlist is configured and q matches no suffix in
// it, the query is denied. Otherwise, if q matches any blocklist
// suffix, it is denied. Otherwise it's allowed.
type DomainFilter struct {
	allow []string
	block []string
}

// NewDomainFilter returns a filter over the given suffix lists. Entries
// are normalized (lowercased, trailing dot stripped) at construction.
func NewDomainFilter(allowlist, blocklist []string) *DomainFilter {
	return &DomainFilter{
		allow: normalizeSuffixes(allowlist),
		block: normalizeSuffixes(blocklist),
	}
}

func normalizeSuffixes(suffixes []string) []string {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		out = append(out, normalizeName(s))
	}
	return out
}

// Allowed reports whether qname is permitted to be resolved.
func (f *DomainFilter) Allowed(qname string) bool {
	name := normalizeName(qname)
	if len(f.allow) > 0 && !matchesAnySuffix(name, f.allow) {
		return false
	}
	if matchesAnySuffix(name, f.block) {
		return false
	}
	return true
}

func matchesAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if name == s || strings.HasSuffix(name, "."+s) {
			return true
		}
	}
	return false
}
