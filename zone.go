package rdns

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/miekg/dns"
)

// ZoneStore is a process-wide, read-only mapping from (qname, qtype) to
// a list of records, populated once at startup from a directory of TOML
// zone files. It is never mutated after construction, so concurrent
// reads need no synchronization beyond the handle itself.
type ZoneStore struct {
	records map[string][]dns.RR
}

// zoneFile mirrors one TOML zone document: an origin, a default TTL,
// and a flat list of records. Unqualified record names are composed
// with origin.
type zoneFile struct {
	Origin  string        `toml:"origin"`
	TTL     uint32        `toml:"ttl"`
	Records []zoneRecordT `toml:"records"`
}

type zoneRecordT struct {
	Name  string `toml:"name"`
	Type  string `toml:"type"`
	Value string `toml:"value"`
}

// NewZoneStore returns an empty store. LoadZoneDir returns a store
// populated from a directory of zone files.
func NewZoneStore() *ZoneStore {
	return &ZoneStore{records: make(map[string][]dns.RR)}
}

// LoadZoneDir reads every *.toml file in dir and merges its records
// into the store. A missing directory is not an error; it just yields
// an empty store, matching a deployment with no local zones configured.
func LoadZoneDir(dir string) (*ZoneStore, error) {
	z := NewZoneStore()
	if dir == "" {
		return z, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return z, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewConfigError("zones", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var zf zoneFile
		if _, err := toml.DecodeFile(path, &zf); err != nil {
			return nil, NewConfigError("zones", fmt.Errorf("%s: %w", path, err))
		}
		if err := z.ingest(zf); err != nil {
			return nil, NewConfigError("zones", fmt.Errorf("%s: %w", path, err))
		}
	}
	return z, nil
}

func (z *ZoneStore) ingest(zf zoneFile) error {
	origin := strings.TrimSuffix(zf.Origin, ".")
	ttl := zf.TTL
	if ttl == 0 {
		ttl = 3600
	}
	for _, rec := range zf.Records {
		fqdn := qualify(rec.Name, origin)
		rrString := fmt.Sprintf("%s %d IN %s %s", fqdn, ttl, strings.ToUpper(rec.Type), rec.Value)
		rr, err := dns.NewRR(rrString)
		if err != nil {
			return fmt.Errorf("invalid record %q: %w", rrString, err)
		}
		key := normalizeName(fqdn)
		z.records[key] = append(z.records[key], rr)
	}
	return nil
}

func qualify(name, origin string) string {
	name = strings.TrimSuffix(name, ".")
	if name == "" || name == "@" {
		return origin
	}
	if name == origin || strings.HasSuffix(name, "."+origin) {
		return name
	}
	return name + "." + origin
}

// Lookup returns the records for (qname, qtype). ANY matches every type
// stored for that name. Names are matched exactly: no wildcards, no
// delegation, no CNAME chasing. Returns nil, false on no match.
func (z *ZoneStore) Lookup(qname string, qtype uint16) ([]dns.RR, bool) {
	recs, ok := z.records[normalizeName(qname)]
	if !ok {
		return nil, false
	}
	if qtype == dns.TypeANY {
		return recs, true
	}
	var out []dns.RR
	for _, rr := range recs {
		if rr.Header().Rrtype == qtype {
			out = append(out, rr)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
