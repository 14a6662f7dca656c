package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	rdns "github.com/quietshore/cachedns"
)

// config mirrors the TOML keys enumerated in the external interfaces
// section: a fixed, single-pipeline resolver, not an arbitrary graph
// of resolvers/groups/routers.
type config struct {
	ListenUDP string   `toml:"listen_udp"`
	ListenTCP string   `toml:"listen_tcp"`
	Upstreams []string `toml:"upstreams"`
	Roots     []string `toml:"roots"`

	Zones    zonesConfig    `toml:"zones"`
	Filters  filtersConfig  `toml:"filters"`
	Cache    cacheConfig    `toml:"cache"`
	Recursor recursorConfig `toml:"recursor"`
	QueryLog queryLogConfig `toml:"querylog"`
}

type queryLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Network string `toml:"network"`
	Address string `toml:"address"`
	Tag     string `toml:"tag"`
}

type zonesConfig struct {
	ZonesDir string `toml:"zones_dir"`
}

type filtersConfig struct {
	AllowlistDomains []string `toml:"allowlist_domains"`
	BlocklistDomains []string `toml:"blocklist_domains"`
	AllowNets        []string `toml:"allow_nets"`
	DenyNets         []string `toml:"deny_nets"`
}

type cacheConfig struct {
	AnswerCacheSize        int      `toml:"answer_cache_size"`
	NegativeCacheSize      int      `toml:"negative_cache_size"`
	MinTTL                 uint32   `toml:"min_ttl"`
	MaxTTL                 uint32   `toml:"max_ttl"`
	NegativeTTL            uint32   `toml:"negative_ttl"`
	PrefetchThresholdSecs  uint32   `toml:"prefetch_threshold_secs"`
	StaleWindowSecs        uint32   `toml:"stale_window_secs"`
	Negative               negativeCacheConfig `toml:"negative"`
}

type negativeCacheConfig struct {
	Enabled       bool   `toml:"enabled"`
	CacheNXDOMAIN bool   `toml:"cache_nxdomain"`
	CacheNODATA   bool   `toml:"cache_nodata"`
	TwoHit        bool   `toml:"two_hit"`
	ProbeTTLSecs  uint32 `toml:"probe_ttl_secs"`
	MinTTL        uint32 `toml:"min_ttl"`
	MaxTTL        uint32 `toml:"max_ttl"`
}

type recursorConfig struct {
	NSCacheSize       int    `toml:"ns_cache_size"`
	RecordCacheSize   int    `toml:"record_cache_size"`
	RecursionLimit    int    `toml:"recursion_limit"`
	NSRecursionLimit  int    `toml:"ns_recursion_limit"`
	TimeoutMS         int    `toml:"timeout_ms"`
	Attempts          int    `toml:"attempts"`
	CaseRandomization bool   `toml:"case_randomization"`
	DNSSEC            string `toml:"dnssec"`
}

// loadConfig reads and validates the TOML config file. Empty upstreams
// and empty roots together, both set at once, or an unparseable
// `dnssec` value is a fatal error.
func loadConfig(path string) (*config, error) {
	var c config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(c.Upstreams) == 0 && len(c.Roots) == 0 {
		return nil, fmt.Errorf("config error: either upstreams or roots must be non-empty")
	}
	if len(c.Upstreams) > 0 && len(c.Roots) > 0 {
		return nil, fmt.Errorf("config error: upstreams and roots are mutually exclusive")
	}
	if _, err := rdns.ParseDNSSECPolicy(c.Recursor.DNSSEC); err != nil {
		return nil, err
	}
	return &c, nil
}
