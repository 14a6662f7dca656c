package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	rdns "github.com/quietshore/cachedns"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "cachedns",
		Short: "Caching DNS resolver",
		Long: `Caching DNS resolver.

Answers client queries over UDP and TCP, fronting either a set of
forwarder upstreams or an iterative recursor with a multi-tier cache
(positive, negative, and a two-hit negative probe). Background refresh
keeps near-expiry and stale entries warm without blocking the client.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&opt.configPath, "config", "c", "config/example.toml", "path to the TOML config file")
	cmd.Flags().StringVarP(&opt.logLevel, "log-level", "l", "info", "log level; trace, debug, info, warning, error")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Functions to call on shutdown.
var onClose []func()

func start(opt options) error {
	if err := rdns.SetLevel(opt.logLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	cfg, err := loadConfig(opt.configPath)
	if err != nil {
		return err
	}

	netFilter, err := rdns.NewNetFilter(cfg.Filters.AllowNets, cfg.Filters.DenyNets)
	if err != nil {
		return err
	}

	var resolver rdns.Resolver
	var isRecursor bool
	if len(cfg.Upstreams) > 0 {
		resolver, err = rdns.NewForwarderClient("forwarder", cfg.Upstreams, 2*time.Second)
		if err != nil {
			return err
		}
	} else {
		dnssecPolicy, err := rdns.ParseDNSSECPolicy(cfg.Recursor.DNSSEC)
		if err != nil {
			return err
		}
		resolver, err = rdns.NewRecursor(rdns.RecursorOptions{
			Roots:             cfg.Roots,
			NSCacheSize:       cfg.Recursor.NSCacheSize,
			RecordCacheSize:   cfg.Recursor.RecordCacheSize,
			RecursionLimit:    cfg.Recursor.RecursionLimit,
			NSRecursionLimit:  cfg.Recursor.NSRecursionLimit,
			TimeoutMS:         cfg.Recursor.TimeoutMS,
			Attempts:          cfg.Recursor.Attempts,
			CaseRandomization: cfg.Recursor.CaseRandomization,
			DNSSEC:            dnssecPolicy,
			NetFilter:         netFilter,
		})
		if err != nil {
			return err
		}
		isRecursor = true
	}

	zones, err := rdns.LoadZoneDir(cfg.Zones.ZonesDir)
	if err != nil {
		return err
	}
	filter := rdns.NewDomainFilter(cfg.Filters.AllowlistDomains, cfg.Filters.BlocklistDomains)

	ttl := rdns.TTLPolicy{
		MinTTL:            cfg.Cache.MinTTL,
		MaxTTL:            cfg.Cache.MaxTTL,
		NegativeTTL:       cfg.Cache.NegativeTTL,
		NegativeMinTTL:    cfg.Cache.Negative.MinTTL,
		NegativeMaxTTL:    cfg.Cache.Negative.MaxTTL,
		PrefetchThreshold: time.Duration(cfg.Cache.PrefetchThresholdSecs) * time.Second,
		StaleWindow:       time.Duration(cfg.Cache.StaleWindowSecs) * time.Second,
		ProbeTTL:          time.Duration(cfg.Cache.Negative.ProbeTTLSecs) * time.Second,
	}

	handler := rdns.NewHandler(rdns.HandlerOptions{
		Zones:             zones,
		Filter:            filter,
		Resolver:          resolver,
		IsRecursor:        isRecursor,
		TTL:               ttl,
		AnswerCacheSize:   cfg.Cache.AnswerCacheSize,
		NegativeCacheSize: cfg.Cache.NegativeCacheSize,
		NegativeEnabled:   cfg.Cache.Negative.Enabled,
		CacheNXDOMAIN:     cfg.Cache.Negative.CacheNXDOMAIN,
		CacheNODATA:       cfg.Cache.Negative.CacheNODATA,
		TwoHit:            cfg.Cache.Negative.TwoHit,
	})

	var topLevel rdns.Resolver = handler
	if cfg.QueryLog.Enabled {
		topLevel = rdns.NewQueryLog("querylog", handler, rdns.QueryLogOptions{
			Network:     cfg.QueryLog.Network,
			Address:     cfg.QueryLog.Address,
			Tag:         cfg.QueryLog.Tag,
			LogRequest:  true,
			LogResponse: true,
		})
	}

	var listeners []rdns.Listener
	if cfg.ListenUDP != "" {
		listeners = append(listeners, rdns.NewDNSListener("udp", cfg.ListenUDP, "udp", rdns.ListenOptions{}, topLevel))
	}
	if cfg.ListenTCP != "" {
		listeners = append(listeners, rdns.NewDNSListener("tcp", cfg.ListenTCP, "tcp", rdns.ListenOptions{}, topLevel))
	}
	if len(listeners) == 0 {
		return fmt.Errorf("config error: at least one of listen_udp, listen_tcp must be set")
	}

	for _, l := range listeners {
		go func(l rdns.Listener) {
			for {
				err := l.Start()
				rdns.Log.With("error", err).Error("listener failed")
				time.Sleep(time.Second)
			}
		}(l)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	<-sig
	rdns.Log.Info("stopping")
	for _, f := range onClose {
		f()
	}
	return nil
}
