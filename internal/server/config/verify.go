// Package config defines the server configuration structure.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/yndnr/relaymesh-go/internal/broker"
	"github.com/yndnr/relaymesh-go/internal/core/service"
	"github.com/yndnr/relaymesh-go/internal/server/wsserver"
	"github.com/yndnr/relaymesh-go/pkg/token"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	checks := []func(*ServerConfig) error{
		verifyCluster,
		verifyBroker,
		verifyConnection,
		verifyRateLimiter,
		verifyReplay,
		verifyMisc,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func verifyCluster(cfg *ServerConfig) error {
	c := &cfg.Cluster
	if c.Workers < 1 {
		return errors.New("cluster.workers must be at least 1")
	}
	if c.IPCSocket == "" {
		return errors.New("cluster.ipc_socket is required")
	}
	if c.ReadyTimeout <= 0 {
		return errors.New("cluster.ready_timeout must be positive")
	}
	return nil
}

func verifyBroker(cfg *ServerConfig) error {
	b := &cfg.Broker
	switch b.Mode {
	case broker.ModeLocal:
		if b.LocalPubEndpoint == "" || b.LocalSubEndpoint == "" {
			return errors.New("broker.local_pub_endpoint and broker.local_sub_endpoint are required in local mode")
		}
		if b.LocalPubEndpoint == b.LocalSubEndpoint {
			return errors.New("broker.local_pub_endpoint and broker.local_sub_endpoint must differ")
		}
	case broker.ModeRedis:
		if b.BrokerURI == "" {
			return errors.New("broker.broker_uri is required in redis mode")
		}
		u, err := url.Parse(b.BrokerURI)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss" && u.Scheme != "unix") {
			return errors.New("broker.broker_uri must be a redis:// rediss:// or unix:// URL")
		}
	case broker.ModeGossip:
		if b.GossipPort < 0 || b.GossipPort > 65535 {
			return fmt.Errorf("broker.gossip_port %d out of range", b.GossipPort)
		}
	case broker.ModeMemory:
		if cfg.Cluster.Workers > 1 {
			return errors.New("broker.mode memory supports a single worker only")
		}
	default:
		return fmt.Errorf("broker.mode %q is not one of local, redis, gossip, memory", b.Mode)
	}
	if b.Channel == "" {
		return errors.New("broker.channel is required")
	}
	if b.BatchDebounce <= 0 || b.BatchMaxWait < b.BatchDebounce {
		return errors.New("broker.batch_debounce must be positive and not exceed broker.batch_max_wait")
	}
	return nil
}

func verifyConnection(cfg *ServerConfig) error {
	c := &cfg.Connection
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("connection.addr: %w", err)
	}
	if c.MaxSessionsPerSocket < 1 {
		return errors.New("connection.max_sessions_per_socket must be at least 1")
	}
	if c.MaxSubscriptions < 1 {
		return errors.New("connection.max_subscriptions must be at least 1")
	}
	if c.BatchDelay <= 0 || c.BatchMaxDelay < c.BatchDelay {
		return errors.New("connection.batch_delay must be positive and not exceed connection.batch_max_delay")
	}
	if c.SendQueue < 1 {
		return errors.New("connection.send_queue must be at least 1")
	}
	if c.WriteTimeout <= 0 || c.PingInterval <= 0 {
		return errors.New("connection.write_timeout and connection.ping_interval must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("connection.tls_cert_file and connection.tls_key_file must be set together")
	}
	if _, err := wsserver.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("connection.trusted_proxies: %w", err)
	}
	return nil
}

func verifyRateLimiter(cfg *ServerConfig) error {
	r := &cfg.RateLimiter
	if r.Enabled {
		if r.RequestCost <= 0 {
			return errors.New("rate_limiter.request_cost must be positive")
		}
		if r.MaxCredit < r.RequestCost {
			return errors.New("rate_limiter.max_credit must cover at least one request")
		}
		if r.Interval <= 0 {
			return errors.New("rate_limiter.interval must be positive")
		}
	}
	for _, entry := range r.Whitelist {
		entry = strings.TrimSpace(entry)
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("rate_limiter.whitelist: %q is not an IP or CIDR prefix", entry)
		}
	}
	return nil
}

func verifyReplay(cfg *ServerConfig) error {
	switch cfg.Replay.Store {
	case service.ReplayStoreMemory, service.ReplayStoreBadger:
	default:
		return fmt.Errorf("replay.store %q is not one of memory, badger", cfg.Replay.Store)
	}
	if cfg.Replay.DefaultTTL <= 0 || cfg.Replay.SweepInterval <= 0 {
		return errors.New("replay.default_ttl and replay.sweep_interval must be positive")
	}
	return nil
}

func verifyMisc(cfg *ServerConfig) error {
	if cfg.Aggregator.FlushInterval <= 0 {
		return errors.New("aggregator.flush_interval must be positive")
	}
	if cfg.RPC.CallTimeout < 0 {
		return errors.New("rpc.call_timeout must not be negative")
	}
	if k := cfg.Auth.TokenKey; k != "" && len(k) < token.MinKeyLength {
		return fmt.Errorf("auth.token_key must be at least %d bytes", token.MinKeyLength)
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", cfg.Log.Format)
	}
	return nil
}
