// Package config defines the server configuration structure.
package config

import (
	"log/slog"

	"github.com/yndnr/relaymesh-go/internal/broker"
	"github.com/yndnr/relaymesh-go/internal/cluster"
	"github.com/yndnr/relaymesh-go/internal/core/service"
	"github.com/yndnr/relaymesh-go/internal/notify"
	"github.com/yndnr/relaymesh-go/internal/rpc"
	"github.com/yndnr/relaymesh-go/internal/server/wsserver"
	"github.com/yndnr/relaymesh-go/internal/telemetry/logger"
)

// ToBrokerConfig maps the broker section onto a transport configuration.
func ToBrokerConfig(cfg *ServerConfig, senderID string, logger *slog.Logger, observer broker.Observer) broker.Config {
	b := cfg.Broker
	return broker.Config{
		Mode:              b.Mode,
		BrokerURI:         b.BrokerURI,
		Channel:           b.Channel,
		LocalPubEndpoint:  b.LocalPubEndpoint,
		LocalSubEndpoint:  b.LocalSubEndpoint,
		CompressThreshold: b.CompressThreshold,
		SendQueue:         b.SendQueue,
		GossipBindAddr:    b.GossipAddr,
		GossipBindPort:    b.GossipPort,
		GossipSeeds:       b.GossipSeeds,
		NodeName:          senderID,
		SenderID:          senderID,
		Logger:            logger,
		Observer:          observer,
	}
}

// ToBatchConfig returns the broadcast micro-batch settings.
func ToBatchConfig(cfg *ServerConfig) cluster.BatchConfig {
	return cluster.BatchConfig{
		Debounce: cfg.Broker.BatchDebounce,
		MaxWait:  cfg.Broker.BatchMaxWait,
	}
}

// ToRegistryConfig returns the connection registry limits.
func ToRegistryConfig(cfg *ServerConfig) notify.RegistryConfig {
	c := cfg.Connection
	return notify.RegistryConfig{
		MaxSessionsPerSocket:       c.MaxSessionsPerSocket,
		MaxSubscriptionsPerSession: c.MaxSubscriptions,
		BatchDelay:                 c.BatchDelay,
		BatchMaxDelay:              c.BatchMaxDelay,
	}
}

// ToRateLimiterConfig returns the rate limiter settings.
func ToRateLimiterConfig(cfg *ServerConfig) service.RateLimiterConfig {
	r := cfg.RateLimiter
	return service.RateLimiterConfig{
		Enabled:           r.Enabled,
		InitialCredit:     r.InitialCredit,
		RequestCost:       r.RequestCost,
		MaxCredit:         r.MaxCredit,
		CreditAddon:       r.CreditAddon,
		Interval:          r.Interval,
		InactivityTimeout: r.InactivityTimeout,
		Whitelist:         append([]string(nil), r.Whitelist...),
	}
}

// ToReplayConfig returns the replay cache settings.
func ToReplayConfig(cfg *ServerConfig) service.ReplayConfig {
	return service.ReplayConfig{
		Store:         cfg.Replay.Store,
		Dir:           cfg.Replay.Dir,
		DefaultTTL:    cfg.Replay.DefaultTTL,
		SweepInterval: cfg.Replay.SweepInterval,
	}
}

// ToAggregatorConfig returns the aggregator settings.
func ToAggregatorConfig(cfg *ServerConfig) service.AggregatorConfig {
	return service.AggregatorConfig{FlushInterval: cfg.Aggregator.FlushInterval}
}

// ToSocketConfig returns the per-socket settings of the worker front door.
func ToSocketConfig(cfg *ServerConfig) wsserver.SocketConfig {
	c := cfg.Connection
	return wsserver.SocketConfig{
		WriteTimeout: c.WriteTimeout,
		PingInterval: c.PingInterval,
		SendQueue:    c.SendQueue,
		ReadLimit:    c.ReadLimit,
	}
}

// ToTrustedProxies parses connection.trusted_proxies.
func ToTrustedProxies(cfg *ServerConfig) (wsserver.TrustedProxies, error) {
	return wsserver.ParseTrustedProxies(cfg.Connection.TrustedProxies)
}

// ToPeerConfig returns the process channel settings for one link end.
func ToPeerConfig(cfg *ServerConfig, registry *rpc.Registry, log *slog.Logger, observer rpc.Observer) rpc.PeerConfig {
	return rpc.PeerConfig{
		Registry:    registry,
		CallTimeout: cfg.RPC.CallTimeout,
		Logger:      log,
		Observer:    observer,
	}
}

// ToLoggerConfig returns the logging settings.
func ToLoggerConfig(cfg *ServerConfig) logger.Config {
	l := logger.DefaultConfig()
	if cfg.Log.Level != "" {
		l.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		l.Format = cfg.Log.Format
	}
	return l
}
