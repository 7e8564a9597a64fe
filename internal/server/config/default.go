// Package config defines the server configuration structure.
package config

import (
	"time"

	"github.com/yndnr/relaymesh-go/internal/broker"
	"github.com/yndnr/relaymesh-go/internal/core/service"
)

// Default configuration values.
const (
	DefaultWorkers         = 2
	DefaultIPCSocket       = "/var/run/relaymesh-server/leader.sock"
	DefaultReadyTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	DefaultBrokerMode        = broker.ModeLocal
	DefaultBrokerChannel     = "relaymesh"
	DefaultLocalPubEndpoint  = "ipc:///tmp/relaymesh-pub.sock"
	DefaultLocalSubEndpoint  = "ipc:///tmp/relaymesh-sub.sock"
	DefaultCompressThreshold = 4096
	DefaultBrokerSendQueue   = 1024
	DefaultBatchDebounce     = 5 * time.Millisecond
	DefaultBatchMaxWait      = 50 * time.Millisecond
	DefaultGossipPort        = 7946

	DefaultConnectionAddr   = "127.0.0.1:8080"
	DefaultMaxSessions      = 32
	DefaultMaxSubscriptions = 256
	DefaultBatchDelay       = 10 * time.Millisecond
	DefaultBatchMaxDelay    = 100 * time.Millisecond
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultSocketSendQueue  = 256
	DefaultReadLimit        = 64 << 10

	DefaultCallTimeout = 30 * time.Second

	DefaultMetricsAddr = "127.0.0.1:9090"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	limiter := service.DefaultRateLimiterConfig()
	replay := service.DefaultReplayConfig()

	return &ServerConfig{
		Cluster: ClusterSection{
			Workers:         DefaultWorkers,
			IPCSocket:       DefaultIPCSocket,
			ReadyTimeout:    DefaultReadyTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Broker: BrokerSection{
			Mode:              DefaultBrokerMode,
			Channel:           DefaultBrokerChannel,
			LocalPubEndpoint:  DefaultLocalPubEndpoint,
			LocalSubEndpoint:  DefaultLocalSubEndpoint,
			CompressThreshold: DefaultCompressThreshold,
			SendQueue:         DefaultBrokerSendQueue,
			BatchDebounce:     DefaultBatchDebounce,
			BatchMaxWait:      DefaultBatchMaxWait,
			GossipPort:        DefaultGossipPort,
		},
		Connection: ConnectionSection{
			Addr:                 DefaultConnectionAddr,
			MaxSessionsPerSocket: DefaultMaxSessions,
			MaxSubscriptions:     DefaultMaxSubscriptions,
			BatchDelay:           DefaultBatchDelay,
			BatchMaxDelay:        DefaultBatchMaxDelay,
			WriteTimeout:         DefaultWriteTimeout,
			PingInterval:         DefaultPingInterval,
			SendQueue:            DefaultSocketSendQueue,
			ReadLimit:            DefaultReadLimit,
		},
		RateLimiter: RateLimiterSection{
			Enabled:           limiter.Enabled,
			InitialCredit:     limiter.InitialCredit,
			RequestCost:       limiter.RequestCost,
			MaxCredit:         limiter.MaxCredit,
			CreditAddon:       limiter.CreditAddon,
			Interval:          limiter.Interval,
			InactivityTimeout: limiter.InactivityTimeout,
		},
		Replay: ReplaySection{
			Store:         replay.Store,
			Dir:           replay.Dir,
			DefaultTTL:    replay.DefaultTTL,
			SweepInterval: replay.SweepInterval,
		},
		Aggregator: AggregatorSection{
			FlushInterval: service.DefaultAggregatorConfig().FlushInterval,
		},
		RPC: RPCSection{
			CallTimeout: DefaultCallTimeout,
		},
		Metrics: MetricsSection{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
