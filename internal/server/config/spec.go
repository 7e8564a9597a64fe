// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for relaymesh-server.
type ServerConfig struct {
	Cluster     ClusterSection     `koanf:"cluster"`
	Broker      BrokerSection      `koanf:"broker"`
	Connection  ConnectionSection  `koanf:"connection"`
	RateLimiter RateLimiterSection `koanf:"rate_limiter"`
	Replay      ReplaySection      `koanf:"replay"`
	Aggregator  AggregatorSection  `koanf:"aggregator"`
	RPC         RPCSection         `koanf:"rpc"`
	Auth        AuthSection        `koanf:"auth"`
	Metrics     MetricsSection     `koanf:"metrics"`
	Log         LogSection         `koanf:"log"`
}

// ClusterSection configures the leader and its workers.
type ClusterSection struct {
	// Workers is the number of worker processes the leader spawns.
	Workers int `koanf:"workers"`

	// IPCSocket is the unix socket the leader listens on for worker links.
	IPCSocket string `koanf:"ipc_socket"`

	// ReadyTimeout bounds a worker's registration handshake.
	ReadyTimeout time.Duration `koanf:"ready_timeout"`

	// ShutdownTimeout bounds graceful shutdown of either role.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BrokerSection configures the pub/sub transport.
type BrokerSection struct {
	// Mode is one of local, redis, gossip or memory.
	Mode string `koanf:"mode"`

	// BrokerURI is the redis URL used by the redis mode. It may carry
	// credentials.
	BrokerURI string `koanf:"broker_uri"`

	Channel          string `koanf:"channel"`
	LocalPubEndpoint string `koanf:"local_pub_endpoint"`
	LocalSubEndpoint string `koanf:"local_sub_endpoint"`

	CompressThreshold int `koanf:"compress_threshold"`
	SendQueue         int `koanf:"send_queue"`

	// BatchDebounce and BatchMaxWait tune broadcast micro-batching.
	BatchDebounce time.Duration `koanf:"batch_debounce"`
	BatchMaxWait  time.Duration `koanf:"batch_max_wait"`

	// TLSCAFile adds a CA to the roots used to verify a rediss:// broker.
	TLSCAFile string `koanf:"tls_ca_file"`

	GossipAddr  string   `koanf:"gossip_addr"`
	GossipPort  int      `koanf:"gossip_port"`
	GossipSeeds []string `koanf:"gossip_seeds"`
}

// ConnectionSection configures the worker socket endpoint.
type ConnectionSection struct {
	// Addr is shared by every worker.
	Addr string `koanf:"addr"`

	MaxSessionsPerSocket int `koanf:"max_sessions_per_socket"`

	// MaxSubscriptions is the per-session channel ceiling.
	MaxSubscriptions int `koanf:"max_subscriptions"`

	BatchDelay    time.Duration `koanf:"batch_delay"`
	BatchMaxDelay time.Duration `koanf:"batch_max_delay"`

	WriteTimeout time.Duration `koanf:"write_timeout"`
	PingInterval time.Duration `koanf:"ping_interval"`
	SendQueue    int           `koanf:"send_queue"`
	ReadLimit    int64         `koanf:"read_limit"`

	// TLSCertFile and TLSKeyFile enable TLS on Addr. The pair is reloaded
	// when either file changes.
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// TrustedProxies lists the IPs or CIDR prefixes whose X-Forwarded-For
	// and X-Real-IP headers are honored. Empty ignores both headers.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// RateLimiterSection configures the leader's per-IP credit limiter.
type RateLimiterSection struct {
	Enabled           bool          `koanf:"enabled"`
	InitialCredit     int           `koanf:"initial_credit"`
	RequestCost       int           `koanf:"request_cost"`
	MaxCredit         int           `koanf:"max_credit"`
	CreditAddon       int           `koanf:"credit_addon"`
	Interval          time.Duration `koanf:"interval"`
	InactivityTimeout time.Duration `koanf:"inactivity_timeout"`
	Whitelist         []string      `koanf:"whitelist"`
}

// ReplaySection configures the nonce replay cache.
type ReplaySection struct {
	// Store is memory or badger.
	Store         string        `koanf:"store"`
	Dir           string        `koanf:"dir"`
	DefaultTTL    time.Duration `koanf:"default_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// AggregatorSection configures event coalescing.
type AggregatorSection struct {
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// RPCSection configures the correlated call protocol.
type RPCSection struct {
	// CallTimeout applies to calls whose context has no deadline.
	CallTimeout time.Duration `koanf:"call_timeout"`
}

// AuthSection configures client credentials.
type AuthSection struct {
	// TokenKey signs session tokens and derives frame secrets. Every
	// process of a deployment must share it. Empty rejects all clients.
	TokenKey string `koanf:"token_key"`
}

// MetricsSection configures the leader's metrics endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
