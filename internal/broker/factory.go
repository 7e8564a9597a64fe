// Package broker provides the pub/sub transport.
package broker

import (
	"crypto/x509"
	"fmt"
	"log/slog"
)

// Config configures a transport.
type Config struct {
	// Mode selects the backend: local, redis, gossip or memory.
	Mode string

	// BrokerURI is the redis URL for the redis backend.
	BrokerURI string

	// RootCAs verifies a TLS broker connection. Nil uses the system roots.
	RootCAs *x509.CertPool

	// Channel is the logical channel (redis) or topic (local) name.
	Channel string

	// LocalPubEndpoint is where workers publish (the proxy's XSUB side).
	LocalPubEndpoint string

	// LocalSubEndpoint is where workers subscribe (the proxy's XPUB side).
	LocalSubEndpoint string

	// CompressThreshold is the payload size above which packets are
	// s2-compressed. Zero disables compression.
	CompressThreshold int

	// SendQueue bounds outbound and inbound queues. A full queue drops.
	SendQueue int

	// GossipBindAddr and GossipBindPort are the memberlist listen address.
	GossipBindAddr string
	GossipBindPort int

	// GossipSeeds are existing members to join.
	GossipSeeds []string

	// NodeName is the memberlist node name. Defaults to the sender id.
	NodeName string

	// SenderID stamps outgoing packets. Generated when empty.
	SenderID string

	// Hub connects memory transports. A private hub is used when nil.
	Hub *Hub

	Logger   *slog.Logger
	Observer Observer
}

const defaultSendQueue = 1024

func (c Config) sendQueue() int {
	if c.SendQueue <= 0 {
		return defaultSendQueue
	}
	return c.SendQueue
}

// New builds the transport selected by cfg.Mode.
func New(cfg Config) (Transport, error) {
	switch cfg.Mode {
	case ModeLocal:
		return NewZMQTransport(cfg), nil
	case ModeRedis:
		return NewRedisTransport(cfg)
	case ModeGossip:
		return NewGossipTransport(cfg), nil
	case ModeMemory:
		return NewMemoryTransport(cfg), nil
	default:
		return nil, fmt.Errorf("broker: unknown mode %q", cfg.Mode)
	}
}
