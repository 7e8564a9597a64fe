// Package broker provides the pub/sub transport.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// Transport modes.
const (
	ModeLocal  = "local"
	ModeRedis  = "redis"
	ModeGossip = "gossip"
	ModeMemory = "memory"
)

var (
	// ErrStopped is returned by Publish on a transport that is not running.
	ErrStopped = errors.New("broker: transport not running")

	// ErrQueueFull is returned when an outbound queue drops a message.
	ErrQueueFull = errors.New("broker: send queue full")
)

// Handler receives every envelope delivered by the transport.
type Handler func(env rpc.ChannelEnvelope)

// Transport is a fire-and-forget broadcast bus.
type Transport interface {
	// Start connects the transport. Messages are delivered to the handler
	// registered with OnMessage.
	Start(ctx context.Context) error

	// Stop disconnects and releases resources. It is safe to call twice.
	Stop() error

	// Publish sends env to every process, the caller included.
	Publish(ctx context.Context, env rpc.ChannelEnvelope) error

	// OnMessage sets the inbound handler. Call before Start.
	OnMessage(h Handler)
}

// Observer receives transport events, typically to update metrics.
type Observer interface {
	MessagePublished(mode string, bytes int)
	MessageReceived(mode string, bytes int)
	MessageDropped(mode, reason string)
}

type nopObserver struct{}

func (nopObserver) MessagePublished(string, int)  {}
func (nopObserver) MessageReceived(string, int)   {}
func (nopObserver) MessageDropped(string, string) {}

// Packet is the wire wrapper of every published message.
type Packet struct {
	Sender     string `msgpack:"s"`
	Compressed bool   `msgpack:"c,omitempty"`
	Payload    []byte `msgpack:"p"`
}

// Codec wraps envelopes into packets and back.
type Codec struct {
	Sender            string
	CompressThreshold int
}

// NewSenderID returns a fresh transport sender id.
func NewSenderID() string {
	return uuid.NewString()
}

// Encode serializes env into a packet.
func (c Codec) Encode(env rpc.ChannelEnvelope) ([]byte, error) {
	payload, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	pkt := Packet{Sender: c.Sender, Payload: payload}
	if c.CompressThreshold > 0 && len(payload) > c.CompressThreshold {
		pkt.Payload = s2.Encode(nil, payload)
		pkt.Compressed = true
	}

	data, err := msgpack.Marshal(&pkt)
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}
	return data, nil
}

// Decode parses a packet and returns its sender and envelope.
func (c Codec) Decode(data []byte) (string, rpc.ChannelEnvelope, error) {
	var pkt Packet
	if err := msgpack.Unmarshal(data, &pkt); err != nil {
		return "", rpc.ChannelEnvelope{}, fmt.Errorf("decode packet: %w", err)
	}

	payload := pkt.Payload
	if pkt.Compressed {
		var err error
		payload, err = s2.Decode(nil, pkt.Payload)
		if err != nil {
			return pkt.Sender, rpc.ChannelEnvelope{}, fmt.Errorf("decompress payload: %w", err)
		}
	}

	var env rpc.ChannelEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return pkt.Sender, rpc.ChannelEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Channel == "" {
		return pkt.Sender, rpc.ChannelEnvelope{}, fmt.Errorf("decode envelope: missing channel")
	}
	return pkt.Sender, env, nil
}

// base holds what every backend shares: the codec, the handler and
// rate-limited drop logging.
type base struct {
	mode     string
	codec    Codec
	logger   *slog.Logger
	observer Observer

	mu      sync.RWMutex
	handler Handler

	dropLog rate.Sometimes
}

func (b *base) setup(mode string, cfg Config) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	sender := cfg.SenderID
	if sender == "" {
		sender = NewSenderID()
	}

	b.mode = mode
	b.codec = Codec{
		Sender:            sender,
		CompressThreshold: cfg.CompressThreshold,
	}
	b.logger = logger.With("transport", mode)
	b.observer = observer
	b.dropLog = rate.Sometimes{First: 5, Interval: 10 * time.Second}
}

// OnMessage implements Transport.
func (b *base) OnMessage(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Sender returns this process's sender id.
func (b *base) Sender() string {
	return b.codec.Sender
}

func (b *base) encode(env rpc.ChannelEnvelope) ([]byte, error) {
	data, err := b.codec.Encode(env)
	if err != nil {
		b.drop("encode", err)
		return nil, err
	}
	return data, nil
}

// deliver decodes data and hands it to the handler. It never panics into the
// receive loop.
func (b *base) deliver(data []byte) {
	sender, env, err := b.codec.Decode(data)
	if err != nil {
		b.drop("decode", err, "sender", sender)
		return
	}
	b.observer.MessageReceived(b.mode, len(data))

	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h == nil {
		b.drop("no_handler", nil, "channel", env.Channel)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic recovered in transport handler",
				"channel", env.Channel,
				"sender", sender,
				"panic", r)
		}
	}()
	h(env)
}

func (b *base) published(size int) {
	b.observer.MessagePublished(b.mode, size)
}

func (b *base) drop(reason string, err error, attrs ...any) {
	b.observer.MessageDropped(b.mode, reason)
	b.dropLog.Do(func() {
		args := append([]any{"reason", reason, "error", err}, attrs...)
		b.logger.Warn("dropping broadcast message", args...)
	})
}
