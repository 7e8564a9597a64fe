// Package broker provides the pub/sub transport.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// RedisTransport is the networked backend: PUBLISH and SUBSCRIBE on one
// channel. Ordering across publishers is not guaranteed.
type RedisTransport struct {
	base
	client  *redis.Client
	channel string

	stateMu sync.Mutex
	pubsub  *redis.PubSub
	wg      sync.WaitGroup
}

// NewRedisTransport parses cfg.BrokerURI and creates the client. The
// connection is established by Start.
func NewRedisTransport(cfg Config) (*RedisTransport, error) {
	opts, err := redis.ParseURL(cfg.BrokerURI)
	if err != nil {
		return nil, fmt.Errorf("parse broker uri: %w", err)
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("broker: redis transport requires a channel name")
	}
	if opts.TLSConfig != nil && cfg.RootCAs != nil {
		opts.TLSConfig.RootCAs = cfg.RootCAs
	}

	t := &RedisTransport{
		client:  redis.NewClient(opts),
		channel: cfg.Channel,
	}
	t.setup(ModeRedis, cfg)
	return t, nil
}

// Start implements Transport. It returns once the subscription is confirmed.
func (t *RedisTransport) Start(ctx context.Context) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.pubsub != nil {
		return nil
	}

	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	ps := t.client.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", t.channel, err)
	}
	t.pubsub = ps

	t.wg.Add(1)
	go t.recvLoop(ps.Channel())

	t.logger.Info("redis transport started",
		"channel", t.channel,
		"sender", t.Sender())
	return nil
}

func (t *RedisTransport) recvLoop(messages <-chan *redis.Message) {
	defer t.wg.Done()
	for msg := range messages {
		t.deliver([]byte(msg.Payload))
	}
}

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, env rpc.ChannelEnvelope) error {
	t.stateMu.Lock()
	running := t.pubsub != nil
	t.stateMu.Unlock()
	if !running {
		return ErrStopped
	}

	data, err := t.encode(env)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.channel, data).Err(); err != nil {
		t.drop("publish", err, "channel", env.Channel)
		return fmt.Errorf("publish to %s: %w", t.channel, err)
	}
	t.published(len(data))
	return nil
}

// Stop implements Transport.
func (t *RedisTransport) Stop() error {
	t.stateMu.Lock()
	ps := t.pubsub
	t.pubsub = nil
	t.stateMu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
		t.wg.Wait()
	}
	if cerr := t.client.Close(); cerr != nil && err == nil && ps != nil {
		err = cerr
	}
	t.logger.Info("redis transport stopped")
	return err
}
