// Package cluster ties the leader and its worker processes together.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/broker"
	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// BatchConfig tunes the broadcast micro-batcher.
type BatchConfig struct {
	Debounce time.Duration
	MaxWait  time.Duration
}

// LeaderClient is the worker's view of the leader: typed calls over the
// process channel, plus broadcasts to every worker through the transport.
type LeaderClient struct {
	peer      *rpc.Peer
	transport broker.Transport
	batcher   *rpc.VoidBatcher
	logger    *slog.Logger
}

// NewLeaderClient creates a client over peer. transport may be nil, in which
// case Broadcast fails.
func NewLeaderClient(peer *rpc.Peer, transport broker.Transport, batch BatchConfig, logger *slog.Logger) *LeaderClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &LeaderClient{
		peer:      peer,
		transport: transport,
		logger:    logger,
	}
	c.batcher = rpc.NewVoidBatcher(batch.Debounce, batch.MaxWait, c.publish, logger)
	return c
}

func (c *LeaderClient) publish(env rpc.ChannelEnvelope) {
	if c.transport == nil {
		c.logger.Warn("dropping broadcast batch: no transport")
		return
	}
	// Publish failures are logged by the transport.
	_ = c.transport.Publish(context.Background(), env)
}

// Handshake registers this worker and checks that the leader serves every
// required method.
func (c *LeaderClient) Handshake(ctx context.Context, workerID string) error {
	var ok bool
	err := c.peer.Call(ctx, clusterv1.MethodRegisterWorker, clusterv1.RegisterWorkerParams{
		WorkerID: workerID,
		PID:      os.Getpid(),
	}, &ok)
	if err != nil {
		return fmt.Errorf("register worker %s: %w", workerID, err)
	}

	methods, err := c.ListMethods(ctx)
	if err != nil {
		return fmt.Errorf("list leader methods: %w", err)
	}
	served := make(map[string]bool, len(methods))
	for _, m := range methods {
		served[m] = true
	}
	for _, m := range clusterv1.RequiredLeaderMethods {
		if !served[m] {
			return fmt.Errorf("leader does not serve %s", m)
		}
	}
	return nil
}

// ListMethods returns the leader's registered method names.
func (c *LeaderClient) ListMethods(ctx context.Context) ([]string, error) {
	var methods []string
	err := c.peer.Call(ctx, clusterv1.MethodListMethods, nil, &methods)
	return methods, err
}

// CanPerformRequest charges one request against ip.
func (c *LeaderClient) CanPerformRequest(ctx context.Context, ip string) (bool, error) {
	var allowed bool
	err := c.peer.Call(ctx, clusterv1.MethodCanPerformRequest, clusterv1.CanPerformRequestParams{IP: ip}, &allowed)
	return allowed, err
}

// IsValidNonce consumes nonce if it was not seen within ttl.
func (c *LeaderClient) IsValidNonce(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	var valid bool
	err := c.peer.Call(ctx, clusterv1.MethodIsValidNonce, clusterv1.IsValidNonceParams{
		Nonce: nonce,
		TTLMs: ttl.Milliseconds(),
	}, &valid)
	return valid, err
}

// Lock blocks until the named lock is granted or ctx ends. When ctx ends
// first the request is withdrawn on the leader, releasing the lock if the
// grant crossed the cancellation.
func (c *LeaderClient) Lock(ctx context.Context, name string) error {
	p := clusterv1.LockParams{Name: name, Ticket: uuid.NewString()}
	err := c.peer.Call(ctx, clusterv1.MethodLock, p, nil, rpc.WithoutTimeout())
	if err != nil && ctx.Err() != nil {
		if cerr := c.peer.Notify(clusterv1.MethodCancelLock, p); cerr != nil {
			c.logger.Warn("failed to withdraw lock request",
				"name", name,
				"error", cerr)
		}
	}
	return domain.Lift(err)
}

// Unlock releases the named lock. Unlocking a name nobody holds returns an
// error matching domain.ErrNotLocked.
func (c *LeaderClient) Unlock(ctx context.Context, name string) error {
	return domain.Lift(c.peer.Call(ctx, clusterv1.MethodUnlock, clusterv1.LockParams{Name: name}, nil))
}

// WithLock runs fn while holding the named lock.
func (c *LeaderClient) WithLock(ctx context.Context, name string, fn func() error) error {
	if err := c.Lock(ctx, name); err != nil {
		return err
	}
	defer func() {
		if err := c.Unlock(context.WithoutCancel(ctx), name); err != nil {
			c.logger.Error("failed to release lock", "name", name, "error", err)
		}
	}()
	return fn()
}

// AggregateContainerItem reports an item mutation to the aggregator. It does
// not wait for a reply.
func (c *LeaderClient) AggregateContainerItem(p clusterv1.AggregateContainerItemParams) error {
	return c.peer.Notify(clusterv1.MethodAggregateContainerItem, p)
}

// AggregateUserStatus reports a login or logout to the aggregator. It does
// not wait for a reply.
func (c *LeaderClient) AggregateUserStatus(p clusterv1.AggregateUserStatusParams) error {
	return c.peer.Notify(clusterv1.MethodAggregateUserStatus, p)
}

// IncrementCounter adds delta to the named counter and returns the new value.
func (c *LeaderClient) IncrementCounter(ctx context.Context, name string, delta int64) (int64, error) {
	var v int64
	err := c.peer.Call(ctx, clusterv1.MethodIncrementCounter, clusterv1.CounterParams{Name: name, Delta: delta}, &v)
	return v, err
}

// GetCounter returns the named counter.
func (c *LeaderClient) GetCounter(ctx context.Context, name string) (int64, error) {
	var v int64
	err := c.peer.Call(ctx, clusterv1.MethodGetCounter, clusterv1.CounterParams{Name: name}, &v)
	return v, err
}

// FanOutToWorkers asks the leader to call method on every worker, this one
// included.
func (c *LeaderClient) FanOutToWorkers(ctx context.Context, method string, params any) ([]clusterv1.FanOutResult, error) {
	raw, err := msgpack.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params for %s: %w", method, err)
	}
	var results []clusterv1.FanOutResult
	err = c.peer.Call(ctx, clusterv1.MethodFanOutToWorkers, clusterv1.FanOutParams{
		Method: method,
		Params: raw,
	}, &results)
	return results, err
}

// Broadcast queues a void call for every worker. Calls are batched and
// published through the transport, not the leader link.
func (c *LeaderClient) Broadcast(method string, params any) error {
	return c.batcher.Enqueue(method, params)
}

// Close flushes pending broadcasts.
func (c *LeaderClient) Close() {
	c.batcher.Close()
}
