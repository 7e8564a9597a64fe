// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/relaymesh-go/pkg/flushtimer"
)

// ErrBatcherClosed is returned by Enqueue after Close.
var ErrBatcherClosed = errors.New("rpc: void batcher closed")

// FlushFunc receives one request-batch envelope.
type FlushFunc func(env ChannelEnvelope)

// VoidBatcher queues fire-and-forget calls and flushes them as a single
// request-batch envelope.
//
// A flush happens when no call arrived for the debounce delay, or when the
// oldest queued call has waited maxWait, whichever comes first.
type VoidBatcher struct {
	mu     sync.Mutex
	queue  []ChannelEnvelope
	timer  *flushtimer.Timer
	flush  FlushFunc
	logger *slog.Logger
	closed bool
}

// NewVoidBatcher creates a batcher that hands each batch to flush.
func NewVoidBatcher(debounce, maxWait time.Duration, flush FlushFunc, logger *slog.Logger) *VoidBatcher {
	if logger == nil {
		logger = slog.Default()
	}
	b := &VoidBatcher{
		flush:  flush,
		logger: logger,
	}
	b.timer = flushtimer.New(debounce, maxWait, b.Flush)
	return b
}

// Enqueue adds a void call to the pending batch.
func (b *VoidBatcher) Enqueue(method string, params any) error {
	req, err := NewRequest(VoidID, method, params)
	if err != nil {
		return err
	}
	env, err := Wrap(ChannelRequestVoid, req)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatcherClosed
	}
	b.queue = append(b.queue, env)
	b.mu.Unlock()

	b.timer.Touch()
	return nil
}

// Flush sends whatever is queued now.
func (b *VoidBatcher) Flush() {
	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	env, err := Wrap(ChannelRequestBatch, queue)
	if err != nil {
		b.logger.Error("failed to wrap void batch", "calls", len(queue), "error", err)
		return
	}
	b.flush(env)
}

// Pending returns the number of queued calls.
func (b *VoidBatcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close flushes the remaining queue and rejects further calls.
func (b *VoidBatcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.timer.Stop()
	b.Flush()
}

// BatchProcessor executes void calls, singly or unpacked from a batch, in
// order and without generating replies.
type BatchProcessor struct {
	executor *Executor
	logger   *slog.Logger
	observer Observer
}

// NewBatchProcessor creates a processor that runs calls on executor.
func NewBatchProcessor(executor *Executor, logger *slog.Logger, observer Observer) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &BatchProcessor{
		executor: executor,
		logger:   logger,
		observer: observer,
	}
}

// Process handles a request_void or request-batch envelope.
func (p *BatchProcessor) Process(ctx context.Context, env ChannelEnvelope) {
	switch env.Channel {
	case ChannelRequestVoid:
		p.runVoid(ctx, env.Data)
	case ChannelRequestBatch:
		batch, err := DecodeBatch(env.Data)
		if err != nil {
			p.logger.Warn("dropping malformed batch", "error", err)
			p.observer.EnvelopeDropped("malformed_batch")
			return
		}
		for _, item := range batch {
			if item.Channel != ChannelRequestVoid {
				p.logger.Warn("skipping non-void batch item", "channel", item.Channel)
				p.observer.EnvelopeDropped("batch_item_channel")
				continue
			}
			p.runVoid(ctx, item.Data)
		}
	default:
		p.logger.Warn("batch processor got unexpected channel", "channel", env.Channel)
		p.observer.EnvelopeDropped("unknown_channel")
	}
}

func (p *BatchProcessor) runVoid(ctx context.Context, data []byte) {
	req, err := DecodeRequest(data)
	if err != nil {
		p.logger.Warn("dropping malformed void call", "error", err)
		p.observer.EnvelopeDropped("malformed_request")
		return
	}
	p.executor.ExecuteVoid(ctx, req)
}
