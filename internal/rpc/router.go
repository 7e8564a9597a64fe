// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"context"
	"log/slog"
	"sync"
)

// ReplyFunc sends an envelope back to the side that issued a request.
type ReplyFunc func(env ChannelEnvelope) error

// Router classifies inbound envelopes and dispatches them.
//
// Requests run on their own goroutine so that a slow handler never delays
// other traffic. Void calls and batches run inline, in arrival order.
type Router struct {
	executor *Executor
	listener *Listener
	batches  *BatchProcessor
	reply    ReplyFunc
	logger   *slog.Logger
	observer Observer
	inflight sync.WaitGroup
}

// RouterConfig wires a Router.
type RouterConfig struct {
	Executor *Executor

	// Listener handles responses. Nil on one-way paths such as the pub/sub
	// transport, where responses are dropped.
	Listener *Listener

	// Reply sends responses for inbound requests. Nil on one-way paths,
	// where requests are dropped.
	Reply ReplyFunc

	Logger   *slog.Logger
	Observer Observer
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Router{
		executor: cfg.Executor,
		listener: cfg.Listener,
		batches:  NewBatchProcessor(cfg.Executor, cfg.Logger, cfg.Observer),
		reply:    cfg.Reply,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
}

// Dispatch routes one envelope. It never returns an error: protocol failures
// are logged so they cannot propagate into the transport layer.
func (r *Router) Dispatch(ctx context.Context, env ChannelEnvelope) {
	switch env.Channel {
	case ChannelResponse:
		if r.listener == nil {
			r.drop("response on one-way path", env)
			return
		}
		r.listener.HandleResponse(env.Data)

	case ChannelRequest:
		if r.reply == nil {
			r.drop("request on one-way path", env)
			return
		}
		req, err := DecodeRequest(env.Data)
		if err != nil {
			r.logger.Warn("dropping malformed request", "error", err)
			r.observer.EnvelopeDropped("malformed_request")
			return
		}
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.handleRequest(ctx, req)
		}()

	case ChannelRequestVoid, ChannelRequestBatch:
		r.batches.Process(ctx, env)

	default:
		r.drop("unknown channel", env)
	}
}

// Wait blocks until every in-flight request has been answered.
func (r *Router) Wait() {
	r.inflight.Wait()
}

func (r *Router) handleRequest(ctx context.Context, req Request) {
	resp := r.executor.Execute(ctx, req)
	env, err := Wrap(ChannelResponse, resp)
	if err != nil {
		r.logger.Error("failed to wrap response", "method", req.Method, "id", req.ID, "error", err)
		return
	}
	if err := r.reply(env); err != nil {
		r.logger.Warn("failed to send response",
			"method", req.Method,
			"id", req.ID,
			"error", err)
	}
}

func (r *Router) drop(reason string, env ChannelEnvelope) {
	r.logger.Warn("dropping envelope",
		"reason", reason,
		"channel", env.Channel,
		"size", len(env.Data))
	r.observer.EnvelopeDropped(reason)
}
