// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// PeerConfig configures a Peer.
type PeerConfig struct {
	// Name identifies the remote side in logs, e.g. "leader" or "worker-3".
	Name string

	// Registry holds the methods this side serves. May be nil for a
	// call-only peer.
	Registry *Registry

	// CallTimeout bounds a Call whose context has no deadline. Zero disables it.
	CallTimeout time.Duration

	Logger   *slog.Logger
	Observer Observer
}

// Peer speaks the protocol over one process channel. It both issues calls
// and serves them, so leader and workers use the same type.
type Peer struct {
	name        string
	conn        io.ReadWriteCloser
	pending     *PendingTable
	router      *Router
	callTimeout time.Duration
	logger      *slog.Logger
	observer    Observer

	writeMu sync.Mutex
	writer  *bufio.Writer
	encoder *msgpack.Encoder

	closeOnce sync.Once
	done      chan struct{}
}

// NewPeer wraps conn. Call Serve to start reading.
func NewPeer(conn io.ReadWriteCloser, cfg PeerConfig) *Peer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	logger := cfg.Logger.With("peer", cfg.Name)

	p := &Peer{
		name:        cfg.Name,
		conn:        conn,
		pending:     NewPendingTable(),
		callTimeout: cfg.CallTimeout,
		logger:      logger,
		observer:    cfg.Observer,
		writer:      bufio.NewWriter(conn),
		done:        make(chan struct{}),
	}
	p.encoder = msgpack.NewEncoder(p.writer)
	p.router = NewRouter(RouterConfig{
		Executor: NewExecutor(cfg.Registry, logger, cfg.Observer),
		Listener: NewListener(p.pending, logger, cfg.Observer),
		Reply:    p.Send,
		Logger:   logger,
		Observer: cfg.Observer,
	})
	return p
}

// Name returns the configured peer name.
func (p *Peer) Name() string {
	return p.name
}

// Serve reads envelopes until the connection fails or ctx is cancelled.
// A clean EOF or local Close returns nil.
func (p *Peer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithValue(ctx, peerKey{}, p))
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()

	decoder := msgpack.NewDecoder(bufio.NewReader(p.conn))
	var err error
	for {
		var env ChannelEnvelope
		if err = decoder.Decode(&env); err != nil {
			break
		}
		p.router.Dispatch(ctx, env)
	}

	closedLocally := p.isClosed()
	p.Close()
	cancel()
	p.router.Wait()

	if closedLocally || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("read from %s: %w", p.name, err)
}

// Send writes one envelope to the connection.
func (p *Peer) Send(env ChannelEnvelope) error {
	if p.isClosed() {
		return ErrPeerClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.encoder.Encode(&env); err != nil {
		return fmt.Errorf("write to %s: %w", p.name, err)
	}
	if err := p.writer.Flush(); err != nil {
		return fmt.Errorf("flush to %s: %w", p.name, err)
	}
	return nil
}

// CallOption adjusts a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the peer's default call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithoutTimeout lets a call wait as long as its context allows. Used by
// calls that block by design, such as lock acquisition.
func WithoutTimeout() CallOption {
	return func(o *callOptions) { o.timeout = 0 }
}

// Call invokes method on the remote side and decodes the result into out.
// A nil out discards the result.
//
// Remote handler failures are returned as *RemoteError. A call that outlives
// its deadline returns ErrCallTimeout and its late response is dropped.
func (p *Peer) Call(ctx context.Context, method string, params, out any, opts ...CallOption) error {
	o := callOptions{timeout: p.callTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if _, ok := ctx.Deadline(); !ok && o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	err := p.call(ctx, method, params, out)
	p.observer.CallCompleted(method, callOutcome(err), time.Since(start))
	return err
}

func (p *Peer) call(ctx context.Context, method string, params, out any) error {
	id, slot, err := p.pending.Add()
	if err != nil {
		return err
	}

	req, err := NewRequest(id, method, params)
	if err != nil {
		p.pending.Cancel(id)
		return err
	}
	env, err := Wrap(ChannelRequest, req)
	if err != nil {
		p.pending.Cancel(id)
		return err
	}
	if err := p.Send(env); err != nil {
		p.pending.Cancel(id)
		return err
	}

	select {
	case outcome := <-slot:
		if outcome.Err != nil {
			return outcome.Err
		}
		if outcome.Response.IsError() {
			return &RemoteError{Method: method, Message: *outcome.Response.Error}
		}
		return DecodeResult(outcome.Response.Result, out)

	case <-ctx.Done():
		p.pending.Cancel(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.logger.Warn("call timed out", "method", method, "id", id)
			return fmt.Errorf("%w: %s", ErrCallTimeout, method)
		}
		return ctx.Err()
	}
}

// Notify sends a single void call immediately, without batching.
func (p *Peer) Notify(method string, params any) error {
	req, err := NewRequest(VoidID, method, params)
	if err != nil {
		return err
	}
	env, err := Wrap(ChannelRequestVoid, req)
	if err != nil {
		return err
	}
	return p.Send(env)
}

// Pending returns the number of calls awaiting a reply.
func (p *Peer) Pending() int {
	return p.pending.Len()
}

// Close tears the connection down and rejects every pending call.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
		if n := p.pending.RejectAll(ErrPeerClosed); n > 0 {
			p.logger.Warn("rejected pending calls on close", "count", n)
		}
	})
	return err
}

// Done is closed once the peer has been closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type peerKey struct{}

// PeerFromContext returns the peer that delivered the request being handled.
func PeerFromContext(ctx context.Context) (*Peer, bool) {
	p, ok := ctx.Value(peerKey{}).(*Peer)
	return p, ok
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrCallTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrPeerClosed):
		return OutcomeClosed
	case IsRemote(err):
		return OutcomeRemoteError
	default:
		return OutcomeError
	}
}
