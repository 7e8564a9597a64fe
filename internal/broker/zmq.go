// Package broker provides the pub/sub transport.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/yndnr/relaymesh-go/internal/rpc"
)

func isTerm(err error) bool {
	return zmq.AsErrno(err) == zmq.ETERM
}

func isInterrupted(err error) bool {
	return zmq.AsErrno(err) == zmq.Errno(syscall.EINTR)
}

// ZMQTransport is the local backend. Workers publish to the proxy's XSUB
// endpoint and subscribe at its XPUB endpoint, so one in-order stream reaches
// every process on the host.
//
// Each zmq socket is used by exactly one goroutine. Publish hands packets to
// the send loop through a bounded queue.
type ZMQTransport struct {
	base
	pubEndpoint string
	subEndpoint string
	topic       string
	outbound    chan []byte

	stateMu sync.Mutex
	zctx    *zmq.Context
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewZMQTransport creates a local transport. Nothing is connected until Start.
func NewZMQTransport(cfg Config) *ZMQTransport {
	t := &ZMQTransport{
		pubEndpoint: cfg.LocalPubEndpoint,
		subEndpoint: cfg.LocalSubEndpoint,
		topic:       cfg.Channel,
		outbound:    make(chan []byte, cfg.sendQueue()),
	}
	t.setup(ModeLocal, cfg)
	return t
}

// Start implements Transport.
func (t *ZMQTransport) Start(ctx context.Context) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.zctx != nil {
		return nil
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("create zmq context: %w", err)
	}

	pub, err := newSocket(zctx, zmq.PUB)
	if err == nil {
		err = pub.Connect(t.pubEndpoint)
	}
	if err != nil {
		zctx.Term()
		return fmt.Errorf("connect publisher to %s: %w", t.pubEndpoint, err)
	}

	sub, err := newSocket(zctx, zmq.SUB)
	if err == nil {
		err = sub.Connect(t.subEndpoint)
	}
	if err == nil {
		err = sub.SetSubscribe(t.topic)
	}
	if err != nil {
		pub.Close()
		if sub != nil {
			sub.Close()
		}
		zctx.Term()
		return fmt.Errorf("connect subscriber to %s: %w", t.subEndpoint, err)
	}

	t.zctx = zctx
	t.done = make(chan struct{})
	t.wg.Add(2)
	go t.sendLoop(pub, t.done)
	go t.recvLoop(sub)

	t.logger.Info("local transport started",
		"pub_endpoint", t.pubEndpoint,
		"sub_endpoint", t.subEndpoint,
		"sender", t.Sender())
	return nil
}

func newSocket(zctx *zmq.Context, kind zmq.Type) (*zmq.Socket, error) {
	sock, err := zctx.NewSocket(kind)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}

func (t *ZMQTransport) sendLoop(pub *zmq.Socket, done <-chan struct{}) {
	defer t.wg.Done()
	defer pub.Close()

	for {
		select {
		case data := <-t.outbound:
			if _, err := pub.SendMessage(t.topic, data); err != nil {
				if isTerm(err) {
					return
				}
				t.drop("send", err)
				continue
			}
			t.published(len(data))
		case <-done:
			return
		}
	}
}

func (t *ZMQTransport) recvLoop(sub *zmq.Socket) {
	defer t.wg.Done()
	defer sub.Close()

	for {
		parts, err := sub.RecvMessageBytes(0)
		if err != nil {
			if isTerm(err) {
				return
			}
			if isInterrupted(err) {
				continue
			}
			t.logger.Error("local transport receive loop failed", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if len(parts) != 2 {
			t.drop("frames", fmt.Errorf("got %d frames", len(parts)))
			continue
		}
		t.deliver(parts[1])
	}
}

// Publish implements Transport. A full send queue drops the message.
func (t *ZMQTransport) Publish(_ context.Context, env rpc.ChannelEnvelope) error {
	t.stateMu.Lock()
	running := t.zctx != nil
	t.stateMu.Unlock()
	if !running {
		return ErrStopped
	}

	data, err := t.encode(env)
	if err != nil {
		return err
	}
	select {
	case t.outbound <- data:
		return nil
	default:
		t.drop("send_queue_full", nil, "channel", env.Channel)
		return ErrQueueFull
	}
}

// Stop implements Transport.
func (t *ZMQTransport) Stop() error {
	t.stateMu.Lock()
	zctx := t.zctx
	if zctx == nil {
		t.stateMu.Unlock()
		return nil
	}
	t.zctx = nil
	close(t.done)
	t.stateMu.Unlock()

	// Term unblocks the receive loop and returns once both sockets closed.
	err := zctx.Term()
	t.wg.Wait()
	t.logger.Info("local transport stopped")
	return err
}

// LocalProxy is the leader-side forwarder of the local backend: XSUB bound
// at the publish endpoint, XPUB bound at the subscribe endpoint.
type LocalProxy struct {
	pubEndpoint string
	subEndpoint string
	logger      *slog.Logger

	mu   sync.Mutex
	zctx *zmq.Context
	done chan struct{}
}

// NewLocalProxy creates a proxy for the two endpoints of cfg.
func NewLocalProxy(cfg Config) *LocalProxy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProxy{
		pubEndpoint: cfg.LocalPubEndpoint,
		subEndpoint: cfg.LocalSubEndpoint,
		logger:      logger.With("component", "local_proxy"),
	}
}

// Start binds both endpoints and runs the forwarder in the background.
func (p *LocalProxy) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.zctx != nil {
		return nil
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("create zmq context: %w", err)
	}

	xsub, err := newSocket(zctx, zmq.XSUB)
	if err == nil {
		err = xsub.Bind(p.pubEndpoint)
	}
	if err != nil {
		if xsub != nil {
			xsub.Close()
		}
		zctx.Term()
		return fmt.Errorf("bind xsub %s: %w", p.pubEndpoint, err)
	}

	xpub, err := newSocket(zctx, zmq.XPUB)
	if err == nil {
		err = xpub.Bind(p.subEndpoint)
	}
	if err != nil {
		xsub.Close()
		if xpub != nil {
			xpub.Close()
		}
		zctx.Term()
		return fmt.Errorf("bind xpub %s: %w", p.subEndpoint, err)
	}

	p.zctx = zctx
	p.done = make(chan struct{})
	go p.run(xsub, xpub, p.done)

	p.logger.Info("local proxy started",
		"xsub", p.pubEndpoint,
		"xpub", p.subEndpoint)
	return nil
}

func (p *LocalProxy) run(xsub, xpub *zmq.Socket, done chan struct{}) {
	defer close(done)
	defer xpub.Close()
	defer xsub.Close()

	for {
		err := zmq.Proxy(xsub, xpub, nil)
		if err == nil || isTerm(err) {
			return
		}
		if isInterrupted(err) {
			continue
		}
		p.logger.Error("local proxy loop failed", "error", err)
		return
	}
}

// Stop terminates the forwarder.
func (p *LocalProxy) Stop() error {
	p.mu.Lock()
	zctx, done := p.zctx, p.done
	p.zctx = nil
	p.mu.Unlock()
	if zctx == nil {
		return nil
	}

	err := zctx.Term()
	<-done
	p.logger.Info("local proxy stopped")
	return err
}
