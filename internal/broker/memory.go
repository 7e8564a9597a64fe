// Package broker provides the pub/sub transport.
package broker

import (
	"context"
	"sync"

	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// Hub connects memory transports living in the same process.
type Hub struct {
	mu   sync.RWMutex
	subs map[*MemoryTransport]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*MemoryTransport]struct{})}
}

func (h *Hub) join(t *MemoryTransport) {
	h.mu.Lock()
	h.subs[t] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) leave(t *MemoryTransport) {
	h.mu.Lock()
	delete(h.subs, t)
	h.mu.Unlock()
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for t := range h.subs {
		t.enqueue(data)
	}
}

// MemoryTransport is an in-process transport. Each subscriber drains its own
// bounded inbox on one goroutine, so delivery order per publisher is kept.
type MemoryTransport struct {
	base
	hub   *Hub
	inbox chan []byte

	stateMu sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMemoryTransport creates a transport attached to cfg.Hub.
func NewMemoryTransport(cfg Config) *MemoryTransport {
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub()
	}
	t := &MemoryTransport{
		hub:   hub,
		inbox: make(chan []byte, cfg.sendQueue()),
	}
	t.setup(ModeMemory, cfg)
	return t
}

// Start implements Transport.
func (t *MemoryTransport) Start(ctx context.Context) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.running {
		return nil
	}
	t.running = true
	t.done = make(chan struct{})
	t.hub.join(t)

	t.wg.Add(1)
	go t.loop(t.done)
	return nil
}

func (t *MemoryTransport) loop(done <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case data := <-t.inbox:
			t.deliver(data)
		case <-done:
			return
		}
	}
}

func (t *MemoryTransport) enqueue(data []byte) {
	select {
	case t.inbox <- data:
	default:
		t.drop("inbox_full", nil)
	}
}

// Publish implements Transport.
func (t *MemoryTransport) Publish(_ context.Context, env rpc.ChannelEnvelope) error {
	t.stateMu.Lock()
	running := t.running
	t.stateMu.Unlock()
	if !running {
		return ErrStopped
	}

	data, err := t.encode(env)
	if err != nil {
		return err
	}
	t.hub.broadcast(data)
	t.published(len(data))
	return nil
}

// Stop implements Transport.
func (t *MemoryTransport) Stop() error {
	t.stateMu.Lock()
	if !t.running {
		t.stateMu.Unlock()
		return nil
	}
	t.running = false
	t.hub.leave(t)
	close(t.done)
	t.stateMu.Unlock()

	t.wg.Wait()
	return nil
}
