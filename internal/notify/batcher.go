package notify

import (
	"sync"
	"time"

	"github.com/yndnr/relaymesh-go/pkg/flushtimer"
)

// Batcher is the outbound batch of one session. The first item arms a
// short delay; every later item restarts it, but never past maxDelay from
// the first item.
type Batcher struct {
	flushMu sync.Mutex
	mu      sync.Mutex
	items   []Notification
	timer   *flushtimer.Timer
	flush   func([]Notification)
	stopped bool
}

// NewBatcher creates a batcher handing every flushed batch to flush, in
// arrival order.
func NewBatcher(delay, maxDelay time.Duration, flush func([]Notification)) *Batcher {
	b := &Batcher{flush: flush}
	b.timer = flushtimer.New(delay, maxDelay, b.Flush)
	return b
}

// Add appends n to the batch.
func (b *Batcher) Add(n Notification) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.items = append(b.items, n)
	b.mu.Unlock()

	b.timer.Touch()
}

// Flush hands the pending items to the flush function now. It returns
// after any flush already running has finished.
func (b *Batcher) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()

	if len(items) > 0 {
		b.flush(items)
	}
}

// Len returns the number of pending items.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Stop discards pending items and rejects later ones.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.items = nil
	b.mu.Unlock()

	b.timer.Stop()
}
