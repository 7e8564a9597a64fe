package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// ErrNotLocked is returned by Unlock for a name nobody holds.
var ErrNotLocked = domain.ErrNotLocked

// ErrLockCancelled is returned to a lock request withdrawn by Cancel or by
// the loss of its owner.
var ErrLockCancelled = domain.ErrLockCancelled

// cancelledTicketTTL bounds how long a cancel that arrived before its lock
// request is remembered.
const cancelledTicketTTL = time.Minute

// LockOwner is the link a lock request arrived on. Its requests are
// withdrawn, and its held locks released, once Done is closed.
type LockOwner interface {
	Done() <-chan struct{}
}

// lockWaiter is one place in a lock queue. The head of the queue holds the
// lock; its granted channel is already closed.
type lockWaiter struct {
	ticket    string
	owner     LockOwner
	granted   chan struct{}
	cancelled chan struct{}
	gone      bool
}

// LockService is a set of named FIFO advisory locks. All names share one
// mutex; the service is a single global serialization point.
type LockService struct {
	mu        sync.Mutex
	queues    map[string][]*lockWaiter
	cancelled map[string]time.Time
	owners    map[LockOwner]struct{}
	logger    *slog.Logger
	now       func() time.Time
}

// NewLockService creates an empty lock service.
func NewLockService(logger *slog.Logger) *LockService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockService{
		queues:    make(map[string][]*lockWaiter),
		cancelled: make(map[string]time.Time),
		owners:    make(map[LockOwner]struct{}),
		logger:    logger,
		now:       time.Now,
	}
}

// Lock blocks until name is granted to the caller or ctx ends. A caller
// whose ctx ends while queued is removed from the queue.
func (s *LockService) Lock(ctx context.Context, name string) error {
	return s.Acquire(ctx, name, "", nil)
}

// Acquire is Lock for a remote caller. A non-empty ticket lets the caller
// withdraw the request with Cancel. A non-nil owner has its requests
// withdrawn and its locks released when it goes away.
func (s *LockService) Acquire(ctx context.Context, name, ticket string, owner LockOwner) error {
	w := &lockWaiter{
		ticket:    ticket,
		owner:     owner,
		granted:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}

	s.mu.Lock()
	if ticket != "" {
		if _, dead := s.cancelled[ticket]; dead {
			delete(s.cancelled, ticket)
			s.mu.Unlock()
			return ErrLockCancelled.WithDetails(name)
		}
	}
	if owner != nil {
		s.watchOwnerLocked(owner)
	}
	queue := s.queues[name]
	s.queues[name] = append(queue, w)
	if len(queue) == 0 {
		close(w.granted)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case <-w.granted:
		select {
		case <-w.cancelled:
			return ErrLockCancelled.WithDetails(name)
		default:
			return nil
		}
	case <-w.cancelled:
		return ErrLockCancelled.WithDetails(name)
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-w.granted:
		// Granted while giving up: pass the lock on.
		s.releaseHeadLocked(name, w)
	default:
		s.removeLocked(name, w)
	}
	return ctx.Err()
}

// Unlock releases name and grants it to the oldest waiter.
func (s *LockService) Unlock(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[name]
	if len(queue) == 0 {
		return ErrNotLocked.WithDetails(name)
	}
	s.releaseHeadLocked(name, queue[0])
	return nil
}

// Cancel withdraws the request holding ticket: a queued request leaves the
// queue, a granted one releases the lock. A ticket not seen yet is
// remembered, and its request is refused when it arrives. Cancel reports
// whether a live request was found.
func (s *LockService) Cancel(name, ticket string) bool {
	if ticket == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.queues[name] {
		if w.ticket != ticket {
			continue
		}
		if i == 0 {
			s.releaseHeadLocked(name, w)
		} else {
			s.removeLocked(name, w)
		}
		return true
	}

	now := s.now()
	for t, at := range s.cancelled {
		if now.Sub(at) > cancelledTicketTTL {
			delete(s.cancelled, t)
		}
	}
	s.cancelled[ticket] = now
	return false
}

func (s *LockService) watchOwnerLocked(owner LockOwner) {
	if _, watched := s.owners[owner]; watched {
		return
	}
	s.owners[owner] = struct{}{}
	go func() {
		<-owner.Done()
		s.releaseOwner(owner)
	}()
}

// releaseOwner withdraws every request of owner, releasing the locks it
// holds.
func (s *LockService) releaseOwner(owner LockOwner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.owners, owner)
	for name, queue := range s.queues {
		for _, w := range append([]*lockWaiter(nil), queue...) {
			if w.owner != owner {
				continue
			}
			if q := s.queues[name]; len(q) > 0 && q[0] == w {
				s.logger.Warn("lock released: holder link closed", "name", name)
				s.releaseHeadLocked(name, w)
			} else {
				s.removeLocked(name, w)
			}
		}
	}
}

// releaseHeadLocked releases name if w still holds it and grants it to the
// next waiter.
func (s *LockService) releaseHeadLocked(name string, w *lockWaiter) {
	queue := s.queues[name]
	if len(queue) == 0 || queue[0] != w {
		return
	}
	s.dropLocked(w)
	queue = queue[1:]
	if len(queue) == 0 {
		delete(s.queues, name)
		return
	}
	s.queues[name] = queue
	close(queue[0].granted)
}

func (s *LockService) removeLocked(name string, w *lockWaiter) {
	queue := s.queues[name]
	for i, q := range queue {
		if q == w {
			s.dropLocked(w)
			s.queues[name] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

func (s *LockService) dropLocked(w *lockWaiter) {
	if !w.gone {
		w.gone = true
		close(w.cancelled)
	}
}

// Waiters returns the queue length for name, holder included.
func (s *LockService) Waiters(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[name])
}

// TotalWaiters returns the number of queued callers across all names,
// holders excluded.
func (s *LockService) TotalWaiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += len(q) - 1
	}
	return n
}

// Methods returns the RPC methods of the service. Requests arriving over a
// link are owned by that link.
func (s *LockService) Methods() map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		clusterv1.MethodLock: rpc.Bind(func(ctx context.Context, p clusterv1.LockParams) (bool, error) {
			var owner LockOwner
			if peer, ok := rpc.PeerFromContext(ctx); ok {
				owner = peer
			}
			if err := s.Acquire(ctx, p.Name, p.Ticket, owner); err != nil {
				return false, err
			}
			return true, nil
		}),
		clusterv1.MethodUnlock: rpc.Bind(func(_ context.Context, p clusterv1.LockParams) (bool, error) {
			if err := s.Unlock(p.Name); err != nil {
				s.logger.Error("unlock without lock", "name", p.Name)
				return false, err
			}
			return true, nil
		}),
		clusterv1.MethodCancelLock: rpc.Bind(func(_ context.Context, p clusterv1.LockParams) (bool, error) {
			return s.Cancel(p.Name, p.Ticket), nil
		}),
	}
}
