package notify

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/pkg/cmap"
)

// RegistryConfig bounds the registry and tunes session batching.
type RegistryConfig struct {
	MaxSessionsPerSocket       int
	MaxSubscriptionsPerSession int
	BatchDelay                 time.Duration
	BatchMaxDelay              time.Duration
}

// DefaultRegistryConfig returns the stock limits.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxSessionsPerSocket:       32,
		MaxSubscriptionsPerSession: 256,
		BatchDelay:                 10 * time.Millisecond,
		BatchMaxDelay:              100 * time.Millisecond,
	}
}

// Registry holds the live sockets of this worker, their sessions and
// subscriptions.
type Registry struct {
	cfg      RegistryConfig
	sockets  *cmap.Map[*Socket]
	byUser   *cmap.Index
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger, observer Observer) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Registry{
		cfg:      cfg,
		sockets:  cmap.New[*Socket](),
		byUser:   cmap.NewIndex(),
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
}

func userKey(host, username string) string {
	return host + "\x00" + username
}

// AddSocket registers a new connection on host.
func (r *Registry) AddSocket(host string, sink Sink) *Socket {
	sock := newSocket(uuid.NewString(), host, sink)
	r.sockets.Set(sock.ID, sock)
	return sock
}

// Socket returns the socket with id.
func (r *Registry) Socket(id string) (*Socket, bool) {
	return r.sockets.Get(id)
}

// Authorize opens a session on channel of a socket. A plain socket holds a
// single session; a multiplexed socket holds up to MaxSessionsPerSocket.
// The two modes cannot be mixed on one socket.
func (r *Registry) Authorize(socketID string, channel uint32, multiplexed bool, id Identity) (*Session, error) {
	sock, ok := r.sockets.Get(socketID)
	if !ok {
		return nil, domain.ErrSocketClosed
	}
	if !multiplexed {
		channel = 0
	}

	sock.mu.Lock()
	defer sock.mu.Unlock()

	if sock.closed {
		return nil, domain.ErrSocketClosed
	}
	if len(sock.sessions) > 0 && sock.multiplexed != multiplexed {
		return nil, domain.ErrMultiplexConflict
	}
	if _, used := sock.sessions[channel]; used {
		return nil, domain.ErrSessionSlotInUse.WithDetailsf("channel %d", channel)
	}
	if limit := r.cfg.MaxSessionsPerSocket; limit > 0 && len(sock.sessions) >= limit {
		return nil, domain.ErrSessionLimit.WithDetailsf("limit is %d", limit)
	}

	sess, err := newSession(sock, channel, multiplexed, id, r.cfg, r.logger, r.observer)
	if err != nil {
		return nil, domain.ErrBadRequest.WithDetails("unusable session secret").WithCause(err)
	}
	sock.multiplexed = multiplexed
	sock.sessions[channel] = sess
	if id.Username != "" {
		r.byUser.Add(userKey(sock.Host, id.Username), sock.ID)
	}
	return sess, nil
}

func (r *Registry) session(socketID string, channel uint32) (*Session, error) {
	sock, ok := r.sockets.Get(socketID)
	if !ok {
		return nil, domain.ErrSocketClosed
	}
	sess, ok := sock.Session(channel)
	if !ok {
		return nil, domain.ErrSessionNotFound.WithDetailsf("channel %d", channel)
	}
	return sess, nil
}

// Unauthorize removes the session on channel and returns it.
func (r *Registry) Unauthorize(socketID string, channel uint32) (*Session, error) {
	sock, ok := r.sockets.Get(socketID)
	if !ok {
		return nil, domain.ErrSocketClosed
	}
	sock.mu.Lock()
	sess, ok := sock.sessions[channel]
	if ok {
		r.removeLocked(sock, sess)
	}
	sock.mu.Unlock()

	if !ok {
		return nil, domain.ErrSessionNotFound.WithDetailsf("channel %d", channel)
	}
	return sess, nil
}

// removeLocked drops sess from sock. sock.mu must be held.
func (r *Registry) removeLocked(sock *Socket, sess *Session) {
	delete(sock.sessions, sess.Channel)
	sess.close()

	username := sess.Identity.Username
	if username == "" {
		return
	}
	for _, other := range sock.sessions {
		if other.Identity.Username == username {
			return
		}
	}
	r.byUser.Remove(userKey(sock.Host, username), sock.ID)
}

// Subscribe adds a subscription to a session.
func (r *Registry) Subscribe(socketID string, channel uint32, req SubscriptionRequest) (Subscription, error) {
	if req.Path == "" {
		return Subscription{}, domain.ErrInvalidSubscription.WithDetails("path is required")
	}
	switch req.LimitedBy {
	case "":
		req.LimitedBy = LimitedByNone
	case LimitedByNone:
	case LimitedByContainer, LimitedByContext, LimitedByItem:
		if req.ObjectID == "" {
			return Subscription{}, domain.ErrInvalidSubscription.WithDetails("objectId is required for a scoped subscription")
		}
	default:
		return Subscription{}, domain.ErrInvalidSubscription.WithDetailsf("unknown limitedBy %q", req.LimitedBy)
	}

	sess, err := r.session(socketID, channel)
	if err != nil {
		return Subscription{}, err
	}
	return sess.subscribe(req, r.cfg.MaxSubscriptionsPerSession, r.now())
}

// Unsubscribe removes a subscription from a session.
func (r *Registry) Unsubscribe(socketID string, channel uint32, subscriptionID string) error {
	sess, err := r.session(socketID, channel)
	if err != nil {
		return err
	}
	if !sess.unsubscribe(subscriptionID) {
		return domain.ErrSubscriptionNotFound.WithDetails(subscriptionID)
	}
	return nil
}

// CloseSocket removes a socket and all its sessions, returning the
// sessions removed.
func (r *Registry) CloseSocket(socketID string) []*Session {
	sock, ok := r.sockets.Pop(socketID)
	if !ok {
		return nil
	}
	sock.mu.Lock()
	defer sock.mu.Unlock()

	sock.closed = true
	removed := make([]*Session, 0, len(sock.sessions))
	for _, sess := range sock.sessions {
		removed = append(removed, sess)
		r.removeLocked(sock, sess)
	}
	return removed
}

// Disconnect removes every session on host selected by pred, tells each
// client, and returns how many were removed.
func (r *Registry) Disconnect(host string, pred func(*Session) bool, reason string) int {
	removed := 0
	for _, sess := range r.Select(host, pred) {
		sock := sess.Socket
		sock.mu.Lock()
		current, ok := sock.sessions[sess.Channel]
		live := ok && current == sess
		if live {
			r.removeLocked(sock, sess)
		}
		sock.mu.Unlock()

		if live {
			sock.sink.SessionClosed(sess.Channel, reason)
			removed++
		}
	}
	return removed
}

// Select returns the sessions on host accepted by pred. An empty host
// selects across hosts.
func (r *Registry) Select(host string, pred func(*Session) bool) []*Session {
	var out []*Session
	r.sockets.Range(func(_ string, sock *Socket) bool {
		if host != "" && sock.Host != host {
			return true
		}
		for _, sess := range sock.Sessions() {
			if pred(sess) {
				out = append(out, sess)
			}
		}
		return true
	})
	return out
}

// Candidates returns the sessions that may receive an event on host: every
// session for a nil client list, otherwise the sessions of those users.
func (r *Registry) Candidates(host string, clients []string) []*Session {
	if clients == nil {
		return r.Select(host, func(*Session) bool { return true })
	}

	var out []*Session
	seen := make(map[string]bool, len(clients))
	for _, username := range clients {
		if seen[username] {
			continue
		}
		seen[username] = true
		for _, socketID := range r.byUser.Members(userKey(host, username)) {
			sock, ok := r.sockets.Get(socketID)
			if !ok {
				continue
			}
			for _, sess := range sock.Sessions() {
				if sess.Identity.Username == username {
					out = append(out, sess)
				}
			}
		}
	}
	return out
}

// ContextUsers returns the sorted usernames with a session on host whose
// identity lists contextID.
func (r *Registry) ContextUsers(host, contextID string) []string {
	seen := make(map[string]bool)
	for _, sess := range r.Select(host, func(s *Session) bool {
		return s.Identity.Username != "" && slices.Contains(s.Identity.ContextIDs, contextID)
	}) {
		seen[sess.Identity.Username] = true
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// HasUser reports whether username has a session on host.
func (r *Registry) HasUser(host, username string) bool {
	return r.byUser.Has(userKey(host, username))
}

// Deliver sends event to every candidate session with a matching
// subscription and returns the number of sessions reached.
func (r *Registry) Deliver(target TargetChannel, host string, clients []string, event Event) int {
	delivered := 0
	for _, sess := range r.Candidates(host, clients) {
		ids, version, ok := MatchSession(sess, target)
		if !ok {
			continue
		}
		sess.deliver(Notification{
			Type:          event.Type,
			Channel:       target.Channel,
			Data:          event.Data,
			Timestamp:     event.Timestamp,
			Subscriptions: ids,
			Version:       version,
		}, version)
		delivered++
	}
	return delivered
}

// DeliverToPlainUsers sends event to every plain-user session of solution,
// without subscription matching.
func (r *Registry) DeliverToPlainUsers(solution string, event Event) int {
	sessions := r.Select("", func(s *Session) bool {
		return s.Identity.Plain && s.Identity.Solution == solution
	})
	for _, sess := range sessions {
		sess.deliver(Notification{
			Type:      event.Type,
			Data:      event.Data,
			Timestamp: event.Timestamp,
			Version:   BatchProtocolVersion,
		}, BatchProtocolVersion)
	}
	return len(sessions)
}

// Stats returns the number of sockets and sessions.
func (r *Registry) Stats() (sockets, sessions int) {
	r.sockets.Range(func(_ string, sock *Socket) bool {
		sockets++
		sock.mu.Lock()
		sessions += len(sock.sessions)
		sock.mu.Unlock()
		return true
	})
	return sockets, sessions
}
