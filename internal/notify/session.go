package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/pkg/crypto/adaptive"
)

// frameKeyInfo separates frame keys from other keys derived from the same
// session secret.
const frameKeyInfo = "relaymesh frame v1"

// Socket is one live client connection.
type Socket struct {
	ID   string
	Host string

	sink Sink

	mu          sync.Mutex
	multiplexed bool
	sessions    map[uint32]*Session
	closed      bool
}

func newSocket(id, host string, sink Sink) *Socket {
	return &Socket{
		ID:       id,
		Host:     host,
		sink:     sink,
		sessions: make(map[uint32]*Session),
	}
}

// Sessions returns the sessions on the socket.
func (s *Socket) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Session returns the session on channel.
func (s *Socket) Session(channel uint32) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[channel]
	return sess, ok
}

// Session is one authorized logical connection on a socket.
type Session struct {
	Channel  uint32
	Identity Identity
	Socket   *Socket

	framer   *Framer
	batch    *Batcher
	logger   *slog.Logger
	observer Observer

	mu   sync.Mutex
	subs []Subscription
}

func newSession(sock *Socket, channel uint32, multiplexed bool, id Identity, cfg RegistryConfig, logger *slog.Logger, observer Observer) (*Session, error) {
	var c adaptive.Cipher
	if len(id.Secret) > 0 {
		key, err := adaptive.DeriveKey(id.Secret, nil, frameKeyInfo)
		if err != nil {
			return nil, err
		}
		if c, err = adaptive.New(key); err != nil {
			return nil, err
		}
	}
	s := &Session{
		Channel:  channel,
		Identity: id,
		Socket:   sock,
		framer:   NewFramer(channel, multiplexed, c),
		logger:   logger,
		observer: observer,
	}
	s.batch = NewBatcher(cfg.BatchDelay, cfg.BatchMaxDelay, s.sendBatch)
	return s, nil
}

// Subscriptions returns a copy of the active subscriptions.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscription(nil), s.subs...)
}

func (s *Session) subscribe(req SubscriptionRequest, ceiling int, now time.Time) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ceiling > 0 && len(s.subs) >= ceiling {
		return Subscription{}, domain.ErrChannelLimit.WithDetailsf("limit is %d", ceiling)
	}
	version := req.Version
	if version <= 0 {
		version = 1
	}
	sub := Subscription{
		ID:            ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Path:          req.Path,
		LimitedBy:     req.LimitedBy,
		ObjectID:      req.ObjectID,
		ContainerType: req.ContainerType,
		Version:       version,
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *Session) unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.ID == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

// deliver sends n at once with the legacy codec, or queues it in the batch.
// An immediate send first flushes the batch, so the socket sees events in
// delivery order whatever their encoding.
func (s *Session) deliver(n Notification, version int) {
	if version >= BatchProtocolVersion {
		s.batch.Add(n)
		s.observer.NotificationDelivered(ModeBatched)
		return
	}

	payload, err := EncodeLegacy(n)
	if err != nil {
		s.logger.Warn("failed to encode notification",
			"socket_id", s.Socket.ID,
			"channel", s.Channel,
			"type", n.Type,
			"error", err)
		return
	}
	s.batch.Flush()
	s.send(payload, false)
	s.observer.NotificationDelivered(ModeImmediate)
}

func (s *Session) sendBatch(items []Notification) {
	payload, err := EncodeBatch(items)
	if err != nil {
		s.logger.Warn("failed to encode notification batch",
			"socket_id", s.Socket.ID,
			"channel", s.Channel,
			"size", len(items),
			"error", err)
		return
	}
	s.send(payload, true)
	s.observer.BatchFlushed(len(items))
}

func (s *Session) send(payload []byte, batch bool) {
	frame, err := s.framer.Encode(payload, batch)
	if err != nil {
		s.logger.Warn("failed to frame notification",
			"socket_id", s.Socket.ID,
			"channel", s.Channel,
			"error", err)
		return
	}
	if err := s.Socket.sink.Send(frame); err != nil {
		s.observer.SendFailed()
		s.logger.Debug("socket send failed",
			"socket_id", s.Socket.ID,
			"channel", s.Channel,
			"error", err)
	}
}

func (s *Session) close() {
	s.batch.Stop()
}
