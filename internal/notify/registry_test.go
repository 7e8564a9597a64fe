package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/pkg/crypto/adaptive"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed map[uint32]string
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{closed: make(map[uint32]string)}
}

func (s *fakeSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) SessionClosed(channel uint32, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[channel] = reason
}

func (s *fakeSink) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// waitFrames polls until the sink holds n frames.
func (s *fakeSink) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if frames := s.Frames(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %d", n, len(s.Frames()))
	return nil
}

type countingObserver struct {
	mu        sync.Mutex
	delivered map[string]int
	batches   int
	failures  int
}

func (o *countingObserver) NotificationDelivered(mode string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.delivered == nil {
		o.delivered = make(map[string]int)
	}
	o.delivered[mode]++
}

func (o *countingObserver) BatchFlushed(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches++
}

func (o *countingObserver) SendFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func testRegistry(observer Observer) *Registry {
	cfg := DefaultRegistryConfig()
	cfg.MaxSessionsPerSocket = 2
	cfg.MaxSubscriptionsPerSession = 2
	cfg.BatchDelay = 5 * time.Millisecond
	cfg.BatchMaxDelay = 20 * time.Millisecond
	return NewRegistry(cfg, nil, observer)
}

func TestRegistry_AuthorizeRules(t *testing.T) {
	r := testRegistry(nil)

	plain := r.AddSocket("h1", newFakeSink())
	sess, err := r.Authorize(plain.ID, 5, false, Identity{Username: "alice"})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if sess.Channel != 0 {
		t.Errorf("plain session channel = %d, want 0", sess.Channel)
	}
	if _, err := r.Authorize(plain.ID, 0, false, Identity{Username: "alice"}); !errors.Is(err, domain.ErrSessionSlotInUse) {
		t.Errorf("second plain session error = %v, want ErrSessionSlotInUse", err)
	}
	if _, err := r.Authorize(plain.ID, 1, true, Identity{Username: "alice"}); !errors.Is(err, domain.ErrMultiplexConflict) {
		t.Errorf("mixed modes error = %v, want ErrMultiplexConflict", err)
	}

	mux := r.AddSocket("h1", newFakeSink())
	for ch := uint32(1); ch <= 2; ch++ {
		if _, err := r.Authorize(mux.ID, ch, true, Identity{Username: "bob"}); err != nil {
			t.Fatalf("Authorize(channel %d) error = %v", ch, err)
		}
	}
	if _, err := r.Authorize(mux.ID, 3, true, Identity{Username: "bob"}); !errors.Is(err, domain.ErrSessionLimit) {
		t.Errorf("over limit error = %v, want ErrSessionLimit", err)
	}

	if _, err := r.Authorize("missing", 0, false, Identity{}); !errors.Is(err, domain.ErrSocketClosed) {
		t.Errorf("unknown socket error = %v, want ErrSocketClosed", err)
	}
}

func TestRegistry_Subscribe(t *testing.T) {
	r := testRegistry(nil)
	sock := r.AddSocket("h1", newFakeSink())
	if _, err := r.Authorize(sock.ID, 0, false, Identity{Username: "alice"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	invalid := []SubscriptionRequest{
		{LimitedBy: LimitedByNone},
		{Path: "thread", LimitedBy: LimitedByContainer},
		{Path: "thread", LimitedBy: "planet"},
	}
	for _, req := range invalid {
		if _, err := r.Subscribe(sock.ID, 0, req); !errors.Is(err, domain.ErrInvalidSubscription) {
			t.Errorf("Subscribe(%+v) error = %v, want ErrInvalidSubscription", req, err)
		}
	}

	sub, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "thread"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.ID == "" || sub.LimitedBy != LimitedByNone || sub.Version != 1 {
		t.Errorf("subscription = %+v", sub)
	}
	if _, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "mail"}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "calendar"}); !errors.Is(err, domain.ErrChannelLimit) {
		t.Errorf("over limit error = %v, want ErrChannelLimit", err)
	}

	if err := r.Unsubscribe(sock.ID, 0, sub.ID); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if err := r.Unsubscribe(sock.ID, 0, sub.ID); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Errorf("second Unsubscribe() error = %v, want ErrSubscriptionNotFound", err)
	}
	if _, err := r.Subscribe(sock.ID, 7, SubscriptionRequest{Path: "x"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Subscribe on unknown channel error = %v, want ErrSessionNotFound", err)
	}
}

func TestRegistry_DeliverLegacyImmediately(t *testing.T) {
	obs := &countingObserver{}
	r := testRegistry(obs)
	sink := newFakeSink()
	sock := r.AddSocket("h1", sink)
	if _, err := r.Authorize(sock.ID, 0, false, Identity{Username: "alice"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	sub, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{
		Path:      "thread/T1/messages",
		LimitedBy: LimitedByContainer,
		ObjectID:  "T1",
		Version:   1,
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	target := TargetChannel{Channel: "thread/T1/messages/threadNewMessage", ContainerID: "T1"}
	if n := r.Deliver(target, "h1", nil, Event{Type: "threadNewMessage", Data: "hi", Timestamp: 1}); n != 1 {
		t.Fatalf("Deliver() = %d, want 1", n)
	}
	other := TargetChannel{Channel: "thread/T1/messages/threadNewMessage", ContainerID: "T2"}
	if n := r.Deliver(other, "h1", nil, Event{Type: "threadNewMessage"}); n != 0 {
		t.Errorf("Deliver(other container) = %d, want 0", n)
	}

	frames := sink.Frames()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	frame, err := DecodeFrame(frames[0], nil)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Flags&FlagBatch != 0 {
		t.Error("legacy frame must not carry the batch flag")
	}
	n, err := DecodeLegacy(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeLegacy() error = %v", err)
	}
	if n.Type != "threadNewMessage" || len(n.Subscriptions) != 1 || n.Subscriptions[0] != sub.ID {
		t.Errorf("notification = %+v", n)
	}
	if obs.delivered[ModeImmediate] != 1 {
		t.Errorf("immediate deliveries = %d, want 1", obs.delivered[ModeImmediate])
	}
}

func TestRegistry_DeliverBatchedEncrypted(t *testing.T) {
	r := testRegistry(nil)
	sink := newFakeSink()
	sock := r.AddSocket("h1", sink)
	secret := []byte("session secret")
	if _, err := r.Authorize(sock.ID, 4, true, Identity{Username: "alice", Secret: secret}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := r.Subscribe(sock.ID, 4, SubscriptionRequest{Path: "mail", Version: 2}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, typ := range []string{"first", "second"} {
		r.Deliver(TargetChannel{Channel: "mail/new"}, "h1", []string{"alice"}, Event{Type: typ})
	}
	frames := sink.waitFrames(t, 1)

	key, err := adaptive.DeriveKey(secret, nil, frameKeyInfo)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	c, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New() error = %v", err)
	}
	frame, err := DecodeFrame(frames[0], c)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Channel != 4 || frame.Flags&FlagBatch == 0 || frame.Flags&FlagEncrypted == 0 {
		t.Errorf("frame flags = %b, channel = %d", frame.Flags, frame.Channel)
	}
	items, err := DecodeBatch(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeBatch() error = %v", err)
	}
	if len(items) != 2 || items[0].Type != "first" || items[1].Type != "second" {
		t.Errorf("batch = %+v", items)
	}
}

func TestRegistry_ImmediateSendFlushesBatch(t *testing.T) {
	r := testRegistry(nil)
	sink := newFakeSink()
	sock := r.AddSocket("h1", sink)
	if _, err := r.Authorize(sock.ID, 0, false, Identity{Username: "alice"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "mail", Version: 2}); err != nil {
		t.Fatalf("Subscribe(mail) error = %v", err)
	}
	if _, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "chat", Version: 1}); err != nil {
		t.Fatalf("Subscribe(chat) error = %v", err)
	}

	r.Deliver(TargetChannel{Channel: "mail/new"}, "h1", nil, Event{Type: "mailNew"})
	r.Deliver(TargetChannel{Channel: "chat/new"}, "h1", nil, Event{Type: "chatNew"})

	frames := sink.Frames()
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	first, err := DecodeFrame(frames[0], nil)
	if err != nil {
		t.Fatalf("DecodeFrame(first) error = %v", err)
	}
	if first.Flags&FlagBatch == 0 {
		t.Fatal("first frame is not the flushed batch")
	}
	items, err := DecodeBatch(first.Payload)
	if err != nil || len(items) != 1 || items[0].Type != "mailNew" {
		t.Fatalf("batch = %+v, %v", items, err)
	}
	second, err := DecodeFrame(frames[1], nil)
	if err != nil {
		t.Fatalf("DecodeFrame(second) error = %v", err)
	}
	n, err := DecodeLegacy(second.Payload)
	if err != nil || n.Type != "chatNew" {
		t.Errorf("second frame = %+v, %v", n, err)
	}
}

func TestRegistry_DeliverToClients(t *testing.T) {
	r := testRegistry(nil)
	sinks := map[string]*fakeSink{}
	for _, user := range []string{"alice", "bob"} {
		sinks[user] = newFakeSink()
		sock := r.AddSocket("h1", sinks[user])
		if _, err := r.Authorize(sock.ID, 0, false, Identity{Username: user}); err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
		if _, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "mail", Version: 1}); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	n := r.Deliver(TargetChannel{Channel: "mail"}, "h1", []string{"bob", "bob"}, Event{Type: "x"})
	if n != 1 {
		t.Fatalf("Deliver() = %d, want 1", n)
	}
	if len(sinks["alice"].Frames()) != 0 || len(sinks["bob"].Frames()) != 1 {
		t.Errorf("frames alice=%d bob=%d, want 0 and 1",
			len(sinks["alice"].Frames()), len(sinks["bob"].Frames()))
	}

	if n := r.Deliver(TargetChannel{Channel: "mail"}, "h2", nil, Event{Type: "x"}); n != 0 {
		t.Errorf("Deliver(other host) = %d, want 0", n)
	}
}

func TestRegistry_DeliverToPlainUsers(t *testing.T) {
	r := testRegistry(nil)
	plain := newFakeSink()
	sock := r.AddSocket("h1", plain)
	if _, err := r.Authorize(sock.ID, 0, false, Identity{Username: "p", Plain: true, Solution: "sol"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	other := r.AddSocket("h2", newFakeSink())
	if _, err := r.Authorize(other.ID, 0, false, Identity{Username: "q", Plain: true, Solution: "other"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	if n := r.DeliverToPlainUsers("sol", Event{Type: "custom"}); n != 1 {
		t.Fatalf("DeliverToPlainUsers() = %d, want 1", n)
	}
	frames := plain.waitFrames(t, 1)
	frame, err := DecodeFrame(frames[0], nil)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Flags&FlagBatch == 0 {
		t.Error("plain-user delivery should be batched")
	}
}

func TestRegistry_DisconnectAndClose(t *testing.T) {
	r := testRegistry(nil)
	sink := newFakeSink()
	sock := r.AddSocket("h1", sink)
	for ch, user := range map[uint32]string{1: "alice", 2: "bob"} {
		if _, err := r.Authorize(sock.ID, ch, true, Identity{Username: user}); err != nil {
			t.Fatalf("Authorize() error = %v", err)
		}
	}

	n := r.Disconnect("h1", func(s *Session) bool { return s.Identity.Username == "alice" }, "bye")
	if n != 1 {
		t.Fatalf("Disconnect() = %d, want 1", n)
	}
	if sink.closed[1] != "bye" {
		t.Errorf("SessionClosed not reported for channel 1: %v", sink.closed)
	}
	if r.HasUser("h1", "alice") {
		t.Error("alice should be gone")
	}
	if !r.HasUser("h1", "bob") {
		t.Error("bob should remain")
	}
	if sockets, sessions := r.Stats(); sockets != 1 || sessions != 1 {
		t.Errorf("Stats() = %d, %d, want 1, 1", sockets, sessions)
	}

	removed := r.CloseSocket(sock.ID)
	if len(removed) != 1 {
		t.Errorf("CloseSocket() removed %d, want 1", len(removed))
	}
	if r.HasUser("h1", "bob") {
		t.Error("bob should be gone after close")
	}
	if _, err := r.Authorize(sock.ID, 3, true, Identity{}); !errors.Is(err, domain.ErrSocketClosed) {
		t.Errorf("Authorize on closed socket error = %v, want ErrSocketClosed", err)
	}
}

func TestRegistry_SendFailureObserved(t *testing.T) {
	obs := &countingObserver{}
	r := testRegistry(obs)
	sink := newFakeSink()
	sink.err = errors.New("queue full")
	sock := r.AddSocket("h1", sink)
	if _, err := r.Authorize(sock.ID, 0, false, Identity{Username: "alice"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := r.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "mail", Version: 1}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	r.Deliver(TargetChannel{Channel: "mail"}, "h1", nil, Event{Type: "x"})
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.failures != 1 {
		t.Errorf("failures = %d, want 1", obs.failures)
	}
}
