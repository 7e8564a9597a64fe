package notify

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

type fakeLeader struct {
	mu        sync.Mutex
	fanOuts   []string
	results   []clusterv1.FanOutResult
	broadcast []string
	statuses  []clusterv1.AggregateUserStatusParams
}

func (l *fakeLeader) FanOutToWorkers(_ context.Context, method string, _ any) ([]clusterv1.FanOutResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fanOuts = append(l.fanOuts, method)
	return l.results, nil
}

func (l *fakeLeader) Broadcast(method string, _ any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcast = append(l.broadcast, method)
	return nil
}

func (l *fakeLeader) AggregateUserStatus(p clusterv1.AggregateUserStatusParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, p)
	return nil
}

func countResult(t *testing.T, worker string, n int) clusterv1.FanOutResult {
	t.Helper()
	raw, err := msgpack.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return clusterv1.FanOutResult{WorkerID: worker, Result: raw}
}

func TestOrchestrator_ReportsUserStatus(t *testing.T) {
	leader := &fakeLeader{}
	o := NewOrchestrator(testRegistry(nil), leader, nil)
	sock := o.Open("h1", newFakeSink())

	id := Identity{Username: "alice", ContextIDs: []string{"C1"}}
	if _, err := o.Authorize(sock.ID, 1, true, id); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := o.Authorize(sock.ID, 2, true, id); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if err := o.Unauthorize(sock.ID, 1); err != nil {
		t.Fatalf("Unauthorize() error = %v", err)
	}
	o.Close(sock.ID)

	var got []string
	for _, s := range leader.statuses {
		if s.ContextID != "C1" || s.UserID != "alice" || s.Host != "h1" {
			t.Errorf("unexpected status report %+v", s)
		}
		got = append(got, s.Status)
	}
	want := []string{clusterv1.StatusLogin, clusterv1.StatusLogin, clusterv1.StatusLogout}
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestOrchestrator_Publish(t *testing.T) {
	leader := &fakeLeader{}
	o := NewOrchestrator(testRegistry(nil), leader, nil)
	if err := o.Publish(TargetChannel{Channel: "mail"}, "h1", nil, Event{Type: "x"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(leader.broadcast) != 1 || leader.broadcast[0] != clusterv1.MethodSendNotification {
		t.Errorf("broadcast = %v", leader.broadcast)
	}

	standalone := NewOrchestrator(testRegistry(nil), nil, nil)
	sink := newFakeSink()
	sock := standalone.Open("h1", sink)
	if _, err := standalone.Authorize(sock.ID, 0, false, Identity{Username: "alice"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if _, err := standalone.Subscribe(sock.ID, 0, SubscriptionRequest{Path: "mail", Version: 1}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := standalone.Publish(TargetChannel{Channel: "mail"}, "h1", nil, Event{Type: "x"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(sink.Frames()) != 1 {
		t.Errorf("standalone publish delivered %d frames, want 1", len(sink.Frames()))
	}
}

func TestOrchestrator_DisconnectRouting(t *testing.T) {
	leader := &fakeLeader{}
	o := NewOrchestrator(testRegistry(nil), leader, nil)
	sink := newFakeSink()
	sock := o.Open("h1", sink)
	if _, err := o.Authorize(sock.ID, 0, false, Identity{SessionID: "S1", Username: "alice"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	ctx := context.Background()
	n, err := o.Disconnect(ctx, clusterv1.MethodDisconnectBySession, clusterv1.DisconnectParams{Host: "h1", Key: "S1"})
	if err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if n != 1 || len(leader.fanOuts) != 0 {
		t.Errorf("local session hit: n = %d, fanOuts = %v", n, leader.fanOuts)
	}

	leader.results = []clusterv1.FanOutResult{
		countResult(t, "w1", 2),
		countResult(t, "w2", 1),
		{WorkerID: "w3", Error: "gone"},
	}
	n, err = o.Disconnect(ctx, clusterv1.MethodDisconnectBySession, clusterv1.DisconnectParams{Host: "h1", Key: "S9"})
	if err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if n != 3 || len(leader.fanOuts) != 1 {
		t.Errorf("session miss: n = %d, fanOuts = %v", n, leader.fanOuts)
	}

	if _, err := o.Disconnect(ctx, clusterv1.MethodDisconnectByUsername, clusterv1.DisconnectParams{Host: "h1", Key: "bob"}); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if len(leader.fanOuts) != 2 || leader.fanOuts[1] != clusterv1.MethodDisconnectByUsername {
		t.Errorf("username disconnect must fan out: %v", leader.fanOuts)
	}

	if _, err := o.Disconnect(ctx, clusterv1.MethodSendNotification, clusterv1.DisconnectParams{}); err == nil {
		t.Error("expected an error for a non-disconnect method")
	}
}

func TestOrchestrator_Methods(t *testing.T) {
	o := NewOrchestrator(testRegistry(nil), nil, nil)
	sock := o.Open("h1", newFakeSink())
	if _, err := o.Authorize(sock.ID, 0, false, Identity{Username: "alice", DeviceID: "D1"}); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	registry := rpc.NewRegistry()
	registry.RegisterAll(o.Methods())
	exec := rpc.NewExecutor(registry, nil, nil)
	ctx := context.Background()

	call := func(method string, params any, out any) {
		t.Helper()
		req, err := rpc.NewRequest(1, method, params)
		if err != nil {
			t.Fatalf("NewRequest() error = %v", err)
		}
		resp := exec.Execute(ctx, req)
		if resp.IsError() {
			t.Fatalf("%s failed: %s", method, *resp.Error)
		}
		if err := rpc.DecodeResult(resp.Result, out); err != nil {
			t.Fatalf("DecodeResult() error = %v", err)
		}
	}

	var has bool
	call(clusterv1.MethodHasOpenConnection, clusterv1.HasOpenConnectionParams{Host: "h1", Username: "alice"}, &has)
	if !has {
		t.Error("hasOpenConnection = false, want true")
	}

	var n int
	call(clusterv1.MethodDisconnectByDeviceID, clusterv1.DisconnectParams{Host: "h1", Key: "D1"}, &n)
	if n != 1 {
		t.Errorf("disconnect by device = %d, want 1", n)
	}

	call(clusterv1.MethodHasOpenConnection, clusterv1.HasOpenConnectionParams{Host: "h1", Username: "alice"}, &has)
	if has {
		t.Error("hasOpenConnection = true after disconnect")
	}
}

func TestOrchestrator_ContextUsersMethod(t *testing.T) {
	o := NewOrchestrator(testRegistry(nil), nil, nil)
	for _, id := range []Identity{
		{Username: "carol", ContextIDs: []string{"C1", "C2"}},
		{Username: "alice", ContextIDs: []string{"C1"}},
		{Username: "alice", ContextIDs: []string{"C1"}},
		{Username: "bob", ContextIDs: []string{"C2"}},
		{ContextIDs: []string{"C1"}},
	} {
		sock := o.Open("h1", newFakeSink())
		if _, err := o.Authorize(sock.ID, 0, false, id); err != nil {
			t.Fatalf("Authorize(%s) error = %v", id.Username, err)
		}
	}
	other := o.Open("h2", newFakeSink())
	if _, err := o.Authorize(other.ID, 0, false, Identity{Username: "dave", ContextIDs: []string{"C1"}}); err != nil {
		t.Fatalf("Authorize(dave) error = %v", err)
	}

	registry := rpc.NewRegistry()
	registry.RegisterAll(o.Methods())
	req, err := rpc.NewRequest(1, clusterv1.MethodContextUsers, clusterv1.ContextUsersParams{Host: "h1", ContextID: "C1"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp := rpc.NewExecutor(registry, nil, nil).Execute(context.Background(), req)
	if resp.IsError() {
		t.Fatalf("getContextUsers failed: %s", *resp.Error)
	}
	var users []string
	if err := rpc.DecodeResult(resp.Result, &users); err != nil {
		t.Fatalf("DecodeResult() error = %v", err)
	}
	if !slices.Equal(users, []string{"alice", "carol"}) {
		t.Errorf("context users = %v, want [alice carol]", users)
	}
}

func TestOrchestrator_UnknownSocket(t *testing.T) {
	o := NewOrchestrator(testRegistry(nil), nil, nil)
	if err := o.Unauthorize("nope", 0); !errors.Is(err, domain.ErrSocketClosed) {
		t.Errorf("Unauthorize(unknown) error = %v, want ErrSocketClosed", err)
	}
}
