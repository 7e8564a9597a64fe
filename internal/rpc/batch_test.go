package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches []ChannelEnvelope
	ch      chan struct{}
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ch: make(chan struct{}, 16)}
}

func (r *flushRecorder) flush(env ChannelEnvelope) {
	r.mu.Lock()
	r.batches = append(r.batches, env)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *flushRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no flush")
	}
}

func batchMethods(t *testing.T, env ChannelEnvelope) []string {
	t.Helper()
	if env.Channel != ChannelRequestBatch {
		t.Fatalf("channel = %q, want %q", env.Channel, ChannelRequestBatch)
	}
	items, err := DecodeBatch(env.Data)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	var methods []string
	for _, item := range items {
		req, err := DecodeRequest(item.Data)
		if err != nil {
			t.Fatalf("DecodeRequest: %v", err)
		}
		if req.ID != VoidID {
			t.Errorf("void call id = %d", req.ID)
		}
		methods = append(methods, req.Method)
	}
	return methods
}

func TestVoidBatcher_CoalescesBurst(t *testing.T) {
	rec := newFlushRecorder()
	b := NewVoidBatcher(20*time.Millisecond, time.Second, rec.flush, nil)

	for _, m := range []string{"one", "two", "three"} {
		if err := b.Enqueue(m, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches) != 1 {
		t.Fatalf("flushes = %d, want 1", len(rec.batches))
	}
	got := batchMethods(t, rec.batches[0])
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("methods = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("methods[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestVoidBatcher_CloseFlushesAndRejects(t *testing.T) {
	rec := newFlushRecorder()
	b := NewVoidBatcher(time.Hour, time.Hour, rec.flush, nil)

	if err := b.Enqueue("pending", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	b.Close()
	rec.wait(t)

	if err := b.Enqueue("late", nil); !errors.Is(err, ErrBatcherClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrBatcherClosed", err)
	}
	if b.Pending() != 0 {
		t.Errorf("Pending = %d after Close", b.Pending())
	}
}

func TestBatchProcessor_RunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	reg := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		name := name
		reg.Register(name, func(context.Context, msgpack.RawMessage) (any, error) {
			mu.Lock()
			seen = append(seen, name)
			mu.Unlock()
			return nil, nil
		})
	}

	var batch []ChannelEnvelope
	for _, m := range []string{"c", "a", "missing", "b"} {
		req, _ := NewRequest(VoidID, m, nil)
		env, _ := Wrap(ChannelRequestVoid, req)
		batch = append(batch, env)
	}
	env, err := Wrap(ChannelRequestBatch, batch)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}

	proc := NewBatchProcessor(NewExecutor(reg, nil, nil), nil, nil)
	proc.Process(context.Background(), env)

	want := []string{"c", "a", "b"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestRouter_OneWayDropsRequests(t *testing.T) {
	called := false
	reg := NewRegistry()
	reg.Register("x", func(context.Context, msgpack.RawMessage) (any, error) {
		called = true
		return nil, nil
	})
	router := NewRouter(RouterConfig{Executor: NewExecutor(reg, nil, nil)})

	req, _ := NewRequest(1, "x", nil)
	env, _ := Wrap(ChannelRequest, req)
	router.Dispatch(context.Background(), env)
	router.Dispatch(context.Background(), ChannelEnvelope{Channel: "bogus"})
	router.Wait()

	if called {
		t.Error("request executed on a path without a reply function")
	}
}
