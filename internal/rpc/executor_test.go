package rpc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

type addParams struct {
	A int `msgpack:"a"`
	B int `msgpack:"b"`
}

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register("add", Bind(func(ctx context.Context, p addParams) (int, error) {
		return p.A + p.B, nil
	}))
	reg.Register("fail", func(ctx context.Context, _ msgpack.RawMessage) (any, error) {
		return nil, errors.New("handler failed")
	})
	reg.Register("panic", func(ctx context.Context, _ msgpack.RawMessage) (any, error) {
		panic("kaboom")
	})
	reg.Register("void", func(ctx context.Context, _ msgpack.RawMessage) (any, error) {
		return nil, nil
	})
	return reg
}

func execute(t *testing.T, method string, params any) Response {
	t.Helper()
	exec := NewExecutor(newTestRegistry(), nil, nil)
	req, err := NewRequest(4, method, params)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return exec.Execute(context.Background(), req)
}

func TestExecutor_Success(t *testing.T) {
	resp := execute(t, "add", addParams{A: 2, B: 3})
	if resp.IsError() {
		t.Fatalf("unexpected error: %s", *resp.Error)
	}
	if resp.ID != 4 {
		t.Errorf("ID = %d, want 4", resp.ID)
	}
	var sum int
	if err := DecodeResult(resp.Result, &sum); err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if sum != 5 {
		t.Errorf("sum = %d, want 5", sum)
	}
}

func TestExecutor_Failures(t *testing.T) {
	tests := []struct {
		method  string
		contain string
	}{
		{"missing", "unknown method"},
		{"fail", "handler failed"},
		{"panic", "kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			resp := execute(t, tt.method, nil)
			if !resp.IsError() {
				t.Fatal("expected error response")
			}
			if !strings.Contains(*resp.Error, tt.contain) {
				t.Errorf("error = %q, want it to contain %q", *resp.Error, tt.contain)
			}
		})
	}
}

func TestExecutor_NilResultIsSuccess(t *testing.T) {
	resp := execute(t, "void", nil)
	if resp.IsError() {
		t.Fatalf("unexpected error: %s", *resp.Error)
	}
	if len(resp.Result) == 0 {
		t.Error("success response without result")
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register("x", func(context.Context, msgpack.RawMessage) (any, error) { return nil, nil })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	reg.Register("x", func(context.Context, msgpack.RawMessage) (any, error) { return nil, nil })
}

func TestRegistry_Names(t *testing.T) {
	names := newTestRegistry().Names()
	want := []string{"add", "fail", "panic", "void"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
