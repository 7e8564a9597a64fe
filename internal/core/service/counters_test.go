package service

import (
	"context"
	"testing"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

func TestCounters(t *testing.T) {
	c := NewCounters()
	reg := rpc.NewRegistry()
	reg.RegisterAll(c.Methods())
	exec := rpc.NewExecutor(reg, nil, nil)

	call := func(method string, p clusterv1.CounterParams) (int64, bool) {
		t.Helper()
		req, err := rpc.NewRequest(1, method, p)
		if err != nil {
			t.Fatal(err)
		}
		resp := exec.Execute(context.Background(), req)
		if resp.IsError() {
			return 0, false
		}
		var v int64
		if err := rpc.DecodeResult(resp.Result, &v); err != nil {
			t.Fatal(err)
		}
		return v, true
	}

	if v, _ := call(clusterv1.MethodIncrementCounter, clusterv1.CounterParams{Name: "msgs"}); v != 1 {
		t.Errorf("increment without delta = %d, want 1", v)
	}
	if v, _ := call(clusterv1.MethodIncrementCounter, clusterv1.CounterParams{Name: "msgs", Delta: 4}); v != 5 {
		t.Errorf("increment by 4 = %d, want 5", v)
	}
	if v, _ := call(clusterv1.MethodGetCounter, clusterv1.CounterParams{Name: "msgs"}); v != 5 {
		t.Errorf("get = %d, want 5", v)
	}
	if v, _ := call(clusterv1.MethodGetCounter, clusterv1.CounterParams{Name: "other"}); v != 0 {
		t.Errorf("get unknown = %d, want 0", v)
	}
	if _, ok := call(clusterv1.MethodGetCounter, clusterv1.CounterParams{}); ok {
		t.Error("empty name accepted")
	}
	if got := c.Snapshot(); len(got) != 1 || got["msgs"] != 5 {
		t.Errorf("Snapshot = %v", got)
	}
}
