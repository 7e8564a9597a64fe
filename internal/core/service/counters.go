package service

import (
	"context"
	"errors"
	"sync"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// Counters holds named process-wide counters.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]int64)}
}

// Increment adds delta to name and returns the new value.
func (c *Counters) Increment(name string, delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] += delta
	return c.values[name]
}

// Get returns the value of name, zero if never incremented.
func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Snapshot copies every counter.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

var errCounterName = errors.New("counter: name is required")

// Methods returns the RPC methods of the counters.
func (c *Counters) Methods() map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		clusterv1.MethodIncrementCounter: rpc.Bind(func(_ context.Context, p clusterv1.CounterParams) (int64, error) {
			if p.Name == "" {
				return 0, errCounterName
			}
			delta := p.Delta
			if delta == 0 {
				delta = 1
			}
			return c.Increment(p.Name, delta), nil
		}),
		clusterv1.MethodGetCounter: rpc.Bind(func(_ context.Context, p clusterv1.CounterParams) (int64, error) {
			if p.Name == "" {
				return 0, errCounterName
			}
			return c.Get(p.Name), nil
		}),
	}
}
