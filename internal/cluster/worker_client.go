// Package cluster ties the leader and its worker processes together.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
)

// WorkerClient is the leader's typed view of the worker surface. Every call
// goes to all live workers.
type WorkerClient struct {
	supervisor *Supervisor
}

// NewWorkerClient creates a client over the supervisor's fan-out.
func NewWorkerClient(supervisor *Supervisor) *WorkerClient {
	return &WorkerClient{supervisor: supervisor}
}

// SendNotification delivers an event on every worker. It fails only when
// every worker failed.
func (c *WorkerClient) SendNotification(ctx context.Context, p clusterv1.SendNotificationParams) error {
	return allFailed(c.supervisor.FanOut(ctx, clusterv1.MethodSendNotification, p))
}

// SendToPlainUsers delivers an event to plain-user sessions on every worker.
func (c *WorkerClient) SendToPlainUsers(ctx context.Context, p clusterv1.SendToPlainUsersParams) error {
	return allFailed(c.supervisor.FanOut(ctx, clusterv1.MethodSendNotificationToPlainUsers, p))
}

// HasOpenConnectionWithUsername reports whether any worker holds a session
// for username.
func (c *WorkerClient) HasOpenConnectionWithUsername(ctx context.Context, host, username string) (bool, error) {
	results := c.supervisor.FanOut(ctx, clusterv1.MethodHasOpenConnection, clusterv1.HasOpenConnectionParams{
		Host:     host,
		Username: username,
	})
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		var open bool
		if err := msgpack.Unmarshal(r.Result, &open); err == nil && open {
			return true, nil
		}
	}
	return false, allFailed(results)
}

// ContextUsers returns the users active in a context on any worker, merged
// and sorted. It satisfies the user-status aggregator's audience resolver.
func (c *WorkerClient) ContextUsers(ctx context.Context, host, contextID string) ([]string, error) {
	results := c.supervisor.FanOut(ctx, clusterv1.MethodContextUsers, clusterv1.ContextUsersParams{
		Host:      host,
		ContextID: contextID,
	})
	if err := allFailed(results); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		var users []string
		if err := msgpack.Unmarshal(r.Result, &users); err != nil {
			continue
		}
		for _, u := range users {
			seen[u] = true
		}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// Disconnect runs one of the disconnect methods on every worker and returns
// the total number of sessions closed.
func (c *WorkerClient) Disconnect(ctx context.Context, method string, p clusterv1.DisconnectParams) (int, error) {
	if !isDisconnectMethod(method) {
		return 0, fmt.Errorf("cluster: %s is not a disconnect method", method)
	}
	results := c.supervisor.FanOut(ctx, method, p)
	return SumCounts(results), allFailed(results)
}

// SumCounts adds up integer results of a fan-out, skipping failed workers.
func SumCounts(results []clusterv1.FanOutResult) int {
	total := 0
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		var n int
		if err := msgpack.Unmarshal(r.Result, &n); err == nil {
			total += n
		}
	}
	return total
}

func isDisconnectMethod(method string) bool {
	for _, m := range clusterv1.DisconnectMethods {
		if m == method {
			return true
		}
	}
	return false
}

func allFailed(results []clusterv1.FanOutResult) error {
	if len(results) == 0 {
		return nil
	}
	var errs []error
	for _, r := range results {
		if r.Error == "" {
			return nil
		}
		errs = append(errs, fmt.Errorf("worker %s: %s", r.WorkerID, r.Error))
	}
	return errors.Join(errs...)
}
