package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// Notifier delivers an event to the workers. cluster.WorkerClient satisfies
// it on the leader.
type Notifier interface {
	SendNotification(ctx context.Context, p clusterv1.SendNotificationParams) error
}

// AudienceResolver returns the users currently active in a context. It is
// asked at flush time, not when the status change arrives.
type AudienceResolver interface {
	ContextUsers(ctx context.Context, host, contextID string) ([]string, error)
}

// AggregatorConfig configures both aggregators.
type AggregatorConfig struct {
	FlushInterval time.Duration
}

// DefaultAggregatorConfig returns the stock aggregator settings.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{FlushInterval: time.Second}
}

// FoldAction combines the pending action for an item with a new one. It
// reports false when the item should be dropped.
func FoldAction(existing, next string) (string, bool) {
	switch {
	case existing == "" || existing == clusterv1.ActionUpdate:
		return next, true
	case existing == clusterv1.ActionCreate && next == clusterv1.ActionDelete:
		return "", false
	default:
		return existing, true
	}
}

func validAction(a string) bool {
	switch a {
	case clusterv1.ActionCreate, clusterv1.ActionUpdate, clusterv1.ActionDelete:
		return true
	}
	return false
}

type containerKey struct {
	host        string
	containerID string
}

type containerEntry struct {
	target  clusterv1.TargetChannel
	clients []string
	items   map[string]string
}

// ItemAggregator folds item mutations per container and emits one
// collectionChanged event per container on every flush.
type ItemAggregator struct {
	mu       sync.Mutex
	pending  map[containerKey]*containerEntry
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewItemAggregator creates an aggregator flushing through notifier.
func NewItemAggregator(notifier Notifier, cfg AggregatorConfig, logger *slog.Logger) *ItemAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &ItemAggregator{
		pending:  make(map[containerKey]*containerEntry),
		notifier: notifier,
		interval: cfg.FlushInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// Add folds one item mutation into the pending window. The audience of the
// container becomes p.Clients.
func (a *ItemAggregator) Add(p clusterv1.AggregateContainerItemParams) error {
	if p.ContainerID == "" || p.ItemID == "" {
		return errors.New("aggregate: containerId and itemId are required")
	}
	if !validAction(p.Action) {
		return fmt.Errorf("aggregate: unknown action %q", p.Action)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := containerKey{host: p.Host, containerID: p.ContainerID}
	entry, ok := a.pending[key]
	if !ok {
		entry = &containerEntry{items: make(map[string]string)}
		a.pending[key] = entry
	}
	entry.target = clusterv1.TargetChannel{
		Channel:       p.Channel,
		ContextID:     p.ContextID,
		ContainerID:   p.ContainerID,
		ContainerType: p.ContainerType,
	}
	entry.clients = p.Clients

	if action, keep := FoldAction(entry.items[p.ItemID], p.Action); keep {
		entry.items[p.ItemID] = action
	} else {
		delete(entry.items, p.ItemID)
	}
	return nil
}

// Pending returns the surviving action per item for a container.
func (a *ItemAggregator) Pending(host, containerID string) map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.pending[containerKey{host: host, containerID: containerID}]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(entry.items))
	for k, v := range entry.items {
		out[k] = v
	}
	return out
}

// Flush emits the pending window and clears it. Containers whose items all
// cancelled out emit nothing.
func (a *ItemAggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[containerKey]*containerEntry)
	a.mu.Unlock()

	ts := a.now().UnixMilli()
	for key, entry := range pending {
		if len(entry.items) == 0 {
			continue
		}
		ids := make([]string, 0, len(entry.items))
		for id := range entry.items {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		changes := make([]clusterv1.ItemChange, len(ids))
		for i, id := range ids {
			changes[i] = clusterv1.ItemChange{ItemID: id, Action: entry.items[id]}
		}

		err := a.notifier.SendNotification(ctx, clusterv1.SendNotificationParams{
			Channel: entry.target,
			Host:    key.host,
			Clients: entry.clients,
			Event: clusterv1.Event{
				Type: clusterv1.EventCollectionChanged,
				Data: clusterv1.CollectionChanged{
					ContainerID:        key.containerID,
					AffectedItemsCount: len(changes),
					Items:              changes,
				},
				Timestamp: ts,
			},
		})
		if err != nil {
			a.logger.Warn("failed to send collectionChanged",
				"host", key.host,
				"container_id", key.containerID,
				"items", len(changes),
				"error", err)
		}
	}
}

// Run flushes on every interval until ctx ends.
func (a *ItemAggregator) Run(ctx context.Context) {
	runFlushLoop(ctx, a.interval, a.Flush)
}

// Methods returns the RPC methods of the aggregator.
func (a *ItemAggregator) Methods() map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		clusterv1.MethodAggregateContainerItem: rpc.Bind(func(_ context.Context, p clusterv1.AggregateContainerItemParams) (bool, error) {
			return true, a.Add(p)
		}),
	}
}

type contextKey struct {
	host      string
	contextID string
}

type contextEntry struct {
	channel string
	users   map[string]string
}

// UserStatusAggregator coalesces login/logout per user and context. The
// latest status of a user within a window wins.
type UserStatusAggregator struct {
	mu       sync.Mutex
	pending  map[contextKey]*contextEntry
	notifier Notifier
	resolver AudienceResolver
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewUserStatusAggregator creates an aggregator. A nil resolver broadcasts
// every batch.
func NewUserStatusAggregator(notifier Notifier, resolver AudienceResolver, cfg AggregatorConfig, logger *slog.Logger) *UserStatusAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &UserStatusAggregator{
		pending:  make(map[contextKey]*contextEntry),
		notifier: notifier,
		resolver: resolver,
		interval: cfg.FlushInterval,
		logger:   logger,
		now:      time.Now,
	}
}

// Add records a status change.
func (a *UserStatusAggregator) Add(p clusterv1.AggregateUserStatusParams) error {
	if p.ContextID == "" || p.UserID == "" {
		return errors.New("aggregate: contextId and userId are required")
	}
	if p.Status != clusterv1.StatusLogin && p.Status != clusterv1.StatusLogout {
		return fmt.Errorf("aggregate: unknown status %q", p.Status)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := contextKey{host: p.Host, contextID: p.ContextID}
	entry, ok := a.pending[key]
	if !ok {
		entry = &contextEntry{users: make(map[string]string)}
		a.pending[key] = entry
	}
	entry.channel = p.Channel
	entry.users[p.UserID] = p.Status
	return nil
}

// Flush emits one contextUserStatusChanged event per context and clears the
// window. The audience is resolved now.
func (a *UserStatusAggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[contextKey]*contextEntry)
	a.mu.Unlock()

	ts := a.now().UnixMilli()
	for key, entry := range pending {
		var clients []string
		if a.resolver != nil {
			users, err := a.resolver.ContextUsers(ctx, key.host, key.contextID)
			if err != nil {
				a.logger.Warn("failed to resolve context audience",
					"host", key.host,
					"context_id", key.contextID,
					"error", err)
				continue
			}
			if len(users) == 0 {
				continue
			}
			clients = users
		}

		ids := make([]string, 0, len(entry.users))
		for id := range entry.users {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		statuses := make([]clusterv1.UserStatus, len(ids))
		for i, id := range ids {
			statuses[i] = clusterv1.UserStatus{UserID: id, Action: entry.users[id]}
		}

		err := a.notifier.SendNotification(ctx, clusterv1.SendNotificationParams{
			Channel: clusterv1.TargetChannel{Channel: entry.channel, ContextID: key.contextID},
			Host:    key.host,
			Clients: clients,
			Event: clusterv1.Event{
				Type:      clusterv1.EventUserStatusChanged,
				Data:      clusterv1.UserStatusChanged{ContextID: key.contextID, Users: statuses},
				Timestamp: ts,
			},
		})
		if err != nil {
			a.logger.Warn("failed to send user status batch",
				"host", key.host,
				"context_id", key.contextID,
				"error", err)
		}
	}
}

// Run flushes on every interval until ctx ends.
func (a *UserStatusAggregator) Run(ctx context.Context) {
	runFlushLoop(ctx, a.interval, a.Flush)
}

// Methods returns the RPC methods of the aggregator.
func (a *UserStatusAggregator) Methods() map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		clusterv1.MethodAggregateUserStatus: rpc.Bind(func(_ context.Context, p clusterv1.AggregateUserStatusParams) (bool, error) {
			return true, a.Add(p)
		}),
	}
}

// runFlushLoop calls flush every interval and once more when ctx ends, so
// the last window is not lost on shutdown.
func runFlushLoop(ctx context.Context, interval time.Duration, flush func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(final)
			cancel()
			return
		case <-ticker.C:
			flush(ctx)
		}
	}
}
