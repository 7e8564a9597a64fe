package notify

import (
	"context"
	"fmt"
	"log/slog"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/cluster"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// LeaderLink is the part of the leader client the orchestrator uses.
// cluster.LeaderClient satisfies it.
type LeaderLink interface {
	FanOutToWorkers(ctx context.Context, method string, params any) ([]clusterv1.FanOutResult, error)
	Broadcast(method string, params any) error
	AggregateUserStatus(p clusterv1.AggregateUserStatusParams) error
}

// Disconnect reason sent to clients.
const reasonDisconnected = "disconnected by server"

// Orchestrator is the worker's connection front: it manages sessions in the
// registry and routes notifications and disconnects across the cluster.
type Orchestrator struct {
	registry *Registry
	leader   LeaderLink
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator. A nil leader runs the worker
// standalone: every operation stays local.
func NewOrchestrator(registry *Registry, leader LeaderLink, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		leader:   leader,
		logger:   logger,
	}
}

// Registry returns the underlying registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Open registers a new socket.
func (o *Orchestrator) Open(host string, sink Sink) *Socket {
	return o.registry.AddSocket(host, sink)
}

// Authorize opens a session and reports the user online in its contexts.
func (o *Orchestrator) Authorize(socketID string, channel uint32, multiplexed bool, id Identity) (*Session, error) {
	sess, err := o.registry.Authorize(socketID, channel, multiplexed, id)
	if err != nil {
		return nil, err
	}
	o.reportStatus(sess, clusterv1.StatusLogin)
	return sess, nil
}

// Subscribe adds a subscription to an authorized session.
func (o *Orchestrator) Subscribe(socketID string, channel uint32, req SubscriptionRequest) (Subscription, error) {
	return o.registry.Subscribe(socketID, channel, req)
}

// Unsubscribe removes a subscription.
func (o *Orchestrator) Unsubscribe(socketID string, channel uint32, subscriptionID string) error {
	return o.registry.Unsubscribe(socketID, channel, subscriptionID)
}

// Unauthorize closes one session.
func (o *Orchestrator) Unauthorize(socketID string, channel uint32) error {
	sess, err := o.registry.Unauthorize(socketID, channel)
	if err != nil {
		return err
	}
	o.reportStatus(sess, clusterv1.StatusLogout)
	return nil
}

// Close removes a socket and its sessions.
func (o *Orchestrator) Close(socketID string) {
	for _, sess := range o.registry.CloseSocket(socketID) {
		o.reportStatus(sess, clusterv1.StatusLogout)
	}
}

// reportStatus tells the leader's status aggregator about a login, or a
// logout once the user has no session left on this worker.
func (o *Orchestrator) reportStatus(sess *Session, status string) {
	id := sess.Identity
	if o.leader == nil || id.Username == "" || len(id.ContextIDs) == 0 {
		return
	}
	host := sess.Socket.Host
	if status == clusterv1.StatusLogout && o.registry.HasUser(host, id.Username) {
		return
	}
	for _, contextID := range id.ContextIDs {
		err := o.leader.AggregateUserStatus(clusterv1.AggregateUserStatusParams{
			Host:      host,
			Channel:   "context/" + contextID + "/userStatus",
			ContextID: contextID,
			UserID:    id.Username,
			Status:    status,
		})
		if err != nil {
			o.logger.Warn("failed to report user status",
				"username", id.Username,
				"context_id", contextID,
				"status", status,
				"error", err)
		}
	}
}

// Publish delivers an event on every worker. With a leader link the call
// goes out as a batched broadcast through the transport, which also reaches
// this worker.
func (o *Orchestrator) Publish(target TargetChannel, host string, clients []string, event Event) error {
	p := clusterv1.SendNotificationParams{
		Channel: target,
		Host:    host,
		Clients: clients,
		Event:   event,
	}
	if o.leader == nil {
		o.SendNotification(p)
		return nil
	}
	return o.leader.Broadcast(clusterv1.MethodSendNotification, p)
}

// SendNotification delivers an event to matching local sessions.
func (o *Orchestrator) SendNotification(p clusterv1.SendNotificationParams) int {
	return o.registry.Deliver(p.Channel, p.Host, p.Clients, p.Event)
}

// SendToPlainUsers delivers an event to local plain-user sessions.
func (o *Orchestrator) SendToPlainUsers(p clusterv1.SendToPlainUsersParams) int {
	return o.registry.DeliverToPlainUsers(p.Solution, p.Event)
}

// HasOpenConnection reports whether username has a local session on host.
func (o *Orchestrator) HasOpenConnection(host, username string) bool {
	return o.registry.HasUser(host, username)
}

func disconnectPredicate(method, key string) (func(*Session) bool, error) {
	var field func(Identity) string
	switch method {
	case clusterv1.MethodDisconnectBySession:
		field = func(id Identity) string { return id.SessionID }
	case clusterv1.MethodDisconnectByUsername:
		field = func(id Identity) string { return id.Username }
	case clusterv1.MethodDisconnectBySubidentity:
		field = func(id Identity) string { return id.Subidentity }
	case clusterv1.MethodDisconnectByDeviceID:
		field = func(id Identity) string { return id.DeviceID }
	case clusterv1.MethodDisconnectBySubidentityGroup:
		field = func(id Identity) string { return id.SubidentityGroup }
	default:
		return nil, fmt.Errorf("notify: %s is not a disconnect method", method)
	}
	return func(s *Session) bool {
		return key != "" && field(s.Identity) == key
	}, nil
}

// DisconnectLocal closes the matching sessions on this worker only.
func (o *Orchestrator) DisconnectLocal(method string, p clusterv1.DisconnectParams) (int, error) {
	pred, err := disconnectPredicate(method, p.Key)
	if err != nil {
		return 0, err
	}
	n := o.registry.Disconnect(p.Host, pred, reasonDisconnected)
	if n > 0 {
		o.logger.Info("sessions disconnected",
			"method", method,
			"host", p.Host,
			"count", n)
	}
	return n, nil
}

// Disconnect closes matching sessions across the cluster. A session id is
// unique, so a local hit ends the search; every other key may match
// sessions on several workers and always fans out through the leader.
func (o *Orchestrator) Disconnect(ctx context.Context, method string, p clusterv1.DisconnectParams) (int, error) {
	if o.leader == nil {
		return o.DisconnectLocal(method, p)
	}
	if method == clusterv1.MethodDisconnectBySession {
		n, err := o.DisconnectLocal(method, p)
		if err != nil || n > 0 {
			return n, err
		}
	} else if _, err := disconnectPredicate(method, p.Key); err != nil {
		return 0, err
	}

	results, err := o.leader.FanOutToWorkers(ctx, method, p)
	if err != nil {
		return 0, fmt.Errorf("notify: fan out %s: %w", method, err)
	}
	for _, r := range results {
		if r.Error != "" {
			o.logger.Warn("worker failed to disconnect",
				"worker_id", r.WorkerID,
				"method", method,
				"error", r.Error)
		}
	}
	return cluster.SumCounts(results), nil
}

// Methods returns the worker RPC surface.
func (o *Orchestrator) Methods() map[string]rpc.HandlerFunc {
	methods := map[string]rpc.HandlerFunc{
		clusterv1.MethodSendNotification: rpc.Bind(func(_ context.Context, p clusterv1.SendNotificationParams) (int, error) {
			return o.SendNotification(p), nil
		}),
		clusterv1.MethodSendNotificationToPlainUsers: rpc.Bind(func(_ context.Context, p clusterv1.SendToPlainUsersParams) (int, error) {
			return o.SendToPlainUsers(p), nil
		}),
		clusterv1.MethodHasOpenConnection: rpc.Bind(func(_ context.Context, p clusterv1.HasOpenConnectionParams) (bool, error) {
			return o.HasOpenConnection(p.Host, p.Username), nil
		}),
		clusterv1.MethodContextUsers: rpc.Bind(func(_ context.Context, p clusterv1.ContextUsersParams) ([]string, error) {
			return o.registry.ContextUsers(p.Host, p.ContextID), nil
		}),
	}
	for _, method := range clusterv1.DisconnectMethods {
		methods[method] = rpc.Bind(func(_ context.Context, p clusterv1.DisconnectParams) (int, error) {
			return o.DisconnectLocal(method, p)
		})
	}
	return methods
}
