// Package clusterv1 defines the leader/worker method contract.
package clusterv1

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Leader methods.
const (
	MethodRegisterWorker  = "registerWorker"
	MethodListMethods     = "listMethods"
	MethodFanOutToWorkers = "fanOutToWorkers"

	MethodCanPerformRequest = "canPerformRequest"
	MethodIsValidNonce      = "isValidNonce"
	MethodLock              = "lock"
	MethodUnlock            = "unlock"
	MethodCancelLock        = "cancelLock"

	MethodAggregateContainerItem = "aggregateDataForContainerItem"
	MethodAggregateUserStatus    = "aggregateDataForUserStatus"

	MethodIncrementCounter = "incrementCounter"
	MethodGetCounter       = "getCounter"
)

// RequiredLeaderMethods must be served by the leader before a worker
// accepts traffic.
var RequiredLeaderMethods = []string{
	MethodCanPerformRequest,
	MethodIsValidNonce,
	MethodLock,
	MethodUnlock,
	MethodCancelLock,
	MethodAggregateContainerItem,
	MethodAggregateUserStatus,
	MethodFanOutToWorkers,
}

// Worker methods.
const (
	MethodSendNotification             = "sendWebsocketNotification"
	MethodSendNotificationToPlainUsers = "sendWebsocketNotificationToPlainUsers"
	MethodHasOpenConnection            = "hasOpenConnectionWithUsername"
	MethodContextUsers                 = "getContextUsers"

	MethodDisconnectBySession          = "disconnectWebSocketsBySession"
	MethodDisconnectByUsername         = "disconnectWebSocketsByUsername"
	MethodDisconnectBySubidentity      = "disconnectWebSocketsBySubidentity"
	MethodDisconnectByDeviceID         = "disconnectWebSocketsByDeviceId"
	MethodDisconnectBySubidentityGroup = "disconnectWebSocketsBySubidentityGroup"
)

// DisconnectMethods lists every disconnect method of the worker surface.
var DisconnectMethods = []string{
	MethodDisconnectBySession,
	MethodDisconnectByUsername,
	MethodDisconnectBySubidentity,
	MethodDisconnectByDeviceID,
	MethodDisconnectBySubidentityGroup,
}

// RegisterWorkerParams is the first call a worker makes on its link.
type RegisterWorkerParams struct {
	WorkerID string `msgpack:"workerId"`
	PID      int    `msgpack:"pid"`
}

// FanOutParams asks the leader to call Method on every live worker.
type FanOutParams struct {
	Method string             `msgpack:"method"`
	Params msgpack.RawMessage `msgpack:"params"`
}

// FanOutResult is one worker's answer to a fan-out call.
type FanOutResult struct {
	WorkerID string             `msgpack:"workerId"`
	Result   msgpack.RawMessage `msgpack:"result,omitempty"`
	Error    string             `msgpack:"error,omitempty"`
}

// CanPerformRequestParams asks the rate limiter to charge one request.
type CanPerformRequestParams struct {
	IP string `msgpack:"ip"`
}

// IsValidNonceParams checks and records a nonce.
type IsValidNonceParams struct {
	Nonce string `msgpack:"nonce"`
	TTLMs int64  `msgpack:"ttl"`
}

// LockParams names an advisory lock. Ticket identifies one lock request so
// that its caller can withdraw it with cancelLock.
type LockParams struct {
	Name   string `msgpack:"name"`
	Ticket string `msgpack:"ticket,omitempty"`
}

// Item actions folded by the container aggregator.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// AggregateContainerItemParams reports one item mutation in a container.
type AggregateContainerItemParams struct {
	Host          string   `msgpack:"host"`
	Channel       string   `msgpack:"channel"`
	ContextID     string   `msgpack:"contextId"`
	ContainerID   string   `msgpack:"containerId"`
	ContainerType string   `msgpack:"containerType,omitempty"`
	ItemID        string   `msgpack:"itemId"`
	Action        string   `msgpack:"action"`
	Clients       []string `msgpack:"clients"`
}

// User status values folded by the user-status aggregator.
const (
	StatusLogin  = "login"
	StatusLogout = "logout"
)

// AggregateUserStatusParams reports a user going online or offline in a
// context.
type AggregateUserStatusParams struct {
	Host      string `msgpack:"host"`
	Channel   string `msgpack:"channel"`
	ContextID string `msgpack:"contextId"`
	UserID    string `msgpack:"userId"`
	Status    string `msgpack:"status"`
}

// CounterParams addresses a named counter.
type CounterParams struct {
	Name  string `msgpack:"name"`
	Delta int64  `msgpack:"delta,omitempty"`
}

// SendNotificationParams delivers an event to matching sessions. A nil
// Clients list means broadcast to every session on the host.
type SendNotificationParams struct {
	Channel TargetChannel `msgpack:"channel"`
	Host    string        `msgpack:"host"`
	Clients []string      `msgpack:"clients"`
	Event   Event         `msgpack:"event"`
}

// SendToPlainUsersParams delivers an event to every plain-user session of a
// solution.
type SendToPlainUsersParams struct {
	Solution string `msgpack:"solution"`
	Event    Event  `msgpack:"event"`
}

// HasOpenConnectionParams asks whether a user has a live session.
type HasOpenConnectionParams struct {
	Host     string `msgpack:"host"`
	Username string `msgpack:"username"`
}

// ContextUsersParams asks for the users with a live session in a context.
type ContextUsersParams struct {
	Host      string `msgpack:"host"`
	ContextID string `msgpack:"contextId"`
}

// DisconnectParams selects sessions to close. Key is the session id,
// username, subidentity, device id or subidentity group, depending on the
// method.
type DisconnectParams struct {
	Host string `msgpack:"host"`
	Key  string `msgpack:"key"`
}
