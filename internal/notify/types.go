package notify

import (
	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
)

type (
	// TargetChannel describes where an event happened.
	TargetChannel = clusterv1.TargetChannel

	// Event is the payload delivered to matching sessions.
	Event = clusterv1.Event
)

// Subscription scopes.
const (
	LimitedByContainer = "containerId"
	LimitedByContext   = "contextId"
	LimitedByItem      = "itemId"
	LimitedByNone      = "none"
)

// BatchProtocolVersion is the lowest protocol version that receives batched
// notifications. Older subscriptions get one legacy frame per event.
const BatchProtocolVersion = 2

// SubscriptionRequest is what a client asks to subscribe to.
type SubscriptionRequest struct {
	Path          string `json:"path"`
	LimitedBy     string `json:"limitedBy"`
	ObjectID      string `json:"objectId,omitempty"`
	ContainerType string `json:"containerType,omitempty"`
	Version       int    `json:"version,omitempty"`
}

// Subscription is an active channel subscription of a session.
type Subscription struct {
	ID            string `json:"subscriptionId"`
	Path          string `json:"path"`
	LimitedBy     string `json:"limitedBy"`
	ObjectID      string `json:"objectId,omitempty"`
	ContainerType string `json:"containerType,omitempty"`
	Version       int    `json:"version"`
}

// Identity is who an authorized session belongs to. It is produced by the
// credential check outside this package.
type Identity struct {
	SessionID        string
	Username         string
	Subidentity      string
	DeviceID         string
	SubidentityGroup string

	// Solution and Plain mark plain-user sessions, which receive solution
	// wide events without subscribing.
	Solution string
	Plain    bool

	// ContextIDs lists contexts whose user status this session affects.
	ContextIDs []string

	// Secret seals outbound frames when set.
	Secret []byte
}

// Notification is one event as delivered to one session, with the ids of
// the subscriptions it matched.
type Notification struct {
	Type          string   `cbor:"1,keyasint" msgpack:"type"`
	Channel       string   `cbor:"2,keyasint" msgpack:"channel"`
	Data          any      `cbor:"3,keyasint" msgpack:"data"`
	Timestamp     int64    `cbor:"4,keyasint" msgpack:"timestamp"`
	Subscriptions []string `cbor:"5,keyasint,omitempty" msgpack:"subscriptions,omitempty"`
	Version       int      `cbor:"6,keyasint,omitempty" msgpack:"version,omitempty"`
}

// Sink is the outbound side of a socket.
type Sink interface {
	// Send queues one binary frame. An error means the socket cannot keep
	// up and is being closed.
	Send(frame []byte) error

	// SessionClosed tells the client a session was removed by the server.
	SessionClosed(channel uint32, reason string)
}

// Observer receives delivery events, typically to update metrics.
type Observer interface {
	NotificationDelivered(mode string)
	BatchFlushed(size int)
	SendFailed()
}

// Delivery modes reported to an Observer.
const (
	ModeImmediate = "immediate"
	ModeBatched   = "batched"
)

type nopObserver struct{}

func (nopObserver) NotificationDelivered(string) {}
func (nopObserver) BatchFlushed(int)             {}
func (nopObserver) SendFailed()                  {}
