// Package clusterv1 defines the leader/worker method contract.
package clusterv1

// TargetChannel describes what happened and where. It is never persisted.
type TargetChannel struct {
	Channel       string `msgpack:"channel" json:"channel"`
	ContextID     string `msgpack:"contextId,omitempty" json:"contextId,omitempty"`
	ContainerID   string `msgpack:"containerId,omitempty" json:"containerId,omitempty"`
	ItemID        string `msgpack:"itemId,omitempty" json:"itemId,omitempty"`
	ContainerType string `msgpack:"containerType,omitempty" json:"containerType,omitempty"`
}

// Event is a notification addressed to a target channel.
type Event struct {
	Type      string `msgpack:"type" json:"type"`
	Data      any    `msgpack:"data" json:"data"`
	Timestamp int64  `msgpack:"timestamp" json:"timestamp"`
}

// Aggregated event types.
const (
	EventCollectionChanged = "collectionChanged"
	EventUserStatusChanged = "contextUserStatusChanged"
)

// ItemChange is one surviving action in a collectionChanged event.
type ItemChange struct {
	ItemID string `msgpack:"itemId" json:"itemId"`
	Action string `msgpack:"action" json:"action"`
}

// CollectionChanged is the data of a collectionChanged event.
type CollectionChanged struct {
	ContainerID        string       `msgpack:"containerId" json:"containerId"`
	AffectedItemsCount int          `msgpack:"affectedItemsCount" json:"affectedItemsCount"`
	Items              []ItemChange `msgpack:"items" json:"items"`
}

// UserStatus is one user's status in a contextUserStatusChanged event.
type UserStatus struct {
	UserID string `msgpack:"userId" json:"userId"`
	Action string `msgpack:"action" json:"action"`
}

// UserStatusChanged is the data of a contextUserStatusChanged event.
type UserStatusChanged struct {
	ContextID string       `msgpack:"contextId" json:"contextId"`
	Users     []UserStatus `msgpack:"users" json:"users"`
}
