// Package wsserver is the worker's HTTP front door.
//
// Clients open a websocket at /ws and drive their sessions with small JSON
// control messages:
//
//	{"type":"authorize","channel":1,"multiplexed":true,"token":"...","nonce":"..."}
//	{"type":"subscribe","channel":1,"requestId":"r1","subscription":{"path":"items","limitedBy":"none"}}
//	{"type":"unsubscribe","channel":1,"subscriptionId":"01J..."}
//	{"type":"unauthorize","channel":1}
//
// Every control message gets a JSON reply of the same type ("authorized",
// "subscribed", ...) or an "error" reply carrying a domain error code.
// Notifications travel as binary frames built by package notify. When the
// server ends a session on its own a "sessionClosed" message is sent.
//
// The server also exposes /healthz and /metrics.
package wsserver
