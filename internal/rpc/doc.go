// Package rpc implements the correlated request/response protocol used
// between the leader and its worker processes.
//
// Every message crossing a process boundary is a ChannelEnvelope tagged
// "request", "response", "request_void" or "request-batch":
//
//   - envelope.go: wire shapes and validators
//   - pending.go: correlation table (id -> pending result slot)
//   - registry.go: method registry (name -> bound handler)
//   - executor.go: runs one inbound request and encodes its outcome
//   - listener.go: resolves pending slots from response envelopes
//   - router.go: classifies inbound envelopes and dispatches them
//   - peer.go: duplex endpoint over one stream connection
//   - batch.go: fire-and-forget micro-batching and batch unpacking
//
// Envelopes are encoded with msgpack. Params and results are opaque
// msgpack values decoded by the handler or the caller.
package rpc
