// Package notify keeps the live client connections of one worker and
// delivers events to them.
//
// A Socket is one client connection. It carries one session, or several
// multiplexed sessions each addressed by a channel id. A Session holds its
// channel subscriptions and an outbound batch.
//
// Delivering an event to a target channel:
//
//  1. candidate sessions are every session on the host (broadcast) or the
//     sessions of the listed users
//  2. each candidate's subscriptions are matched against the target
//  3. protocol version 1 matches are encoded with the legacy CBOR codec and
//     sent at once; newer versions join the session batch
//  4. a flushed batch is msgpack encoded, framed and optionally sealed with
//     the session key
//
// Orchestrator ties the registry to the leader link and serves the worker
// RPC surface.
package notify
