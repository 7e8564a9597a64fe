// Package clusterv1 defines the method contract between the leader and its
// worker processes.
//
// Every call crosses the process channel or the broadcast transport as a
// msgpack-encoded rpc envelope. This package holds the method names and
// the params/result shapes both sides agree on, so neither side imports
// the other's implementation.
//
// Leader methods are served by the leader-resident services and reached
// over the worker's process channel. Worker methods are served by each
// worker's connection orchestrator and reached by leader fan-out or by
// broadcast.
package clusterv1
