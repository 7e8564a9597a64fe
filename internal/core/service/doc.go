// Package service provides the leader-resident services of RelayMesh.
//
// Each service owns its state inside the leader process and is reachable
// from workers only through the RPC layer:
//
//   - RateLimiter: per-IP credit bucket (canPerformRequest)
//   - ReplayCache: nonce replay protection (isValidNonce)
//   - LockService: FIFO advisory locks (lock, unlock)
//   - ItemAggregator: coalesces item mutations into collectionChanged events
//   - UserStatusAggregator: coalesces login/logout per context
//   - Counters: named counters (incrementCounter, getCounter)
//
// Every service exposes Methods for registration in an rpc.Registry. Services
// with periodic work (sweeps, flushes) also expose Run, which blocks until
// the context ends.
package service
