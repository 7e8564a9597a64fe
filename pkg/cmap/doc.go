// Package cmap provides concurrent string-keyed maps for connection
// bookkeeping.
//
// Map shards its entries by a murmur3 hash of the key, each shard guarded by
// its own RWMutex, so lookups for different sockets or users rarely contend.
// Index builds a key to set-of-members relation on top of Map.
//
// Usage:
//
//	sockets := cmap.New[*Socket]()
//	sockets.Set(id, sock)
//	byUser := cmap.NewIndex()
//	byUser.Add("alice", id)
package cmap
