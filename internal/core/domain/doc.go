// Package domain defines the shared error vocabulary of RelayMesh.
//
// Resource exhaustion and misuse errors that reach a client or a remote
// caller are DomainError values with a stable code:
//
//   - CONN: connection, session and subscription limits
//   - AUTH: credential, nonce and access-policy failures
//   - LOCK, RATE: leader coordination services
//   - SYS: internal failures
//
// Codes survive the RPC boundary as text; FromMessage and Lift recover them
// on the calling side.
package domain
