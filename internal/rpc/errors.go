// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks an envelope that fails validation.
	ErrMalformed = errors.New("rpc: malformed envelope")

	// ErrUnknownMethod is reported to the caller when no handler is registered.
	ErrUnknownMethod = errors.New("rpc: unknown method")

	// ErrPeerClosed rejects pending calls when the connection is torn down.
	ErrPeerClosed = errors.New("rpc: peer closed")

	// ErrCallTimeout is returned when no reply arrives before the call deadline.
	ErrCallTimeout = errors.New("rpc: call timed out")
)

// RemoteError is a failure reported by the remote handler.
type RemoteError struct {
	Method  string
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Method, e.Message)
}

// IsRemote reports whether err carries a remote handler failure.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
