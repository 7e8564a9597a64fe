// Package domain defines the shared error vocabulary of RelayMesh.
package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// DomainError is a user-facing error with a structured code.
//
// Codes have the form RM-<AREA>-<NNNN>. The last four digits follow HTTP
// status semantics (4xxx client side, 5xxx server side).
type DomainError struct {
	Code    string // Error code (e.g., "RM-CONN-4290")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if err is a DomainError with the given code. An empty
// code matches any DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}

// GetErrorCode extracts the code of a DomainError, or "".
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

var codePattern = regexp.MustCompile(`\[(RM-[A-Z]+-[0-9]{4})\] ([^:]*)(?:: (.*))?$`)

// FromMessage recovers a DomainError from its Error() text, as it arrives in
// a remote error response. It reports false when message carries no code.
func FromMessage(message string) (*DomainError, bool) {
	m := codePattern.FindStringSubmatch(message)
	if m == nil {
		return nil, false
	}
	return &DomainError{Code: m[1], Message: m[2], Details: m[3]}, true
}

// Lift converts err to the DomainError embedded in its message, if any.
// Other errors are returned unchanged.
func Lift(err error) error {
	if err == nil || IsDomainError(err, "") {
		return err
	}
	if de, ok := FromMessage(err.Error()); ok {
		de.Cause = err
		return de
	}
	return err
}

// ============================================================================
// Connection Errors (CONN)
// ============================================================================

var (
	// ErrChannelLimit indicates the per-session subscription ceiling was hit.
	ErrChannelLimit = NewDomainError("RM-CONN-4290", "too many channel subscriptions")

	// ErrMultiplexConflict indicates a socket mixing multiplexed and plain sessions.
	ErrMultiplexConflict = NewDomainError("RM-CONN-4091", "cannot mix multiplexed and non-multiplexed sessions")

	// ErrSessionSlotInUse indicates the requested session slot is taken.
	ErrSessionSlotInUse = NewDomainError("RM-CONN-4092", "session slot already in use")

	// ErrSessionLimit indicates the per-socket session ceiling was hit.
	ErrSessionLimit = NewDomainError("RM-CONN-4291", "too many sessions on socket")

	// ErrSessionNotFound indicates no session with the given id on the socket.
	ErrSessionNotFound = NewDomainError("RM-CONN-4040", "session not found")

	// ErrSubscriptionNotFound indicates an unknown subscription id.
	ErrSubscriptionNotFound = NewDomainError("RM-CONN-4041", "subscription not found")

	// ErrSocketClosed indicates the socket is gone.
	ErrSocketClosed = NewDomainError("RM-CONN-4100", "socket closed")

	// ErrInvalidSubscription indicates a malformed subscription request.
	ErrInvalidSubscription = NewDomainError("RM-CONN-4001", "invalid subscription")
)

// ============================================================================
// Authorization Errors (AUTH)
// ============================================================================

var (
	// ErrUnauthorized indicates the credentials were rejected.
	ErrUnauthorized = NewDomainError("RM-AUTH-4010", "unauthorized")

	// ErrNonceReplay indicates a nonce was already consumed.
	ErrNonceReplay = NewDomainError("RM-AUTH-4015", "nonce replay detected")

	// ErrAccessDenied indicates the subscription is not permitted.
	ErrAccessDenied = NewDomainError("RM-AUTH-4030", "access denied")
)

// ============================================================================
// Coordination Errors (LOCK, RATE)
// ============================================================================

var (
	// ErrNotLocked indicates an unlock without a matching lock.
	ErrNotLocked = NewDomainError("RM-LOCK-4090", "lock is not held")

	// ErrLockCancelled indicates a queued lock request was withdrawn.
	ErrLockCancelled = NewDomainError("RM-LOCK-4091", "lock request cancelled")

	// ErrRateLimited indicates the caller's credit is exhausted.
	ErrRateLimited = NewDomainError("RM-RATE-4290", "too many requests")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an internal error.
	ErrInternal = NewDomainError("RM-SYS-5000", "internal error")

	// ErrLeaderUnavailable indicates the leader link is down.
	ErrLeaderUnavailable = NewDomainError("RM-SYS-5030", "leader unavailable")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("RM-SYS-4000", "bad request")
)
