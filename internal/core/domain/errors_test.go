package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("RM-TEST-1000", "test message"),
			expected: "[RM-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("RM-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[RM-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_IsByCode(t *testing.T) {
	limited := ErrChannelLimit.WithDetailsf("max %d", 64)

	if !errors.Is(limited, ErrChannelLimit) {
		t.Error("errors.Is should match on code despite details")
	}
	if errors.Is(limited, ErrSessionLimit) {
		t.Error("errors.Is matched a different code")
	}
	if errors.Is(limited, fmt.Errorf("some error")) {
		t.Error("errors.Is matched a non-DomainError")
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", limited), ErrChannelLimit) {
		t.Error("errors.Is should see through wrapping")
	}
}

func TestDomainError_WithCause(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := ErrInternal.WithCause(cause)

	if ErrInternal.Cause != nil {
		t.Error("WithCause modified the original")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestFromMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		code    string
		details string
		ok      bool
	}{
		{"plain", "[RM-LOCK-4090] lock is not held", "RM-LOCK-4090", "", true},
		{"details", "[RM-CONN-4290] too many channel subscriptions: max 64", "RM-CONN-4290", "max 64", true},
		{"remote prefix", "rpc: unlock: [RM-LOCK-4090] lock is not held: orders", "RM-LOCK-4090", "orders", true},
		{"no code", "something broke", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de, ok := FromMessage(tt.message)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if de.Code != tt.code || de.Details != tt.details {
				t.Errorf("got code=%q details=%q, want %q %q", de.Code, de.Details, tt.code, tt.details)
			}
		})
	}
}

func TestLift(t *testing.T) {
	remote := fmt.Errorf("rpc: unlock: %s", ErrNotLocked.Error())
	lifted := Lift(remote)

	if !errors.Is(lifted, ErrNotLocked) {
		t.Errorf("Lift(%v) = %v, want ErrNotLocked", remote, lifted)
	}
	if !errors.Is(lifted, remote) {
		t.Error("lifted error lost its cause")
	}

	plain := errors.New("plain")
	if Lift(plain) != plain {
		t.Error("Lift changed an error without a code")
	}
	if Lift(nil) != nil {
		t.Error("Lift(nil) != nil")
	}
}

func TestGetErrorCode(t *testing.T) {
	if got := GetErrorCode(fmt.Errorf("x: %w", ErrMultiplexConflict)); got != "RM-CONN-4091" {
		t.Errorf("GetErrorCode = %q", got)
	}
	if got := GetErrorCode(errors.New("x")); got != "" {
		t.Errorf("GetErrorCode(plain) = %q", got)
	}
	if !IsDomainError(ErrSessionSlotInUse, "RM-CONN-4092") {
		t.Error("IsDomainError did not match code")
	}
}
