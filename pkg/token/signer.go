package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MinKeyLength is the shortest accepted signing key.
const MinKeyLength = 32

var (
	ErrShortKey     = errors.New("token: signing key too short")
	ErrMalformed    = errors.New("token: malformed token")
	ErrBadSignature = errors.New("token: bad signature")
	ErrExpired      = errors.New("token: expired")
)

// Claims is what a session token asserts about its holder.
type Claims struct {
	SessionID        string   `msgpack:"sid"`
	Username         string   `msgpack:"sub,omitempty"`
	Subidentity      string   `msgpack:"sbi,omitempty"`
	DeviceID         string   `msgpack:"dev,omitempty"`
	SubidentityGroup string   `msgpack:"sbg,omitempty"`
	Solution         string   `msgpack:"sol,omitempty"`
	Plain            bool     `msgpack:"pln,omitempty"`
	ContextIDs       []string `msgpack:"ctx,omitempty"`

	// Host pins the token to one tenant host. Empty accepts any host.
	Host string `msgpack:"hst,omitempty"`

	// ExpiresAt is a unix time in seconds. Zero never expires.
	ExpiresAt int64 `msgpack:"exp,omitempty"`
}

// Signer signs and verifies tokens with one HMAC key.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner creates a signer. key must be at least MinKeyLength bytes.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrShortKey, len(key), MinKeyLength)
	}
	return &Signer{key: append([]byte(nil), key...), now: time.Now}, nil
}

func (s *Signer) mac(data []byte) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write(data)
	return m.Sum(nil)
}

// Sign encodes and signs c.
func (s *Signer) Sign(c Claims) (string, error) {
	if c.SessionID == "" {
		return "", errors.New("token: session id is required")
	}
	body, err := msgpack.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("token: encode claims: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(body) + "." + enc.EncodeToString(s.mac(body)), nil
}

// Verify checks the signature and expiry of tok and returns its claims.
func (s *Signer) Verify(tok string) (Claims, error) {
	bodyPart, sigPart, ok := strings.Cut(tok, ".")
	if !ok {
		return Claims{}, ErrMalformed
	}
	enc := base64.RawURLEncoding
	body, err := enc.DecodeString(bodyPart)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	if !hmac.Equal(sig, s.mac(body)) {
		return Claims{}, ErrBadSignature
	}

	var c Claims
	if err := msgpack.Unmarshal(body, &c); err != nil || c.SessionID == "" {
		return Claims{}, ErrMalformed
	}
	if c.ExpiresAt != 0 && s.now().Unix() >= c.ExpiresAt {
		return Claims{}, ErrExpired
	}
	return c, nil
}

// SessionSecret derives the frame secret of a session.
func (s *Signer) SessionSecret(sessionID string) []byte {
	return s.mac([]byte("session-secret\x00" + sessionID))
}
