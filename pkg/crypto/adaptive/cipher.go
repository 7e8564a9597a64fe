// Package adaptive seals notification frames with a per-session AEAD.
package adaptive

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/hkdf"
)

// CipherType identifies the AEAD algorithm.
type CipherType string

const (
	CipherAESGCM    CipherType = "aes-gcm"
	CipherChaCha20  CipherType = "chacha20-poly1305"
	CipherXChaCha20 CipherType = "xchacha20-poly1305"
)

// KeySize is the size of keys produced by DeriveKey.
const KeySize = 32

var (
	// ErrCiphertextTooShort is returned by Open for input shorter than a nonce.
	ErrCiphertextTooShort = errors.New("adaptive: ciphertext too short")

	// ErrUnknownCipher is returned for an unsupported CipherType.
	ErrUnknownCipher = errors.New("adaptive: unknown cipher type")
)

// Cipher seals and opens payloads. The random nonce is prepended to the
// sealed output. Implementations are safe for concurrent use.
type Cipher interface {
	Type() CipherType

	// Seal appends nonce||ciphertext||tag to dst.
	Seal(dst, plaintext, additionalData []byte) ([]byte, error)

	// Open reverses Seal.
	Open(sealed, additionalData []byte) ([]byte, error)

	// Overhead is the number of bytes Seal adds to a plaintext.
	Overhead() int
}

// New creates a cipher for key, preferring AES-GCM on platforms with AES
// hardware support.
func New(key []byte) (Cipher, error) {
	if hasAESHardware() {
		return NewAESGCM(key)
	}
	return NewChaCha20(key)
}

// NewWithType creates a cipher of the given type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch cipherType {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	case CipherXChaCha20:
		return NewXChaCha20(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCipher, cipherType)
	}
}

// DeriveKey stretches a session secret of any length into a KeySize key
// with HKDF-SHA256. info separates keys derived from the same secret.
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("adaptive: empty secret")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("adaptive: derive key: %w", err)
	}
	return key, nil
}

// hasAESHardware reports whether crypto/aes runs hardware accelerated.
func hasAESHardware() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return true
	default:
		return false
	}
}

type aeadCipher struct {
	typ  CipherType
	aead cipher.AEAD
}

func (c *aeadCipher) Type() CipherType { return c.typ }
func (c *aeadCipher) Overhead() int    { return c.aead.NonceSize() + c.aead.Overhead() }

func (c *aeadCipher) Seal(dst, plaintext, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	start := len(dst)
	if cap(dst)-start < ns+len(plaintext)+c.aead.Overhead() {
		grown := make([]byte, start, start+ns+len(plaintext)+c.aead.Overhead())
		copy(grown, dst)
		dst = grown
	}
	dst = dst[:start+ns]
	nonce := dst[start:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("adaptive: read nonce: %w", err)
	}
	return c.aead.Seal(dst, nonce, plaintext, additionalData), nil
}

func (c *aeadCipher) Open(sealed, additionalData []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrCiphertextTooShort
	}
	return c.aead.Open(nil, sealed[:ns], sealed[ns:], additionalData)
}
