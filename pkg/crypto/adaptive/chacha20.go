package adaptive

import (
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

var errChaChaKey = errors.New("adaptive: ChaCha20-Poly1305 key must be 32 bytes")

// NewChaCha20 creates a ChaCha20-Poly1305 cipher with a 12-byte nonce.
func NewChaCha20(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errChaChaKey
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{typ: CipherChaCha20, aead: aead}, nil
}

// NewXChaCha20 creates an XChaCha20-Poly1305 cipher. Its 24-byte nonce makes
// random nonces safe for long-lived session keys.
func NewXChaCha20(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errChaChaKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{typ: CipherXChaCha20, aead: aead}, nil
}
