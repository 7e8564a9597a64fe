// Package adaptive seals notification frames with a per-session AEAD.
//
// Supported algorithms:
//
//   - AES-GCM: preferred when the platform has AES hardware support
//   - ChaCha20-Poly1305: fallback for platforms without it
//   - XChaCha20-Poly1305: extended nonce variant
//
// Session secrets of arbitrary length are stretched with DeriveKey before a
// cipher is built from them.
//
// Usage:
//
//	key, err := adaptive.DeriveKey(secret, nil, "relaymesh frame")
//	c, err := adaptive.New(key)
//	frame, err = c.Seal(frame, payload, header)
package adaptive
