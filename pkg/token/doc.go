// Package token issues and checks signed session tokens.
//
// A token is the base64url msgpack encoding of its Claims, a dot, and the
// base64url HMAC-SHA256 of that encoding. The same key derives the
// per-session frame secret, so any process holding the key can seal frames
// for a session without the secret ever travelling inside the token.
package token
