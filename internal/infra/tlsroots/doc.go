// Package tlsroots loads TLS material for relaymesh.
//
// LoadPool builds the root pool a client uses to verify the redis broker.
// CertReloader serves the worker's certificate and swaps it when the cert
// or key file is rewritten, so renewed certificates apply without a
// restart.
package tlsroots
