// Package config defines the server configuration structure.
package config

import (
	"net/url"
	"strings"
)

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	if sanitized.Broker.BrokerURI != "" {
		sanitized.Broker.BrokerURI = maskURI(sanitized.Broker.BrokerURI)
	}
	if sanitized.Auth.TokenKey != "" {
		sanitized.Auth.TokenKey = maskSecret(sanitized.Auth.TokenKey)
	}
	return &sanitized
}

// maskURI hides the password of a URL, or the whole value when it does not
// parse.
func maskURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return maskSecret(raw)
	}
	return u.Redacted()
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
