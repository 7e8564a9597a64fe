// Package config provides server configuration for relaymesh.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (ranges, modes, addresses)
//   - sanitize.go: Log sanitization (hide broker credentials)
//   - convert.go: Mapping onto component configurations
//
// Configuration is loaded via internal/infra/confloader and supports
// files and RELAYMESH_ environment variables.
package config
