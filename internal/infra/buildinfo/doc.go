// Package buildinfo reports the version of the running binary.
//
//   - Version: Semantic version (e.g., "1.0.0"), set via ldflags
//   - Commit: Git commit hash, from ldflags or the embedded VCS stamp
//   - BuildTime: Build timestamp, from ldflags or the VCS commit time
//   - GoVersion: Go runtime version
package buildinfo
