// Package logger builds the process logger.
//
// It configures log/slog with a JSON or text handler, a level that can be
// changed at runtime, and redaction of sensitive attributes: values under
// keys that look like secrets, and passwords embedded in URLs.
//
// Components receive a *slog.Logger; this package only decides how that
// logger writes.
package logger
