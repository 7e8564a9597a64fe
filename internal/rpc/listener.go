// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"log/slog"
)

// Listener resolves pending slots from inbound response envelopes.
type Listener struct {
	pending  *PendingTable
	logger   *slog.Logger
	observer Observer
}

// NewListener creates a listener for table.
func NewListener(table *PendingTable, logger *slog.Logger, observer Observer) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Listener{
		pending:  table,
		logger:   logger,
		observer: observer,
	}
}

// HandleResponse decodes a response body and resolves its slot. Malformed
// responses and responses for unknown ids are logged and dropped.
func (l *Listener) HandleResponse(data []byte) {
	resp, err := DecodeResponse(data)
	if err != nil {
		l.logger.Warn("dropping malformed response", "error", err)
		l.observer.EnvelopeDropped("malformed_response")
		return
	}

	if !l.pending.Resolve(resp) {
		l.logger.Warn("dropping response for unknown call id", "id", resp.ID)
		l.observer.EnvelopeDropped("unknown_id")
	}
}
