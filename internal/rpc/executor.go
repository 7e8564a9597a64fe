// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Outcome labels reported to an Observer.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeRemoteError = "remote_error"
	OutcomeTimeout     = "timeout"
	OutcomeClosed      = "closed"
	OutcomeUnknown     = "unknown_method"
)

// Observer receives protocol events, typically to update metrics.
type Observer interface {
	// CallCompleted is reported by the calling side.
	CallCompleted(method, outcome string, elapsed time.Duration)
	// RequestHandled is reported by the executing side.
	RequestHandled(method, outcome string, elapsed time.Duration)
	// EnvelopeDropped is reported for envelopes that were logged and dropped.
	EnvelopeDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) CallCompleted(string, string, time.Duration)  {}
func (nopObserver) RequestHandled(string, string, time.Duration) {}
func (nopObserver) EnvelopeDropped(string)                       {}

// Executor runs inbound requests against a registry. It never lets a handler
// failure escape: unknown methods, handler errors and panics all become
// error responses.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	observer Observer
}

// NewExecutor creates an executor bound to registry.
func NewExecutor(registry *Registry, logger *slog.Logger, observer Observer) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Executor{
		registry: registry,
		logger:   logger,
		observer: observer,
	}
}

// Execute runs req and returns the response to send back.
func (e *Executor) Execute(ctx context.Context, req Request) Response {
	start := time.Now()

	handler, ok := e.registry.Lookup(req.Method)
	if !ok {
		e.logger.Warn("call to unknown method",
			"method", req.Method,
			"id", req.ID)
		e.observer.RequestHandled(req.Method, OutcomeUnknown, time.Since(start))
		return ErrorResponse(req.ID, fmt.Sprintf("%v: %s", ErrUnknownMethod, req.Method))
	}

	result, err := e.invoke(ctx, handler, req)
	if err != nil {
		e.logger.Debug("handler failed",
			"method", req.Method,
			"id", req.ID,
			"error", err)
		e.observer.RequestHandled(req.Method, OutcomeError, time.Since(start))
		return ErrorResponse(req.ID, err.Error())
	}

	raw, err := msgpack.Marshal(result)
	if err != nil {
		e.logger.Error("failed to encode handler result",
			"method", req.Method,
			"id", req.ID,
			"error", err)
		e.observer.RequestHandled(req.Method, OutcomeError, time.Since(start))
		return ErrorResponse(req.ID, fmt.Sprintf("encode result: %v", err))
	}

	e.observer.RequestHandled(req.Method, OutcomeOK, time.Since(start))
	return SuccessResponse(req.ID, raw)
}

// ExecuteVoid runs a call that expects no reply. Failures are only logged.
func (e *Executor) ExecuteVoid(ctx context.Context, req Request) {
	resp := e.Execute(ctx, req)
	if resp.IsError() {
		e.logger.Warn("void call failed",
			"method", req.Method,
			"error", *resp.Error)
	}
}

// invoke calls handler and converts a panic into an error.
func (e *Executor) invoke(ctx context.Context, handler HandlerFunc, req Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic recovered in handler",
				"method", req.Method,
				"id", req.ID,
				"panic", r)
			result = nil
			err = fmt.Errorf("internal error in %s: %v", req.Method, r)
		}
	}()
	return handler(ctx, req.Params)
}
