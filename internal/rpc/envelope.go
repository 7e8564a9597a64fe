// Package rpc implements the correlated request/response protocol.
package rpc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Channel tags carried by every envelope.
const (
	ChannelRequest      = "request"
	ChannelResponse     = "response"
	ChannelRequestVoid  = "request_void"
	ChannelRequestBatch = "request-batch"
)

// VoidID is the id carried by calls that expect no reply.
const VoidID uint64 = 0

// ChannelEnvelope is the outer wrapper of every message crossing a process
// boundary or the pub/sub transport.
type ChannelEnvelope struct {
	Channel string             `msgpack:"channel"`
	Data    msgpack.RawMessage `msgpack:"data"`
}

// Request is a call envelope.
type Request struct {
	ID     uint64             `msgpack:"id"`
	Method string             `msgpack:"method"`
	Params msgpack.RawMessage `msgpack:"params"`
}

// Response is a reply envelope. Exactly one of Result or Error is set.
type Response struct {
	ID     uint64             `msgpack:"id"`
	Result msgpack.RawMessage `msgpack:"result,omitempty"`
	Error  *string            `msgpack:"error,omitempty"`
}

// IsError reports whether the response carries an error.
func (r Response) IsError() bool {
	return r.Error != nil
}

// nilValue is the msgpack encoding of nil. Successful responses always carry
// a result key, even for handlers that return nothing.
var nilValue = msgpack.RawMessage{0xc0}

// NewRequest builds a request with params encoded as msgpack.
func NewRequest(id uint64, method string, params any) (Request, error) {
	raw, err := msgpack.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("encode params for %s: %w", method, err)
	}
	return Request{ID: id, Method: method, Params: raw}, nil
}

// SuccessResponse builds a result response.
func SuccessResponse(id uint64, result msgpack.RawMessage) Response {
	if len(result) == 0 {
		result = nilValue
	}
	return Response{ID: id, Result: result}
}

// ErrorResponse builds an error response.
func ErrorResponse(id uint64, message string) Response {
	return Response{ID: id, Error: &message}
}

// Wrap encodes v and tags it with channel.
func Wrap(channel string, v any) (ChannelEnvelope, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return ChannelEnvelope{}, fmt.Errorf("encode %s envelope: %w", channel, err)
	}
	return ChannelEnvelope{Channel: channel, Data: raw}, nil
}

// DecodeRequest decodes and validates a request body.
//
// A request missing any of id, method or params is malformed.
func DecodeRequest(data []byte) (Request, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return Request{}, err
	}

	rawID, hasID := fields["id"]
	rawMethod, hasMethod := fields["method"]
	params, hasParams := fields["params"]
	if !hasID || !hasMethod || !hasParams {
		return Request{}, fmt.Errorf("%w: request requires id, method and params", ErrMalformed)
	}

	var req Request
	if err := msgpack.Unmarshal(rawID, &req.ID); err != nil {
		return Request{}, fmt.Errorf("%w: request id: %v", ErrMalformed, err)
	}
	if err := msgpack.Unmarshal(rawMethod, &req.Method); err != nil || req.Method == "" {
		return Request{}, fmt.Errorf("%w: request method must be a non-empty string", ErrMalformed)
	}
	if len(params) == 0 {
		params = nilValue
	}
	req.Params = params
	return req, nil
}

// DecodeResponse decodes and validates a response body.
//
// A response must carry an id and exactly one of result or error.
func DecodeResponse(data []byte) (Response, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return Response{}, err
	}

	rawID, hasID := fields["id"]
	result, hasResult := fields["result"]
	rawErr, hasError := fields["error"]
	if !hasID {
		return Response{}, fmt.Errorf("%w: response without id", ErrMalformed)
	}
	if hasResult == hasError {
		return Response{}, fmt.Errorf("%w: response needs exactly one of result or error", ErrMalformed)
	}

	var resp Response
	if err := msgpack.Unmarshal(rawID, &resp.ID); err != nil {
		return Response{}, fmt.Errorf("%w: response id: %v", ErrMalformed, err)
	}
	if hasError {
		var message string
		if len(rawErr) > 0 {
			if err := msgpack.Unmarshal(rawErr, &message); err != nil {
				return Response{}, fmt.Errorf("%w: response error: %v", ErrMalformed, err)
			}
		}
		resp.Error = &message
		return resp, nil
	}
	if len(result) == 0 {
		result = nilValue
	}
	resp.Result = result
	return resp, nil
}

// DecodeBatch decodes the ordered list of void envelopes in a request-batch.
func DecodeBatch(data []byte) ([]ChannelEnvelope, error) {
	var batch []ChannelEnvelope
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("%w: request batch: %v", ErrMalformed, err)
	}
	return batch, nil
}

func decodeFields(data []byte) (map[string]msgpack.RawMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	var fields map[string]msgpack.RawMessage
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: body is not a map", ErrMalformed)
	}
	return fields, nil
}

// DecodeResult decodes a response result into out. A nil out discards it.
func DecodeResult(result msgpack.RawMessage, out any) error {
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
