// Package jrpc implements the subset of JSON-RPC 2.0 spoken by PX devices:
// numbered requests, success/error responses correlated by id, and unsolicited
// notifications (messages without an id). Batches are JSON arrays of requests
// answered by JSON arrays of responses in no particular order.
package jrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only protocol version the device accepts.
const Version = "2.0"

// ErrProtocol reports a frame that is not a structurally valid JSON-RPC
// message. Wrapped errors carry the detail.
var ErrProtocol = errors.New("invalid JSON-RPC message")

// Request is a client-to-device call. ID must be unique among the requests
// outstanding on one connection.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      uint64 `json:"id"`
}

// NewRequest fills in the protocol version.
func NewRequest(id uint64, method string, params any) Request {
	return Request{JSONRPC: Version, Method: method, Params: params, ID: id}
}

// Response is a device reply to a Request. Exactly one of Result and Error is
// present on the wire.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Err returns the device error, or nil for a success response.
func (r *Response) Err() error {
	if r.Error != nil {
		return r.Error
	}
	return nil
}

// Notification is an unsolicited device-to-client push, e.g. setup_changed or
// metrics_update. It carries no id and is never answered.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// SubscriptionID extracts the subscription id embedded in the notification
// params, if any.
func (n *Notification) SubscriptionID() string {
	var p struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := json.Unmarshal(n.Params, &p); err != nil {
		return ""
	}
	return p.SubscriptionID
}

// RPCError is the error object of an error response. The code and message are
// device-provided and surfaced to callers verbatim.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error [%d]: %s", e.Code, e.Message)
}

// Message is a classified inbound frame: either *Response or *Notification.
type Message interface {
	message()
}

func (*Response) message()     {}
func (*Notification) message() {}

// envelope mirrors every field a single JSON-RPC object can carry, with
// pointers and RawMessage so field presence survives decoding. "result":null
// decodes to the 4-byte RawMessage "null", distinct from an absent result.
type envelope struct {
	JSONRPC *string         `json:"jsonrpc"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Classify parses a single (non-batch) frame and decides what it is.
//
// The rules, in order: a message with a method and no id is a notification;
// a message with an id must carry either result or error and is a response;
// anything else is a protocol error.
func Classify(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if env.JSONRPC != nil && *env.JSONRPC != Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrProtocol, *env.JSONRPC)
	}

	if env.ID == nil {
		if env.Method == nil {
			return nil, fmt.Errorf("%w: missing method and id", ErrProtocol)
		}
		return &Notification{Method: *env.Method, Params: env.Params}, nil
	}

	if env.Method != nil {
		// Server-to-client requests are not part of the PX protocol.
		return nil, fmt.Errorf("%w: unexpected request from device (method %q)", ErrProtocol, *env.Method)
	}
	if env.Result == nil && env.Error == nil {
		return nil, fmt.Errorf("%w: response %d has neither result nor error", ErrProtocol, *env.ID)
	}
	return &Response{JSONRPC: Version, ID: *env.ID, Result: env.Result, Error: env.Error}, nil
}

// IsBatch reports whether the frame is a JSON array.
func IsBatch(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// EncodeBatch serializes requests as one JSON array frame.
func EncodeBatch(reqs []Request) ([]byte, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	return json.Marshal(reqs)
}

// DecodeBatch parses a batch response frame. A device answering a one-element
// batch with a bare object is tolerated and wrapped into a slice.
func DecodeBatch(raw []byte) ([]Response, error) {
	if IsBatch(raw) {
		var resps []Response
		if err := json.Unmarshal(raw, &resps); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return resps, nil
	}
	msg, err := Classify(raw)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*Response)
	if !ok {
		return nil, fmt.Errorf("%w: expected batch response, got notification", ErrProtocol)
	}
	return []Response{*resp}, nil
}
