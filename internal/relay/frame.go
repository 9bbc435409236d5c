package relay

import (
	"bytes"
	"encoding/json"
	"strings"
)

// JSON-RPC 2.0 error codes used on the relay boundary. The first three match
// what the WASM peer plugin reports; the -320xx range is relay-local.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603
	CodeNoSession      = -32001
	CodeTimeout        = -32002
)

// WatchSuffix marks BRP methods that produce a stream of replies
// (e.g. "bevy/get+watch") instead of a single result.
const WatchSuffix = "+watch"

// Request is the JSON-RPC envelope forwarded from an HTTP caller to the
// remote peer. Params stay opaque; only id and method are inspected.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Reply is the JSON-RPC envelope the remote peer sends back. Correlation is
// purely by equality of the id field.
type Reply struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsWatch reports whether the request method selects watch (streaming)
// semantics. The peer plugin uses the same substring check.
func (r *Request) IsWatch() bool {
	return strings.Contains(r.Method, WatchSuffix)
}

// IDKey returns the correlation key for the request id.
func (r *Request) IDKey() string {
	return idKey(r.ID)
}

// IDKey returns the correlation key for the reply id.
func (r *Reply) IDKey() string {
	return idKey(r.ID)
}

// idKey normalizes a raw JSON id into a map key. Compacting keeps "1" and
// " 1" equal even when the peer re-serializes the id it echoes back.
func idKey(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isNullID(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// ParseRequest parses and validates an inbound call envelope. The relay
// requires a non-null id (there is no way to correlate a reply without one)
// and a method name.
func ParseRequest(data []byte) (*Request, error) {
	req := &Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, &MalformedFrameError{Code: CodeParseError, Reason: "invalid JSON", Err: err}
	}
	if req.Method == "" {
		return nil, &MalformedFrameError{Code: CodeInvalidRequest, Reason: "missing method field"}
	}
	if isNullID(req.ID) {
		return nil, &MalformedFrameError{Code: CodeInvalidRequest, Reason: "missing or null id field"}
	}
	return req, nil
}

// ParseReply parses an inbound frame from the duplex peer. Frames without a
// usable id cannot be routed and are treated as malformed.
func ParseReply(data []byte) (*Reply, error) {
	rep := &Reply{}
	if err := json.Unmarshal(data, rep); err != nil {
		return nil, &MalformedFrameError{Code: CodeParseError, Reason: "invalid JSON", Err: err}
	}
	if isNullID(rep.ID) {
		return nil, &MalformedFrameError{Code: CodeInvalidRequest, Reason: "missing or null id field"}
	}
	return rep, nil
}

// ErrorReply builds a reply envelope carrying a JSON-RPC error for the given
// id. Used both for relay-local failures and the synthetic session-lost reply.
func ErrorReply(id json.RawMessage, code int, message string) *Reply {
	return &Reply{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}
