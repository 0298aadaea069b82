package jsonrpc

import "encoding/json"

// wireMessage is the shape every outbound envelope marshals through; the
// zero-value fields are dropped via omitempty so a Response never carries
// an "error" key and vice versa.
type wireMessage struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method,omitempty"`
	Params  any    `json:"params,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Encode serializes a Message (or a BatchResponse) to its wire form.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Request:
		return json.Marshal(wireMessage{JSONRPC: Version, ID: m.ID, Method: m.Method, Params: rawOrNil(m.Params)})
	case Notification:
		return json.Marshal(wireMessage{JSONRPC: Version, Method: m.Method, Params: rawOrNil(m.Params)})
	case Response:
		return json.Marshal(wireMessage{JSONRPC: Version, ID: m.ID, Result: nonNil(m.Result)})
	case ErrorResponse:
		return json.Marshal(wireMessage{JSONRPC: Version, ID: m.ID, Error: m.Error})
	case BatchRequest:
		return encodeBatch([]Message(m))
	case BatchResponse:
		return encodeBatch([]Message(m))
	default:
		return nil, NewMcpError(CodeInternalError, "unknown message type").toStdError()
	}
}

func encodeBatch(msgs []Message) ([]byte, error) {
	parts := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		b, err := Encode(m)
		if err != nil {
			return nil, err
		}
		parts = append(parts, b)
	}
	return json.Marshal(parts)
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// nonNil ensures a success Result always serializes as an object, never a
// bare Go nil which would marshal as JSON null and violate the spec's
// "result is present and non-null on success" invariant.
func nonNil(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

func (e *McpError) toStdError() error { return e }

// NewResponse builds a success Response envelope.
func NewResponse(id any, result any) Response {
	return Response{ID: id, Result: nonNil(result)}
}

// NewErrorResponse builds an ErrorResponse envelope from an *Error.
func NewErrorResponse(id any, err *Error) ErrorResponse {
	return ErrorResponse{ID: id, Error: err}
}

// NewErrorFromMcp converts an *McpError (the internal error currency used
// by the dispatcher and handlers) into a wire *Error.
func NewErrorFromMcp(err *McpError) *Error {
	return &Error{Code: err.Code, Message: err.Message, Data: err.Data}
}

// AsMcpError unwraps a plain error into an *McpError, defaulting to
// CodeInternalError when the error carries no JSON-RPC code of its own.
func AsMcpError(err error) *McpError {
	if err == nil {
		return nil
	}
	if me, ok := err.(*McpError); ok {
		return me
	}
	return &McpError{Code: CodeInternalError, Message: err.Error()}
}
