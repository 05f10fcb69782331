package wire

import "fmt"

// JSON-RPC 2.0 error codes, plus the Halcyon connection-lost extension.
const (
	// CodeParse means the frame was not valid JSON.
	CodeParse = -32700

	// CodeInvalidRequest means the envelope violated the JSON-RPC grammar.
	CodeInvalidRequest = -32600

	// CodeMethodNotFound means the requested method is unknown to the server.
	CodeMethodNotFound = -32601

	// CodeInvalidParams means arguments were missing, malformed, or failed
	// schema validation.
	CodeInvalidParams = -32602

	// CodeInternal means a handler panicked or returned an unexpected error.
	CodeInternal = -32603

	// CodeConnectionLost means the transport closed underneath the exchange.
	// Clients treat this as recoverable and hand it to their reconnect path
	// rather than surfacing it as an application error.
	CodeConnectionLost = -32000
)

// Error is the JSON-RPC error object. It implements the error interface so
// it can travel unchanged from a server's handler table through the client
// back to the orchestrator.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// MethodNotFound builds a -32601 error for the named method.
func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

// InvalidParams builds a -32602 error with the given detail.
func InvalidParams(detail string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "invalid params: " + detail}
}

// Internal builds a -32603 error wrapping a handler failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// ConnectionLost builds a -32000 error with the given detail.
func ConnectionLost(detail string) *Error {
	return &Error{Code: CodeConnectionLost, Message: "connection lost: " + detail}
}
