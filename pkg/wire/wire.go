// Package wire defines the JSON-RPC 2.0 dialect spoken between the Halcyon
// orchestrator and its tool modules.
//
// Every exchange is a single [Message]: a request (Method + ID), a
// notification (Method, no ID), or a response (ID + Result or Error). The
// standard method names understood by every module are exported as Method*
// constants. Error codes follow JSON-RPC 2.0 with one extension:
// [CodeConnectionLost] (-32000) signals that the transport went away and the
// caller may reconnect.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC protocol version carried in every message.
const Version = "2.0"

// ProtocolVersion is the Halcyon tool-RPC revision exchanged during
// initialize. Servers answer with their own revision; clients currently
// accept any.
const ProtocolVersion = "1.0"

// Standard method names.
const (
	MethodInitialize    = "initialize"
	MethodListTools     = "tools/list"
	MethodCallTool      = "tools/call"
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"
	MethodListPrompts   = "prompts/list"
	MethodGetPrompt     = "prompts/get"
	MethodPing          = "ping"
	MethodShutdown      = "shutdown"
)

// ID is a JSON-RPC correlation id. The protocol allows either a string or an
// integer; Halcyon clients allocate integers, but servers must echo whatever
// form the caller used.
type ID struct {
	str   string
	num   int64
	isStr bool
}

// IntID returns an integer-form ID.
func IntID(n int64) ID { return ID{num: n} }

// StringID returns a string-form ID.
func StringID(s string) ID { return ID{str: s, isStr: true} }

// String renders the id for logging and for keying pending-request tables.
// Integer and string forms never collide ("7" marshals differently from 7,
// but a single client only ever allocates one form).
func (id ID) String() string {
	if id.isStr {
		return id.str
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON encodes the id in its original form.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

// UnmarshalJSON accepts string or integer ids per the JSON-RPC grammar.
// A null id is rejected: unmarshalling null into an int64 is a no-op, which
// would silently turn it into id 0.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return fmt.Errorf("wire: id must be a string or an integer, not null")
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID{str: s, isStr: true}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("wire: id must be a string or an integer: %w", err)
	}
	*id = ID{num: n}
	return nil
}

// Message is the JSON-RPC envelope. Exactly one of Method, Result, or Error
// is meaningful for a given direction: requests and notifications carry
// Method (+Params), responses carry Result or Error but never both.
type Message struct {
	Version string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewRequest builds a request message.
func NewRequest(id ID, method string, params map[string]any) *Message {
	return &Message{Version: Version, ID: &id, Method: method, Params: params}
}

// NewNotification builds a notification (a request without an id; no
// response is expected).
func NewNotification(method string, params map[string]any) *Message {
	return &Message{Version: Version, Method: method, Params: params}
}

// NewResponse builds a success response. result is marshalled immediately so
// encoding errors surface at the call site rather than mid-transport.
func NewResponse(id ID, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal result: %w", err)
	}
	return &Message{Version: Version, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id ID, rpcErr *Error) *Message {
	return &Message{Version: Version, ID: &id, Error: rpcErr}
}

// IsRequest reports whether m is a request expecting a response.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether m is a fire-and-forget notification.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse reports whether m answers an earlier request.
func (m *Message) IsResponse() bool { return m.Method == "" && m.ID != nil }

// UnmarshalResult decodes the response result into v. Returns the wrapped
// *Error when the message is an error response.
func (m *Message) UnmarshalResult(v any) error {
	if m.Error != nil {
		return m.Error
	}
	if len(m.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Result, v); err != nil {
		return fmt.Errorf("wire: decode result: %w", err)
	}
	return nil
}

// Encode serializes m to a single JSON frame.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return data, nil
}

// Decode parses one JSON frame into a Message and checks the envelope
// invariants: the version marker must be "2.0" and a response may not carry
// both result and error.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &Error{Code: CodeParse, Message: "parse error: " + err.Error()}
	}
	if m.Version != Version {
		return nil, &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", m.Version)}
	}
	if len(m.Result) > 0 && m.Error != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: "message carries both result and error"}
	}
	return &m, nil
}
