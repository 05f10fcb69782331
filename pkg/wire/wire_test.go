package wire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestID_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   ID
		want string
	}{
		{"int", IntID(7), "7"},
		{"zero", IntID(0), "0"},
		{"negative", IntID(-3), "-3"},
		{"string", StringID("abc-123"), `"abc-123"`},
		{"numeric string stays string", StringID("7"), `"7"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := json.Marshal(tt.id)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("marshal = %s, want %s", data, tt.want)
			}

			var back ID
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back != tt.id {
				t.Errorf("round trip = %#v, want %#v", back, tt.id)
			}
		})
	}
}

func TestID_UnmarshalRejectsOtherTypes(t *testing.T) {
	t.Parallel()

	for _, data := range []string{"1.5", "true", "null", "[1]", "{}"} {
		var id ID
		if err := json.Unmarshal([]byte(data), &id); err == nil {
			t.Errorf("unmarshal %s: expected error", data)
		}
	}
}

func TestMessage_Kinds(t *testing.T) {
	t.Parallel()

	req := NewRequest(IntID(1), MethodPing, nil)
	if !req.IsRequest() || req.IsNotification() || req.IsResponse() {
		t.Error("request misclassified")
	}

	note := NewNotification(MethodPing, nil)
	if !note.IsNotification() || note.IsRequest() || note.IsResponse() {
		t.Error("notification misclassified")
	}

	resp, err := NewResponse(IntID(1), map[string]any{})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if !resp.IsResponse() || resp.IsRequest() || resp.IsNotification() {
		t.Error("response misclassified")
	}
}

func TestDecode_Valid(t *testing.T) {
	t.Parallel()

	data := []byte(`{"jsonrpc":"2.0","id":42,"method":"tools/call","params":{"name":"echo"}}`)
	m, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Method != MethodCallTool {
		t.Errorf("method = %q, want %q", m.Method, MethodCallTool)
	}
	if m.ID == nil || m.ID.String() != "42" {
		t.Errorf("id = %v, want 42", m.ID)
	}
	if m.Params["name"] != "echo" {
		t.Errorf("params = %v", m.Params)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     string
		wantCode int
	}{
		{"not json", `{"jsonrpc":`, CodeParse},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{"missing version", `{"id":1,"method":"ping"}`, CodeInvalidRequest},
		{"result and error", `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":-32603,"message":"x"}}`, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			var rpcErr *Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("error is %T, want *Error", err)
			}
			if rpcErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rpcErr.Code, tt.wantCode)
			}
		})
	}
}

func TestEncodeDecode_PreservesIDForm(t *testing.T) {
	t.Parallel()

	req := NewRequest(StringID("req-1"), MethodListTools, map[string]any{})
	data, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *back.ID != StringID("req-1") {
		t.Errorf("id = %#v, want string form", *back.ID)
	}
}

func TestUnmarshalResult(t *testing.T) {
	t.Parallel()

	resp, err := NewResponse(IntID(1), map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	var out map[string]any
	if err := resp.UnmarshalResult(&out); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if out["ok"] != true {
		t.Errorf("result = %v", out)
	}

	errResp := NewErrorResponse(IntID(2), MethodNotFound("nope"))
	var ignored map[string]any
	err = errResp.UnmarshalResult(&ignored)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error is %T, want *Error", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestErrorConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		code int
	}{
		{"method not found", MethodNotFound("x"), CodeMethodNotFound},
		{"invalid params", InvalidParams("bad"), CodeInvalidParams},
		{"internal", Internal(errors.New("boom")), CodeInternal},
		{"connection lost", ConnectionLost("gone"), CodeConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.err.Code != tt.code {
				t.Errorf("code = %d, want %d", tt.err.Code, tt.code)
			}
			if tt.err.Error() == "" {
				t.Error("empty error string")
			}
		})
	}
}

func TestCallToolResult_Text(t *testing.T) {
	t.Parallel()

	r := CallToolResult{Content: []Content{
		TextContent("hello "),
		{Type: "image", Text: "ignored"},
		TextContent("world"),
	}}
	if got := r.Text(); got != "hello world" {
		t.Errorf("Text() = %q", got)
	}
}
