package toolrpc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/halcyonhq/halcyon/pkg/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer("test-module", "0.1.0")
	err := s.AddTool(Tool{
		Tool: wire.Tool{
			Name:        "echo",
			Description: "echoes its input",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []any{"text"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "echo: " + args["text"].(string), nil
		},
	})
	if err != nil {
		t.Fatalf("AddTool echo: %v", err)
	}

	err = s.AddTool(Tool{
		Tool: wire.Tool{Name: "stats", InputSchema: map[string]any{"type": "object"}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"calls": 3}, nil
		},
	})
	if err != nil {
		t.Fatalf("AddTool stats: %v", err)
	}

	err = s.AddTool(Tool{
		Tool: wire.Tool{Name: "fail"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("backend unavailable")
		},
	})
	if err != nil {
		t.Fatalf("AddTool fail: %v", err)
	}

	err = s.AddTool(Tool{
		Tool: wire.Tool{Name: "panic"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			panic("boom")
		},
	})
	if err != nil {
		t.Fatalf("AddTool panic: %v", err)
	}

	return s
}

func handleReq(t *testing.T, s *Server, id int64, method string, params map[string]any) *wire.Message {
	t.Helper()
	reply := s.Handle(context.Background(), wire.NewRequest(wire.IntID(id), method, params))
	if reply == nil {
		t.Fatalf("%s: no reply", method)
	}
	if reply.ID == nil || *reply.ID != wire.IntID(id) {
		t.Fatalf("%s: reply id = %v, want %d", method, reply.ID, id)
	}
	return reply
}

func wantErrCode(t *testing.T, reply *wire.Message, code int) *wire.Error {
	t.Helper()
	if reply.Error == nil {
		t.Fatalf("expected error response, got result %s", reply.Result)
	}
	if reply.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", reply.Error.Code, reply.Error.Message, code)
	}
	return reply.Error
}

func TestServer_Initialize(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	reply := handleReq(t, s, 1, wire.MethodInitialize, map[string]any{
		"protocolVersion": wire.ProtocolVersion,
		"clientInfo":      map[string]any{"name": "orchestrator"},
	})

	var result wire.InitializeResult
	if err := reply.UnmarshalResult(&result); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if result.ProtocolVersion != wire.ProtocolVersion {
		t.Errorf("protocolVersion = %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "test-module" {
		t.Errorf("serverInfo.name = %q", result.ServerInfo.Name)
	}
	if _, ok := result.Capabilities["tools"]; !ok {
		t.Error("missing tools capability")
	}
}

func TestServer_ListToolsSorted(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	reply := handleReq(t, s, 1, wire.MethodListTools, nil)

	var result wire.ListToolsResult
	if err := reply.UnmarshalResult(&result); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if len(result.Tools) != 4 {
		t.Fatalf("tools = %d, want 4", len(result.Tools))
	}
	for i := 1; i < len(result.Tools); i++ {
		if result.Tools[i-1].Name >= result.Tools[i].Name {
			t.Errorf("tools not sorted: %q before %q", result.Tools[i-1].Name, result.Tools[i].Name)
		}
	}
}

func TestServer_CallTool(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	reply := handleReq(t, s, 1, wire.MethodCallTool, map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"text": "hi"},
	})

	var result wire.CallToolResult
	if err := reply.UnmarshalResult(&result); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if got := result.Text(); got != "echo: hi" {
		t.Errorf("text = %q, want %q", got, "echo: hi")
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Errorf("content = %+v, want single text item", result.Content)
	}
}

func TestServer_CallToolStringifiesJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	reply := handleReq(t, s, 1, wire.MethodCallTool, map[string]any{"name": "stats"})

	var result wire.CallToolResult
	if err := reply.UnmarshalResult(&result); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if got := result.Text(); got != `{"calls":3}` {
		t.Errorf("text = %q", got)
	}
}

func TestServer_CallToolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		params   map[string]any
		wantCode int
		wantMsg  string
	}{
		{
			"unknown tool",
			map[string]any{"name": "nope"},
			wire.CodeInvalidParams, "unknown tool",
		},
		{
			"missing name",
			map[string]any{"arguments": map[string]any{}},
			wire.CodeInvalidParams, "missing tool name",
		},
		{
			"arguments not an object",
			map[string]any{"name": "echo", "arguments": "text"},
			wire.CodeInvalidParams, "must be an object",
		},
		{
			"missing required argument",
			map[string]any{"name": "echo", "arguments": map[string]any{}},
			wire.CodeInvalidParams, "schema",
		},
		{
			"wrong argument type",
			map[string]any{"name": "echo", "arguments": map[string]any{"text": 5}},
			wire.CodeInvalidParams, "schema",
		},
		{
			"handler error",
			map[string]any{"name": "fail"},
			wire.CodeInternal, "backend unavailable",
		},
		{
			"handler panic",
			map[string]any{"name": "panic"},
			wire.CodeInternal, "panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t)
			reply := handleReq(t, s, 1, wire.MethodCallTool, tt.params)
			rpcErr := wantErrCode(t, reply, tt.wantCode)
			if !strings.Contains(rpcErr.Message, tt.wantMsg) {
				t.Errorf("message %q does not contain %q", rpcErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestServer_MethodNotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	reply := handleReq(t, s, 1, "tools/destroy", nil)
	wantErrCode(t, reply, wire.CodeMethodNotFound)
}

func TestServer_Ping(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	reply := handleReq(t, s, 1, wire.MethodPing, nil)
	if reply.Error != nil {
		t.Fatalf("ping error: %v", reply.Error)
	}
}

func TestServer_NotificationGetsNoReply(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	reply := s.Handle(context.Background(), wire.NewNotification(wire.MethodPing, nil))
	if reply != nil {
		t.Errorf("notification reply = %v, want nil", reply)
	}
}

func TestServer_MethodlessFrameIsDropped(t *testing.T) {
	t.Parallel()

	// Parseable frames that are neither request, notification, nor response
	// must be dropped without a reply: there is no method to dispatch and no
	// id to answer on. JSON-RPC permits the id-less error form.
	s := newTestServer(t)
	for _, raw := range []string{
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","error":{"code":-32603,"message":"upstream failed"}}`,
	} {
		m, err := wire.Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode %s: %v", raw, err)
		}
		if reply := s.Handle(context.Background(), m); reply != nil {
			t.Errorf("Handle(%s) = %+v, want nil", raw, reply)
		}
	}
}

func TestServer_Resources(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	err := s.AddResource(Resource{
		Resource: wire.Resource{URI: "halcyon://status", Name: "status"},
		Read: func(ctx context.Context) (string, error) {
			return "all good", nil
		},
	})
	if err != nil {
		t.Fatalf("AddResource: %v", err)
	}

	reply := handleReq(t, s, 1, wire.MethodListResources, nil)
	var list wire.ListResourcesResult
	if err := reply.UnmarshalResult(&list); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if len(list.Resources) != 1 || list.Resources[0].URI != "halcyon://status" {
		t.Errorf("resources = %+v", list.Resources)
	}

	reply = handleReq(t, s, 2, wire.MethodReadResource, map[string]any{"uri": "halcyon://status"})
	var read wire.ReadResourceResult
	if err := reply.UnmarshalResult(&read); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if len(read.Contents) != 1 || read.Contents[0].Text != "all good" {
		t.Errorf("contents = %+v", read.Contents)
	}

	reply = handleReq(t, s, 3, wire.MethodReadResource, map[string]any{"uri": "halcyon://missing"})
	wantErrCode(t, reply, wire.CodeInvalidParams)
}

func TestServer_Prompts(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	err := s.AddPrompt(Prompt{
		Prompt: wire.Prompt{Name: "greeting", Description: "greets the user"},
		Text:   "Hello, {name}!",
	})
	if err != nil {
		t.Fatalf("AddPrompt: %v", err)
	}

	reply := handleReq(t, s, 1, wire.MethodGetPrompt, map[string]any{"name": "greeting"})
	var got wire.GetPromptResult
	if err := reply.UnmarshalResult(&got); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Text != "Hello, {name}!" {
		t.Errorf("messages = %+v", got.Messages)
	}

	reply = handleReq(t, s, 2, wire.MethodGetPrompt, map[string]any{"name": "missing"})
	wantErrCode(t, reply, wire.CodeInvalidParams)
}

func TestServer_DuplicateRegistrations(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	err := s.AddTool(Tool{
		Tool:    wire.Tool{Name: "echo"},
		Handler: func(ctx context.Context, args map[string]any) (any, error) { return nil, nil },
	})
	if err == nil {
		t.Error("expected duplicate tool registration to fail")
	}
	if err := s.AddTool(Tool{Tool: wire.Tool{Name: "nohandler"}}); err == nil {
		t.Error("expected handlerless tool registration to fail")
	}
}

func TestServer_ServeStopsOnShutdown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	serverEnd, clientEnd := newPipe()

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), serverEnd) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := clientEnd.Send(ctx, wire.NewRequest(wire.IntID(1), wire.MethodShutdown, nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := clientEnd.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if reply.Error != nil {
		t.Fatalf("shutdown error: %v", reply.Error)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after shutdown")
	}
}

func TestServer_ServeStopsOnTransportClose(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	serverEnd, clientEnd := newPipe()

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), serverEnd) }()

	clientEnd.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after transport close")
	}
}
