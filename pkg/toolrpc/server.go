// Package toolrpc implements the two endpoints of the Halcyon tool-RPC
// dialect: the module-side [Server], which registers named tools and
// dispatches incoming calls, and the orchestrator-side [Client], which owns
// one connection to one server and multiplexes concurrent requests over it
// with per-call timeouts, heartbeating, and automatic reconnection.
package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/halcyonhq/halcyon/pkg/transport"
	"github.com/halcyonhq/halcyon/pkg/wire"
)

// Handler executes one tool call. args has already been validated against
// the tool's input schema. The returned value is stringified into the first
// content item of the result: strings pass through verbatim, everything else
// is JSON-encoded.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool pairs an advertisable tool description with its implementation.
type Tool struct {
	wire.Tool
	Handler Handler
}

// Resource pairs a resource description with a reader invoked on
// resources/read.
type Resource struct {
	wire.Resource
	Read func(ctx context.Context) (string, error)
}

// Prompt pairs a prompt description with its template text.
type Prompt struct {
	wire.Prompt
	Text string
}

// Server is the module-side tool-RPC endpoint. Register tools before calling
// [Server.Serve]; registration is safe at any time, but tools added while a
// call is dispatching become visible only to subsequent calls.
type Server struct {
	info wire.Info

	mu          sync.RWMutex
	tools       map[string]Tool
	schemas     map[string]*compiledSchema
	resources   map[string]Resource
	prompts     map[string]Prompt
	initialized bool
	stopping    bool
}

// NewServer creates a Server that identifies itself with the given name and
// version during initialize.
func NewServer(name, version string) *Server {
	return &Server{
		info:      wire.Info{Name: name, Version: version},
		tools:     make(map[string]Tool),
		schemas:   make(map[string]*compiledSchema),
		resources: make(map[string]Resource),
		prompts:   make(map[string]Prompt),
	}
}

// AddTool registers t. The name must be unique within the server and the
// input schema must compile.
func (s *Server) AddTool(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("toolrpc: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("toolrpc: tool %q must have a handler", t.Name)
	}
	sch, err := compileSchema(t.InputSchema)
	if err != nil {
		return fmt.Errorf("toolrpc: tool %q schema: %w", t.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[t.Name]; ok {
		return fmt.Errorf("toolrpc: tool %q already registered", t.Name)
	}
	s.tools[t.Name] = t
	s.schemas[t.Name] = sch
	return nil
}

// AddResource registers r. URIs must be unique within the server.
func (s *Server) AddResource(r Resource) error {
	if r.URI == "" {
		return fmt.Errorf("toolrpc: resource must have a non-empty URI")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.URI]; ok {
		return fmt.Errorf("toolrpc: resource %q already registered", r.URI)
	}
	s.resources[r.URI] = r
	return nil
}

// AddPrompt registers p. Names must be unique within the server.
func (s *Server) AddPrompt(p Prompt) error {
	if p.Name == "" {
		return fmt.Errorf("toolrpc: prompt must have a non-empty name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[p.Name]; ok {
		return fmt.Errorf("toolrpc: prompt %q already registered", p.Name)
	}
	s.prompts[p.Name] = p
	return nil
}

// Serve reads messages from t and dispatches them until the transport
// closes, ctx is cancelled, or a shutdown request arrives. Messages are
// handled sequentially: one call runs to completion before the next frame is
// read. The transport is always closed on exit.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	defer t.Close()

	for {
		m, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			// Undecodable frame: answer with a parse error when possible,
			// then keep serving.
			var rpcErr *wire.Error
			if errors.As(err, &rpcErr) {
				_ = t.Send(ctx, wire.NewErrorResponse(wire.IntID(0), rpcErr))
				continue
			}
			return fmt.Errorf("toolrpc: receive: %w", err)
		}

		reply := s.Handle(ctx, m)
		if reply != nil {
			if err := t.Send(ctx, reply); err != nil {
				if errors.Is(err, transport.ErrClosed) {
					return nil
				}
				return fmt.Errorf("toolrpc: send reply: %w", err)
			}
		}

		s.mu.RLock()
		stopping := s.stopping
		s.mu.RUnlock()
		if stopping {
			return nil
		}
	}
}

// Handle dispatches a single message and returns the reply, or nil when m is
// a notification. Exported so HTTP-kind modules can mount the server behind
// a plain POST handler (one request body in, one response body out).
func (s *Server) Handle(ctx context.Context, m *wire.Message) *wire.Message {
	if m.IsResponse() {
		slog.Debug("toolrpc server: dropping unexpected response frame", "id", m.ID)
		return nil
	}
	if m.Method == "" {
		// Decodes fine but is neither request, notification, nor response
		// (JSON-RPC permits an id-less error frame). Nothing to dispatch
		// and no id to answer on.
		slog.Debug("toolrpc server: dropping frame with no method")
		return nil
	}

	var result any
	var rpcErr *wire.Error

	switch m.Method {
	case wire.MethodInitialize:
		result = s.handleInitialize()
	case wire.MethodListTools:
		result = s.handleListTools()
	case wire.MethodCallTool:
		result, rpcErr = s.handleCallTool(ctx, m.Params)
	case wire.MethodListResources:
		result = s.handleListResources()
	case wire.MethodReadResource:
		result, rpcErr = s.handleReadResource(ctx, m.Params)
	case wire.MethodListPrompts:
		result = s.handleListPrompts()
	case wire.MethodGetPrompt:
		result, rpcErr = s.handleGetPrompt(m.Params)
	case wire.MethodPing:
		result = map[string]any{}
	case wire.MethodShutdown:
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		result = map[string]any{}
	default:
		rpcErr = wire.MethodNotFound(m.Method)
	}

	if m.IsNotification() {
		return nil
	}

	if rpcErr != nil {
		return wire.NewErrorResponse(*m.ID, rpcErr)
	}
	reply, err := wire.NewResponse(*m.ID, result)
	if err != nil {
		return wire.NewErrorResponse(*m.ID, wire.Internal(err))
	}
	return reply
}

func (s *Server) handleInitialize() wire.InitializeResult {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	return wire.InitializeResult{
		ProtocolVersion: wire.ProtocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ServerInfo: s.info,
	}
}

func (s *Server) handleListTools() wire.ListToolsResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]wire.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, t.Tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return wire.ListToolsResult{Tools: tools}
}

func (s *Server) handleCallTool(ctx context.Context, params map[string]any) (result any, rpcErr *wire.Error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, wire.InvalidParams("missing tool name")
	}

	args := map[string]any{}
	switch v := params["arguments"].(type) {
	case nil:
	case map[string]any:
		args = v
	default:
		return nil, wire.InvalidParams("arguments must be an object")
	}

	s.mu.RLock()
	tool, ok := s.tools[name]
	sch := s.schemas[name]
	s.mu.RUnlock()

	if !ok {
		return nil, wire.InvalidParams(fmt.Sprintf("unknown tool: %s", name))
	}

	if err := sch.validate(args); err != nil {
		return nil, wire.InvalidParams(err.Error())
	}

	// A panicking handler must not take the serve loop down with it.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			rpcErr = wire.Internal(fmt.Errorf("tool %s panicked: %v", name, r))
		}
	}()

	out, err := tool.Handler(ctx, args)
	if err != nil {
		return nil, wire.Internal(err)
	}

	return wire.CallToolResult{
		Content: []wire.Content{wire.TextContent(stringify(out))},
	}, nil
}

func (s *Server) handleListResources() wire.ListResourcesResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]wire.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		resources = append(resources, r.Resource)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return wire.ListResourcesResult{Resources: resources}
}

func (s *Server) handleReadResource(ctx context.Context, params map[string]any) (any, *wire.Error) {
	uri, _ := params["uri"].(string)
	if uri == "" {
		return nil, wire.InvalidParams("missing resource uri")
	}

	s.mu.RLock()
	res, ok := s.resources[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, wire.InvalidParams(fmt.Sprintf("unknown resource: %s", uri))
	}

	var text string
	if res.Read != nil {
		var err error
		text, err = res.Read(ctx)
		if err != nil {
			return nil, wire.Internal(err)
		}
	}
	return wire.ReadResourceResult{Contents: []wire.Content{wire.TextContent(text)}}, nil
}

func (s *Server) handleListPrompts() wire.ListPromptsResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prompts := make([]wire.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		prompts = append(prompts, p.Prompt)
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return wire.ListPromptsResult{Prompts: prompts}
}

func (s *Server) handleGetPrompt(params map[string]any) (any, *wire.Error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, wire.InvalidParams("missing prompt name")
	}

	s.mu.RLock()
	p, ok := s.prompts[name]
	s.mu.RUnlock()
	if !ok {
		return nil, wire.InvalidParams(fmt.Sprintf("unknown prompt: %s", name))
	}

	return wire.GetPromptResult{
		Description: p.Description,
		Messages:    []wire.Content{wire.TextContent(p.Text)},
	}, nil
}

// stringify renders a handler return value for the text content item.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
