// Package orchestrator binds the engine room together: it takes a natural
// language command from a front-end, classifies it, routes it to the right
// tool service, and keeps the session's story straight across turns.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/halcyonhq/halcyon/internal/config"
	"github.com/halcyonhq/halcyon/internal/contextstore"
	"github.com/halcyonhq/halcyon/internal/nlp"
	"github.com/halcyonhq/halcyon/internal/observe"
	"github.com/halcyonhq/halcyon/internal/registry"
	"github.com/halcyonhq/halcyon/internal/resilience"
	"github.com/halcyonhq/halcyon/pkg/toolrpc"
	"github.com/halcyonhq/halcyon/pkg/wire"
)

// anonymousUser owns sessions created by requests that carry no user id.
const anonymousUser = "anonymous"

// ToolCaller is the slice of [toolrpc.Client] the router needs. Narrowed to
// an interface so tests can stand in for a live connection.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*wire.CallToolResult, error)
	State() toolrpc.State
	Close() error
}

// CommandRequest is the body of POST /api/command.
type CommandRequest struct {
	Text          string            `json:"text"`
	SessionID     string            `json:"session_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	InterfaceType string            `json:"interface_type,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

// CommandResponse is the envelope every command gets back, success or not.
// Downstream failures are reported inside Response; the HTTP status stays 200.
type CommandResponse struct {
	Response     string            `json:"response"`
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	ContextUsed  bool              `json:"context_used"`
	Alternatives []nlp.Alternative `json:"alternatives,omitempty"`
	SessionID    string            `json:"session_id,omitempty"`
}

// Orchestrator owns the registry, the context store, the NLP engine, and one
// tool client per rpc-kind service.
type Orchestrator struct {
	cfg     *config.Config
	store   contextstore.Store
	reg     *registry.Registry
	engine  *nlp.Engine
	metrics *observe.Metrics
	log     *slog.Logger
	httpc   *http.Client

	// breakers shield each service's dispatch path. A service that keeps
	// failing gets rejected fast instead of eating the call timeout.
	breakers *resilience.Set

	mu      sync.RWMutex
	clients map[string]ToolCaller
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default with a component attr.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithHTTPClient sets the client used for http-kind service calls and health
// probes. Mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.httpc = c }
}

// New creates an orchestrator over the given collaborators. Tool clients for
// rpc-kind services are attached afterwards with [Orchestrator.SetClient].
func New(cfg *config.Config, store contextstore.Store, reg *registry.Registry, engine *nlp.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		store:   store,
		reg:     reg,
		engine:  engine,
		clients: make(map[string]ToolCaller),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default().With("component", "orchestrator")
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.httpc == nil {
		o.httpc = &http.Client{}
	}
	o.breakers = resilience.NewSet(resilience.Config{}, o.log)
	return o
}

// SetClient attaches the tool client that serves the named rpc service.
func (o *Orchestrator) SetClient(service string, c ToolCaller) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clients[service] = c
}

// client returns the tool client for the named service, if any.
func (o *Orchestrator) client(service string) (ToolCaller, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.clients[service]
	return c, ok
}

// Close shuts down every attached tool client. Errors are joined.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	for name, c := range o.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(o.clients, name)
	}
	return errors.Join(errs...)
}

// ProcessCommand runs the full pipeline for one utterance: session lookup,
// classification, routing, dispatch, and history bookkeeping.
func (o *Orchestrator) ProcessCommand(ctx context.Context, req CommandRequest) CommandResponse {
	start := time.Now()

	sess := o.resolveSession(ctx, &req)
	hint := o.buildHint(ctx, &req, sess)

	res := o.engine.Parse(req.Text, hint)
	out := o.route(ctx, res, sess)

	o.finishTurn(ctx, &req, sess, out)

	status := "ok"
	if out.failed {
		status = "error"
	}
	o.metrics.RecordCommand(ctx, out.result.Intent, status)
	o.metrics.CommandDuration.Record(ctx, time.Since(start).Seconds())

	resp := CommandResponse{
		Response:     out.response,
		Intent:       out.result.Intent,
		Confidence:   out.result.Confidence,
		ContextUsed:  out.result.ContextUsed,
		Alternatives: out.result.Alternatives,
	}
	if sess != nil {
		resp.SessionID = sess.SessionID
	}
	return resp
}

// resolveSession loads the request's session, or creates one so the caller
// can keep the conversation going. A lookup miss (expired id) also creates a
// fresh session rather than failing the command.
func (o *Orchestrator) resolveSession(ctx context.Context, req *CommandRequest) *contextstore.SessionContext {
	if req.SessionID != "" {
		sess, err := o.store.GetSession(ctx, req.SessionID)
		if err == nil {
			return sess
		}
		if !errors.Is(err, contextstore.ErrNotFound) {
			o.log.Error("session lookup failed", "session_id", req.SessionID, "err", err)
			return nil
		}
	}

	userID := req.UserID
	if userID == "" {
		userID = anonymousUser
	}
	ifType := req.InterfaceType
	if ifType == "" {
		ifType = contextstore.InterfaceText
	}

	sess, err := o.store.CreateSession(ctx, userID, ifType)
	if err != nil {
		o.log.Error("session create failed", "user_id", userID, "err", err)
		return nil
	}
	o.metrics.ActiveSessions.Add(ctx, 1)
	return sess
}

// buildHint assembles the scorer's context slice from the session, the user
// record, and any per-request context the front-end sent along.
func (o *Orchestrator) buildHint(ctx context.Context, req *CommandRequest, sess *contextstore.SessionContext) *nlp.SessionHint {
	if sess == nil {
		return nil
	}

	hint := &nlp.SessionHint{
		LastIntent:     sess.LastIntent,
		LastParameters: sess.LastParameters,
	}
	if user, err := o.store.GetUser(ctx, sess.UserID); err == nil {
		hint.Location = user.Location
	}
	if loc := req.Context["location"]; loc != "" {
		hint.Location = loc
	}
	return hint
}

// finishTurn records the turn's outcome in the session. Routing already
// happened; failures here only lose bookkeeping, so they are logged and
// swallowed.
func (o *Orchestrator) finishTurn(ctx context.Context, req *CommandRequest, sess *contextstore.SessionContext, out routeOutcome) {
	if sess == nil {
		return
	}

	if out.dispatched {
		upd := contextstore.SessionUpdate{
			LastIntent:     &out.result.Intent,
			LastParameters: out.result.Parameters,
		}
		if out.service != "" {
			upd.LastUsedService = &out.service
		}
		if err := o.store.UpdateSession(ctx, sess.SessionID, upd); err != nil {
			o.log.Warn("session update failed", "session_id", sess.SessionID, "err", err)
		}
	}
	if err := o.store.AddToHistory(ctx, sess.SessionID, req.Text, out.response); err != nil {
		o.log.Warn("history append failed", "session_id", sess.SessionID, "err", err)
	}
}
