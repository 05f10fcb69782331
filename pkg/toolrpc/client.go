package toolrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/halcyonhq/halcyon/pkg/transport"
	"github.com/halcyonhq/halcyon/pkg/wire"
)

// Connection state of a [Client].
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// State is the client's connection state. Transitions are Disconnected ->
// Connecting -> Connected, and back to Disconnected on any drop.
type State int32

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotConnected is returned by calls made while the client is not in
	// the Connected state.
	ErrNotConnected = errors.New("toolrpc: not connected")

	// ErrTimeout is returned when a call's response does not arrive within
	// its timeout. The request may still execute on the server.
	ErrTimeout = errors.New("toolrpc: request timed out")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("toolrpc: client closed")
)

const (
	defaultCallTimeout     = 30 * time.Second
	defaultHeartbeatEvery  = 30 * time.Second
	defaultHeartbeatWait   = 10 * time.Second
	defaultReconnectDelay  = 5 * time.Second
	defaultMaxReconnects   = 3
	maxConsecutiveRecvErrs = 5
)

// ClientOption is a functional option for [NewClient].
type ClientOption func(*Client)

// WithCallTimeout sets the default per-request timeout applied when the
// caller's context carries no deadline.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout = d }
}

// WithHeartbeat sets the ping interval and how long to wait for each pong.
// An interval of 0 disables heartbeating.
func WithHeartbeat(every, wait time.Duration) ClientOption {
	return func(c *Client) {
		c.heartbeatEvery = every
		c.heartbeatWait = wait
	}
}

// WithReconnect sets the delay between reconnection attempts and how many
// consecutive failures are tolerated before the client gives up. attempts of
// 0 disables automatic reconnection.
func WithReconnect(delay time.Duration, attempts int) ClientOption {
	return func(c *Client) {
		c.reconnectDelay = delay
		c.maxReconnects = attempts
	}
}

// WithLogger overrides the client's logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// Client is the orchestrator-side tool-RPC endpoint: one client per module
// connection. Calls from any number of goroutines are multiplexed over the
// single transport via a pending-request table keyed by correlation id.
//
// On a bidirectional transport the client runs a receive loop and a
// heartbeat loop; when either detects a drop, every in-flight call fails
// with [wire.CodeConnectionLost] and a reconnect loop re-dials through the
// transport factory. Transports that implement [transport.RoundTripper] are
// driven synchronously instead, with no background loops.
type Client struct {
	name    string
	factory transport.Factory
	info    wire.Info
	log     *slog.Logger

	callTimeout    time.Duration
	heartbeatEvery time.Duration
	heartbeatWait  time.Duration
	reconnectDelay time.Duration
	maxReconnects  int

	state  atomic.Int32
	nextID atomic.Int64

	pending *pendingTable

	mu         sync.Mutex
	conn       transport.Transport
	rt         transport.RoundTripper
	serverInfo wire.InitializeResult
	connCancel context.CancelFunc
	connDone   chan struct{}

	ctx          context.Context
	cancel       context.CancelFunc
	disconnected chan struct{}
	monitorOnce  sync.Once
	monitorDone  chan struct{}
	closeOnce    sync.Once
}

// NewClient creates a client for the named module. The factory is invoked on
// Connect and again on every reconnection attempt.
func NewClient(name string, factory transport.Factory, info wire.Info, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		name:           name,
		factory:        factory,
		info:           info,
		log:            slog.Default().With("component", "toolrpc", "module", name),
		callTimeout:    defaultCallTimeout,
		heartbeatEvery: defaultHeartbeatEvery,
		heartbeatWait:  defaultHeartbeatWait,
		reconnectDelay: defaultReconnectDelay,
		maxReconnects:  defaultMaxReconnects,
		pending:        newPendingTable(),
		ctx:            ctx,
		cancel:         cancel,
		disconnected:   make(chan struct{}, 1),
		monitorDone:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// ServerInfo returns the initialize result from the current connection.
// Zero-valued until the first successful Connect.
func (c *Client) ServerInfo() wire.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Pending reports the number of in-flight requests. Exposed for metrics.
func (c *Client) Pending() int { return c.pending.len() }

// Connect dials the module, performs the initialize handshake, and starts
// the background loops. On failure the client stays Disconnected and the
// reconnect loop is not started; callers decide whether to retry.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	if err := c.connectOnce(ctx); err != nil {
		return err
	}
	if c.maxReconnects > 0 {
		c.monitorOnce.Do(func() { go c.monitorLoop() })
	}
	return nil
}

// connectOnce performs one full dial + initialize + loop start cycle.
func (c *Client) connectOnce(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("toolrpc: connect from state %s", c.State())
	}

	// Drop any stale nudge left by an attempt that failed at initialize, or
	// a later successful connect would trigger a spurious reconnect round.
	// markDisconnected cannot fire while the state is Connecting.
	select {
	case <-c.disconnected:
	default:
	}

	conn, err := c.factory(ctx)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("toolrpc: dial %s: %w", c.name, err)
	}

	rt, syncMode := conn.(transport.RoundTripper)

	connCtx, connCancel := context.WithCancel(c.ctx)
	connDone := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	if syncMode {
		c.rt = rt
	} else {
		c.rt = nil
	}
	c.connCancel = connCancel
	c.connDone = connDone
	c.mu.Unlock()

	// The handshake races the receive loop on bidirectional transports, so
	// flip to Connected first and start the loops, then initialize through
	// the normal call path.
	c.state.Store(int32(StateConnected))

	var loopWG sync.WaitGroup
	if !syncMode {
		loopWG.Add(1)
		go func() {
			defer loopWG.Done()
			c.receiveLoop(connCtx, conn)
		}()
		if c.heartbeatEvery > 0 {
			loopWG.Add(1)
			go func() {
				defer loopWG.Done()
				c.heartbeatLoop(connCtx)
			}()
		}
	}
	go func() {
		loopWG.Wait()
		close(connDone)
	}()

	if err := c.initialize(ctx); err != nil {
		c.markDisconnected("initialize failed")
		return fmt.Errorf("toolrpc: initialize %s: %w", c.name, err)
	}

	c.log.Info("connected", "sync", syncMode)
	return nil
}

// initialize performs the handshake and records the server's identity.
func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": wire.ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": c.info.Name, "version": c.info.Version},
	}
	resp, err := c.call(ctx, wire.MethodInitialize, params)
	if err != nil {
		return err
	}
	var result wire.InitializeResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return err
	}
	c.mu.Lock()
	c.serverInfo = result
	c.mu.Unlock()
	return nil
}

// ListTools asks the module for its tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]wire.Tool, error) {
	resp, err := c.call(ctx, wire.MethodListTools, map[string]any{})
	if err != nil {
		return nil, err
	}
	var result wire.ListToolsResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a named tool. The context deadline bounds the call; when
// the context carries none, the client's default timeout applies.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*wire.CallToolResult, error) {
	resp, err := c.call(ctx, wire.MethodCallTool, map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result wire.CallToolResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources asks the module for its resource catalog.
func (c *Client) ListResources(ctx context.Context) ([]wire.Resource, error) {
	resp, err := c.call(ctx, wire.MethodListResources, map[string]any{})
	if err != nil {
		return nil, err
	}
	var result wire.ListResourcesResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource fetches one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*wire.ReadResourceResult, error) {
	resp, err := c.call(ctx, wire.MethodReadResource, map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result wire.ReadResourceResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts asks the module for its prompt catalog.
func (c *Client) ListPrompts(ctx context.Context) ([]wire.Prompt, error) {
	resp, err := c.call(ctx, wire.MethodListPrompts, map[string]any{})
	if err != nil {
		return nil, err
	}
	var result wire.ListPromptsResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// Ping checks liveness with the configured heartbeat wait as the timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.heartbeatWait)
	defer cancel()
	_, err := c.call(ctx, wire.MethodPing, map[string]any{})
	return err
}

// Close tears the client down: cancels the loops, fails all in-flight calls,
// and closes the transport. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.state.Store(int32(StateDisconnected))
		c.pending.failAll(wire.ConnectionLost("client closed"))

		c.mu.Lock()
		conn := c.conn
		connDone := c.connDone
		c.conn = nil
		c.rt = nil
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}

		// Bounded join so a wedged transport cannot hang shutdown.
		if connDone != nil {
			select {
			case <-connDone:
			case <-time.After(5 * time.Second):
				c.log.Warn("receive loop did not stop in time")
			}
		}
	})
	return nil
}

// ─── Request plumbing ───

// call sends one request and waits for its response. All public operations
// funnel through here.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (*wire.Message, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClientClosed
	}
	if c.State() != StateConnected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.name)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	id := wire.IntID(c.nextID.Add(1))
	req := wire.NewRequest(id, method, params)

	c.mu.Lock()
	conn := c.conn
	rt := c.rt
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.name)
	}

	if rt != nil {
		return c.roundTrip(ctx, rt, req)
	}

	ch := c.pending.add(id)
	defer c.pending.remove(id)

	if err := conn.Send(ctx, req); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			c.markDisconnected("send failed")
			return nil, wire.ConnectionLost(fmt.Sprintf("send %s: %v", method, err))
		}
		return nil, fmt.Errorf("toolrpc: send %s: %w", method, err)
	}

	select {
	case m := <-ch:
		if m.Error != nil {
			return nil, m.Error
		}
		return m, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s id=%s", ErrTimeout, method, id)
		}
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClientClosed
	}
}

// roundTrip is the synchronous path for request/response transports.
func (c *Client) roundTrip(ctx context.Context, rt transport.RoundTripper, req *wire.Message) (*wire.Message, error) {
	resp, err := rt.RoundTrip(ctx, req)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return nil, wire.ConnectionLost(fmt.Sprintf("round trip %s: %v", req.Method, err))
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, req.Method)
		}
		return nil, fmt.Errorf("toolrpc: round trip %s: %w", req.Method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// ─── Background loops ───

// receiveLoop reads responses and routes them to their waiters. Tolerates up
// to maxConsecutiveRecvErrs undecodable frames before declaring the
// connection broken.
func (c *Client) receiveLoop(ctx context.Context, conn transport.Transport) {
	consecutive := 0
	for {
		m, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				c.markDisconnected("connection closed")
				return
			}
			consecutive++
			c.log.Warn("receive error", "err", err, "consecutive", consecutive)
			if consecutive >= maxConsecutiveRecvErrs {
				c.markDisconnected("too many receive errors")
				return
			}
			continue
		}
		consecutive = 0

		switch {
		case m.IsResponse():
			if !c.pending.complete(m) {
				c.log.Debug("response for unknown request", "id", m.ID)
			}
		case m.IsNotification():
			c.log.Debug("server notification", "method", m.Method)
		default:
			// Server-initiated requests are not part of the dialect.
			c.log.Warn("dropping server request", "method", m.Method, "id", m.ID)
		}
	}
}

// heartbeatLoop pings on an interval. A missed pong is logged but only a
// transport-level failure tears the connection down; the receive loop sees
// the same failure and handles the transition.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c.State() != StateConnected {
			return
		}
		if err := c.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			var rpcErr *wire.Error
			if errors.As(err, &rpcErr) && rpcErr.Code == wire.CodeConnectionLost {
				return
			}
			c.log.Warn("heartbeat missed", "err", err)
		}
	}
}

// markDisconnected transitions to Disconnected exactly once per connection:
// fails all in-flight calls, tears down the transport, and nudges the
// reconnect monitor.
func (c *Client) markDisconnected(reason string) {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		return
	}
	c.log.Warn("disconnected", "reason", reason)

	c.pending.failAll(wire.ConnectionLost(reason))

	c.mu.Lock()
	conn := c.conn
	connCancel := c.connCancel
	c.conn = nil
	c.rt = nil
	c.mu.Unlock()

	if connCancel != nil {
		connCancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	select {
	case c.disconnected <- struct{}{}:
	default:
	}
}

// monitorLoop re-dials after a drop: wait reconnectDelay, attempt, and give
// up for good after maxReconnects consecutive failures. A successful attempt
// resets the counter.
func (c *Client) monitorLoop() {
	defer close(c.monitorDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.disconnected:
		}

		attempts := 0
		for attempts < c.maxReconnects {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}

			attempts++
			c.log.Info("reconnecting", "attempt", attempts, "max", c.maxReconnects)
			if err := c.connectOnce(c.ctx); err != nil {
				c.log.Warn("reconnect failed", "attempt", attempts, "err", err)
				continue
			}
			c.log.Info("reconnected", "attempts", attempts)
			break
		}

		if c.State() != StateConnected {
			c.log.Error("giving up on reconnection", "attempts", attempts)
			return
		}
	}
}
