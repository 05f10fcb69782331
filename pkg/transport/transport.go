// Package transport abstracts how wire messages move between the
// orchestrator and a tool module.
//
// Two variants exist. The bidirectional variant ([WS], over websocket)
// supports concurrent Send while a Receive is outstanding, so a client can
// run an independent receive loop. The request/response variant ([HTTP],
// over HTTP POST) only supports synchronous exchanges: it additionally
// implements [RoundTripper], and Receive always fails with
// [ErrReceiveUnsupported]. Callers discover the capability with a type
// assertion, the same way net/http callers probe for http.Pusher.
package transport

import (
	"context"
	"errors"

	"github.com/halcyonhq/halcyon/pkg/wire"
)

// ErrClosed is returned by Send and Receive after the transport has been
// closed, locally or by the peer. The wire layer maps it to
// [wire.CodeConnectionLost].
var ErrClosed = errors.New("transport: closed")

// ErrReceiveUnsupported is returned by Receive on request/response
// transports. Clients seeing it must operate in synchronous mode via
// [RoundTripper].
var ErrReceiveUnsupported = errors.New("transport: receive not supported")

// Transport moves one JSON frame per message. Implementations must make
// Close idempotent and must fail in-flight Send/Receive calls with
// [ErrClosed] once closed.
type Transport interface {
	// Send serializes m and writes one frame.
	Send(ctx context.Context, m *wire.Message) error

	// Receive blocks for the next frame and deserializes it.
	Receive(ctx context.Context) (*wire.Message, error)

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}

// RoundTripper is the synchronous capability of request/response
// transports: one request frame out, one response frame back.
type RoundTripper interface {
	RoundTrip(ctx context.Context, m *wire.Message) (*wire.Message, error)
}

// Factory produces a fresh transport to the same endpoint each time it is
// called. Tool clients hold a Factory rather than a Transport so their
// reconnect loop can re-dial after a drop.
type Factory func(ctx context.Context) (Transport, error)
