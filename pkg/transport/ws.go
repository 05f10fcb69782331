package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/halcyonhq/halcyon/pkg/wire"
)

// WS is the bidirectional transport variant: one websocket text message per
// wire frame. Send and Receive may be used concurrently from different
// goroutines (one reader, any number of writers; coder/websocket serialises
// writes internally).
type WS struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

// Compile-time check: WS must implement Transport.
var _ Transport = (*WS)(nil)

// DialWS connects to a websocket tool endpoint, e.g. "ws://host:port/rpc".
func DialWS(ctx context.Context, url string, header http.Header) (*WS, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	// Tool replies can be large (a module may return whole file contents).
	conn.SetReadLimit(16 << 20)
	return &WS{conn: conn}, nil
}

// AcceptWS upgrades an inbound HTTP request to a websocket transport.
// Intended for module-side serve loops.
func AcceptWS(w http.ResponseWriter, r *http.Request) (*WS, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Modules sit behind the orchestrator, not browsers; skip origin checks.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: accept websocket: %w", err)
	}
	conn.SetReadLimit(16 << 20)
	return &WS{conn: conn}, nil
}

// NewWS wraps an already-established websocket connection.
func NewWS(conn *websocket.Conn) *WS {
	return &WS{conn: conn}
}

// Send writes one frame. Returns [ErrClosed] once the connection is gone.
func (t *WS) Send(ctx context.Context, m *wire.Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return t.mapErr(err)
	}
	return nil
}

// Receive blocks for the next frame. Returns [ErrClosed] when the peer has
// gone away or Close was called.
func (t *WS) Receive(ctx context.Context) (*wire.Message, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, t.mapErr(err)
	}
	m, err := wire.Decode(data)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Close performs a normal-closure handshake. Idempotent.
func (t *WS) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close(websocket.StatusNormalClosure, "closed")
}

// mapErr folds the various peer-gone shapes (close frames, reset pipes,
// local close) into ErrClosed so callers have one condition to test.
func (t *WS) mapErr(err error) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if websocket.CloseStatus(err) != -1 {
		t.closed.Store(true)
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
