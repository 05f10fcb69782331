package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/halcyonhq/halcyon/pkg/wire"
)

// defaultHTTPTimeout bounds a single round trip when the caller's context
// carries no deadline of its own.
const defaultHTTPTimeout = 60 * time.Second

// HTTP is the request/response transport variant: each frame is the body of
// one HTTP POST and the response body is the answering frame. Receive is not
// supported; clients must use the [RoundTripper] path.
type HTTP struct {
	endpoint string
	client   *http.Client
	closed   atomic.Bool
}

// Compile-time checks: HTTP must implement both Transport and RoundTripper.
var (
	_ Transport    = (*HTTP)(nil)
	_ RoundTripper = (*HTTP)(nil)
)

// HTTPOption is a functional option for [NewHTTP].
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the underlying http.Client. Primarily used in
// tests to point at an httptest server.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTP) { t.client = c }
}

// NewHTTP creates a request/response transport posting to endpoint, e.g.
// "http://host:port/rpc".
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	t := &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// RoundTrip posts one request frame and decodes the response frame.
func (t *HTTP) RoundTrip(ctx context.Context, m *wire.Message) (*wire.Message, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	data, err := wire.Encode(m)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transport: %s returned %s: %s", t.endpoint, resp.Status, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrClosed, err)
	}
	return wire.Decode(body)
}

// Send posts m and discards the response body. Useful only for
// notifications; request/response exchanges go through RoundTrip.
func (t *HTTP) Send(ctx context.Context, m *wire.Message) error {
	_, err := t.RoundTrip(ctx, m)
	return err
}

// Receive is not supported on the request/response variant.
func (t *HTTP) Receive(context.Context) (*wire.Message, error) {
	return nil, ErrReceiveUnsupported
}

// Close marks the transport unusable. There is no connection to tear down;
// in-flight round trips are allowed to finish.
func (t *HTTP) Close() error {
	t.closed.Store(true)
	return nil
}
