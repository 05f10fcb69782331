package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/halcyonhq/halcyon/pkg/wire"
)

func TestHTTP_RoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL)
	resp, err := tr.RoundTrip(context.Background(), wire.NewRequest(wire.IntID(1), wire.MethodPing, nil))
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	var result map[string]any
	if err := resp.UnmarshalResult(&result); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if result["ok"] != true {
		t.Errorf("result = %v", result)
	}
}

func TestHTTP_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL)
	_, err := tr.RoundTrip(context.Background(), wire.NewRequest(wire.IntID(1), wire.MethodPing, nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error %q does not mention status", err)
	}
}

func TestHTTP_ReceiveUnsupported(t *testing.T) {
	t.Parallel()

	tr := NewHTTP("http://localhost:0/rpc")
	_, err := tr.Receive(context.Background())
	if !errors.Is(err, ErrReceiveUnsupported) {
		t.Errorf("err = %v, want ErrReceiveUnsupported", err)
	}
}

func TestHTTP_ClosedRejectsCalls(t *testing.T) {
	t.Parallel()

	tr := NewHTTP("http://localhost:0/rpc")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := tr.RoundTrip(context.Background(), wire.NewRequest(wire.IntID(1), wire.MethodPing, nil))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestHTTP_DialFailureMapsToClosed(t *testing.T) {
	t.Parallel()

	// Reserved port that nothing listens on.
	tr := NewHTTP("http://127.0.0.1:1/rpc")
	_, err := tr.RoundTrip(context.Background(), wire.NewRequest(wire.IntID(1), wire.MethodPing, nil))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestHTTP_ImplementsRoundTripper(t *testing.T) {
	t.Parallel()

	var tr Transport = NewHTTP("http://localhost:0/rpc")
	if _, ok := tr.(RoundTripper); !ok {
		t.Error("HTTP must expose the synchronous capability")
	}
}

// wsEchoServer upgrades inbound requests and echoes each request frame back
// as a response frame with the same id.
func wsEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := AcceptWS(w, r)
		if err != nil {
			t.Errorf("AcceptWS: %v", err)
			return
		}
		defer conn.Close()
		for {
			m, err := conn.Receive(r.Context())
			if err != nil {
				return
			}
			reply, err := wire.NewResponse(*m.ID, map[string]any{"echo": m.Method})
			if err != nil {
				t.Errorf("NewResponse: %v", err)
				return
			}
			if err := conn.Send(r.Context(), reply); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWS_SendReceive(t *testing.T) {
	t.Parallel()

	srv := wsEchoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialWS(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, wire.NewRequest(wire.IntID(9), wire.MethodPing, nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	m, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if m.ID.String() != "9" {
		t.Errorf("id = %s, want 9", m.ID)
	}
	var result map[string]any
	if err := m.UnmarshalResult(&result); err != nil {
		t.Fatalf("UnmarshalResult: %v", err)
	}
	if result["echo"] != wire.MethodPing {
		t.Errorf("result = %v", result)
	}
}

func TestWS_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := wsEchoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialWS(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := conn.Send(ctx, wire.NewRequest(wire.IntID(1), wire.MethodPing, nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	if _, err := conn.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive after Close = %v, want ErrClosed", err)
	}
}

func TestWS_PeerCloseSurfacesAsClosed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := AcceptWS(w, r)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := DialWS(ctx, wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	defer conn.Close()

	_, err = conn.Receive(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Receive = %v, want ErrClosed", err)
	}
}

func TestWS_DialFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := DialWS(ctx, "ws://127.0.0.1:1/rpc", nil); err == nil {
		t.Fatal("expected dial error")
	}
}
