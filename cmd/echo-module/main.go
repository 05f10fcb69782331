// Command echo-module is a minimal tool service used for demos and smoke
// testing the orchestrator: it serves an echo tool and a sleep tool over the
// websocket tool-RPC endpoint, plus the /health probe HTTP services expose.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/halcyonhq/halcyon/pkg/toolrpc"
	"github.com/halcyonhq/halcyon/pkg/transport"
	"github.com/halcyonhq/halcyon/pkg/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":8765", "listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	srv := toolrpc.NewServer("echo-module", "dev")
	if err := registerTools(srv); err != nil {
		slog.Error("tool registration failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.AcceptWS(w, r)
		if err != nil {
			slog.Warn("websocket accept failed", "err", err)
			return
		}
		slog.Info("orchestrator connected", "remote", r.RemoteAddr)
		if err := srv.Serve(r.Context(), conn); err != nil {
			slog.Warn("serve loop ended", "err", err)
		}
	})

	httpSrv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("echo module listening", "addr", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", "err", err)
		return 1
	}
	return 0
}

func registerTools(srv *toolrpc.Server) error {
	if err := srv.AddTool(toolrpc.Tool{
		Tool: wire.Tool{
			Name:        "echo",
			Description: "Returns the text it was given.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []any{"text"},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}); err != nil {
		return err
	}

	return srv.AddTool(toolrpc.Tool{
		Tool: wire.Tool{
			Name:        "sleep",
			Description: "Sleeps for the given number of seconds, for timeout testing.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"seconds": map[string]any{"type": "number", "minimum": 0},
				},
				"required": []any{"seconds"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			secs, _ := args["seconds"].(float64)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(secs * float64(time.Second))):
			}
			return "slept " + strconv.FormatFloat(secs, 'f', -1, 64) + "s", nil
		},
	})
}
