// Command halcyon is the orchestrator server: it classifies natural language
// commands and routes them to the registered tool services.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonhq/halcyon/internal/config"
	"github.com/halcyonhq/halcyon/internal/contextstore"
	"github.com/halcyonhq/halcyon/internal/health"
	"github.com/halcyonhq/halcyon/internal/nlp"
	"github.com/halcyonhq/halcyon/internal/observe"
	"github.com/halcyonhq/halcyon/internal/orchestrator"
	"github.com/halcyonhq/halcyon/internal/registry"
	"github.com/halcyonhq/halcyon/pkg/toolrpc"
	"github.com/halcyonhq/halcyon/pkg/transport"
	"github.com/halcyonhq/halcyon/pkg/wire"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "halcyon: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "halcyon: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("halcyon starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"services", len(cfg.Services),
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level is hot-applied. Topology changes need a restart, so
	// they are reported and left alone.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ThresholdChanged {
			slog.Warn("confidence threshold changed, restart to apply", "threshold", d.NewThreshold)
		}
		for _, sc := range d.ServiceChanges {
			slog.Warn("service topology changed, restart to apply",
				"service", sc.Name, "added", sc.Added, "removed", sc.Removed, "endpoint", sc.Endpoint)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "halcyon",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Context store ─────────────────────────────────────────────────────────
	store, storeChecker, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open context store", "backend", cfg.Storage.Backend, "err", err)
		return 1
	}
	defer store.Close()

	// ── Registry + tool clients ───────────────────────────────────────────────
	reg := registry.New()
	orch := orchestrator.New(cfg, store, reg, nlp.NewEngine(),
		orchestrator.WithLogger(logger.With("component", "orchestrator")),
	)
	defer orch.Close()

	if err := registerServices(ctx, cfg, reg, orch); err != nil {
		slog.Error("failed to register services", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("/api/", orch.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(storeChecker).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return orch.RunMaintenance(runCtx)
	})
	g.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// openStore builds the configured context store and a readiness checker for
// it. A missing data directory is fatal; the caller reports and exits.
func openStore(ctx context.Context, cfg *config.Config) (contextstore.Store, health.Checker, error) {
	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, health.Checker{}, fmt.Errorf("connect postgres: %w", err)
		}
		store := contextstore.NewPostgresStore(pool,
			contextstore.WithPostgresSessionTTL(cfg.Session.TTL),
			contextstore.WithPostgresHistoryLimit(cfg.Session.HistoryLimit),
		)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, health.Checker{}, err
		}
		return store, health.PingChecker("postgres", pool), nil

	default:
		store, err := contextstore.NewFileStore(cfg.Storage.DataDir,
			contextstore.WithSessionTTL(cfg.Session.TTL),
			contextstore.WithHistoryLimit(cfg.Session.HistoryLimit),
		)
		if err != nil {
			return nil, health.Checker{}, err
		}
		checker := health.Checker{
			Name: "contextstore",
			Check: func(context.Context) error {
				_, err := os.Stat(cfg.Storage.DataDir)
				return err
			},
		}
		return store, checker, nil
	}
}

// registerServices fills the registry from configuration and dials a tool
// client for every rpc-kind service. A module that is down at boot is fine:
// the client keeps reconnecting in the background.
func registerServices(ctx context.Context, cfg *config.Config, reg *registry.Registry, orch *orchestrator.Orchestrator) error {
	clientInfo := wire.Info{Name: "halcyon", Version: version}

	for _, svc := range cfg.Services {
		info := registry.ServiceInfo{
			Name:         svc.Name,
			Host:         svc.Host,
			Port:         svc.Port,
			Kind:         registry.Kind(svc.Kind),
			Capabilities: svc.Capabilities,
			Metadata:     svc.Metadata,
		}
		if err := reg.Register(info); err != nil {
			return err
		}

		if svc.Kind != config.KindRPC {
			continue
		}

		url := fmt.Sprintf("ws://%s:%d/rpc", svc.Host, svc.Port)
		factory := func(ctx context.Context) (transport.Transport, error) {
			return transport.DialWS(ctx, url, nil)
		}
		client := toolrpc.NewClient(svc.Name, factory, clientInfo,
			toolrpc.WithCallTimeout(cfg.Client.CallTimeout),
			toolrpc.WithHeartbeat(cfg.Client.HeartbeatInterval, cfg.Client.HeartbeatWait),
			toolrpc.WithReconnect(cfg.Client.ReconnectDelay, cfg.Client.MaxReconnectAttempts),
		)
		if err := client.Connect(ctx); err != nil {
			slog.Warn("service not reachable at boot, retrying in background", "service", svc.Name, "err", err)
			reg.SetHealth(svc.Name, registry.HealthConnecting)
			go redial(ctx, client, svc.Name, cfg.Client.ReconnectDelay)
		} else {
			reg.SetHealth(svc.Name, registry.HealthHealthy)
		}
		orch.SetClient(svc.Name, client)
	}
	return nil
}

// redial retries the first connection to a module that was down at boot.
// Once connected, the client's own reconnect loop takes over.
func redial(ctx context.Context, client *toolrpc.Client, name string, delay time.Duration) {
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Connect(ctx); err == nil {
				slog.Info("service connected", "service", name)
				return
			}
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
