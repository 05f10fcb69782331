package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halcyonhq/halcyon/internal/registry"
	"github.com/halcyonhq/halcyon/pkg/toolrpc"
)

// RunMaintenance starts the background loops and blocks until ctx is
// cancelled: expired-session pruning on one ticker, service health checks on
// another. Always returns ctx's error.
func (o *Orchestrator) RunMaintenance(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.cleanupLoop(ctx) })
	g.Go(func() error { return o.healthLoop(ctx) })
	return g.Wait()
}

func (o *Orchestrator) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Maintenance.SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := o.store.CleanupExpiredSessions(ctx)
			if err != nil {
				o.log.Warn("session cleanup failed", "err", err)
				continue
			}
			if n > 0 {
				o.metrics.ActiveSessions.Add(ctx, int64(-n))
				o.log.Info("expired sessions pruned", "count", n)
			}
		}
	}
}

func (o *Orchestrator) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Maintenance.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.checkServices(ctx)
		}
	}
}

// checkServices probes every registered service once. HTTP services get a
// GET /health with a bounded timeout; rpc services are judged by their tool
// client's connection state, since the client already heartbeats.
func (o *Orchestrator) checkServices(ctx context.Context) {
	for _, info := range o.reg.List() {
		switch info.Kind {
		case registry.KindHTTP:
			o.probeHTTP(ctx, &info)
		default:
			if client, ok := o.client(info.Name); ok && client.State() == toolrpc.StateConnected {
				o.reg.SetHealth(info.Name, registry.HealthHealthy)
			} else {
				o.reg.SetHealth(info.Name, registry.HealthDisconnected)
			}
		}
	}
}

func (o *Orchestrator) probeHTTP(ctx context.Context, info *registry.ServiceInfo) {
	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.Maintenance.HealthProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", info.Endpoint())
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		o.reg.RecordProbe(info.Name, 0, registry.HealthError)
		return
	}

	start := time.Now()
	resp, err := o.httpc.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		o.reg.RecordProbe(info.Name, elapsed, registry.HealthError)
		o.log.Warn("health probe failed", "service", info.Name, "err", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		o.reg.RecordProbe(info.Name, elapsed, registry.HealthHealthy)
	} else {
		o.reg.RecordProbe(info.Name, elapsed, registry.HealthUnhealthy)
	}
}
