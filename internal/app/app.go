// Package app wires the application together: database pool, Genkit
// client, stores, cache, pipeline, and the two servers.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/relai-dev/relai/internal/api"
	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/gateway"
	"github.com/relai-dev/relai/internal/kv"
	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/pipeline"
)

// sweepInterval paces the background cleanup of expired exact-tier cache
// entries. Correctness does not depend on it; reads filter expired rows.
const sweepInterval = time.Hour

// App holds the assembled application.
type App struct {
	Config    *config.Config
	Logger    log.Logger
	DBPool    *pgxpool.Pool
	Snapshots *config.Store
	KV        *kv.Store
	Pipeline  *pipeline.Pipeline
	Gateway   *gateway.Server
	Admin     *api.Server

	dbCleanup func()
}

// Run starts the gateway and admin servers plus the cache sweeper and
// blocks until the context is canceled or either server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Gateway.Run(ctx, a.Config.ListenAddr)
	})
	g.Go(func() error {
		return a.Admin.Run(ctx, a.Config.AdminAddr)
	})
	g.Go(func() error {
		sweepExpired(ctx, a.KV, sweepInterval, a.Logger)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sweeper removes expired rows from a TTL-aware store.
type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// sweepExpired runs the sweeper on a ticker until the context is
// canceled. Sweep failures are logged and retried on the next tick.
func sweepExpired(ctx context.Context, s sweeper, interval time.Duration, logger log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Warn("sweeping expired cache entries failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("swept expired cache entries", "removed", n)
			}
		}
	}
}

// Close releases all resources. Safe to call multiple times and on a
// partially initialized App.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
		a.dbCleanup = nil
	}
	return nil
}
