package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relai-dev/relai/db"
	"github.com/relai-dev/relai/internal/api"
	"github.com/relai-dev/relai/internal/cache"
	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/gateway"
	"github.com/relai-dev/relai/internal/history"
	"github.com/relai-dev/relai/internal/kv"
	"github.com/relai-dev/relai/internal/llm"
	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/pipeline"
	"github.com/relai-dev/relai/internal/topic"
	"github.com/relai-dev/relai/internal/vector"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	snapshots, err := provideSnapshots(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Snapshots = snapshots

	client, err := llm.NewClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	vectorStore, err := vector.NewStore(pool, logger)
	if err != nil {
		return nil, err
	}
	kvStore, err := kv.NewStore(pool, logger)
	if err != nil {
		return nil, err
	}
	a.KV = kvStore
	historyStore, err := history.NewStore(pool, logger)
	if err != nil {
		return nil, err
	}

	engine := cache.New(kvStore, vectorStore, cache.Options{
		Enabled:    cfg.CacheEnabled,
		TTL:        cfg.CacheTTL(),
		Threshold:  cfg.CacheThreshold,
		Prefix:     cfg.CachePrefix,
		Collection: cfg.CacheIndex,
	}, logger)

	a.Pipeline = pipeline.New(
		snapshots,
		client,
		client,
		engine,
		topic.New(client, logger),
		pipeline.NewVectorRetriever(vectorStore),
		historyStore,
		pipeline.Options{
			RetrievalLimit: cfg.RetrievalLimit,
			HistoryDepth:   cfg.HistoryDepth,
		},
		logger,
	)

	auth := gateway.NewAuthenticator(cfg.AuthSecret, cfg.AuthTolerance())
	a.Gateway = gateway.NewServer(auth, a.Pipeline, gateway.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		AcceptPerSecond: cfg.AcceptPerSecond,
		AcceptBurst:     cfg.AcceptBurst,
	}, logger)

	a.Admin = api.NewServer(snapshots, pool, logger)

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideSnapshots loads the initial behavior snapshot and sets up the
// remote source when one is configured.
func provideSnapshots(cfg *config.Config, logger log.Logger) (*config.Store, error) {
	var remote *config.RemoteClient
	if cfg.RemoteConfigured() {
		remote = config.NewRemoteClient(cfg.RemoteConfigURL)
	}

	store, err := config.NewStore(cfg.PromptsPath, cfg.SchemaPath, remote, logger)
	if err != nil {
		return nil, fmt.Errorf("loading behavior configuration: %w", err)
	}
	return store, nil
}
