package main

import (
	"context"
	"fmt"
	"io"

	"github.com/simonhayes51/sbccrawler-sub000/internal/config"
	"github.com/simonhayes51/sbccrawler-sub000/internal/crawler"
	"github.com/simonhayes51/sbccrawler-sub000/internal/events"
	"github.com/simonhayes51/sbccrawler-sub000/internal/storage"
	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// app holds the configured collaborators of one command invocation. Optional
// collaborators stay nil when they are not configured or unreachable.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db        *storage.DB
	store     *storage.CatalogStore
	redis     *storage.RedisClientWrapper
	publisher *events.Publisher
	snapshots *storage.MinIOStorage

	closers []func() error
}

// newApp loads configuration and builds the logger. Logs go to out so that
// commands printing JSON keep stdout clean.
func newApp(out io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
		Output:    out,
	})
	log.SetDefault()

	return &app{cfg: cfg, log: log}, nil
}

// Close releases everything opened by the connect methods, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("failed to close resource")
		}
	}
	a.closers = nil
}

// openStore opens the database and the catalog store. It fails with
// storage.ErrNotConfigured when no database is configured.
func (a *app) openStore(ctx context.Context) error {
	if !a.cfg.Database.Configured() {
		return storage.ErrNotConfigured
	}

	db, err := storage.Open(ctx, storage.DBConfig{
		Driver:       a.cfg.Database.Driver,
		DSN:          a.cfg.Database.DSN(),
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
		MaxIdleConns: a.cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	a.db = db
	a.store = storage.NewCatalogStore(db, a.log)
	a.log.Info("connected to database", "driver", db.Driver())
	return nil
}

// connectOptional connects Redis, NATS and MinIO when configured. A
// collaborator that cannot be reached is logged and left out.
func (a *app) connectOptional(ctx context.Context) {
	if a.cfg.Redis.Addr != "" {
		client, err := storage.NewRedisClient(ctx, storage.RedisConfig{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err != nil {
			a.log.WithError(err).Warn("redis unavailable, run status kept in memory")
		} else {
			a.redis = client
			a.closers = append(a.closers, client.Close)
			a.log.Info("connected to Redis", "addr", a.cfg.Redis.Addr)
		}
	}

	if a.cfg.NATS.URL != "" {
		natsCfg := events.DefaultNATSConfig()
		natsCfg.URL = a.cfg.NATS.URL
		natsCfg.Stream = a.cfg.NATS.Stream
		pub, err := events.NewPublisher(ctx, natsCfg, a.log)
		if err != nil {
			a.log.WithError(err).Warn("NATS unavailable, catalog events disabled")
		} else {
			a.publisher = pub
			a.closers = append(a.closers, pub.Close)
		}
	}

	if a.cfg.Storage.Endpoint != "" {
		s, err := storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        a.cfg.Storage.Endpoint,
			AccessKeyID:     a.cfg.Storage.AccessKeyID,
			SecretAccessKey: a.cfg.Storage.SecretAccessKey,
			BucketName:      a.cfg.Storage.BucketName,
			UseSSL:          a.cfg.Storage.UseSSL,
			Region:          a.cfg.Storage.Region,
		})
		if err == nil {
			err = s.InitBucket(ctx)
		}
		if err != nil {
			a.log.WithError(err).Warn("object storage unavailable, snapshots disabled")
		} else {
			a.snapshots = s
			a.log.Info("snapshot archive enabled", "bucket", a.cfg.Storage.BucketName)
		}
	}
}

// statusStore returns the shared run-status store, or an in-memory one.
func (a *app) statusStore() storage.StatusStore {
	if a.redis == nil {
		return storage.NewMemoryStatusStore()
	}
	return storage.NewRedisStatusStore(a.redis, "sbc")
}

// catalogCache returns the Redis-backed catalog cache, or a no-op one.
func (a *app) catalogCache(ctx context.Context) storage.CatalogCache {
	if a.redis == nil {
		return storage.NewNullCacheManager()
	}
	return storage.NewCacheManager(ctx, a.redis, storage.DefaultCacheConfig(), a.log)
}

func (a *app) fetcher() *crawler.HTTPFetcher {
	c := a.cfg.Crawler
	return crawler.NewHTTPFetcher(crawler.FetcherConfig{
		UserAgent:      c.UserAgent,
		RateLimit:      c.RateLimit,
		RequestTimeout: c.RequestTimeout,
		MaxRetries:     c.MaxRetries,
		RetryDelay:     c.RetryDelay,
	}, a.log)
}

func (a *app) extractor(f crawler.Fetcher) *crawler.Extractor {
	return crawler.NewExtractor(crawler.ExtractorConfig{
		TitleSuffixes: a.cfg.Crawler.TitleSuffixes,
		RenderReserve: a.cfg.Crawler.RenderReserve,
		SquadBuilder:  a.cfg.Crawler.SquadBuilder,
	}, f, a.log)
}

func (a *app) renderConfig() crawler.RenderConfig {
	c := a.cfg.Crawler
	rc := crawler.DefaultRenderConfig()
	rc.UserAgent = c.UserAgent
	rc.Timeout = c.RenderTimeout
	rc.IdleWindow = c.IdleWindow
	rc.SettleDelay = c.SettleDelay
	return rc
}

// orchestrator assembles a crawl pass. persist=false runs without a gateway.
func (a *app) orchestrator(persist, browser bool, limit int, opts ...crawler.Option) *crawler.Orchestrator {
	c := a.cfg.Crawler
	f := a.fetcher()

	if browser {
		opts = append(opts, crawler.WithBrowserFactory(crawler.NewChromeBrowserFactory(a.renderConfig(), a.log)))
	}
	if a.publisher != nil {
		opts = append(opts, crawler.WithNotifier(a.publisher))
	}
	if a.snapshots != nil {
		opts = append(opts, crawler.WithSnapshotArchive(a.snapshots))
	}

	var gateway crawler.Gateway
	if persist && a.store != nil {
		gateway = a.store
	}

	return crawler.NewOrchestrator(crawler.OrchestratorConfig{
		BaseURL:        c.BaseURL,
		RootPath:       c.RootPath,
		Sections:       c.Sections,
		AddressTimeout: c.AddressTimeout,
		Limit:          limit,
		Sweep:          c.Sweep,
	}, f, a.extractor(f), gateway, a.log, opts...)
}
