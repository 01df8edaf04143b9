// Package engine assembles the ingestion and retrieval stacks behind one
// facade. Callers hand it a configuration and get the two operations the
// system exists for: ingest a scraped page, answer a query.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sitesage-ai/retrieval-engine/internal/cache"
	"github.com/sitesage-ai/retrieval-engine/internal/chunker"
	"github.com/sitesage-ai/retrieval-engine/internal/config"
	"github.com/sitesage-ai/retrieval-engine/internal/embedding"
	"github.com/sitesage-ai/retrieval-engine/internal/extract"
	"github.com/sitesage-ai/retrieval-engine/internal/ingest"
	"github.com/sitesage-ai/retrieval-engine/internal/monitoring"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/internal/retrieval"
	"github.com/sitesage-ai/retrieval-engine/internal/storage"
)

// Engine owns the wired component graph.
type Engine struct {
	cfg    *config.Config
	logger *observability.Logger

	store     storage.Store
	db        *sql.DB
	cache     cache.Client
	provider  embedding.Provider
	index     *retrieval.VectorIndex
	pipeline  *ingest.Pipeline
	router    *retrieval.Router
	audit     *monitoring.AuditLog
	staleness *monitoring.StalenessMonitor
}

// New builds an Engine from configuration. With no embedding API key the
// deterministic mock provider is used, which keeps development and tests
// offline.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Engine, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	e := &Engine{cfg: cfg, logger: logger}

	if err := e.initStore(ctx); err != nil {
		return nil, err
	}
	if err := e.initCache(); err != nil {
		e.shutdown()
		return nil, err
	}
	if err := e.initProvider(); err != nil {
		e.shutdown()
		return nil, err
	}

	e.index = retrieval.NewVectorIndex(cfg.Embedding.Dimension, logger)
	e.audit = monitoring.NewAuditLog(logger, 256)
	if cfg.Monitoring.StalenessInterval > 0 {
		e.staleness = monitoring.NewStalenessMonitor(e.store, logger,
			cfg.Monitoring.StalenessInterval, cfg.Monitoring.FreshnessThreshold)
		e.staleness.Start(context.Background())
	}

	generator := embedding.NewGenerator(e.provider, logger, embedding.GeneratorConfig{
		BatchSize:      cfg.Embedding.BatchSize,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		MaxRetries:     cfg.Embedding.MaxRetries,
	})
	runner := extract.NewDefaultRunner(logger, cfg.Ingestion.KnownBrands, cfg.Ingestion.KnownCategories)

	var auditor ingest.Auditor
	if cfg.Monitoring.AuditEnabled {
		auditor = e.audit
	}
	pipeline, err := ingest.NewPipeline(
		e.store,
		chunker.New(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap),
		runner,
		generator,
		e.index,
		&cacheInvalidator{client: e.cache},
		auditor,
		logger,
		ingest.Config{
			Workers:    cfg.Ingestion.Workers,
			RetryBase:  cfg.Ingestion.RetryBase,
			RetryCap:   cfg.Ingestion.RetryCap,
			MaxRetries: cfg.Ingestion.MaxRetries,
		},
	)
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("build ingestion pipeline: %w", err)
	}
	e.pipeline = pipeline

	classifier := retrieval.NewClassifier(logger, cfg.Ingestion.KnownBrands, cfg.Ingestion.KnownCategories)
	e.router = retrieval.NewRouter(e.store, e.index, e.provider, e.cache, classifier, logger, retrieval.RouterConfig{
		MaxResults:      cfg.Retrieval.MaxResults,
		MinConfidence:   cfg.Retrieval.MinConfidence,
		StrategyTimeout: cfg.Retrieval.StrategyTimeout,
		QueryTimeout:    cfg.Retrieval.QueryTimeout,
		MaxAttempts:     cfg.Retrieval.MaxAttempts,
		CacheResults:    cfg.Retrieval.CacheResults,
		CacheTTL:        cfg.Retrieval.CacheTTL,
	})

	return e, nil
}

func (e *Engine) initStore(ctx context.Context) error {
	switch e.cfg.Database.Driver {
	case "postgres":
		pg := e.cfg.Database.Postgres
		db, err := storage.OpenPostgres(pg.DSN, pg.MaxOpenConns, pg.MaxIdleConns, pg.ConnMaxLifetime)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		store := storage.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return fmt.Errorf("migrate schema: %w", err)
		}
		e.db = db
		e.store = store
	default:
		e.store = storage.NewMemoryStore()
	}
	return nil
}

func (e *Engine) initCache() error {
	switch e.cfg.Cache.Driver {
	case "redis":
		r := e.cfg.Cache.Redis
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			PoolSize: r.PoolSize,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		e.cache = client
	default:
		e.cache = cache.NewMemoryClient(e.cfg.Cache.MaxEntries)
	}
	return nil
}

func (e *Engine) initProvider() error {
	if e.cfg.Embedding.APIKey == "" {
		e.logger.Warn().Msg("no embedding API key configured, using deterministic mock provider")
		e.provider = embedding.NewMockProvider(e.cfg.Embedding.Dimension)
		return nil
	}
	client, err := embedding.NewClient(embedding.Config{
		APIKey:    e.cfg.Embedding.APIKey,
		Model:     e.cfg.Embedding.Model,
		BaseURL:   e.cfg.Embedding.BaseURL,
		Dimension: e.cfg.Embedding.Dimension,
		Timeout:   e.cfg.Embedding.Timeout,
	})
	if err != nil {
		return fmt.Errorf("build embedding client: %w", err)
	}
	e.provider = client
	return nil
}

// IngestPage ingests one scraped page.
func (e *Engine) IngestPage(ctx context.Context, page ingest.ScrapedPage) ingest.Outcome {
	return e.pipeline.IngestPage(ctx, page)
}

// IngestBatch ingests pages concurrently, returning outcomes in input order.
func (e *Engine) IngestBatch(ctx context.Context, pages []ingest.ScrapedPage) []ingest.Outcome {
	return e.pipeline.IngestBatch(ctx, pages)
}

// Retrieve answers a query against one domain with the configured limits.
func (e *Engine) Retrieve(ctx context.Context, domainID uuid.UUID, query string) (*retrieval.Response, error) {
	return e.ClassifyAndRetrieve(ctx, domainID, query, retrieval.Options{})
}

// ClassifyAndRetrieve answers a query with per-call limit overrides.
func (e *Engine) ClassifyAndRetrieve(ctx context.Context, domainID uuid.UUID, query string, opts retrieval.Options) (*retrieval.Response, error) {
	resp, err := e.router.RetrieveWithOptions(ctx, domainID, query, opts)
	if err != nil {
		return nil, err
	}
	if e.cfg.Monitoring.AuditEnabled && !resp.FromCache {
		e.audit.RecordRetrieval(ctx, domainID, query, resp)
	}
	return resp, nil
}

// RebuildIndex reloads a domain's vectors from storage into the live index.
func (e *Engine) RebuildIndex(ctx context.Context, domainID uuid.UUID) error {
	return e.index.Rebuild(ctx, e.store, domainID)
}

// Pages lists the stored pages for a domain.
func (e *Engine) Pages(ctx context.Context, domainID uuid.UUID) ([]*storage.Page, error) {
	return e.store.ListPages(ctx, domainID)
}

// AuditEvents returns the most recent audit events, newest first.
func (e *Engine) AuditEvents(n int) []monitoring.Event {
	return e.audit.Recent(n)
}

// StalenessReport runs a staleness sweep immediately.
func (e *Engine) StalenessReport(ctx context.Context) (*monitoring.StaleReport, error) {
	if e.staleness == nil {
		return &monitoring.StaleReport{}, nil
	}
	return e.staleness.Check(ctx)
}

// Close releases the pipeline, cache and database.
func (e *Engine) Close() error {
	if e.pipeline != nil {
		e.pipeline.Close()
	}
	return e.shutdown()
}

func (e *Engine) shutdown() error {
	if e.staleness != nil {
		e.staleness.Stop()
	}
	var firstErr error
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// cacheInvalidator adapts the cache client to the pipeline's Invalidator:
// every cached query under the domain prefix is dropped when the corpus
// changes.
type cacheInvalidator struct {
	client cache.Client
}

func (c *cacheInvalidator) InvalidateDomain(ctx context.Context, domainID uuid.UUID) error {
	return c.client.DeleteByPrefix(ctx, cache.DomainCacheKey(domainID.String())+":")
}
