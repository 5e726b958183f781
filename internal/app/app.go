// Package app wires configuration into the services shared by the API server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/config"
	dbRedis "github.com/kailas-cloud/pagedex/internal/db/redis"
	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
	"github.com/kailas-cloud/pagedex/internal/domain/search/result"
	"github.com/kailas-cloud/pagedex/internal/loader"
	"github.com/kailas-cloud/pagedex/internal/metrics"
	"github.com/kailas-cloud/pagedex/internal/repository/embcache"
	"github.com/kailas-cloud/pagedex/internal/repository/manifest"
	"github.com/kailas-cloud/pagedex/internal/repository/memstore"
	"github.com/kailas-cloud/pagedex/internal/repository/pageset"
	"github.com/kailas-cloud/pagedex/internal/repository/points"
	"github.com/kailas-cloud/pagedex/internal/transport/colpali"
	"github.com/kailas-cloud/pagedex/internal/transport/qdrant"
	"github.com/kailas-cloud/pagedex/internal/transport/vlm"
	collectionuc "github.com/kailas-cloud/pagedex/internal/usecase/collection"
	embeddinguc "github.com/kailas-cloud/pagedex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/pagedex/internal/usecase/health"
	"github.com/kailas-cloud/pagedex/internal/usecase/ingest"
	"github.com/kailas-cloud/pagedex/internal/usecase/retrieval"
)

// VectorStore is what every database driver provides.
type VectorStore interface {
	CreateCollection(ctx context.Context, col domcol.Collection) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, p point.Point) error
	Search(ctx context.Context, name string, query domain.Embedding, topK int) ([]result.Hit, error)
	Count(ctx context.Context, name string) (int, error)
}

var (
	_ VectorStore = (*memstore.Store)(nil)
	_ VectorStore = (*points.Repo)(nil)
	_ VectorStore = (*qdrant.Client)(nil)
)

// App holds the wired services.
type App struct {
	Store       VectorStore
	Gateway     domain.Gateway
	Ingest      *ingest.Service
	Collections *collectionuc.Service
	Retrieval   *retrieval.Service
	Health      *healthuc.Service

	closers []func()
}

// New builds every service from cfg. Remote stores are waited on until ready.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	a := &App{}
	store, pinger, kv, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	base, err := colpali.New(colpali.Config{
		BaseURL:     cfg.Embedding.BaseURL,
		Token:       cfg.Embedding.Token,
		Timeout:     time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
		Dimensions:  cfg.Embedding.Dimensions,
		JPEGQuality: cfg.Embedding.JPEGQuality,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create embedding gateway: %w", err)
	}
	a.Gateway = buildGateway(base, cfg, kv, logger)

	a.Ingest = ingest.New(store, a.Gateway, ingest.Config{
		Dim:         cfg.Embedding.Dimensions,
		Quantile:    cfg.Collection.Quantile,
		AlwaysRAM:   *cfg.Collection.AlwaysRAM,
		Workers:     cfg.Ingest.Workers,
		MaxAttempts: cfg.Ingest.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Ingest.RetryDelayMS) * time.Millisecond,
	}, logger)

	pages := pageset.New(cfg.Storage.Dir)
	ldr := loader.New(loader.PDFText{}, loader.Pdftoppm{Path: cfg.Loader.PdftoppmPath, DPI: cfg.Loader.DPI}, logger)
	a.Collections = collectionuc.New(manifest.New(cfg.Storage.Dir), pages, ldr, a.Ingest, store, logger)

	// a nil *vlm.Interpreter must not reach the interface
	var interp retrieval.Interpreter
	if v := vlm.New(vlm.Config{
		BaseURL:      cfg.Interpreter.BaseURL,
		APIKey:       cfg.Interpreter.APIKey,
		Model:        cfg.Interpreter.Model,
		MaxImageSide: cfg.Interpreter.MaxImageSide,
		Timeout:      time.Duration(cfg.Interpreter.TimeoutSec) * time.Second,
		Logger:       logger,
	}); v != nil {
		interp = v
	}
	a.Retrieval = retrieval.New(store, a.Gateway, pages, interp, retrieval.Config{
		DefaultTopK: cfg.Search.DefaultTopK,
		MaxTopK:     cfg.Search.MaxTopK,
	}, logger)

	a.Health = healthuc.New(pinger, cfg.Database.Driver, base)
	return a, nil
}

// Close waits for background ingestions and releases connections. Safe to call twice.
func (a *App) Close() {
	if a.Collections != nil {
		a.Collections.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (a *App) openStore(
	ctx context.Context, cfg config.Config, logger *zap.Logger,
) (VectorStore, healthuc.StorePinger, kvStore, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		s := memstore.New()
		return s, s, nil, nil

	case config.DriverRedis, config.DriverValkey:
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create database store: %w", err)
		}
		a.closers = append(a.closers, s.Close)

		if err := s.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			return nil, nil, nil, fmt.Errorf("database not ready: %w", err)
		}
		logger.Info("Connected to database",
			zap.String("driver", cfg.Database.Driver),
			zap.Strings("addrs", cfg.Database.Addrs),
		)
		return points.New(s, cfg.Storage.KeyPrefix), s, s, nil

	case config.DriverQdrant:
		c, err := qdrant.New(qdrant.Config{
			URL:               cfg.Qdrant.URL,
			APIKey:            cfg.Qdrant.APIKey,
			Timeout:           time.Duration(cfg.Qdrant.TimeoutSec) * time.Second,
			OnDiskPayload:     *cfg.Collection.OnDiskPayload,
			IndexingThreshold: cfg.Collection.IndexingThreshold,
			Logger:            logger,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create qdrant client: %w", err)
		}
		return c, c, nil, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// buildGateway assembles the decorator chain: ColPali -> Limited -> Cached -> Instrumented.
// The cache sits outside the limiter so hits never wait for a token.
func buildGateway(base domain.Gateway, cfg config.Config, kv kvStore, logger *zap.Logger) domain.Gateway {
	gw := base
	if rps := cfg.Embedding.RateLimitRPS; rps > 0 {
		gw = embeddinguc.NewLimitedGateway(gw, rps, int(rps))
	}
	if kv != nil && cfg.Embedding.CacheTTLSec > 0 {
		gw = embcache.New(gw, kv, cfg.Storage.KeyPrefix,
			time.Duration(cfg.Embedding.CacheTTLSec)*time.Second, metrics.EmbeddingCacheTotal, logger)
	}
	return embeddinguc.NewInstrumentedGateway(gw, logger)
}
