// Package ingest is the ingestion pipeline: pages are embedded by the gateway
// and upserted into a collection, one point per page.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	dingest "github.com/kailas-cloud/pagedex/internal/domain/ingest"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// Config holds the schema for new collections and the per-run concurrency policy.
type Config struct {
	Dim          int
	Quantization domcol.Quantization
	Quantile     float64
	AlwaysRAM    bool
	// Workers bounds concurrent pages. 1 keeps strict page order.
	Workers int
	// MaxAttempts bounds gateway calls per page. 1 disables retry.
	MaxAttempts int
	RetryDelay  time.Duration
}

// Options adjust a single run.
type Options struct {
	// Append writes into an existing collection instead of creating it.
	Append bool
	// RunID tags the run; a random UUID is used when empty.
	RunID    string
	Progress dingest.Progress
	// Workers overrides Config.Workers when positive.
	Workers int
}

// Service runs ingestions. Safe for concurrent use across collections.
type Service struct {
	store   Store
	gateway domain.Gateway
	cfg     Config
	logger  *zap.Logger
}

// New creates an ingestion service.
func New(store Store, gateway domain.Gateway, cfg Config, logger *zap.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Quantization == "" {
		cfg.Quantization = domcol.QuantizationInt8
	}
	if cfg.Quantile == 0 {
		cfg.Quantile = domcol.DefaultQuantile
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, gateway: gateway, cfg: cfg, logger: logger}
}

// Schema returns the collection schema this service creates for name.
func (s *Service) Schema(name string) (domcol.Collection, error) {
	col, err := domcol.New(name, s.cfg.Dim, domcol.WithQuantization(s.cfg.Quantization, s.cfg.Quantile, s.cfg.AlwaysRAM))
	if err != nil {
		return domcol.Collection{}, fmt.Errorf("collection schema: %w", err)
	}
	return col, nil
}

// Ingest creates the collection, then embeds and upserts every page.
//
// A page whose embedding or upsert fails is logged, recorded in the report
// and skipped; the run only fails when the collection cannot be created
// (or, in append mode, does not exist). Cancelling ctx stops the run between
// pages: pages already started finish, the rest are not attempted, and the
// report comes back with Cancelled set alongside ctx's error.
func (s *Service) Ingest(ctx context.Context, collection string, pages []page.Page, opts Options) (dingest.Report, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := s.logger.With(zap.String("run_id", runID), zap.String("collection", collection))

	if err := s.prepare(ctx, collection, opts.Append); err != nil {
		return dingest.Report{}, err
	}

	workers := s.cfg.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return dingest.Report{}, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	logger.Info("Ingestion started", zap.Int("pages", len(pages)), zap.Int("workers", workers), zap.Bool("append", opts.Append))
	start := time.Now()

	run := &progress{
		report:   dingest.Report{RunID: runID, Collection: collection, Total: len(pages)},
		callback: opts.Progress,
	}
	var wg sync.WaitGroup

	for _, p := range pages {
		if ctx.Err() != nil {
			run.cancel()
			break
		}

		wg.Add(1)
		// in-flight pages are not interrupted by cancellation
		pageCtx := context.WithoutCancel(ctx)
		task := func() {
			defer wg.Done()
			run.done(p, s.processPage(ctx, pageCtx, collection, p))
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			run.done(p, fmt.Errorf("schedule page: %w", err))
		}
	}
	wg.Wait()

	report := run.result()
	for _, f := range report.Failures {
		logger.Warn("Page skipped",
			zap.Int("index", f.Index),
			zap.String("source_name", f.SourceName),
			zap.Int("page_number", f.PageNumber),
			zap.Error(f.Err),
		)
	}
	logger.Info("Ingestion finished",
		zap.Int("total", report.Total),
		zap.Int("stored", report.Stored),
		zap.Int("failed", len(report.Failures)),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("duration", time.Since(start)),
	)

	if report.Cancelled {
		return report, fmt.Errorf("ingestion cancelled: %w", context.Cause(ctx))
	}
	return report, nil
}

func (s *Service) prepare(ctx context.Context, collection string, appendMode bool) error {
	if appendMode {
		exists, err := s.store.CollectionExists(ctx, collection)
		if err != nil {
			return fmt.Errorf("check collection: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collection)
		}
		return nil
	}

	col, err := s.Schema(collection)
	if err != nil {
		return err
	}
	if err := s.store.CreateCollection(ctx, col); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// processPage embeds and upserts one page. Retries of the gateway call stop
// early when runCtx ends; the calls themselves run under pageCtx.
func (s *Service) processPage(runCtx, pageCtx context.Context, collection string, p page.Page) error {
	metrics.IngestInFlight.Inc()
	defer metrics.IngestInFlight.Dec()

	var emb domain.Embedding
	err := retryWithBackoff(runCtx, s.cfg.MaxAttempts, s.cfg.RetryDelay, func() error {
		var err error
		emb, err = s.gateway.EmbedImage(pageCtx, p.Image())
		return err
	})
	if err != nil {
		return fmt.Errorf("embed page: %w", err)
	}

	if err := s.store.Upsert(pageCtx, collection, point.FromPage(p, emb)); err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

// progress accumulates page outcomes from pool workers.
type progress struct {
	mu       sync.Mutex
	report   dingest.Report
	callback dingest.Progress
}

func (r *progress) done(p page.Page, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		metrics.IngestPagesTotal.WithLabelValues("failed").Inc()
		r.report.Failures = append(r.report.Failures, dingest.PageFailure{
			Index:      p.Index(),
			SourceName: p.SourceName(),
			PageNumber: p.PageNumber(),
			Err:        err,
		})
	} else {
		metrics.IngestPagesTotal.WithLabelValues("stored").Inc()
		r.report.Stored++
	}
	if r.callback != nil {
		r.callback(r.report.Processed(), r.report.Total)
	}
}

func (r *progress) cancel() {
	r.mu.Lock()
	r.report.Cancelled = true
	r.mu.Unlock()
}

func (r *progress) result() dingest.Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.report
	out.Failures = slices.Clone(r.report.Failures)
	slices.SortFunc(out.Failures, func(a, b dingest.PageFailure) int { return a.Index - b.Index })
	return out
}

// IsCancelled reports whether err ended a run through cancellation rather than a setup failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
