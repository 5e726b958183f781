// Package collection orchestrates the collection lifecycle: upload, load,
// page dataset, ingestion and the manifest that tracks them.
package collection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	dingest "github.com/kailas-cloud/pagedex/internal/domain/ingest"
	dommanifest "github.com/kailas-cloud/pagedex/internal/domain/manifest"
	"github.com/kailas-cloud/pagedex/internal/usecase/ingest"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// errCancelled is what a cancelled run leaves in the manifest.
var errCancelled = errors.New("ingestion cancelled")

// Upload is one document handed to Create.
type Upload struct {
	Name string
	Body io.Reader
}

// Options adjust a single Create.
type Options struct {
	// Append adds documents to an existing collection.
	Append   bool
	Workers  int
	Progress dingest.Progress
}

// Status is a manifest together with the live number of stored points.
type Status struct {
	dommanifest.Manifest
	Points int
}

// Reconciliation compares the vector store with the page dataset.
type Reconciliation struct {
	Collection string
	Points     int
	Pages      int
}

// Consistent reports whether every dataset page has a point.
func (r Reconciliation) Consistent() bool { return r.Points == r.Pages }

// Service manages collections. Safe for concurrent use.
type Service struct {
	manifests Manifests
	pages     Pages
	loader    Loader
	ingester  Ingester
	store     Store
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a collection service.
func New(manifests Manifests, pages Pages, ldr Loader, ingester Ingester, store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		manifests: manifests,
		pages:     pages,
		loader:    ldr,
		ingester:  ingester,
		store:     store,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// ValidateName checks a collection name: letters, digits, '_' and '-', at most 64 characters.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name %q must match %s", domain.ErrInvalidSchema, name, namePattern)
	}
	return nil
}

// Create saves the uploads, then loads and ingests them before returning.
// The returned manifest is the final one. A cancelled run is recorded as an error.
func (s *Service) Create(ctx context.Context, name string, files []Upload, opts Options) (dommanifest.Manifest, error) {
	j, err := s.begin(ctx, name, files, opts)
	if err != nil {
		return dommanifest.Manifest{}, err
	}
	return s.run(ctx, j)
}

// CreateAsync saves the uploads and returns the processing manifest right away.
// Loading and ingestion continue in the background, detached from ctx.
func (s *Service) CreateAsync(ctx context.Context, name string, files []Upload, opts Options) (dommanifest.Manifest, error) {
	j, err := s.begin(ctx, name, files, opts)
	if err != nil {
		return dommanifest.Manifest{}, err
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(bg, j); err != nil {
			s.logger.Error("Background ingestion failed", zap.String("collection", name), zap.Error(err))
		}
	}()
	return j.manifest, nil
}

// Wait blocks until background ingestions started by CreateAsync finish.
func (s *Service) Wait() { s.wg.Wait() }

// List returns every manifest, sorted by name.
func (s *Service) List(ctx context.Context) ([]dommanifest.Manifest, error) {
	out, err := s.manifests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return out, nil
}

// Get returns the manifest and the number of stored points.
// A collection still processing may have no store collection yet; it reports zero points.
func (s *Service) Get(ctx context.Context, name string) (Status, error) {
	m, err := s.manifests.Get(ctx, name)
	if err != nil {
		return Status{}, fmt.Errorf("get collection: %w", err)
	}
	points, err := s.store.Count(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrCollectionNotFound) {
		return Status{}, fmt.Errorf("count points: %w", err)
	}
	return Status{Manifest: m, Points: points}, nil
}

// Delete drops the store collection, then the collection directory.
// A collection with an ingestion in progress is not deleted.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !s.claim(name) {
		return fmt.Errorf("%w: %s is being ingested", domain.ErrCollectionAlreadyExists, name)
	}
	defer s.release(name)

	hasManifest, err := s.manifests.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}

	err = s.store.DeleteCollection(ctx, name)
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound):
		if !hasManifest {
			return fmt.Errorf("delete collection: %w", err)
		}
	case err != nil:
		return fmt.Errorf("delete collection: %w", err)
	}

	if err := s.manifests.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete collection files: %w", err)
	}
	s.logger.Info("Collection deleted", zap.String("collection", name))
	return nil
}

// PageImage returns the stored PNG of one page.
func (s *Service) PageImage(ctx context.Context, name string, index int) ([]byte, error) {
	rec, err := s.pages.Get(ctx, name, index)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", index, err)
	}
	return rec.ImagePNG, nil
}

// Reconcile counts stored points against dataset pages.
// A collection missing from the store counts as zero points.
func (s *Service) Reconcile(ctx context.Context, name string) (Reconciliation, error) {
	points, err := s.store.Count(ctx, name)
	if err != nil && !errors.Is(err, domain.ErrCollectionNotFound) {
		return Reconciliation{}, fmt.Errorf("count points: %w", err)
	}
	pages, err := s.pages.Count(ctx, name)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("count pages: %w", err)
	}
	r := Reconciliation{Collection: name, Points: points, Pages: pages}
	if !r.Consistent() {
		s.logger.Warn("Collection out of sync",
			zap.String("collection", name),
			zap.Int("points", points),
			zap.Int("pages", pages),
		)
	}
	return r, nil
}

// job is a create that passed validation and has its files on disk.
type job struct {
	name       string
	paths      []string
	firstIndex int
	opts       Options
	manifest   dommanifest.Manifest
	previous   dommanifest.Manifest // append mode only
}

func (s *Service) begin(ctx context.Context, name string, files []Upload, opts Options) (*job, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !s.claim(name) {
		return nil, fmt.Errorf("%w: %s is being ingested", domain.ErrCollectionAlreadyExists, name)
	}

	j, err := s.prepare(ctx, name, files, opts)
	if err != nil {
		s.release(name)
		return nil, err
	}
	return j, nil
}

func (s *Service) prepare(ctx context.Context, name string, files []Upload, opts Options) (*job, error) {
	j := &job{name: name, opts: opts}

	if opts.Append {
		prev, err := s.manifests.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("append to collection: %w", err)
		}
		if j.firstIndex, err = s.pages.Count(ctx, name); err != nil {
			return nil, fmt.Errorf("count pages: %w", err)
		}
		j.previous = prev
	} else if err := s.ensureAbsent(ctx, name); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		path, err := s.manifests.SaveFile(ctx, name, f.Name, f.Body)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", f.Name, err)
		}
		j.paths = append(j.paths, path)
		names = append(names, f.Name)
	}

	if opts.Append {
		names = append(append([]string{}, j.previous.Files...), names...)
	}
	j.manifest = dommanifest.New(name, uuid.NewString(), names)
	if err := s.manifests.Save(ctx, j.manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	return j, nil
}

func (s *Service) ensureAbsent(ctx context.Context, name string) error {
	exists, err := s.manifests.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("check manifest: %w", err)
	}
	if !exists {
		exists, err = s.store.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("check collection: %w", err)
		}
	}
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrCollectionAlreadyExists, name)
	}
	return nil
}

// run loads the saved documents, writes the page dataset and ingests it,
// then records the outcome in the manifest.
func (s *Service) run(ctx context.Context, j *job) (dommanifest.Manifest, error) {
	defer s.release(j.name)
	logger := s.logger.With(zap.String("collection", j.name), zap.String("run_id", j.manifest.RunID))

	report, runErr := s.ingest(ctx, j)

	m := j.manifest
	switch {
	case runErr == nil:
		m = m.Done(
			j.previous.PagesTotal+report.Total,
			j.previous.PointsStored+report.Stored,
			append(append([]int{}, j.previous.FailedPages...), report.FailedIndexes()...),
		)
	default:
		// appended runs keep the counts of the pages already searchable
		m.PagesTotal = j.previous.PagesTotal + report.Total
		m.PointsStored = j.previous.PointsStored + report.Stored
		m.FailedPages = append(append([]int{}, j.previous.FailedPages...), report.FailedIndexes()...)
		if ingest.IsCancelled(runErr) {
			m = m.Failed(errCancelled)
		} else {
			m = m.Failed(runErr)
		}
	}

	// the outcome must be recorded even when ctx is already done
	if err := s.manifests.Save(context.WithoutCancel(ctx), m); err != nil {
		return m, errors.Join(runErr, fmt.Errorf("save manifest: %w", err))
	}

	if runErr != nil {
		logger.Error("Collection ingestion failed", zap.Error(runErr))
		return m, runErr
	}
	logger.Info("Collection ready",
		zap.Int("pages_total", m.PagesTotal),
		zap.Int("points_stored", m.PointsStored),
		zap.Bool("partial", m.Partial()),
	)
	return m, nil
}

func (s *Service) ingest(ctx context.Context, j *job) (dingest.Report, error) {
	batch, err := s.loader.LoadFiles(ctx, j.paths, j.firstIndex)
	if err != nil {
		return dingest.Report{}, fmt.Errorf("load documents: %w", err)
	}
	if len(batch.Pages) > 0 {
		if err := s.pages.Write(ctx, j.name, batch.Pages); err != nil {
			return dingest.Report{}, fmt.Errorf("write page dataset: %w", err)
		}
	}
	return s.ingester.Ingest(ctx, j.name, batch.Pages, ingest.Options{
		Append:   j.opts.Append,
		RunID:    j.manifest.RunID,
		Progress: j.opts.Progress,
		Workers:  j.opts.Workers,
	})
}

func (s *Service) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[name]; busy {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Service) release(name string) {
	s.mu.Lock()
	delete(s.inflight, name)
	s.mu.Unlock()
}
