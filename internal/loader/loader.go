// Package loader turns PDF documents into pages: one rasterized image plus
// extracted text per page, in document order.
package loader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

// TextExtractor returns the plain text of every page of a document.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) ([]string, error)
}

// Rasterizer renders every page of a document to an image.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string) ([]image.Image, error)
}

// Skipped is a document left out of a batch.
type Skipped struct {
	Source string
	Err    error
}

// Batch is the outcome of loading several documents.
type Batch struct {
	Pages   []page.Page
	Sources []string // successfully loaded documents, in load order
	Skipped []Skipped
}

// Loader loads documents from the local filesystem. No network calls.
type Loader struct {
	text   TextExtractor
	raster Rasterizer
	logger *zap.Logger
}

// New creates a loader.
func New(text TextExtractor, raster Rasterizer, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{text: text, raster: raster, logger: logger}
}

// LoadDocument loads one document. Page indexes start at firstIndex and page
// numbers at 1. Fails with *domain.DocumentMalformedError when the number of
// rendered images differs from the number of extracted texts.
func (l *Loader) LoadDocument(ctx context.Context, path string, firstIndex int) ([]page.Page, error) {
	source := filepath.Base(path)

	texts, err := l.text.ExtractText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract text from %s: %w", source, err)
	}
	images, err := l.raster.Rasterize(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", source, err)
	}
	if len(images) != len(texts) {
		return nil, &domain.DocumentMalformedError{Source: source, Images: len(images), Texts: len(texts)}
	}

	pages := make([]page.Page, len(images))
	for i, img := range images {
		pages[i] = page.New(firstIndex+i, source, i+1, img, texts[i])
	}
	return pages, nil
}

// LoadFiles loads documents in the given order, assigning indexes sequentially
// from firstIndex. A document that fails to load is logged and skipped; its
// pages take no indexes. Only context cancellation aborts the batch.
func (l *Loader) LoadFiles(ctx context.Context, paths []string, firstIndex int) (Batch, error) {
	var b Batch
	next := firstIndex
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return b, err
		}

		pages, err := l.LoadDocument(ctx, path, next)
		if err != nil {
			if ctx.Err() != nil {
				return b, ctx.Err()
			}
			l.logger.Warn("Skipping document",
				zap.String("source", filepath.Base(path)),
				zap.Bool("malformed", errors.Is(err, domain.ErrDocumentMalformed)),
				zap.Error(err),
			)
			b.Skipped = append(b.Skipped, Skipped{Source: filepath.Base(path), Err: err})
			continue
		}

		b.Pages = append(b.Pages, pages...)
		b.Sources = append(b.Sources, filepath.Base(path))
		next += len(pages)
		l.logger.Debug("Document loaded", zap.String("source", filepath.Base(path)), zap.Int("pages", len(pages)))
	}
	return b, nil
}

// LoadFolder loads every *.pdf in dir (not recursive), sorted by name,
// with indexes starting at 0.
func (l *Loader) LoadFolder(ctx context.Context, dir string) (Batch, error) {
	paths, err := ListDocuments(dir)
	if err != nil {
		return Batch{}, err
	}
	return l.LoadFiles(ctx, paths, 0)
}

// ListDocuments returns the PDF files in dir sorted by name. The extension match is case-insensitive.
func ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}
