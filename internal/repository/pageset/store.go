// Package pageset persists the page dataset of a collection as a parquet file,
// so search hits can be joined back to page images and text.
package pageset

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/pagedex/internal/domain"
	"github.com/kailas-cloud/pagedex/internal/domain/page"
)

// FileName is the dataset file inside a collection directory.
const FileName = "pages.parquet"

const readBatch = 64

type pageRow struct {
	Index      int64  `parquet:"index"`
	SourceName string `parquet:"source_name"`
	PageNumber int32  `parquet:"page_number"`
	Text       string `parquet:"page_text"`
	Image      []byte `parquet:"image"`
}

// Store keeps one dataset per collection under dir/<collection>/pages.parquet.
type Store struct {
	dir string
	mu  sync.Mutex // serializes rewrites
}

// New creates a page dataset store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Write stores pages with PNG-encoded images. Rows already in the dataset are
// kept unless a new page has the same index.
func (s *Store) Write(ctx context.Context, collection string, pages []page.Page) error {
	rows := make([]pageRow, 0, len(pages))
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		var buf bytes.Buffer
		if p.Image() != nil {
			if err := png.Encode(&buf, p.Image()); err != nil {
				return fmt.Errorf("encode page %d: %w", p.Index(), err)
			}
		}
		rows = append(rows, pageRow{
			Index:      int64(p.Index()),
			SourceName: p.SourceName(),
			PageNumber: int32(p.PageNumber()), //nolint:gosec // page numbers are small
			Text:       p.Text(),
			Image:      buf.Bytes(),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readRows(collection)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	merged := mergeRows(existing, rows)
	return s.writeRows(collection, merged)
}

// Get returns the page with the given index or ErrPageNotFound.
func (s *Store) Get(ctx context.Context, collection string, index int) (page.Record, error) {
	recs, err := s.GetMany(ctx, collection, []int{index})
	if err != nil {
		return page.Record{}, err
	}
	rec, ok := recs[index]
	if !ok {
		return page.Record{}, fmt.Errorf("%w: %s/%d", domain.ErrPageNotFound, collection, index)
	}
	return rec, nil
}

// GetMany returns the pages found among indexes. Missing indexes are absent
// from the map; a collection without a dataset yields ErrPageNotFound.
func (s *Store) GetMany(ctx context.Context, collection string, indexes []int) (map[int]page.Record, error) {
	want := make(map[int64]struct{}, len(indexes))
	for _, i := range indexes {
		want[int64(i)] = struct{}{}
	}

	out := make(map[int]page.Record, len(indexes))
	err := s.scan(ctx, collection, func(r pageRow) {
		if _, ok := want[r.Index]; ok {
			out[int(r.Index)] = toRecord(r)
		}
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no page dataset for %s", domain.ErrPageNotFound, collection)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored pages, 0 when there is no dataset.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	n := 0
	err := s.scan(ctx, collection, func(pageRow) { n++ })
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return n, err
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, collection, FileName)
}

func (s *Store) readRows(collection string) ([]pageRow, error) {
	var rows []pageRow
	err := s.scan(context.Background(), collection, func(r pageRow) { rows = append(rows, r) })
	return rows, err
}

func (s *Store) scan(ctx context.Context, collection string, fn func(pageRow)) error {
	f, err := os.Open(filepath.Clean(s.path(collection)))
	if err != nil {
		return fmt.Errorf("open page dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat page dataset: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[pageRow](pf)
	defer func() { _ = reader.Close() }()

	buf := make([]pageRow, readBatch)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := reader.Read(buf)
		for i := range n {
			// row buffers are reused across reads
			buf[i].Image = bytes.Clone(buf[i].Image)
			fn(buf[i])
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read page rows: %w", readErr)
		}
	}
}

// writeRows replaces the dataset atomically via a temp file and rename.
func (s *Store) writeRows(collection string, rows []pageRow) error {
	dst := s.path(collection)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".pages-*.parquet")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := parquet.NewGenericWriter[pageRow](tmp)
	if _, err := w.Write(rows); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write page rows: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush page dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("replace page dataset: %w", err)
	}
	return nil
}

func mergeRows(existing, added []pageRow) []pageRow {
	byIndex := make(map[int64]pageRow, len(existing)+len(added))
	for _, r := range existing {
		byIndex[r.Index] = r
	}
	for _, r := range added {
		byIndex[r.Index] = r
	}

	out := make([]pageRow, 0, len(byIndex))
	for _, r := range byIndex {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b pageRow) int { return cmp.Compare(a.Index, b.Index) })
	return out
}

func toRecord(r pageRow) page.Record {
	return page.Record{
		Index:      int(r.Index),
		SourceName: r.SourceName,
		PageNumber: int(r.PageNumber),
		Text:       r.Text,
		ImagePNG:   r.Image,
	}
}
