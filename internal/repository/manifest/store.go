// Package manifest stores collection manifests as JSON files next to the
// collection's documents: <dir>/<name>/collection_info.json.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kailas-cloud/pagedex/internal/domain"
	dommanifest "github.com/kailas-cloud/pagedex/internal/domain/manifest"
)

// FileName is the manifest file inside a collection directory.
const FileName = "collection_info.json"

// Store is a file-backed manifest store.
type Store struct {
	dir string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory that holds the named collection's files.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.dir, name)
}

// Save writes m atomically, creating the collection directory if needed.
func (s *Store) Save(_ context.Context, m dommanifest.Manifest) error {
	dir := s.Dir(m.Name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, FileName)); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// Get reads the named manifest. Missing manifests yield ErrCollectionNotFound.
func (s *Store) Get(_ context.Context, name string) (dommanifest.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(name), FileName))
	if errors.Is(err, os.ErrNotExist) {
		return dommanifest.Manifest{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err != nil {
		return dommanifest.Manifest{}, fmt.Errorf("read manifest %s: %w", name, err)
	}

	var m dommanifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return dommanifest.Manifest{}, fmt.Errorf("parse manifest %s: %w", name, err)
	}
	return m, nil
}

// Exists reports whether the named manifest is present.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.Dir(name), FileName))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat manifest %s: %w", name, err)
	}
}

// List returns every readable manifest sorted by name. Directories without a
// manifest are ignored.
func (s *Store) List(ctx context.Context) ([]dommanifest.Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []dommanifest.Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	out := make([]dommanifest.Manifest, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m, err := s.Get(ctx, e.Name())
		if errors.Is(err, domain.ErrCollectionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b dommanifest.Manifest) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// SaveFile copies r into the collection directory under the base name of filename.
func (s *Store) SaveFile(_ context.Context, name, filename string, r io.Reader) (string, error) {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) || base == FileName {
		return "", fmt.Errorf("%w: invalid file name %q", domain.ErrInvalidSchema, filename)
	}
	dir := s.Dir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create collection dir: %w", err)
	}

	dst := filepath.Join(dir, base)
	f, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", base, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", base, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", base, err)
	}
	return dst, nil
}

// Delete removes the collection directory with everything in it.
func (s *Store) Delete(_ context.Context, name string) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("%w: invalid collection name %q", domain.ErrInvalidSchema, name)
	}
	if err := os.RemoveAll(s.Dir(name)); err != nil {
		return fmt.Errorf("remove collection dir: %w", err)
	}
	return nil
}
