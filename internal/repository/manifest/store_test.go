package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/pagedex/internal/domain"
	dommanifest "github.com/kailas-cloud/pagedex/internal/domain/manifest"
)

func TestSaveGet(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	m := dommanifest.New("docs", "run-1", []string{"a.pdf", "b.pdf"})
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "docs")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != dommanifest.StatusProcessing || got.NumberOfDocuments != 2 || got.RunID != "run-1" {
		t.Errorf("unexpected manifest %+v", got)
	}

	done := got.Done(5, 4, []int{3})
	if err := s.Save(ctx, done); err != nil {
		t.Fatalf("Save done: %v", err)
	}
	got, err = s.Get(ctx, "docs")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != dommanifest.StatusDone || !got.Partial() || len(got.FailedPages) != 1 {
		t.Errorf("unexpected done manifest %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
	ok, err := s.Exists(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestList_SortedAndSkipsForeignDirs(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha"} {
		if err := s.Save(ctx, dommanifest.New(name, "", nil)); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(root, "no-manifest"), 0o750); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestList_NoStorageDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent"))
	list, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %#v", list)
	}
}

func TestSaveFileAndDelete(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	path, err := s.SaveFile(ctx, "docs", "../../etc/report.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if path != filepath.Join(s.Dir("docs"), "report.pdf") {
		t.Errorf("file escaped collection dir: %s", path)
	}
	if _, err := s.SaveFile(ctx, "docs", FileName, strings.NewReader("{}")); err == nil {
		t.Error("expected manifest file name to be rejected")
	}

	if err := s.Delete(ctx, "docs"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(s.Dir("docs")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected collection dir removed, got %v", err)
	}
	if err := s.Delete(ctx, "../x"); err == nil {
		t.Error("expected error for path-like name")
	}
}
