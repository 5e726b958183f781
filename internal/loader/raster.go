package loader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const outputPrefix = "page"

// Pdftoppm renders pages with poppler's pdftoppm.
type Pdftoppm struct {
	Path string // binary, "pdftoppm" when empty
	DPI  int    // 150 when zero
}

// Rasterize renders every page of path to PNG in a temp dir and decodes them in page order.
func (p Pdftoppm) Rasterize(ctx context.Context, path string) ([]image.Image, error) {
	bin := p.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 150
	}

	dir, err := os.MkdirTemp("", "pagedex-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-png", "-r", strconv.Itoa(dpi), path, filepath.Join(dir, outputPrefix)) //nolint:gosec // binary comes from config
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return decodePages(dir)
}

// decodePages reads page-N.png files in ascending N. pdftoppm zero-pads N
// to the width of the page count, so lexical order is not enough.
func decodePages(dir string) ([]image.Image, error) {
	files, err := filepath.Glob(filepath.Join(dir, outputPrefix+"-*.png"))
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}

	type rendered struct {
		num  int
		path string
	}
	pages := make([]rendered, 0, len(files))
	for _, f := range files {
		base := strings.TrimSuffix(filepath.Base(f), ".png")
		num, err := strconv.Atoi(base[strings.LastIndexByte(base, '-')+1:])
		if err != nil {
			return nil, fmt.Errorf("unexpected rendered file %s", filepath.Base(f))
		}
		pages = append(pages, rendered{num: num, path: f})
	}
	slices.SortFunc(pages, func(a, b rendered) int { return a.num - b.num })

	images := make([]image.Image, 0, len(pages))
	for _, rp := range pages {
		img, err := decodePNG(rp.path)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
