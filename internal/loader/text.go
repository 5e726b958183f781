package loader

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// PDFText extracts page text with ledongthuc/pdf.
type PDFText struct{}

// ExtractText returns one string per page. Pages without a content stream
// yield empty text so the count still matches the rendered pages.
func (PDFText) ExtractText(ctx context.Context, path string) (texts []string, err error) {
	// the parser panics on some broken cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			texts = nil
			err = fmt.Errorf("%w: parse %s: %v", domain.ErrDocumentMalformed, path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrDocumentMalformed, path, err)
	}
	defer func() { _ = f.Close() }()

	n := r.NumPage()
	texts = make([]string, 0, n)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := r.Page(i)
		if p.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := p.Font(name)
				fonts[name] = &font
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", i, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}
