package page

import "image"

// Page is one indexable document page. Immutable once loaded.
type Page struct {
	index      int
	sourceName string
	pageNumber int
	image      image.Image
	text       string
}

// New creates a page. pageNumber is 1-based within sourceName; index is unique within a collection.
func New(index int, sourceName string, pageNumber int, img image.Image, text string) Page {
	return Page{
		index:      index,
		sourceName: sourceName,
		pageNumber: pageNumber,
		image:      img,
		text:       text,
	}
}

// Index returns the collection-wide page index, also used as the point id.
func (p Page) Index() int { return p.index }

// SourceName returns the originating document name.
func (p Page) SourceName() string { return p.sourceName }

// PageNumber returns the 1-based position within the source document.
func (p Page) PageNumber() int { return p.pageNumber }

// Image returns the rasterized page.
func (p Page) Image() image.Image { return p.image }

// Text returns the extracted plain text, possibly empty.
func (p Page) Text() string { return p.text }

// Record is a page as persisted in the page dataset: the image is PNG-encoded.
type Record struct {
	Index      int
	SourceName string
	PageNumber int
	Text       string
	ImagePNG   []byte
}
