package result

import (
	"slices"

	"github.com/kailas-cloud/pagedex/internal/domain/page"
	"github.com/kailas-cloud/pagedex/internal/domain/point"
)

// Hit is one scored point returned by a vector store search.
type Hit struct {
	ID      uint64
	Score   float64
	Payload point.Payload
}

// Result is a hit joined back to its stored page.
// Page is nil when the page dataset has no row for the hit.
type Result struct {
	Hit
	Page *page.Record

	// Answer is the interpreter's reply over this page, set only by Ask.
	Answer    string
	AnswerErr error
}

// New wraps a hit without page data.
func New(h Hit) Result { return Result{Hit: h} }

// Hydrated reports whether the page data was found.
func (r Result) Hydrated() bool { return r.Page != nil }

// SortByScore orders hits by descending score, ties by ascending id
// so local backends return a deterministic order.
func SortByScore(hits []Hit) {
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// TopK truncates sorted hits to at most k entries. Never returns nil.
func TopK(hits []Hit, k int) []Hit {
	if hits == nil {
		return []Hit{}
	}
	if len(hits) > k {
		return hits[:k]
	}
	return hits
}
