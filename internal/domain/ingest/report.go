package ingest

// PageFailure records a page the pipeline skipped.
type PageFailure struct {
	Index      int
	SourceName string
	PageNumber int
	Err        error
}

// Report summarizes one ingestion run. Ingestion is best effort: Stored may be less than Total.
type Report struct {
	RunID      string
	Collection string
	Total      int
	Stored     int
	Failures   []PageFailure
	// Cancelled is set when the context ended before every page was attempted.
	Cancelled bool
}

// Processed returns the number of pages attempted so far.
func (r Report) Processed() int { return r.Stored + len(r.Failures) }

// FailedIndexes returns the page indexes that were skipped, in failure order.
func (r Report) FailedIndexes() []int {
	if len(r.Failures) == 0 {
		return nil
	}
	out := make([]int, len(r.Failures))
	for i, f := range r.Failures {
		out[i] = f.Index
	}
	return out
}

// Progress receives coarse progress after each page: processed of total.
type Progress func(processed, total int)
