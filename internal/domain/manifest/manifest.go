package manifest

import "time"

// Status is the processing state of a collection as shown to operators.
type Status string

// Manifest statuses.
const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// IsValid checks if the status is one of the known values.
func (s Status) IsValid() bool {
	return s == StatusProcessing || s == StatusDone || s == StatusError
}

// Manifest is the operator-facing record of a collection, stored next to its files.
// A run that skipped pages is still done; PointsStored < PagesTotal tells it apart.
type Manifest struct {
	Name              string    `json:"name"`
	Status            Status    `json:"status"`
	NumberOfDocuments int       `json:"number_of_documents"`
	Files             []string  `json:"files"`
	RunID             string    `json:"run_id,omitempty"`
	PagesTotal        int       `json:"pages_total"`
	PointsStored      int       `json:"points_stored"`
	FailedPages       []int     `json:"failed_pages,omitempty"`
	Error             string    `json:"error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// New creates a processing manifest for the given files.
func New(name, runID string, files []string) Manifest {
	return Manifest{
		Name:              name,
		Status:            StatusProcessing,
		NumberOfDocuments: len(files),
		Files:             files,
		RunID:             runID,
		UpdatedAt:         time.Now().UTC(),
	}
}

// Partial reports whether a finished run stored fewer points than it had pages.
func (m Manifest) Partial() bool {
	return m.Status == StatusDone && m.PointsStored < m.PagesTotal
}

// Done marks the run finished with the given counts.
func (m Manifest) Done(pagesTotal, pointsStored int, failed []int) Manifest {
	m.Status = StatusDone
	m.PagesTotal = pagesTotal
	m.PointsStored = pointsStored
	m.FailedPages = failed
	m.Error = ""
	m.UpdatedAt = time.Now().UTC()
	return m
}

// Failed marks the run failed with the triggering condition.
func (m Manifest) Failed(err error) Manifest {
	m.Status = StatusError
	if err != nil {
		m.Error = err.Error()
	}
	m.UpdatedAt = time.Now().UTC()
	return m
}
