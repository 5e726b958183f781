package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentMalformed signals a document whose rasterized pages and extracted texts disagree.
	ErrDocumentMalformed = errors.New("document malformed")
	// ErrEmbeddingService signals a failed call to the remote embedding service.
	ErrEmbeddingService = errors.New("embedding service error")
	// ErrCollectionAlreadyExists signals a create on an existing collection name.
	ErrCollectionAlreadyExists = errors.New("collection already exists")
	// ErrCollectionNotFound signals a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrStoreUnavailable signals a network or storage failure in the vector store.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrInvalidTopK signals a top_k outside the accepted range.
	ErrInvalidTopK = errors.New("top_k must be at least 1")
	// ErrVectorDimMismatch signals an embedding whose sub-vectors do not match the collection dimension.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidSchema signals an invalid collection schema or name.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrPageNotFound signals a page index absent from the page dataset.
	ErrPageNotFound = errors.New("page not found")
	// ErrInterpreterDisabled signals that no vision-language model is configured.
	ErrInterpreterDisabled = errors.New("page interpreter disabled")
)

// EmbeddingServiceError carries the HTTP status or transport cause of a failed embedding call.
// StatusCode is 0 when the request never produced a response.
type EmbeddingServiceError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: %s: status %d: %s", ErrEmbeddingService, e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s: status %d", ErrEmbeddingService, e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", ErrEmbeddingService, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", ErrEmbeddingService, e.Op)
	}
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *EmbeddingServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEmbeddingService}
	}
	return []error{ErrEmbeddingService, e.Err}
}

// DocumentMalformedError reports the image/text count disagreement for one source document.
type DocumentMalformedError struct {
	Source string
	Images int
	Texts  int
}

func (e *DocumentMalformedError) Error() string {
	return fmt.Sprintf("%s: %s: %d rasterized pages but %d extracted texts",
		ErrDocumentMalformed, e.Source, e.Images, e.Texts)
}

func (e *DocumentMalformedError) Unwrap() error { return ErrDocumentMalformed }
