package health

import "context"

// StorePinger checks vector store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding service availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
