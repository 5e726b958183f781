package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the embedding service is failing; stored data is still reachable.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names in Report.Checks.
const (
	ComponentStore     = "store"
	ComponentEmbedding = "embedding"
)

const defaultTimeout = 5 * time.Second

// Report aggregates health check results.
type Report struct {
	Status  Status
	Backend string
	Checks  map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	store     StorePinger
	backend   string
	embedding EmbeddingChecker
	timeout   time.Duration
}

// New creates a Service. embedding can be nil.
func New(store StorePinger, backend string, embedding EmbeddingChecker) *Service {
	return &Service{store: store, backend: backend, embedding: embedding, timeout: defaultTimeout}
}

// Check runs the component checks concurrently, each bounded by the check timeout.
func (s *Service) Check(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]CheckResult)
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			res := CheckOK
			if err := fn(cctx); err != nil {
				res = CheckError
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
		}()
	}

	run(ComponentStore, s.store.Ping)
	if s.embedding != nil {
		run(ComponentEmbedding, s.embedding.HealthCheck)
	}
	wg.Wait()

	status := Healthy
	switch {
	case checks[ComponentStore] == CheckError:
		status = Unhealthy
	case checks[ComponentEmbedding] == CheckError:
		status = Degraded
	}

	return Report{Status: status, Backend: s.backend, Checks: checks}
}
