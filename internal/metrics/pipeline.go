package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Vector store and ingestion metrics.
var (
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Vector store operations by backend, operation and outcome",
		},
		[]string{"backend", "op", "status"},
	)

	IngestPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_pages_total",
			Help:      "Pages processed by the ingestion pipeline",
		},
		[]string{"result"}, // stored, failed
	)

	IngestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_in_flight",
			Help:      "Pages currently being embedded and stored",
		},
	)
)

var pipelineOnce sync.Once

// RegisterPipelineMetrics registers store and ingestion metrics with the default registry.
func RegisterPipelineMetrics() {
	pipelineOnce.Do(func() {
		prometheus.MustRegister(StoreOperationsTotal, IngestPagesTotal, IngestInFlight)
	})
}

// ObserveStore counts one vector store operation.
func ObserveStore(backend, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationsTotal.WithLabelValues(backend, op, status).Inc()
}
