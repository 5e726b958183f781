package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pagedex/internal/domain"
	domcol "github.com/kailas-cloud/pagedex/internal/domain/collection"
	"github.com/kailas-cloud/pagedex/internal/metrics"
)

// CreateCollection creates a multi-vector collection for col.
// Fails with ErrCollectionAlreadyExists if the name is taken.
func (c *Client) CreateCollection(ctx context.Context, col domcol.Collection) (err error) {
	defer func() { metrics.ObserveStore(backend, "create_collection", err) }()

	exists, err := c.CollectionExists(ctx, col.Name())
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrCollectionAlreadyExists, col.Name())
	}

	err = c.do(ctx, http.MethodPut, collectionPath(col.Name(), ""), c.createRequest(col), nil)
	if err != nil {
		return mapStatus(err, col.Name())
	}
	c.logger.Info("Collection created",
		zap.String("collection", col.Name()),
		zap.Int("dim", col.Dim()),
		zap.String("quantization", string(col.Quantization())),
	)
	return nil
}

func (c *Client) createRequest(col domcol.Collection) createCollectionRequest {
	req := createCollectionRequest{
		Vectors: vectorParams{
			Size:              col.Dim(),
			Distance:          "Cosine",
			MultivectorConfig: &multivectorConfig{Comparator: "max_sim"},
		},
		OnDiskPayload: c.onDiskPayload,
	}
	if col.Quantization() == domcol.QuantizationInt8 {
		req.QuantizationConfig = &quantizationConfig{Scalar: scalarQuantization{
			Type:      "int8",
			Quantile:  col.Quantile(),
			AlwaysRAM: col.AlwaysRAM(),
		}}
	}
	if c.indexingThreshold > 0 {
		req.OptimizersConfig = &optimizersConfig{IndexingThreshold: c.indexingThreshold}
	}
	return req
}

// CollectionExists reports whether the named collection exists.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	var res existsResult
	if err := c.do(ctx, http.MethodGet, collectionPath(name, "/exists"), nil, &res); err != nil {
		return false, mapStatus(err, name)
	}
	return res.Exists, nil
}

// DeleteCollection drops the collection with all its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) (err error) {
	defer func() { metrics.ObserveStore(backend, "delete_collection", err) }()

	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err := c.do(ctx, http.MethodDelete, collectionPath(name, ""), nil, nil); err != nil {
		return mapStatus(err, name)
	}
	return nil
}

// mapStatus converts 4xx replies into domain errors.
func mapStatus(err error, name string) error {
	var serr *statusError
	if !errors.As(err, &serr) {
		return err
	}
	switch serr.status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrCollectionAlreadyExists, name)
	default:
		return fmt.Errorf("collection %s: %w", name, err)
	}
}
