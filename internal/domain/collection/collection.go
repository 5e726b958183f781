package collection

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Distance is the per-vector similarity metric.
type Distance string

// DistanceCosine is the only metric pages are indexed with.
const DistanceCosine Distance = "cosine"

// Comparator is the rule that folds per-vector scores into one point score.
type Comparator string

// ComparatorMaxSim scores a point by the best single pair of query and stored sub-vectors.
const ComparatorMaxSim Comparator = "max_sim"

// Quantization is the on-disk compaction policy for stored vectors.
type Quantization string

// Quantization policies.
const (
	QuantizationNone Quantization = "none"
	QuantizationInt8 Quantization = "int8"
)

// DefaultQuantile is the clipping quantile for int8 scalar quantization.
const DefaultQuantile = 0.99

// IsValid checks if the quantization policy is supported.
func (q Quantization) IsValid() bool {
	return q == QuantizationNone || q == QuantizationInt8
}

// Collection is the schema of a named point set. Fixed for the collection's lifetime.
type Collection struct {
	name         string
	dim          int
	distance     Distance
	comparator   Comparator
	quantization Quantization
	quantile     float64
	alwaysRAM    bool
	createdAt    int64
}

// Option adjusts a schema before validation.
type Option func(*Collection)

// WithQuantization overrides the default int8 policy.
func WithQuantization(q Quantization, quantile float64, alwaysRAM bool) Option {
	return func(c *Collection) {
		c.quantization = q
		c.quantile = quantile
		c.alwaysRAM = alwaysRAM
	}
}

// ValidateName checks a collection name: ^[a-zA-Z0-9_-]+$, 1-64 chars.
// Names double as directory names under the storage root.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name is required", domain.ErrInvalidSchema)
	}
	if len(name) > 64 {
		return fmt.Errorf("%w: collection name too long (max 64)", domain.ErrInvalidSchema)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: collection name must be alphanumeric with underscores and hyphens",
			domain.ErrInvalidSchema)
	}
	return nil
}

// New validates and creates a schema with cosine distance, max-sim comparator
// and int8 scalar quantization unless overridden.
func New(name string, dim int, opts ...Option) (Collection, error) {
	c := Collection{
		name:         name,
		dim:          dim,
		distance:     DistanceCosine,
		comparator:   ComparatorMaxSim,
		quantization: QuantizationInt8,
		quantile:     DefaultQuantile,
		alwaysRAM:    true,
		createdAt:    time.Now().UnixMilli(),
	}
	for _, o := range opts {
		o(&c)
	}

	if err := ValidateName(name); err != nil {
		return Collection{}, err
	}
	if dim <= 0 {
		return Collection{}, fmt.Errorf("%w: vector dimension must be positive", domain.ErrInvalidSchema)
	}
	if !c.quantization.IsValid() {
		return Collection{}, fmt.Errorf("%w: unsupported quantization %q", domain.ErrInvalidSchema, c.quantization)
	}
	if c.quantization == QuantizationInt8 && (c.quantile <= 0 || c.quantile > 1) {
		return Collection{}, fmt.Errorf("%w: quantile must be in (0, 1]", domain.ErrInvalidSchema)
	}
	return c, nil
}

// Reconstruct creates a schema without validation (storage hydration).
func Reconstruct(
	name string, dim int, distance Distance, comparator Comparator,
	quantization Quantization, quantile float64, alwaysRAM bool, createdAt int64,
) Collection {
	return Collection{
		name:         name,
		dim:          dim,
		distance:     distance,
		comparator:   comparator,
		quantization: quantization,
		quantile:     quantile,
		alwaysRAM:    alwaysRAM,
		createdAt:    createdAt,
	}
}

// Name returns the collection name.
func (c Collection) Name() string { return c.name }

// Dim returns the sub-vector dimension.
func (c Collection) Dim() int { return c.dim }

// Distance returns the per-vector metric.
func (c Collection) Distance() Distance { return c.distance }

// Comparator returns the multi-vector comparison rule.
func (c Collection) Comparator() Comparator { return c.comparator }

// Quantization returns the compaction policy.
func (c Collection) Quantization() Quantization { return c.quantization }

// Quantile returns the int8 clipping quantile.
func (c Collection) Quantile() float64 { return c.quantile }

// AlwaysRAM reports whether quantized vectors stay resident in memory.
func (c Collection) AlwaysRAM() bool { return c.alwaysRAM }

// CreatedAt returns the creation timestamp (unix millis).
func (c Collection) CreatedAt() int64 { return c.createdAt }
