package qdrant

import (
	"encoding/json"
	"fmt"
)

// envelope is Qdrant's response wrapper. Status is "ok" on success or {"error": "..."} on failure.
type envelope[T any] struct {
	Result T           `json:"result"`
	Status statusField `json:"status"`
	Time   float64     `json:"time"`
}

type statusField struct {
	OK    bool
	Error string
}

func (s *statusField) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		s.OK = str == "ok"
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	s.Error = obj.Error
	return nil
}

type createCollectionRequest struct {
	Vectors            vectorParams        `json:"vectors"`
	QuantizationConfig *quantizationConfig `json:"quantization_config,omitempty"`
	OnDiskPayload      bool                `json:"on_disk_payload"`
	OptimizersConfig   *optimizersConfig   `json:"optimizers_config,omitempty"`
}

type vectorParams struct {
	Size              int                `json:"size"`
	Distance          string             `json:"distance"`
	MultivectorConfig *multivectorConfig `json:"multivector_config,omitempty"`
}

type multivectorConfig struct {
	Comparator string `json:"comparator"`
}

type quantizationConfig struct {
	Scalar scalarQuantization `json:"scalar"`
}

type scalarQuantization struct {
	Type      string  `json:"type"`
	Quantile  float64 `json:"quantile,omitempty"`
	AlwaysRAM bool    `json:"always_ram"`
}

type optimizersConfig struct {
	IndexingThreshold int `json:"indexing_threshold"`
}

type existsResult struct {
	Exists bool `json:"exists"`
}

type qdrantPoint struct {
	ID      uint64         `json:"id"`
	Vector  [][]float32    `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type updateResult struct {
	OperationID int64  `json:"operation_id"`
	Status      string `json:"status"`
}

type queryRequest struct {
	Query       [][]float32 `json:"query"`
	Limit       int         `json:"limit"`
	WithPayload bool        `json:"with_payload"`
}

type queryResult struct {
	Points []scoredPoint `json:"points"`
}

type scoredPoint struct {
	ID      json.Number    `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type countRequest struct {
	Exact bool `json:"exact"`
}

type countResult struct {
	Count int `json:"count"`
}
