package points

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/kailas-cloud/pagedex/internal/domain"
)

// Vector blob layout, little-endian:
//
//	[0]     format: 'f' float32 rows, 'q' int8 rows
//	[1:5]   row count (uint32)
//	[5:9]   dimension (uint32)
//	rows    'f': dim*float32; 'q': float32 scale then dim*int8
const (
	formatFloat32 byte = 'f'
	formatInt8    byte = 'q'
	headerSize         = 9
)

func encodeFloat32(e domain.Embedding) []byte {
	dim := e.Dim()
	buf := make([]byte, headerSize+len(e)*dim*4)
	putHeader(buf, formatFloat32, len(e), dim)
	off := headerSize
	for _, row := range e {
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

// encodeInt8 scalar-quantizes each row. Values are clipped at the given quantile
// of the row's absolute values so a single outlier does not flatten the rest.
func encodeInt8(e domain.Embedding, quantile float64) []byte {
	dim := e.Dim()
	buf := make([]byte, headerSize+len(e)*(4+dim))
	putHeader(buf, formatInt8, len(e), dim)
	off := headerSize
	for _, row := range e {
		clip := clipBound(row, quantile)
		scale := clip / 127
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(scale))
		off += 4
		for _, v := range row {
			var q int8
			if scale > 0 {
				x := math.Max(-float64(clip), math.Min(float64(clip), float64(v)))
				q = int8(math.Round(x / float64(scale)))
			}
			buf[off] = byte(q)
			off++
		}
	}
	return buf
}

func clipBound(row []float32, quantile float64) float32 {
	abs := make([]float32, len(row))
	for i, v := range row {
		abs[i] = float32(math.Abs(float64(v)))
	}
	slices.Sort(abs)
	idx := int(math.Ceil(quantile*float64(len(abs)))) - 1
	idx = max(0, min(idx, len(abs)-1))
	return abs[idx]
}

func putHeader(buf []byte, format byte, rows, dim int) {
	buf[0] = format
	binary.LittleEndian.PutUint32(buf[1:5], uint32(rows)) //nolint:gosec // bounded by payload size
	binary.LittleEndian.PutUint32(buf[5:9], uint32(dim))  //nolint:gosec // bounded by payload size
}

func decodeVectors(buf []byte) (domain.Embedding, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(buf))
	}
	rows := int(binary.LittleEndian.Uint32(buf[1:5]))
	dim := int(binary.LittleEndian.Uint32(buf[5:9]))
	body := buf[headerSize:]

	switch buf[0] {
	case formatFloat32:
		if len(body) != rows*dim*4 {
			return nil, fmt.Errorf("float32 blob: expected %d bytes, got %d", rows*dim*4, len(body))
		}
		out := make(domain.Embedding, rows)
		for r := range out {
			row := make([]float32, dim)
			for i := range row {
				row[i] = math.Float32frombits(binary.LittleEndian.Uint32(body))
				body = body[4:]
			}
			out[r] = row
		}
		return out, nil
	case formatInt8:
		if len(body) != rows*(4+dim) {
			return nil, fmt.Errorf("int8 blob: expected %d bytes, got %d", rows*(4+dim), len(body))
		}
		out := make(domain.Embedding, rows)
		for r := range out {
			scale := math.Float32frombits(binary.LittleEndian.Uint32(body))
			body = body[4:]
			row := make([]float32, dim)
			for i := range row {
				row[i] = float32(int8(body[i])) * scale
			}
			body = body[dim:]
			out[r] = row
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown vector blob format %q", buf[0])
	}
}
