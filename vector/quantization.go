package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/gpukit/errors"
)

// Level is a vector quantization format, trading accuracy for memory and
// bandwidth. Listed most precise first.
type Level int

// Quantization levels
const (
	// Float32 is full precision, 4 bytes per value.
	Float32 Level = iota
	// Int8 is scaled 8-bit precision with a per-vector float32 scale prefix.
	Int8
	// Int4 packs two scaled 4-bit values per byte with a scale prefix.
	Int4
	// Binary keeps only the sign bit, 8 values per byte.
	Binary
)

// String returns the level name
func (l Level) String() string {
	switch l {
	case Float32:
		return "float32"
	case Int8:
		return "int8"
	case Int4:
		return "int4"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}

// Validate ensures the level is one of the defined formats.
func (l Level) Validate() error {
	if l < Float32 || l > Binary {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "vector", "Validate",
			fmt.Sprintf("unknown quantization level %d", l))
	}
	return nil
}

// BytesPerVector returns the storage footprint of one dim-length vector at
// this level, including any scale prefix.
func (l Level) BytesPerVector(dim int) int {
	switch l {
	case Float32:
		return 4 * dim
	case Int8:
		return 4 + dim
	case Int4:
		return 4 + (dim+1)/2
	case Binary:
		return (dim + 7) / 8
	default:
		return 4 * dim
	}
}

// Pack serializes a flat batch of dim-length vectors at the given level.
// Int8 and Int4 carry a per-vector float32 scale prefix so Unpack can
// reconstruct approximate magnitudes; Binary keeps signs only.
func Pack(flat []float32, dim int, level Level) ([]byte, error) {
	if dim <= 0 || len(flat)%dim != 0 {
		return nil, errors.WrapInvalid(errors.ErrDimensionMismatch, "vector", "Pack",
			fmt.Sprintf("length %d is not a multiple of dimension %d", len(flat), dim))
	}
	if err := level.Validate(); err != nil {
		return nil, err
	}
	count := len(flat) / dim
	out := make([]byte, 0, count*level.BytesPerVector(dim))

	for off := 0; off < len(flat); off += dim {
		vec := flat[off : off+dim]
		switch level {
		case Float32:
			for _, v := range vec {
				out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
			}
		case Int8:
			scale := maxAbs(vec) / 127
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(scale))
			for _, v := range vec {
				out = append(out, byte(int8(quantize(v, scale, 127))))
			}
		case Int4:
			scale := maxAbs(vec) / 7
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(scale))
			for i := 0; i < dim; i += 2 {
				lo := byte(quantize(vec[i], scale, 7)+8) & 0x0f
				var hi byte
				if i+1 < dim {
					hi = byte(quantize(vec[i+1], scale, 7)+8) & 0x0f
				}
				out = append(out, lo|hi<<4)
			}
		case Binary:
			var b byte
			for i, v := range vec {
				if v >= 0 {
					b |= 1 << (i % 8)
				}
				if i%8 == 7 || i == dim-1 {
					out = append(out, b)
					b = 0
				}
			}
		}
	}
	return out, nil
}

// Unpack reverses Pack. Quantized formats are lossy; the result carries the
// reconstruction, not the original values.
func Unpack(data []byte, dim int, level Level) ([]float32, error) {
	if dim <= 0 {
		return nil, errors.WrapInvalid(errors.ErrDimensionMismatch, "vector", "Unpack",
			fmt.Sprintf("invalid dimension %d", dim))
	}
	if err := level.Validate(); err != nil {
		return nil, err
	}
	stride := level.BytesPerVector(dim)
	if len(data)%stride != 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "vector", "Unpack",
			fmt.Sprintf("payload length %d is not a multiple of vector stride %d", len(data), stride))
	}
	count := len(data) / stride
	out := make([]float32, 0, count*dim)

	for off := 0; off < len(data); off += stride {
		block := data[off : off+stride]
		switch level {
		case Float32:
			for i := 0; i < dim; i++ {
				out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(block[i*4:])))
			}
		case Int8:
			scale := math.Float32frombits(binary.LittleEndian.Uint32(block))
			for i := 0; i < dim; i++ {
				out = append(out, float32(int8(block[4+i]))*scale)
			}
		case Int4:
			scale := math.Float32frombits(binary.LittleEndian.Uint32(block))
			for i := 0; i < dim; i++ {
				b := block[4+i/2]
				nibble := b & 0x0f
				if i%2 == 1 {
					nibble = b >> 4
				}
				out = append(out, float32(int(nibble)-8)*scale)
			}
		case Binary:
			for i := 0; i < dim; i++ {
				if block[i/8]&(1<<(i%8)) != 0 {
					out = append(out, 1)
				} else {
					out = append(out, -1)
				}
			}
		}
	}
	return out, nil
}

func maxAbs(vec []float32) float32 {
	var m float32
	for _, v := range vec {
		a := v
		if a < 0 {
			a = -a
		}
		if a > m {
			m = a
		}
	}
	return m
}

// quantize maps v onto [-limit, limit] using scale. A zero scale means the
// whole vector is zero.
func quantize(v, scale float32, limit int) int {
	if scale == 0 {
		return 0
	}
	q := int(math.RoundToEven(float64(v / scale)))
	if q > limit {
		q = limit
	}
	if q < -limit {
		q = -limit
	}
	return q
}
