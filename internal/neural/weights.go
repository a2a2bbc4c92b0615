// internal/neural/weights.go
// Flat weight buffer codec. Each tensor occupies a contiguous byte range whose
// offset is the running sum of the sizes of the tensors before it.

package neural

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnsupportedWeightType = errors.New("unsupported weight dtype")
	ErrCorruptWeights        = errors.New("corrupt weight buffer")
)

// DType is the element type of a stored tensor
type DType string

const (
	Float32   DType = "float32"
	Int32     DType = "int32"
	Bool      DType = "bool"
	Complex64 DType = "complex64"
	String    DType = "string"
)

// elementSize is the fixed byte width per element; strings are length-prefixed instead
var elementSize = map[DType]int{
	Float32:   4,
	Int32:     4,
	Bool:      1,
	Complex64: 8,
}

// WeightSpec locates one tensor inside a weight buffer
type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType DType  `json:"dtype"`
}

// Size is the number of elements described by the shape. Negative
// dimensions and products that overflow int are rejected.
func (s WeightSpec) Size() (int, error) {
	n := 1
	for _, d := range s.Shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative dimension in weight %s", ErrCorruptWeights, s.Name)
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("%w: shape %v of weight %s overflows", ErrCorruptWeights, s.Shape, s.Name)
		}
		n *= d
	}
	return n, nil
}

// Numeric reports whether the tensor can feed a dense computation
func (s WeightSpec) Numeric() bool {
	return s.DType == Float32 || s.DType == Int32 || s.DType == Bool
}

// Tensor is a decoded weight. Complex values are stored as interleaved
// real/imaginary pairs in Values; string tensors use Strings.
type Tensor struct {
	Spec    WeightSpec
	Values  []float64
	Strings []string
}

func checkDType(spec WeightSpec) error {
	if spec.DType == String {
		return nil
	}
	if _, ok := elementSize[spec.DType]; !ok {
		return fmt.Errorf("%w: %q for weight %s", ErrUnsupportedWeightType, spec.DType, spec.Name)
	}
	return nil
}

// EncodeWeights packs tensors into a little-endian buffer and returns the
// matching specs in buffer order
func EncodeWeights(tensors []Tensor) ([]WeightSpec, []byte, error) {
	specs := make([]WeightSpec, 0, len(tensors))
	var buf []byte

	for _, t := range tensors {
		if err := checkDType(t.Spec); err != nil {
			return nil, nil, err
		}
		n, err := t.Spec.Size()
		if err != nil {
			return nil, nil, err
		}

		switch t.Spec.DType {
		case String:
			if len(t.Strings) != n {
				return nil, nil, fmt.Errorf("weight %s: %d strings for shape %v", t.Spec.Name, len(t.Strings), t.Spec.Shape)
			}
			for _, s := range t.Strings {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
				buf = append(buf, s...)
			}
		case Complex64:
			if len(t.Values) != 2*n {
				return nil, nil, fmt.Errorf("weight %s: %d values for %d complex elements", t.Spec.Name, len(t.Values), n)
			}
			for _, v := range t.Values {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
		default:
			if len(t.Values) != n {
				return nil, nil, fmt.Errorf("weight %s: %d values for shape %v", t.Spec.Name, len(t.Values), t.Spec.Shape)
			}
			for _, v := range t.Values {
				buf = appendScalar(buf, t.Spec.DType, v)
			}
		}
		specs = append(specs, t.Spec)
	}
	return specs, buf, nil
}

func appendScalar(buf []byte, dtype DType, v float64) []byte {
	switch dtype {
	case Int32:
		return binary.LittleEndian.AppendUint32(buf, uint32(int32(math.Round(v))))
	case Bool:
		if v != 0 {
			return append(buf, 1)
		}
		return append(buf, 0)
	default:
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
}

// DecodeWeights slices data according to specs. Every dtype is checked against
// the allow-list before any byte is read.
func DecodeWeights(specs []WeightSpec, data []byte) ([]Tensor, error) {
	for _, spec := range specs {
		if err := checkDType(spec); err != nil {
			return nil, err
		}
		if _, err := spec.Size(); err != nil {
			return nil, err
		}
	}

	tensors := make([]Tensor, 0, len(specs))
	offset := 0
	for _, spec := range specs {
		n, _ := spec.Size()
		t := Tensor{Spec: spec}
		remaining := len(data) - offset

		if spec.DType == String {
			// every string carries at least its 4-byte length prefix
			if n > remaining/4 {
				return nil, fmt.Errorf("%w: weight %s truncated", ErrCorruptWeights, spec.Name)
			}
			t.Strings = make([]string, n)
			for i := 0; i < n; i++ {
				if offset+4 > len(data) {
					return nil, fmt.Errorf("%w: weight %s truncated", ErrCorruptWeights, spec.Name)
				}
				l := int(binary.LittleEndian.Uint32(data[offset:]))
				offset += 4
				if offset+l > len(data) {
					return nil, fmt.Errorf("%w: weight %s truncated", ErrCorruptWeights, spec.Name)
				}
				t.Strings[i] = string(data[offset : offset+l])
				offset += l
			}
			tensors = append(tensors, t)
			continue
		}

		size := elementSize[spec.DType]
		if n > remaining/size {
			return nil, fmt.Errorf("%w: weight %s needs %d elements of %d bytes, %d bytes left", ErrCorruptWeights, spec.Name, n, size, remaining)
		}
		end := offset + n*size
		chunk := data[offset:end]
		offset = end

		switch spec.DType {
		case Float32:
			t.Values = make([]float64, n)
			for i := range t.Values {
				t.Values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*4:])))
			}
		case Int32:
			t.Values = make([]float64, n)
			for i := range t.Values {
				t.Values[i] = float64(int32(binary.LittleEndian.Uint32(chunk[i*4:])))
			}
		case Bool:
			t.Values = make([]float64, n)
			for i, b := range chunk {
				if b != 0 {
					t.Values[i] = 1
				}
			}
		case Complex64:
			t.Values = make([]float64, 2*n)
			for i := range t.Values {
				t.Values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*4:])))
			}
		}
		tensors = append(tensors, t)
	}

	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptWeights, len(data)-offset)
	}
	return tensors, nil
}
