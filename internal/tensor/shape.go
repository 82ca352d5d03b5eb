package tensor

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ElemSize is the byte width of the only supported element type (float32).
const ElemSize = 4

// Axis positions for channel-last spatial tensors and convolution weights.
const (
	Height   = 0
	Width    = 1
	Channels = 2
	// OutChannels is the fourth axis of a (kh, kw, in, out) weight tensor.
	OutChannels = 3
)

// Shape is an ordered list of positive dimensions.
type Shape []int

// Elems returns the product of all dimensions.
func (s Shape) Elems() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	return slices.Equal(s, o)
}

// Valid reports whether the shape is non-empty, every dimension is positive
// and the element count fits in an int.
func (s Shape) Valid() bool {
	if len(s) == 0 {
		return false
	}
	n := 1
	for _, d := range s {
		if d <= 0 {
			return false
		}
		if n > int(^uint(0)>>1)/d/ElemSize {
			return false
		}
		n *= d
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// Params describes one role (input, output, weight, bias) of a layer. It is
// immutable once constructed: accessors hand out copies of the dimensions.
type Params struct {
	elemSize int
	dims     Shape
	source   string
}

// NewParams builds a float32 descriptor. source names where the data comes
// from and may be empty for buffers that are produced rather than loaded.
func NewParams(dims Shape, source string) Params {
	return Params{
		elemSize: ElemSize,
		dims:     slices.Clone(dims),
		source:   source,
	}
}

// ElemSize returns the byte width of one element.
func (p Params) ElemSize() int { return p.elemSize }

// Dims returns a copy of the shape.
func (p Params) Dims() Shape { return slices.Clone(p.dims) }

// Dim returns the i-th dimension.
func (p Params) Dim(i int) int { return p.dims[i] }

// Rank returns the number of dimensions.
func (p Params) Rank() int { return len(p.dims) }

// Source returns the external data identifier, empty if none.
func (p Params) Source() string { return p.source }

// Elems returns the total element count.
func (p Params) Elems() int { return p.dims.Elems() }

// Bytes returns the total byte size.
func (p Params) Bytes() int { return p.dims.Elems() * p.elemSize }

// IsZero reports whether the descriptor is empty (parameter-free role).
func (p Params) IsZero() bool { return len(p.dims) == 0 }

// WithSource returns a copy of p naming a different external source.
func (p Params) WithSource(source string) Params {
	return NewParams(p.dims, source)
}

// Validate checks that the descriptor describes a representable tensor.
func (p Params) Validate() error {
	if p.elemSize != ElemSize {
		return ShapeErrorf("params", "unsupported element size %d", p.elemSize)
	}
	if !p.dims.Valid() {
		return ShapeErrorf("params", "invalid dimensions %s", p.dims)
	}
	return nil
}

func (p Params) String() string {
	if p.source == "" {
		return p.dims.String()
	}
	return fmt.Sprintf("%s<%s>", p.dims, p.source)
}
