package tensor

import (
	"errors"
	"fmt"
	"unsafe"
)

// MaxBufferBytes bounds a single allocation. Requests above it fail with
// ErrAllocation instead of taking the process down.
const MaxBufferBytes int64 = 16 << 30

// Source supplies the raw bytes of a named tensor. dst is sized exactly to
// the tensor's byte size; implementations must fill all of it or fail.
type Source interface {
	ReadTensor(name string, dst []byte) error
}

// State is the lifecycle position of a buffer or layer.
type State uint8

const (
	Unallocated State = iota
	Allocated
	Freed
)

func (s State) String() string {
	switch s {
	case Unallocated:
		return "unallocated"
	case Allocated:
		return "allocated"
	case Freed:
		return "freed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Buffer is an owned, flat float32 region described by Params. Memory is
// reserved by Allocate and dropped by Release; element access in any other
// state panics with a precondition *Error.
type Buffer struct {
	params Params
	data   []float32
	state  State
}

// NewBuffer returns an unallocated buffer for p.
func NewBuffer(p Params) *Buffer {
	return &Buffer{params: p}
}

// Params returns the buffer's descriptor.
func (b *Buffer) Params() Params { return b.params }

// Shape returns a copy of the buffer's dimensions.
func (b *Buffer) Shape() Shape { return b.params.Dims() }

// Len returns the element count of the descriptor.
func (b *Buffer) Len() int { return b.params.Elems() }

// State returns the lifecycle state.
func (b *Buffer) State() State { return b.state }

// Allocated reports whether element access is currently valid.
func (b *Buffer) Allocated() bool { return b.state == Allocated }

// Allocate reserves exactly Params().Bytes() of zeroed memory.
func (b *Buffer) Allocate() (err error) {
	if b.state == Allocated {
		return PreconditionErrorf("allocate", "buffer %s already allocated", b.params)
	}
	if err := b.params.Validate(); err != nil {
		return err
	}
	size := b.params.Bytes()
	if int64(size) > MaxBufferBytes {
		return newError(ErrAllocation, "allocate", b.params.Source(), "%d bytes exceeds limit of %d", size, MaxBufferBytes)
	}
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrAllocation, "allocate", b.params.Source(), "%d bytes: %v", size, r)
		}
	}()
	b.data = make([]float32, b.params.Elems())
	b.state = Allocated
	return nil
}

// Release drops the memory. Releasing a buffer that is not allocated is a
// no-op.
func (b *Buffer) Release() {
	if b.state != Allocated {
		return
	}
	b.data = nil
	b.state = Freed
}

func (b *Buffer) mustBeAllocated(op string) {
	if b.state != Allocated {
		panic(PreconditionErrorf(op, "buffer %s is %s", b.params, b.state))
	}
}

// Data returns the element slice. Writes through it mutate the buffer.
func (b *Buffer) Data() []float32 {
	b.mustBeAllocated("data")
	return b.data
}

// At returns the element at flat index i. Bounds are the caller's concern.
func (b *Buffer) At(i int) float32 {
	b.mustBeAllocated("at")
	return b.data[i]
}

// Set stores v at flat index i.
func (b *Buffer) Set(i int, v float32) {
	b.mustBeAllocated("set")
	b.data[i] = v
}

// Elem is the checked form of At.
func (b *Buffer) Elem(i int) (float32, error) {
	if b.state != Allocated {
		return 0, PreconditionErrorf("elem", "buffer %s is %s", b.params, b.state)
	}
	if i < 0 || i >= len(b.data) {
		return 0, IndexErrorf("elem", "index %d outside [0,%d)", i, len(b.data))
	}
	return b.data[i], nil
}

// Bytes returns the buffer memory as native-endian raw bytes, aliasing Data.
func (b *Buffer) Bytes() []byte {
	b.mustBeAllocated("bytes")
	return floatBytes(b.data)
}

// Load fills the buffer from src using the descriptor's source identifier.
func (b *Buffer) Load(src Source) error {
	if b.state != Allocated {
		return PreconditionErrorf("load", "buffer %s is %s", b.params, b.state)
	}
	name := b.params.Source()
	if name == "" {
		return IOError("load", b.params.String(), errors.New("no source identifier"))
	}
	if src == nil {
		return IOError("load", name, errors.New("no tensor source configured"))
	}
	if err := src.ReadTensor(name, b.Bytes()); err != nil {
		var te *Error
		if errors.As(err, &te) {
			return err
		}
		return IOError("load", name, err)
	}
	return nil
}

// CopyFrom copies src's elements into b. Both must be allocated and have
// identical shapes.
func (b *Buffer) CopyFrom(src *Buffer) error {
	if b.state != Allocated || src.state != Allocated {
		return PreconditionErrorf("copy", "copy %s -> %s requires allocated buffers", src.params, b.params)
	}
	if !b.params.dims.Equal(src.params.dims) {
		return ShapeErrorf("copy", "source %s does not match destination %s", src.params.dims, b.params.dims)
	}
	copy(b.data, src.data)
	return nil
}

// Clone returns an allocated deep copy of b.
func (b *Buffer) Clone() *Buffer {
	b.mustBeAllocated("clone")
	return &Buffer{
		params: b.params,
		data:   append([]float32(nil), b.data...),
		state:  Allocated,
	}
}

// FromSlice wraps data in an allocated buffer. len(data) must equal the
// element count of p.
func FromSlice(p Params, data []float32) (*Buffer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(data) != p.Elems() {
		return nil, ShapeErrorf("from slice", "%d elements for %s", len(data), p.dims)
	}
	return &Buffer{params: p, data: data, state: Allocated}, nil
}

func floatBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*ElemSize)
}

// FloatBytes reinterprets f as native-endian bytes without copying.
func FloatBytes(f []float32) []byte { return floatBytes(f) }
