package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

type mapSource map[string][]byte

func (m mapSource) ReadTensor(name string, dst []byte) error {
	b, ok := m[name]
	if !ok {
		return errors.New("missing")
	}
	if len(b) != len(dst) {
		return errors.New("size mismatch")
	}
	copy(dst, b)
	return nil
}

func randomBuffer(t *testing.T, dims Shape, seed int64) *Buffer {
	t.Helper()
	b := NewBuffer(NewParams(dims, ""))
	if err := b.Allocate(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range b.Data() {
		b.Data()[i] = rng.Float32()*2 - 1
	}
	return b
}

func TestShapeElems(t *testing.T) {
	tests := []struct {
		dims  Shape
		elems int
		valid bool
	}{
		{Shape{64, 64, 3}, 12288, true},
		{Shape{2048}, 2048, true},
		{Shape{5, 5, 3, 32}, 2400, true},
		{Shape{}, 0, false},
		{Shape{4, 0, 2}, 0, false},
		{Shape{-1, 2}, -2, false},
	}
	for _, tt := range tests {
		if got := tt.dims.Elems(); got != tt.elems {
			t.Errorf("%v.Elems() = %d, want %d", tt.dims, got, tt.elems)
		}
		if got := tt.dims.Valid(); got != tt.valid {
			t.Errorf("%v.Valid() = %v, want %v", tt.dims, got, tt.valid)
		}
	}
}

func TestParamsImmutable(t *testing.T) {
	t.Parallel()
	dims := Shape{2, 3}
	p := NewParams(dims, "w.bin")
	dims[0] = 99
	got := p.Dims()
	got[1] = 42
	if p.Dim(0) != 2 || p.Dim(1) != 3 {
		t.Fatalf("params mutated through caller slices: %v", p.Dims())
	}
	if p.Bytes() != 24 {
		t.Fatalf("bytes: got %d want 24", p.Bytes())
	}
}

func TestBufferLifecycle(t *testing.T) {
	t.Parallel()
	b := NewBuffer(NewParams(Shape{4}, ""))
	if b.State() != Unallocated {
		t.Fatalf("expected unallocated, got %s", b.State())
	}
	if err := b.Allocate(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(b.Data()) != 4 || len(b.Bytes()) != 16 {
		t.Fatalf("unexpected sizes: %d elems %d bytes", len(b.Data()), len(b.Bytes()))
	}
	if err := b.Allocate(); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("double allocate: expected ErrPrecondition, got %v", err)
	}
	b.Release()
	if b.State() != Freed {
		t.Fatalf("expected freed, got %s", b.State())
	}
	b.Release()
}

func TestBufferAccessAfterReleasePanics(t *testing.T) {
	t.Parallel()
	b := NewBuffer(NewParams(Shape{2}, ""))
	if err := b.Allocate(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	b.Release()

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrPrecondition) {
			t.Fatalf("expected precondition panic, got %v", r)
		}
	}()
	_ = b.At(0)
}

func TestBufferElemChecked(t *testing.T) {
	t.Parallel()
	b := NewBuffer(NewParams(Shape{3}, ""))
	if _, err := b.Elem(0); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition before allocate, got %v", err)
	}
	if err := b.Allocate(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	b.Set(2, 7)
	if v, err := b.Elem(2); err != nil || v != 7 {
		t.Fatalf("elem(2) = %v, %v", v, err)
	}
	if _, err := b.Elem(3); !errors.Is(err, ErrIndex) {
		t.Fatalf("expected ErrIndex, got %v", err)
	}
}

func TestAllocateTooLarge(t *testing.T) {
	t.Parallel()
	b := NewBuffer(NewParams(Shape{1 << 20, 1 << 20, 8}, ""))
	if err := b.Allocate(); !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected ErrAllocation, got %v", err)
	}
	if b.Allocated() {
		t.Fatalf("buffer must stay unallocated after failure")
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	want := []float32{1.5, -2, 3.25}
	src := mapSource{
		"ok.bin":    append([]byte(nil), FloatBytes(want)...),
		"short.bin": make([]byte, 8),
	}

	b := NewBuffer(NewParams(Shape{3}, "ok.bin"))
	if err := b.Allocate(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := b.Load(src); err != nil {
		t.Fatalf("load: %v", err)
	}
	for i, v := range want {
		if b.At(i) != v {
			t.Fatalf("elem %d: got %v want %v", i, b.At(i), v)
		}
	}

	for _, name := range []string{"short.bin", "missing.bin", ""} {
		b := NewBuffer(NewParams(Shape{3}, name))
		if err := b.Allocate(); err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if err := b.Load(src); !errors.Is(err, ErrIO) {
			t.Fatalf("load %q: expected ErrIO, got %v", name, err)
		}
	}

	unalloc := NewBuffer(NewParams(Shape{3}, "ok.bin"))
	if err := unalloc.Load(src); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("load before allocate: expected ErrPrecondition, got %v", err)
	}
}

func TestMaxAbsDiffSelf(t *testing.T) {
	t.Parallel()
	for _, dims := range []Shape{{1}, {7}, {4, 4, 3}, {3, 3, 2, 5}} {
		x := randomBuffer(t, dims, int64(len(dims)))
		d, err := x.MaxAbsDiff(x)
		if err != nil || d != 0 {
			t.Fatalf("%v: self diff = %v, %v", dims, d, err)
		}
		for _, eps := range []float32{0, 1e-6, 1} {
			ok, err := x.WithinTolerance(x, eps)
			if err != nil || !ok {
				t.Fatalf("%v: self within %v = %v, %v", dims, eps, ok, err)
			}
		}
	}
}

func TestMaxAbsDiffSinglePerturbation(t *testing.T) {
	t.Parallel()
	x := randomBuffer(t, Shape{8, 8, 3}, 3)
	for _, delta := range []float32{0.1, -0.25, 2} {
		y := x.Clone()
		y.Data()[17] += delta
		d, err := x.MaxAbsDiff(y)
		if err != nil {
			t.Fatalf("diff: %v", err)
		}
		want := float32(math.Abs(float64((x.At(17) + delta) - x.At(17))))
		if d != want {
			t.Fatalf("delta %v: got %v want %v", delta, d, want)
		}
		if ok, _ := x.WithinTolerance(y, d/2); ok {
			t.Fatalf("delta %v: expected outside tolerance %v", delta, d/2)
		}
	}
}

func TestMaxAbsDiffShapeMismatch(t *testing.T) {
	t.Parallel()
	a := randomBuffer(t, Shape{2, 3}, 1)
	b := randomBuffer(t, Shape{3, 2}, 1)
	if _, err := a.MaxAbsDiff(b); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestMaxAbsDiffNaN(t *testing.T) {
	t.Parallel()
	a := randomBuffer(t, Shape{4}, 1)
	b := a.Clone()
	b.Data()[2] = float32(math.NaN())
	d, _ := a.MaxAbsDiff(b)
	if !math.IsInf(float64(d), 1) {
		t.Fatalf("expected +Inf for NaN element, got %v", d)
	}
}

func TestCopyFrom(t *testing.T) {
	t.Parallel()
	src := randomBuffer(t, Shape{2, 2}, 9)
	dst := NewBuffer(NewParams(Shape{2, 2}, ""))
	if err := dst.CopyFrom(src); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
	if err := dst.Allocate(); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := dst.CopyFrom(src); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if d, _ := dst.MaxAbsDiff(src); d != 0 {
		t.Fatalf("copy differs by %v", d)
	}
	src.Data()[0] = 100
	if dst.At(0) == 100 {
		t.Fatalf("copy aliases source")
	}
}
