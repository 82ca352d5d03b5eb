package layer

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/samcharles93/tinycnn/internal/blob"
	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

func params(source string, dims ...int) tensor.Params {
	return tensor.NewParams(tensor.Shape(dims), source)
}

func randomFloats(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func input(t testing.TB, p tensor.Params, data []float32) *tensor.Buffer {
	t.Helper()
	b, err := tensor.FromSlice(p, data)
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	return b
}

// fixture builds and allocates one layer of each kind with random parameters.
type fixture struct {
	name  string
	build func(src *blob.Memory, rng *rand.Rand) (*Layer, error)
}

var fixtures = []fixture{
	{"conv", func(src *blob.Memory, rng *rand.Rand) (*Layer, error) {
		src.Put("cw", randomFloats(rng, 3*3*3*12))
		src.Put("cb", randomFloats(rng, 12))
		return NewConvolutional(params("", 10, 9, 3), params("", 8, 7, 12), params("cw", 3, 3, 3, 12), params("cb", 12))
	}},
	{"dense", func(src *blob.Memory, rng *rand.Rand) (*Layer, error) {
		src.Put("dw", randomFloats(rng, 37*19))
		src.Put("db", randomFloats(rng, 19))
		return NewDense(params("", 37), params("", 19), params("dw", 37, 19), params("db", 19), true)
	}},
	{"dense_linear", func(src *blob.Memory, rng *rand.Rand) (*Layer, error) {
		src.Put("lw", randomFloats(rng, 20*16))
		src.Put("lb", randomFloats(rng, 16))
		return NewDense(params("", 20), params("", 16), params("lw", 20, 16), params("lb", 16), false)
	}},
	{"maxpool", func(*blob.Memory, *rand.Rand) (*Layer, error) {
		return NewMaxPooling(params("", 8, 6, 11), params("", 4, 3, 11))
	}},
	{"flatten", func(*blob.Memory, *rand.Rand) (*Layer, error) {
		return NewFlatten(params("", 4, 3, 11), params("", 132))
	}},
	{"softmax", func(*blob.Memory, *rand.Rand) (*Layer, error) {
		return NewSoftmax(params("", 19), params("", 19))
	}},
}

func buildFixture(t testing.TB, fx fixture, seed int64) (*Layer, *tensor.Buffer) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	src := blob.NewMemory()
	l, err := fx.build(src, rng)
	if err != nil {
		t.Fatalf("%s: build: %v", fx.name, err)
	}
	if err := l.Allocate(src); err != nil {
		t.Fatalf("%s: allocate: %v", fx.name, err)
	}
	t.Cleanup(func() { _ = l.Free() })
	in := input(t, l.InputParams(), randomFloats(rng, l.InputParams().Elems()))
	return l, in
}

func computeClone(t *testing.T, l *Layer, s Strategy, in *tensor.Buffer) []float32 {
	t.Helper()
	out, err := l.Compute(s, in)
	if err != nil {
		t.Fatalf("compute %s: %v", s, err)
	}
	return out.Clone().Data()
}

// tiledOpts compares tiled output with naive. Tiled keeps the naive
// reduction order, so where the compiler does not fuse multiply-adds the
// results must be bit-identical.
func tiledOpts() []cmp.Option {
	if tiledExact {
		return nil
	}
	return []cmp.Option{cmpopts.EquateApprox(0, 1e-4)}
}

func TestStrategiesAgree(t *testing.T) {
	for _, fx := range fixtures {
		t.Run(fx.name, func(t *testing.T) {
			l, in := buildFixture(t, fx, 7)
			want := computeClone(t, l, Naive, in)

			if got := computeClone(t, l, Threaded, in); !cmp.Equal(got, want) {
				t.Errorf("threaded differs from naive:\n%s", cmp.Diff(want, got))
			}
			tiled := computeClone(t, l, Tiled, in)
			if diff := cmp.Diff(want, tiled, tiledOpts()...); diff != "" {
				t.Errorf("tiled differs from naive (-naive +tiled)\n%s", diff)
			}
			if diff := cmp.Diff(want, computeClone(t, l, SIMD, in), cmpopts.EquateApprox(0, 1e-4)); diff != "" {
				t.Errorf("simd differs from naive (-naive +simd)\n%s", diff)
			}
		})
	}
}

func TestFlattenIsByteCopy(t *testing.T) {
	l, in := buildFixture(t, fixtures[4], 3)
	for _, s := range Strategies() {
		out, err := l.Compute(s, in)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if !cmp.Equal(out.Bytes(), in.Bytes()) {
			t.Errorf("%s: output bytes differ from input", s)
		}
	}
}

func TestConvKnownValues(t *testing.T) {
	src := blob.NewMemory()
	src.Put("w", []float32{1, 1, 1, 1, 1, -1, 1, -1})
	src.Put("b", []float32{-1, 0})
	l, err := NewConvolutional(params("", 3, 3, 1), params("", 2, 2, 2), params("w", 2, 2, 1, 2), params("b", 2))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(src); err != nil {
		t.Fatal(err)
	}
	defer l.Free()

	in := input(t, l.InputParams(), []float32{1, 1, 1, 1, 1, 1, 1, 1, 1})
	// Channel 0 sums four ones then adds -1; channel 1 sums 1-1+1-1 = 0.
	want := []float32{3, 0, 3, 0, 3, 0, 3, 0}
	for _, s := range Strategies() {
		out, err := l.Compute(s, in)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if diff := cmp.Diff(want, out.Data()); diff != "" {
			t.Errorf("%s: (-want +got)\n%s", s, diff)
		}
	}
}

func TestConvAppliesReLU(t *testing.T) {
	src := blob.NewMemory()
	src.Put("w", []float32{1})
	src.Put("b", []float32{-5})
	l, err := NewConvolutional(params("", 2, 2, 1), params("", 2, 2, 1), params("w", 1, 1, 1, 1), params("b", 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(src); err != nil {
		t.Fatal(err)
	}
	defer l.Free()
	out, err := l.Compute(Naive, input(t, l.InputParams(), []float32{1, 2, 6, 10}))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{0, 0, 1, 5}, out.Data()); diff != "" {
		t.Errorf("(-want +got)\n%s", diff)
	}
}

func TestDenseActivation(t *testing.T) {
	tests := []struct {
		activation bool
		want       []float32
	}{
		{true, []float32{3.5, 0}},
		{false, []float32{3.5, -3}},
	}
	for _, tt := range tests {
		src := blob.NewMemory()
		src.Put("w", []float32{1, -1, 1, -1})
		src.Put("b", []float32{0.5, 0})
		l, err := NewDense(params("", 2), params("", 2), params("w", 2, 2), params("b", 2), tt.activation)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Allocate(src); err != nil {
			t.Fatal(err)
		}
		in := input(t, l.InputParams(), []float32{1, 2})
		for _, s := range Strategies() {
			out, err := l.Compute(s, in)
			if err != nil {
				t.Fatalf("%s: %v", s, err)
			}
			if diff := cmp.Diff(tt.want, out.Data()); diff != "" {
				t.Errorf("activation=%v %s: (-want +got)\n%s", tt.activation, s, diff)
			}
		}
		_ = l.Free()
	}
}

func TestMaxPoolKnownValues(t *testing.T) {
	l, err := NewMaxPooling(params("", 4, 4, 1), params("", 2, 2, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(nil); err != nil {
		t.Fatal(err)
	}
	defer l.Free()
	in := input(t, l.InputParams(), []float32{
		1, 5, 2, 2,
		3, 4, 2, 2,
		-1, -2, 0, 9,
		-3, -4, 8, 7,
	})
	want := []float32{5, 2, -1, 9}
	for _, s := range Strategies() {
		out, err := l.Compute(s, in)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if diff := cmp.Diff(want, out.Data()); diff != "" {
			t.Errorf("%s: (-want +got)\n%s", s, diff)
		}
	}
}

func TestMaxPoolKeepsFirstOfEqualValues(t *testing.T) {
	l, err := NewMaxPooling(params("", 2, 2, 1), params("", 1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(nil); err != nil {
		t.Fatal(err)
	}
	defer l.Free()
	negZero := float32(math.Copysign(0, -1))
	in := input(t, l.InputParams(), []float32{negZero, 0, 0, -1})
	for _, s := range Strategies() {
		out, err := l.Compute(s, in)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if got := out.At(0); !math.Signbit(float64(got)) {
			t.Errorf("%s: got +0, want the first maximum (-0)", s)
		}
	}
}

func TestSoftmaxIsDistribution(t *testing.T) {
	l, in := buildFixture(t, fixtures[5], 11)
	for _, s := range Strategies() {
		out, err := l.Compute(s, in)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		var sum float64
		for i, v := range out.Data() {
			if v < 0 || v > 1 {
				t.Errorf("%s: out[%d] = %g outside [0, 1]", s, i, v)
			}
			sum += float64(v)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("%s: sum = %g, want 1", s, sum)
		}
	}
}

func TestSoftmaxStableOption(t *testing.T) {
	l, err := NewSoftmax(params("", 3), params("", 3))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(nil); err != nil {
		t.Fatal(err)
	}
	defer l.Free()
	in := input(t, l.InputParams(), []float32{1000, 1000, 1000})

	out, err := l.Compute(Naive, in)
	if err != nil {
		t.Fatal(err)
	}
	if v := out.At(0); !math.IsNaN(float64(v)) {
		t.Errorf("unshifted softmax of 1000s = %g, want NaN from Inf/Inf", v)
	}

	l.SetOptions(Options{StableSoftmax: true})
	for _, s := range Strategies() {
		out, err := l.Compute(s, in)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		for i, v := range out.Data() {
			if math.Abs(float64(v)-1.0/3) > 1e-6 {
				t.Errorf("%s: out[%d] = %g, want 1/3", s, i, v)
			}
		}
	}
}

func TestTilingOptions(t *testing.T) {
	l, in := buildFixture(t, fixtures[0], 5)
	want := computeClone(t, l, Naive, in)

	l.SetOptions(Options{Tiles: kernel.Tiles{Rows: 1, Cols: 1, Chans: 1}})
	if diff := cmp.Diff(want, computeClone(t, l, Tiled, in), tiledOpts()...); diff != "" {
		t.Errorf("1x1x1 tiles differ from naive:\n%s", diff)
	}

	tuner := kernel.NewAutotuner()
	l.SetOptions(Options{Tuner: tuner})
	if diff := cmp.Diff(want, computeClone(t, l, Tiled, in), tiledOpts()...); diff != "" {
		t.Errorf("tuned tiles differ from naive:\n%s", diff)
	}
	if _, ok := tuner.Cached(l.op.tileKey()); !ok {
		t.Error("tuner did not cache a tiling for the conv shape")
	}

	l.SetOptions(Options{Workers: 1})
	if got := computeClone(t, l, Threaded, in); !cmp.Equal(got, want) {
		t.Error("single-worker threaded differs from naive")
	}
}

func TestLifecycle(t *testing.T) {
	src := blob.NewMemory()
	src.Put("w", make([]float32, 6))
	src.Put("b", make([]float32, 2))
	l, err := NewDense(params("", 3), params("", 2), params("w", 3, 2), params("b", 2), true)
	if err != nil {
		t.Fatal(err)
	}
	if l.State() != tensor.Unallocated {
		t.Fatalf("new layer state = %s", l.State())
	}
	in := input(t, l.InputParams(), []float32{1, 2, 3})

	if _, err := l.Compute(Naive, in); !errors.Is(err, tensor.ErrPrecondition) {
		t.Errorf("compute before allocate: err = %v, want ErrPrecondition", err)
	}
	if err := l.Free(); !errors.Is(err, tensor.ErrPrecondition) {
		t.Errorf("free before allocate: err = %v, want ErrPrecondition", err)
	}
	if err := l.Allocate(src); err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(src); !errors.Is(err, tensor.ErrPrecondition) {
		t.Errorf("second allocate: err = %v, want ErrPrecondition", err)
	}
	if _, err := l.Compute(Naive, in); err != nil {
		t.Errorf("compute: %v", err)
	}
	if err := l.Free(); err != nil {
		t.Fatal(err)
	}
	if l.State() != tensor.Freed {
		t.Errorf("state after free = %s", l.State())
	}
	if _, err := l.Compute(Naive, in); !errors.Is(err, tensor.ErrPrecondition) {
		t.Errorf("compute after free: err = %v, want ErrPrecondition", err)
	}
	if err := l.Allocate(src); err != nil {
		t.Errorf("reallocate after free: %v", err)
	}
	_ = l.Free()
}

func TestAllocateMissingWeightsRollsBack(t *testing.T) {
	src := blob.NewMemory()
	src.Put("w", make([]float32, 6))
	l, err := NewDense(params("", 3), params("", 2), params("w", 3, 2), params("missing", 2), true)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(src); !errors.Is(err, tensor.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if l.State() != tensor.Unallocated {
		t.Errorf("state = %s after failed allocate", l.State())
	}
	if l.Output().Allocated() {
		t.Error("output buffer left allocated")
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	l, _ := buildFixture(t, fixtures[3], 1)

	wrong := input(t, params("", 4, 3, 11), make([]float32, 132))
	if _, err := l.Compute(Naive, wrong); !errors.Is(err, tensor.ErrShape) {
		t.Errorf("wrong shape: err = %v, want ErrShape", err)
	}
	unallocated := tensor.NewBuffer(l.InputParams())
	if _, err := l.Compute(Naive, unallocated); !errors.Is(err, tensor.ErrPrecondition) {
		t.Errorf("unallocated input: err = %v, want ErrPrecondition", err)
	}
	if _, err := l.Compute(Strategy(42), input(t, l.InputParams(), make([]float32, l.InputParams().Elems()))); err == nil {
		t.Error("unknown strategy accepted")
	}
}

func TestNewRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*Layer, error)
	}{
		{"conv output size", func() (*Layer, error) {
			return NewConvolutional(params("", 8, 8, 3), params("", 8, 8, 4), params("w", 3, 3, 3, 4), params("b", 4))
		}},
		{"conv in channels", func() (*Layer, error) {
			return NewConvolutional(params("", 8, 8, 3), params("", 6, 6, 4), params("w", 3, 3, 2, 4), params("b", 4))
		}},
		{"conv bias", func() (*Layer, error) {
			return NewConvolutional(params("", 8, 8, 3), params("", 6, 6, 4), params("w", 3, 3, 3, 4), params("b", 5))
		}},
		{"dense weight", func() (*Layer, error) {
			return NewDense(params("", 10), params("", 4), params("w", 4, 10), params("b", 4), true)
		}},
		{"dense rank", func() (*Layer, error) {
			return NewDense(params("", 2, 5), params("", 4), params("w", 10, 4), params("b", 4), true)
		}},
		{"pool not divisible", func() (*Layer, error) {
			return NewMaxPooling(params("", 5, 4, 2), params("", 2, 2, 2))
		}},
		{"pool channels", func() (*Layer, error) {
			return NewMaxPooling(params("", 4, 4, 2), params("", 2, 2, 3))
		}},
		{"flatten count", func() (*Layer, error) {
			return NewFlatten(params("", 2, 2, 2), params("", 7))
		}},
		{"softmax rank", func() (*Layer, error) {
			return NewSoftmax(params("", 2, 2), params("", 2, 2))
		}},
		{"zero dim", func() (*Layer, error) {
			return NewFlatten(params("", 0, 2), params("", 0))
		}},
		{"params on flatten", func() (*Layer, error) {
			return New(Flatten, params("", 4), params("", 4), params("w", 4), tensor.Params{}, false)
		}},
	}
	for _, tt := range tests {
		if _, err := tt.build(); !errors.Is(err, tensor.ErrShape) {
			t.Errorf("%s: err = %v, want ErrShape", tt.name, err)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"":         Naive,
		"naive":    Naive,
		"THREADED": Threaded,
		"tiled":    Tiled,
		"simd":     SIMD,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseStrategy("gpu"); err == nil {
		t.Error("ParseStrategy(gpu) succeeded")
	}
}

func BenchmarkConvStrategies(b *testing.B) {
	fx := fixture{"conv32", func(src *blob.Memory, rng *rand.Rand) (*Layer, error) {
		src.Put("w", randomFloats(rng, 5*5*32*32))
		src.Put("b", randomFloats(rng, 32))
		return NewConvolutional(params("", 28, 28, 32), params("", 24, 24, 32), params("w", 5, 5, 32, 32), params("b", 32))
	}}
	l, in := buildFixture(b, fx, 1)
	for _, s := range Strategies() {
		b.Run(s.String(), func(b *testing.B) {
			for b.Loop() {
				if _, err := l.Compute(s, in); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
