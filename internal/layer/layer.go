// Package layer implements the five layer kinds of the pipeline and the four
// execution strategies each of them supports.
package layer

import (
	"fmt"

	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// Options tune how strategies execute. The zero value is ready to use.
type Options struct {
	// Workers bounds the goroutines used by Threaded; <= 0 uses every pool worker.
	Workers int
	// Tiles fixes the blocking used by Tiled. The zero value selects it per shape.
	Tiles kernel.Tiles
	// Tuner, when set, times candidate tilings once per shape and reuses the fastest.
	Tuner *kernel.Autotuner
	// StableSoftmax subtracts the input maximum before exponentiation.
	StableSoftmax bool
}

// frame is the set of slices one compute call works on.
type frame struct {
	in, out      []float32
	weight, bias []float32
}

type transform interface {
	naive(f frame)
	threaded(f frame, workers int)
	tiled(f frame, t kernel.Tiles)
	simd(f frame)
	tileKey() kernel.TileKey
}

// Layer is one stage of the pipeline. It owns its input, output, weight and
// bias buffers; weight and bias are loaded once in Allocate and only read
// afterwards.
type Layer struct {
	kind       Kind
	in, out    tensor.Params
	weight     tensor.Params
	bias       tensor.Params
	activation bool
	opts       Options

	inBuf, outBuf *tensor.Buffer
	weightBuf     *tensor.Buffer
	biasBuf       *tensor.Buffer
	state         tensor.State
	op            transform
}

// New builds a layer of the given kind. weight and bias must be zero
// Params for parameter-free kinds. activation only affects Dense;
// Convolutional always applies ReLU.
func New(kind Kind, in, out, weight, bias tensor.Params, activation bool) (*Layer, error) {
	l := &Layer{
		kind:       kind,
		in:         in,
		out:        out,
		weight:     weight,
		bias:       bias,
		activation: activation,
	}
	if err := l.init(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewConvolutional builds a stride-1, unpadded 2-D convolution with ReLU.
func NewConvolutional(in, out, weight, bias tensor.Params) (*Layer, error) {
	return New(Convolutional, in, out, weight, bias, true)
}

// NewDense builds a fully connected layer; activation toggles ReLU.
func NewDense(in, out, weight, bias tensor.Params, activation bool) (*Layer, error) {
	return New(Dense, in, out, weight, bias, activation)
}

// NewMaxPooling builds a non-overlapping max-pooling layer.
func NewMaxPooling(in, out tensor.Params) (*Layer, error) {
	return New(MaxPooling, in, out, tensor.Params{}, tensor.Params{}, false)
}

// NewFlatten builds a reshape layer.
func NewFlatten(in, out tensor.Params) (*Layer, error) {
	return New(Flatten, in, out, tensor.Params{}, tensor.Params{}, false)
}

// NewSoftmax builds a 1-D softmax layer.
func NewSoftmax(in, out tensor.Params) (*Layer, error) {
	return New(Softmax, in, out, tensor.Params{}, tensor.Params{}, false)
}

func (l *Layer) init() error {
	op := fmt.Sprintf("new %s", l.kind)
	for _, p := range []tensor.Params{l.in, l.out} {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if l.kind.HasParams() {
		for _, p := range []tensor.Params{l.weight, l.bias} {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	} else if !l.weight.IsZero() || !l.bias.IsZero() {
		return tensor.ShapeErrorf(op, "%s layers take no weight or bias", l.kind)
	}

	var err error
	switch l.kind {
	case Convolutional:
		l.activation = true
		l.op, err = newConv(l.in, l.out, l.weight, l.bias)
	case Dense:
		l.op, err = newDense(l.in, l.out, l.weight, l.bias, l.activation)
	case MaxPooling:
		l.op, err = newMaxPool(l.in, l.out)
	case Flatten:
		l.op, err = newFlatten(l.in, l.out)
	case Softmax:
		l.op, err = newSoftmax(l.in, l.out, &l.opts)
	default:
		return fmt.Errorf("%s: unsupported layer kind", op)
	}
	if err != nil {
		return err
	}
	l.inBuf = tensor.NewBuffer(l.in)
	l.outBuf = tensor.NewBuffer(l.out)
	if l.kind.HasParams() {
		l.weightBuf = tensor.NewBuffer(l.weight)
		l.biasBuf = tensor.NewBuffer(l.bias)
	}
	return nil
}

// Kind returns the layer's transform kind.
func (l *Layer) Kind() Kind { return l.kind }

// InputParams describes the input tensor.
func (l *Layer) InputParams() tensor.Params { return l.in }

// OutputParams describes the output tensor.
func (l *Layer) OutputParams() tensor.Params { return l.out }

// WeightParams describes the weights; zero for parameter-free kinds.
func (l *Layer) WeightParams() tensor.Params { return l.weight }

// BiasParams describes the biases; zero for parameter-free kinds.
func (l *Layer) BiasParams() tensor.Params { return l.bias }

// Activation reports whether ReLU is applied to the output.
func (l *Layer) Activation() bool { return l.activation }

// State returns the lifecycle state.
func (l *Layer) State() tensor.State { return l.state }

// Options returns the execution options.
func (l *Layer) Options() Options { return l.opts }

// SetOptions replaces the execution options.
func (l *Layer) SetOptions(o Options) { l.opts = o }

// ParamBytes is the byte size of the weight and bias tensors.
func (l *Layer) ParamBytes() int {
	if !l.kind.HasParams() {
		return 0
	}
	return l.weight.Bytes() + l.bias.Bytes()
}

// Info is a read-only snapshot of a layer's description.
type Info struct {
	Kind       Kind
	Input      tensor.Params
	Output     tensor.Params
	Weight     tensor.Params // zero for parameter-free kinds
	Bias       tensor.Params // zero for parameter-free kinds
	Activation bool
	ParamBytes int
	State      tensor.State
}

// Info describes l without exposing its buffers.
func (l *Layer) Info() Info {
	return Info{
		Kind:       l.kind,
		Input:      l.in,
		Output:     l.out,
		Weight:     l.weight,
		Bias:       l.bias,
		Activation: l.activation,
		ParamBytes: l.ParamBytes(),
		State:      l.state,
	}
}

// Output returns the output buffer. It is only readable while allocated.
func (l *Layer) Output() *tensor.Buffer { return l.outBuf }

// Allocate reserves every buffer and loads weight and bias from src. On
// failure nothing stays allocated.
func (l *Layer) Allocate(src tensor.Source) error {
	if l.state == tensor.Allocated {
		return tensor.PreconditionErrorf("allocate", "%s layer already allocated", l.kind)
	}
	bufs := []*tensor.Buffer{l.inBuf, l.outBuf}
	if l.kind.HasParams() {
		bufs = append(bufs, l.weightBuf, l.biasBuf)
	}
	for i, b := range bufs {
		if err := b.Allocate(); err != nil {
			releaseAll(bufs[:i])
			return err
		}
	}
	if l.kind.HasParams() {
		for _, b := range []*tensor.Buffer{l.weightBuf, l.biasBuf} {
			if err := b.Load(src); err != nil {
				releaseAll(bufs)
				return err
			}
		}
	}
	l.state = tensor.Allocated
	return nil
}

// Free releases every buffer owned by the layer.
func (l *Layer) Free() error {
	if l.state != tensor.Allocated {
		return tensor.PreconditionErrorf("free", "%s layer is %s", l.kind, l.state)
	}
	releaseAll([]*tensor.Buffer{l.inBuf, l.outBuf, l.weightBuf, l.biasBuf})
	l.state = tensor.Freed
	return nil
}

func releaseAll(bufs []*tensor.Buffer) {
	for _, b := range bufs {
		if b != nil {
			b.Release()
		}
	}
}

// Compute copies in into the layer's input buffer, runs the transform with
// strategy s and returns the layer's output buffer.
func (l *Layer) Compute(s Strategy, in *tensor.Buffer) (*tensor.Buffer, error) {
	op := fmt.Sprintf("compute %s", l.kind)
	if l.state != tensor.Allocated {
		return nil, tensor.PreconditionErrorf(op, "layer is %s", l.state)
	}
	if !s.Valid() {
		return nil, fmt.Errorf("%s: unknown strategy %d", op, s)
	}
	if in == nil || !in.Allocated() {
		return nil, tensor.PreconditionErrorf(op, "input buffer is not allocated")
	}
	if !in.Params().Dims().Equal(l.in.Dims()) {
		return nil, tensor.ShapeErrorf(op, "input %s, layer expects %s", in.Shape(), l.in.Dims())
	}
	if in != l.inBuf {
		if err := l.inBuf.CopyFrom(in); err != nil {
			return nil, err
		}
	}

	f := frame{in: l.inBuf.Data(), out: l.outBuf.Data()}
	if l.kind.HasParams() {
		f.weight = l.weightBuf.Data()
		f.bias = l.biasBuf.Data()
	}

	switch s {
	case Naive:
		l.op.naive(f)
	case Threaded:
		l.op.threaded(f, l.opts.Workers)
	case Tiled:
		l.op.tiled(f, l.tilesFor(f))
	case SIMD:
		l.op.simd(f)
	}
	return l.outBuf, nil
}

func (l *Layer) tilesFor(f frame) kernel.Tiles {
	key := l.op.tileKey()
	if l.opts.Tiles != (kernel.Tiles{}) {
		return l.opts.Tiles.Clamp(key.Rows, key.Cols, key.Chans)
	}
	base := kernel.SelectTiles(key.Rows, key.Cols, key.Chans, key.Red)
	if l.opts.Tuner == nil {
		return base
	}
	return l.opts.Tuner.Tiles(key, base, func(t kernel.Tiles) { l.op.tiled(f, t) })
}

func (l *Layer) String() string {
	s := fmt.Sprintf("%s %s -> %s", l.kind, l.in.Dims(), l.out.Dims())
	if l.kind.HasParams() {
		s += fmt.Sprintf(" w%s b%s", l.weight.Dims(), l.bias.Dims())
	}
	if l.kind == Dense && !l.activation {
		s += " (no relu)"
	}
	return s
}

func relu(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}
