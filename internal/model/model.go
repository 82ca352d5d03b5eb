// Package model chains layers into a linear inference pipeline.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/samcharles93/tinycnn/internal/layer"
	"github.com/samcharles93/tinycnn/internal/logger"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// Hooks are optional callbacks the pipeline reports through. The zero value
// is silent.
type Hooks struct {
	Logger logger.Logger
	// Timer receives the wall time of each layer compute and of each full
	// inference.
	Timer func(name string, d time.Duration)
}

func (h Hooks) log() logger.Logger {
	if h.Logger == nil {
		return logger.Discard()
	}
	return h.Logger
}

func (h Hooks) time(name string, start time.Time) {
	if h.Timer != nil {
		h.Timer(name, time.Since(start))
	}
}

// Model owns an ordered list of layers. Layer i's output feeds layer i+1.
// A Model is not safe for concurrent use: every layer owns exactly one set
// of buffers.
type Model struct {
	layers []*layer.Layer
	hooks  Hooks
}

// New returns an empty model.
func New(h Hooks) *Model {
	return &Model{hooks: h}
}

// SetHooks replaces the callbacks.
func (m *Model) SetHooks(h Hooks) { m.hooks = h }

// AddLayer appends a layer built from the given descriptors. weight and bias
// are zero Params for parameter-free kinds; activation only affects Dense.
func (m *Model) AddLayer(kind layer.Kind, in, out, weight, bias tensor.Params, activation bool) error {
	l, err := layer.New(kind, in, out, weight, bias, activation)
	if err != nil {
		return fmt.Errorf("add layer %d: %w", len(m.layers), err)
	}
	m.layers = append(m.layers, l)
	return nil
}

// Append adds an already constructed layer.
func (m *Model) Append(l *layer.Layer) {
	m.layers = append(m.layers, l)
}

// Len returns the number of layers.
func (m *Model) Len() int { return len(m.layers) }

// Layer returns the layer at position i. The layer is owned by m: callers
// must not Allocate, Free or SetOptions on it directly, or the model's
// lifecycle bookkeeping goes stale. Use LayerInfo to read its description.
func (m *Model) Layer(i int) (*layer.Layer, error) {
	if i < 0 || i >= len(m.layers) {
		return nil, tensor.IndexErrorf("layer", "index %d out of range [0, %d)", i, len(m.layers))
	}
	return m.layers[i], nil
}

// LayerInfo returns a snapshot of the layer at position i.
func (m *Model) LayerInfo(i int) (layer.Info, error) {
	l, err := m.Layer(i)
	if err != nil {
		return layer.Info{}, err
	}
	return l.Info(), nil
}

// OutputLayer returns the last layer.
func (m *Model) OutputLayer() (*layer.Layer, error) {
	return m.Layer(len(m.layers) - 1)
}

// InputParams describes the tensor the first layer consumes.
func (m *Model) InputParams() (tensor.Params, error) {
	l, err := m.Layer(0)
	if err != nil {
		return tensor.Params{}, err
	}
	return l.InputParams(), nil
}

// ParamBytes sums the weight and bias sizes of every layer.
func (m *Model) ParamBytes() int {
	n := 0
	for _, l := range m.layers {
		n += l.ParamBytes()
	}
	return n
}

// SetOptions applies o to every layer.
func (m *Model) SetOptions(o layer.Options) {
	for _, l := range m.layers {
		l.SetOptions(o)
	}
}

// Validate checks that each layer's output shape equals the next layer's
// input shape.
func (m *Model) Validate() error {
	if len(m.layers) == 0 {
		return tensor.ShapeErrorf("validate", "model has no layers")
	}
	for i := 1; i < len(m.layers); i++ {
		prev, cur := m.layers[i-1], m.layers[i]
		if !prev.OutputParams().Dims().Equal(cur.InputParams().Dims()) {
			return tensor.ShapeErrorf("validate", "layer %d (%s) output %s does not match layer %d (%s) input %s",
				i-1, prev.Kind(), prev.OutputParams().Dims(), i, cur.Kind(), cur.InputParams().Dims())
		}
	}
	return nil
}

// AllocateAll validates the pipeline, then allocates every layer in order
// and loads its parameters from src. If any layer fails, the layers already
// allocated are freed again.
func (m *Model) AllocateAll(src tensor.Source) error {
	if err := m.Validate(); err != nil {
		return err
	}
	log := m.hooks.log()
	for i, l := range m.layers {
		if err := l.Allocate(src); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.layers[j].Free()
			}
			return fmt.Errorf("allocate layer %d (%s): %w", i, l.Kind(), err)
		}
		log.Debug("layer allocated", "layer", i, "kind", l.Kind(), "param_bytes", l.ParamBytes())
	}
	log.Info("model allocated", "layers", len(m.layers), "param_bytes", m.ParamBytes())
	return nil
}

// FreeAll releases every allocated layer. Layers that are not allocated are
// skipped, so FreeAll is safe after a partial failure.
func (m *Model) FreeAll() {
	for _, l := range m.layers {
		if l.State() == tensor.Allocated {
			_ = l.Free()
		}
	}
	m.hooks.log().Debug("model freed", "layers", len(m.layers))
}

// WithAllocated holds every buffer of the pipeline for the duration of fn.
func (m *Model) WithAllocated(src tensor.Source, fn func(*Model) error) error {
	if err := m.AllocateAll(src); err != nil {
		return err
	}
	defer m.FreeAll()
	return fn(m)
}

// RunLayer runs the layer at idx on in with strategy s and returns that
// layer's output buffer.
func (m *Model) RunLayer(in *tensor.Buffer, idx int, s layer.Strategy) (*tensor.Buffer, error) {
	if _, err := m.Layer(idx); err != nil {
		return nil, fmt.Errorf("run layer: %w", err)
	}
	return m.compute(idx, in, s)
}

// RunInference feeds in through every layer with strategy s and returns the
// last layer's output. Any failure aborts the run and no output is returned.
func (m *Model) RunInference(in *tensor.Buffer, s layer.Strategy) (*tensor.Buffer, error) {
	if len(m.layers) == 0 {
		return nil, tensor.PreconditionErrorf("inference", "model has no layers")
	}
	defer m.hooks.time("inference/"+s.String(), time.Now())
	cur := in
	for i := range m.layers {
		out, err := m.compute(i, cur, s)
		if err != nil {
			return nil, err
		}
		cur = out
	}
	m.hooks.log().Debug("inference done", "strategy", s, "layers", len(m.layers))
	return cur, nil
}

func (m *Model) compute(i int, in *tensor.Buffer, s layer.Strategy) (out *tensor.Buffer, err error) {
	l := m.layers[i]
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("layer %d (%s): %w", i, l.Kind(), panicError(r))
		}
	}()
	start := time.Now()
	out, err = l.Compute(s, in)
	if err != nil {
		return nil, fmt.Errorf("layer %d (%s): %w", i, l.Kind(), err)
	}
	m.hooks.time(fmt.Sprintf("layer %d %s/%s", i, l.Kind(), s), start)
	return out, nil
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		var te *tensor.Error
		if errors.As(err, &te) {
			return err
		}
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
