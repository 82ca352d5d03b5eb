package layer

import (
	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// flattenOp is a pure reshape: output bytes equal input bytes.
type flattenOp struct {
	n int
}

func newFlatten(in, out tensor.Params) (*flattenOp, error) {
	if in.Elems() != out.Elems() {
		return nil, tensor.ShapeErrorf("new flatten", "input %s has %d elements, output %s has %d",
			in.Dims(), in.Elems(), out.Dims(), out.Elems())
	}
	return &flattenOp{n: in.Elems()}, nil
}

func (o *flattenOp) tileKey() kernel.TileKey {
	return kernel.TileKey{Kind: "flatten", Rows: 1, Cols: 1, Chans: o.n, Red: 1}
}

func (o *flattenOp) naive(f frame) {
	copy(tensor.FloatBytes(f.out[:o.n]), tensor.FloatBytes(f.in[:o.n]))
}

func (o *flattenOp) threaded(f frame, workers int) {
	kernel.Parallel(o.n, workers, func(rs, re int) {
		copy(tensor.FloatBytes(f.out[rs:re]), tensor.FloatBytes(f.in[rs:re]))
	})
}

func (o *flattenOp) tiled(f frame, t kernel.Tiles) {
	block := max(t.Rows*t.Cols*t.Chans, kernel.Lanes)
	for i := 0; i < o.n; i += block {
		end := min(i+block, o.n)
		copy(tensor.FloatBytes(f.out[i:end]), tensor.FloatBytes(f.in[i:end]))
	}
}

// simd relies on the runtime's vectorised memmove.
func (o *flattenOp) simd(f frame) {
	o.naive(f)
}
