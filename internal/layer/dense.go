package layer

import (
	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// denseOp computes out[m] = bias[m] + sum_c in[c]*weight[c,m], with optional
// ReLU. Weights are (inChannels, outChannels).
type denseOp struct {
	c, m int
	relu bool
}

func newDense(in, out, weight, bias tensor.Params, activation bool) (*denseOp, error) {
	const op = "new dense"
	if in.Rank() != 1 || out.Rank() != 1 || weight.Rank() != 2 || bias.Rank() != 1 {
		return nil, tensor.ShapeErrorf(op, "want rank 1/1/2/1 for input/output/weight/bias, got %d/%d/%d/%d",
			in.Rank(), out.Rank(), weight.Rank(), bias.Rank())
	}
	d := &denseOp{c: in.Dim(0), m: out.Dim(0), relu: activation}
	if weight.Dim(0) != d.c || weight.Dim(1) != d.m {
		return nil, tensor.ShapeErrorf(op, "weight %s, want [%dx%d]", weight.Dims(), d.c, d.m)
	}
	if bias.Dim(0) != d.m {
		return nil, tensor.ShapeErrorf(op, "bias length %d != outputs %d", bias.Dim(0), d.m)
	}
	return d, nil
}

func (d *denseOp) tileKey() kernel.TileKey {
	return kernel.TileKey{Kind: "dense", Rows: 1, Cols: 1, Chans: d.m, Red: d.c}
}

func (d *denseOp) finish(sum, bias float32) float32 {
	v := sum + bias
	if d.relu {
		return relu(v)
	}
	return v
}

func (d *denseOp) unit(f frame, m int) float32 {
	var sum float32
	for c := 0; c < d.c; c++ {
		sum += f.in[c] * f.weight[c*d.m+m]
	}
	return sum
}

func (d *denseOp) naive(f frame) {
	for m := 0; m < d.m; m++ {
		f.out[m] = d.finish(d.unit(f, m), f.bias[m])
	}
}

func (d *denseOp) threaded(f frame, workers int) {
	kernel.Parallel(d.m, workers, func(rs, re int) {
		for m := rs; m < re; m++ {
			f.out[m] = d.finish(d.unit(f, m), f.bias[m])
		}
	})
}

// tiled accumulates a block of output units at once, reading each weight row
// segment contiguously. Inputs are consumed in ascending order, as in unit.
func (d *denseOp) tiled(f frame, t kernel.Tiles) {
	acc := make([]float32, t.Chans)
	for m0 := 0; m0 < d.m; m0 += t.Chans {
		width := min(m0+t.Chans, d.m) - m0
		a := acc[:width]
		clear(a)
		for c, x := range f.in[:d.c] {
			off := c*d.m + m0
			for j, w := range f.weight[off : off+width] {
				a[j] += x * w
			}
		}
		for j, v := range a {
			f.out[m0+j] = d.finish(v, f.bias[m0+j])
		}
	}
}

func (d *denseOp) simd(f frame) {
	vecEnd := d.m - d.m%kernel.Lanes
	for m0 := 0; m0 < vecEnd; m0 += kernel.Lanes {
		var acc [kernel.Lanes]float32
		kernel.MulAdd8Strided(&acc, f.in[:d.c], f.weight[m0:], d.m)
		for l, v := range acc {
			f.out[m0+l] = d.finish(v, f.bias[m0+l])
		}
	}
	for m := vecEnd; m < d.m; m++ {
		f.out[m] = d.finish(d.unit(f, m), f.bias[m])
	}
}
