package layer

import (
	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// convOp is a valid (unpadded), stride-1 2-D correlation followed by ReLU.
// Input and output are (height, width, channels); weights are
// (kernelHeight, kernelWidth, inChannels, outChannels), all channel-last.
type convOp struct {
	h, w, c int // input
	p, q, m int // output
	r, s    int // kernel
}

func newConv(in, out, weight, bias tensor.Params) (*convOp, error) {
	const op = "new conv"
	if in.Rank() != 3 || out.Rank() != 3 || weight.Rank() != 4 || bias.Rank() != 1 {
		return nil, tensor.ShapeErrorf(op, "want rank 3/3/4/1 for input/output/weight/bias, got %d/%d/%d/%d",
			in.Rank(), out.Rank(), weight.Rank(), bias.Rank())
	}
	g := &convOp{
		h: in.Dim(tensor.Height), w: in.Dim(tensor.Width), c: in.Dim(tensor.Channels),
		p: out.Dim(tensor.Height), q: out.Dim(tensor.Width), m: out.Dim(tensor.Channels),
		r: weight.Dim(tensor.Height), s: weight.Dim(tensor.Width),
	}
	switch {
	case weight.Dim(tensor.Channels) != g.c:
		return nil, tensor.ShapeErrorf(op, "weight in-channels %d != input channels %d", weight.Dim(tensor.Channels), g.c)
	case weight.Dim(tensor.OutChannels) != g.m:
		return nil, tensor.ShapeErrorf(op, "weight out-channels %d != output channels %d", weight.Dim(tensor.OutChannels), g.m)
	case bias.Dim(0) != g.m:
		return nil, tensor.ShapeErrorf(op, "bias length %d != output channels %d", bias.Dim(0), g.m)
	case g.p != g.h-g.r+1 || g.q != g.w-g.s+1:
		return nil, tensor.ShapeErrorf(op, "output %s, want [%dx%dx%d] for input %s and kernel %dx%d",
			out.Dims(), g.h-g.r+1, g.w-g.s+1, g.m, in.Dims(), g.r, g.s)
	}
	return g, nil
}

func (g *convOp) tileKey() kernel.TileKey {
	return kernel.TileKey{Kind: "conv", Rows: g.p, Cols: g.q, Chans: g.m, Red: g.r * g.s * g.c}
}

// point is the reference reduction for output (p, q, m): input channel
// outermost, then kernel row, then kernel column.
func (g *convOp) point(f frame, p, q, m int) float32 {
	var sum float32
	for c := 0; c < g.c; c++ {
		for r := 0; r < g.r; r++ {
			for s := 0; s < g.s; s++ {
				x := f.in[((p+r)*g.w+q+s)*g.c+c]
				w := f.weight[((r*g.s+s)*g.c+c)*g.m+m]
				sum += x * w
			}
		}
	}
	return sum
}

func (g *convOp) naive(f frame) {
	for m := 0; m < g.m; m++ {
		for p := 0; p < g.p; p++ {
			for q := 0; q < g.q; q++ {
				f.out[(p*g.q+q)*g.m+m] = relu(g.point(f, p, q, m) + f.bias[m])
			}
		}
	}
}

// threaded partitions output rows across the worker pool. Every element is
// computed by point, so results match naive bit for bit.
func (g *convOp) threaded(f frame, workers int) {
	kernel.Parallel(g.p, workers, func(rs, re int) {
		for p := rs; p < re; p++ {
			for q := 0; q < g.q; q++ {
				o := (p*g.q + q) * g.m
				for m := 0; m < g.m; m++ {
					f.out[o+m] = relu(g.point(f, p, q, m) + f.bias[m])
				}
			}
		}
	})
}

// tiled walks rows x cols x out-channel blocks. Within a block each input
// value is broadcast over a contiguous run of weights; the reduction order
// per output element is the same as point.
func (g *convOp) tiled(f frame, t kernel.Tiles) {
	acc := make([]float32, t.Chans)
	for p0 := 0; p0 < g.p; p0 += t.Rows {
		pMax := min(p0+t.Rows, g.p)
		for q0 := 0; q0 < g.q; q0 += t.Cols {
			qMax := min(q0+t.Cols, g.q)
			for m0 := 0; m0 < g.m; m0 += t.Chans {
				width := min(m0+t.Chans, g.m) - m0
				for p := p0; p < pMax; p++ {
					for q := q0; q < qMax; q++ {
						g.tileAt(f, acc[:width], p, q, m0)
					}
				}
			}
		}
	}
}

func (g *convOp) tileAt(f frame, acc []float32, p, q, m0 int) {
	clear(acc)
	width := len(acc)
	for c := 0; c < g.c; c++ {
		for r := 0; r < g.r; r++ {
			inBase := ((p+r)*g.w+q)*g.c + c
			for s := 0; s < g.s; s++ {
				x := f.in[inBase+s*g.c]
				wOff := ((r*g.s+s)*g.c+c)*g.m + m0
				wRow := f.weight[wOff : wOff+width]
				for j, wv := range wRow {
					acc[j] += x * wv
				}
			}
		}
	}
	o := (p*g.q+q)*g.m + m0
	for j, v := range acc {
		f.out[o+j] = relu(v + f.bias[m0+j])
	}
}

// simd vectorises across 8 output channels at a time. For a fixed kernel row
// the input window row is contiguous (kernelWidth*inChannels values) and the
// matching weights are strided by outChannels, so the reduction runs in
// (r, s, c) order.
func (g *convOp) simd(f frame) {
	rowLen := g.s * g.c
	wRowStride := rowLen * g.m
	vecEnd := g.m - g.m%kernel.Lanes
	for p := 0; p < g.p; p++ {
		for q := 0; q < g.q; q++ {
			o := (p*g.q + q) * g.m
			for m0 := 0; m0 < vecEnd; m0 += kernel.Lanes {
				var acc [kernel.Lanes]float32
				for r := 0; r < g.r; r++ {
					inBase := ((p+r)*g.w + q) * g.c
					kernel.MulAdd8Strided(&acc, f.in[inBase:inBase+rowLen], f.weight[r*wRowStride+m0:], g.m)
				}
				for l, v := range acc {
					f.out[o+m0+l] = relu(v + f.bias[m0+l])
				}
			}
			for m := vecEnd; m < g.m; m++ {
				var sum float32
				for r := 0; r < g.r; r++ {
					inBase := ((p+r)*g.w + q) * g.c
					wBase := r*wRowStride + m
					for k := 0; k < rowLen; k++ {
						sum += f.in[inBase+k] * f.weight[wBase+k*g.m]
					}
				}
				f.out[o+m] = relu(sum + f.bias[m])
			}
		}
	}
}
