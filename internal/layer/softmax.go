package layer

import (
	"math"

	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// softmaxOp computes out[i] = exp(in[i]) / sum_j exp(in[j]). The input is
// not shifted by its maximum unless Options.StableSoftmax is set, so large
// inputs overflow exactly as the reference formula does.
type softmaxOp struct {
	n    int
	opts *Options
}

func newSoftmax(in, out tensor.Params, opts *Options) (*softmaxOp, error) {
	const op = "new softmax"
	if in.Rank() != 1 {
		return nil, tensor.ShapeErrorf(op, "want a 1-D input, got %s", in.Dims())
	}
	if !in.Dims().Equal(out.Dims()) {
		return nil, tensor.ShapeErrorf(op, "output %s != input %s", out.Dims(), in.Dims())
	}
	return &softmaxOp{n: in.Dim(0), opts: opts}, nil
}

func (o *softmaxOp) tileKey() kernel.TileKey {
	return kernel.TileKey{Kind: "softmax", Rows: 1, Cols: 1, Chans: o.n, Red: o.n}
}

func (o *softmaxOp) shift(in []float32) float32 {
	if !o.opts.StableSoftmax {
		return 0
	}
	m := in[0]
	for _, v := range in[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func expf(x, shift float32) float32 {
	return float32(math.Exp(float64(x - shift)))
}

func (o *softmaxOp) naive(f frame) {
	in := f.in[:o.n]
	shift := o.shift(in)
	var sum float32
	for _, x := range in {
		sum += expf(x, shift)
	}
	for i, x := range in {
		f.out[i] = expf(x, shift) / sum
	}
}

// threaded exponentiates and normalises in parallel; the sum is taken
// serially in index order so it equals naive's.
func (o *softmaxOp) threaded(f frame, workers int) {
	in, out := f.in[:o.n], f.out[:o.n]
	shift := o.shift(in)
	kernel.Parallel(o.n, workers, func(rs, re int) {
		for i := rs; i < re; i++ {
			out[i] = expf(in[i], shift)
		}
	})
	var sum float32
	for _, e := range out {
		sum += e
	}
	kernel.Parallel(o.n, workers, func(rs, re int) {
		for i := rs; i < re; i++ {
			out[i] /= sum
		}
	})
}

func (o *softmaxOp) tiled(f frame, t kernel.Tiles) {
	in, out := f.in[:o.n], f.out[:o.n]
	shift := o.shift(in)
	block := max(t.Rows*t.Cols*t.Chans, kernel.Lanes)
	var sum float32
	for b := 0; b < o.n; b += block {
		end := min(b+block, o.n)
		for i := b; i < end; i++ {
			e := expf(in[i], shift)
			out[i] = e
			sum += e
		}
	}
	for b := 0; b < o.n; b += block {
		end := min(b+block, o.n)
		for i := b; i < end; i++ {
			out[i] /= sum
		}
	}
}

// simd sums the exponentials in 8 lanes and normalises by multiplying with
// the reciprocal, so it matches naive to rounding only.
func (o *softmaxOp) simd(f frame) {
	in, out := f.in[:o.n], f.out[:o.n]
	shift := o.shift(in)
	for i, x := range in {
		out[i] = expf(x, shift)
	}
	kernel.Scale8(out, 1/kernel.SumLanes(out))
}
