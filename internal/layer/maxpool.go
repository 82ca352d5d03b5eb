package layer

import (
	"github.com/samcharles93/tinycnn/internal/kernel"
	"github.com/samcharles93/tinycnn/internal/tensor"
)

// poolOp takes the maximum over non-overlapping sv x sh windows. Ties keep
// the first element found in row-major window order.
type poolOp struct {
	h, w, c int
	p, q    int
	sv, sh  int
}

func newMaxPool(in, out tensor.Params) (*poolOp, error) {
	const op = "new maxpool"
	if in.Rank() != 3 || out.Rank() != 3 {
		return nil, tensor.ShapeErrorf(op, "want rank 3 input and output, got %d and %d", in.Rank(), out.Rank())
	}
	g := &poolOp{
		h: in.Dim(tensor.Height), w: in.Dim(tensor.Width), c: in.Dim(tensor.Channels),
		p: out.Dim(tensor.Height), q: out.Dim(tensor.Width),
	}
	if out.Dim(tensor.Channels) != g.c {
		return nil, tensor.ShapeErrorf(op, "output channels %d != input channels %d", out.Dim(tensor.Channels), g.c)
	}
	if g.h%g.p != 0 || g.w%g.q != 0 {
		return nil, tensor.ShapeErrorf(op, "output %s does not evenly divide input %s", out.Dims(), in.Dims())
	}
	g.sv = g.h / g.p
	g.sh = g.w / g.q
	return g, nil
}

func (g *poolOp) tileKey() kernel.TileKey {
	return kernel.TileKey{Kind: "maxpool", Rows: g.p, Cols: g.q, Chans: g.c, Red: g.sv * g.sh}
}

func (g *poolOp) window(f frame, p, q, c int) float32 {
	base := ((p*g.sv)*g.w+q*g.sh)*g.c + c
	best := f.in[base]
	for i := 0; i < g.sv; i++ {
		for j := 0; j < g.sh; j++ {
			if v := f.in[base+(i*g.w+j)*g.c]; v > best {
				best = v
			}
		}
	}
	return best
}

func (g *poolOp) naive(f frame) {
	for c := 0; c < g.c; c++ {
		for p := 0; p < g.p; p++ {
			for q := 0; q < g.q; q++ {
				f.out[(p*g.q+q)*g.c+c] = g.window(f, p, q, c)
			}
		}
	}
}

func (g *poolOp) threaded(f frame, workers int) {
	kernel.Parallel(g.p, workers, func(rs, re int) {
		for p := rs; p < re; p++ {
			for q := 0; q < g.q; q++ {
				o := (p*g.q + q) * g.c
				for c := 0; c < g.c; c++ {
					f.out[o+c] = g.window(f, p, q, c)
				}
			}
		}
	})
}

// tiled visits output cells block by block with channels innermost, so each
// window row is read as one contiguous run.
func (g *poolOp) tiled(f frame, t kernel.Tiles) {
	for p0 := 0; p0 < g.p; p0 += t.Rows {
		pMax := min(p0+t.Rows, g.p)
		for q0 := 0; q0 < g.q; q0 += t.Cols {
			qMax := min(q0+t.Cols, g.q)
			for c0 := 0; c0 < g.c; c0 += t.Chans {
				cMax := min(c0+t.Chans, g.c)
				for p := p0; p < pMax; p++ {
					for q := q0; q < qMax; q++ {
						g.block(f, p, q, c0, cMax)
					}
				}
			}
		}
	}
}

func (g *poolOp) block(f frame, p, q, c0, cMax int) {
	o := (p*g.q + q) * g.c
	base := ((p*g.sv)*g.w + q*g.sh) * g.c
	out := f.out[o+c0 : o+cMax]
	copy(out, f.in[base+c0:base+cMax])
	for i := 0; i < g.sv; i++ {
		for j := 0; j < g.sh; j++ {
			off := base + (i*g.w+j)*g.c
			for k, v := range f.in[off+c0 : off+cMax] {
				if v > out[k] {
					out[k] = v
				}
			}
		}
	}
}

func (g *poolOp) simd(f frame) {
	vecEnd := g.c - g.c%kernel.Lanes
	for p := 0; p < g.p; p++ {
		for q := 0; q < g.q; q++ {
			o := (p*g.q + q) * g.c
			base := ((p*g.sv)*g.w + q*g.sh) * g.c
			copy(f.out[o:o+g.c], f.in[base:base+g.c])
			for i := 0; i < g.sv; i++ {
				for j := 0; j < g.sh; j++ {
					off := base + (i*g.w+j)*g.c
					c := 0
					for ; c < vecEnd; c += kernel.Lanes {
						kernel.Max8(f.out[o+c:], f.in[off+c:])
					}
					for ; c < g.c; c++ {
						if v := f.in[off+c]; v > f.out[o+c] {
							f.out[o+c] = v
						}
					}
				}
			}
		}
	}
}
