package kernel

// Lanes is the vector width, in float32 elements, of the SIMD strategy.
const Lanes = 8

// Vectorized reports whether MulAdd8Strided runs on hardware vectors rather
// than the unrolled scalar fallback.
func Vectorized() bool { return vectorized() }

// MulAdd8Strided accumulates acc[l] += xs[k] * ws[k*stride+l] for every k in
// order and each of the 8 lanes. ws[k*stride:] must hold at least 8 values.
func MulAdd8Strided(acc *[Lanes]float32, xs, ws []float32, stride int) {
	if len(xs) == 0 {
		return
	}
	_ = ws[(len(xs)-1)*stride+Lanes-1]
	mulAdd8Strided(acc, xs, ws, stride)
}

func mulAdd8StridedScalar(acc *[Lanes]float32, xs, ws []float32, stride int) {
	a0, a1, a2, a3 := acc[0], acc[1], acc[2], acc[3]
	a4, a5, a6, a7 := acc[4], acc[5], acc[6], acc[7]
	off := 0
	for _, x := range xs {
		w := ws[off : off+Lanes : off+Lanes]
		a0 += x * w[0]
		a1 += x * w[1]
		a2 += x * w[2]
		a3 += x * w[3]
		a4 += x * w[4]
		a5 += x * w[5]
		a6 += x * w[6]
		a7 += x * w[7]
		off += stride
	}
	acc[0], acc[1], acc[2], acc[3] = a0, a1, a2, a3
	acc[4], acc[5], acc[6], acc[7] = a4, a5, a6, a7
}

// Max8 stores the lane-wise maximum of dst[:8] and src[:8] into dst. A lane
// is replaced only when src is strictly greater, so ties keep dst.
func Max8(dst, src []float32) {
	d := dst[:Lanes:Lanes]
	s := src[:Lanes:Lanes]
	if s[0] > d[0] {
		d[0] = s[0]
	}
	if s[1] > d[1] {
		d[1] = s[1]
	}
	if s[2] > d[2] {
		d[2] = s[2]
	}
	if s[3] > d[3] {
		d[3] = s[3]
	}
	if s[4] > d[4] {
		d[4] = s[4]
	}
	if s[5] > d[5] {
		d[5] = s[5]
	}
	if s[6] > d[6] {
		d[6] = s[6]
	}
	if s[7] > d[7] {
		d[7] = s[7]
	}
}

// SumLanes sums xs using 8 independent partial sums folded at the end.
func SumLanes(xs []float32) float32 {
	var a0, a1, a2, a3, a4, a5, a6, a7 float32
	i := 0
	for ; i+Lanes <= len(xs); i += Lanes {
		v := xs[i : i+Lanes : i+Lanes]
		a0 += v[0]
		a1 += v[1]
		a2 += v[2]
		a3 += v[3]
		a4 += v[4]
		a5 += v[5]
		a6 += v[6]
		a7 += v[7]
	}
	sum := ((a0 + a1) + (a2 + a3)) + ((a4 + a5) + (a6 + a7))
	for ; i < len(xs); i++ {
		sum += xs[i]
	}
	return sum
}

// Scale8 multiplies every element of xs by s, 8 at a time.
func Scale8(xs []float32, s float32) {
	i := 0
	for ; i+Lanes <= len(xs); i += Lanes {
		v := xs[i : i+Lanes : i+Lanes]
		v[0] *= s
		v[1] *= s
		v[2] *= s
		v[3] *= s
		v[4] *= s
		v[5] *= s
		v[6] *= s
		v[7] *= s
	}
	for ; i < len(xs); i++ {
		xs[i] *= s
	}
}
