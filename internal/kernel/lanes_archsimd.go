//go:build goexperiment.simd && amd64

package kernel

import "simd/archsimd"

var hasAVX2 = archsimd.X86.AVX2()

func vectorized() bool { return hasAVX2 }

func mulAdd8Strided(acc *[Lanes]float32, xs, ws []float32, stride int) {
	if !hasAVX2 {
		mulAdd8StridedScalar(acc, xs, ws, stride)
		return
	}
	a := archsimd.LoadFloat32x8Slice(acc[:])
	off := 0
	for _, x := range xs {
		w := archsimd.LoadFloat32x8Slice(ws[off:])
		a = a.Add(w.Mul(archsimd.BroadcastFloat32x8(x)))
		off += stride
	}
	a.Store(acc)
}
