//go:build !(goexperiment.simd && amd64)

package kernel

func vectorized() bool { return false }

func mulAdd8Strided(acc *[Lanes]float32, xs, ws []float32, stride int) {
	mulAdd8StridedScalar(acc, xs, ws, stride)
}
