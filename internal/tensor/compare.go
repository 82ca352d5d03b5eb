package tensor

import "math"

// MaxAbsDiff returns the largest absolute elementwise difference between b
// and other. Shapes must be identical. A NaN on either side counts as an
// infinite difference so it can never pass a tolerance check.
func (b *Buffer) MaxAbsDiff(other *Buffer) (float32, error) {
	if b.state != Allocated || other.state != Allocated {
		return 0, PreconditionErrorf("compare", "compare %s with %s requires allocated buffers", b.params, other.params)
	}
	if !b.params.dims.Equal(other.params.dims) {
		return 0, ShapeErrorf("compare", "%s vs %s", b.params.dims, other.params.dims)
	}
	return maxAbsDiff(b.data, other.data), nil
}

// WithinTolerance reports whether MaxAbsDiff(other) <= eps.
func (b *Buffer) WithinTolerance(other *Buffer, eps float32) (bool, error) {
	d, err := b.MaxAbsDiff(other)
	if err != nil {
		return false, err
	}
	return d <= eps, nil
}

// MaxAbsDiffSlice is MaxAbsDiff over raw slices of equal length.
func MaxAbsDiffSlice(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("MaxAbsDiffSlice length mismatch")
	}
	return maxAbsDiff(a, b)
}

func maxAbsDiff(a, b []float32) float32 {
	var worst float32
	b = b[:len(a)]
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		if d != d {
			return float32(math.Inf(1))
		}
		if d > worst {
			worst = d
		}
	}
	return worst
}
