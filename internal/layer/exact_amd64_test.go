//go:build amd64 && !amd64.v3

package layer

// amd64 below v3 has no FMA, so float32 multiply-adds round after each step.
const tiledExact = true
