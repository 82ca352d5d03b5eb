//go:build !amd64 || amd64.v3

package layer

const tiledExact = false
