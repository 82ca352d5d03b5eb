package layer

import (
	"fmt"
	"strings"
)

// Strategy selects one of the numerically equivalent implementations of a
// layer's transform. Naive defines the reference order of operations.
type Strategy uint8

const (
	Naive Strategy = iota
	Threaded
	Tiled
	SIMD
)

// Strategies lists every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{Naive, Threaded, Tiled, SIMD}
}

func (s Strategy) String() string {
	switch s {
	case Naive:
		return "naive"
	case Threaded:
		return "threaded"
	case Tiled:
		return "tiled"
	case SIMD:
		return "simd"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool { return s <= SIMD }

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "naive", "":
		return Naive, nil
	case "threaded", "threads", "parallel":
		return Threaded, nil
	case "tiled", "blocked":
		return Tiled, nil
	case "simd", "vector":
		return SIMD, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q (want naive, threaded, tiled or simd)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
