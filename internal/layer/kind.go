package layer

import (
	"fmt"
	"strings"
)

// Kind tags the transform a Layer applies. The set is closed.
type Kind uint8

const (
	Convolutional Kind = iota
	Dense
	MaxPooling
	Flatten
	Softmax
)

var kindNames = [...]string{
	Convolutional: "conv",
	Dense:         "dense",
	MaxPooling:    "maxpool",
	Flatten:       "flatten",
	Softmax:       "softmax",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// HasParams reports whether the kind carries weight and bias tensors.
func (k Kind) HasParams() bool {
	return k == Convolutional || k == Dense
}

// ParseKind accepts the short names above plus a few common spellings.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conv", "conv2d", "convolutional", "convolution":
		return Convolutional, nil
	case "dense", "fc", "linear", "fully_connected":
		return Dense, nil
	case "maxpool", "max_pooling", "maxpooling", "pool":
		return MaxPooling, nil
	case "flatten":
		return Flatten, nil
	case "softmax":
		return Softmax, nil
	default:
		return 0, fmt.Errorf("unknown layer kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
