package tensor

import (
	"errors"
	"fmt"
)

var (
	ErrAllocation   = errors.New("allocation failed")
	ErrIO           = errors.New("tensor source unavailable")
	ErrShape        = errors.New("shape mismatch")
	ErrIndex        = errors.New("index out of range")
	ErrPrecondition = errors.New("precondition violated")
)

// Error carries the operation and tensor that failed alongside one of the
// sentinel errors above. Use errors.Is against the sentinels.
type Error struct {
	Kind   error
	Op     string
	Tensor string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Tensor != "" {
		msg += " " + e.Tensor
	}
	msg += ": " + e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, op, tensor, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Tensor: tensor, Msg: fmt.Sprintf(format, args...)}
}

// ShapeErrorf reports inconsistent dimensions.
func ShapeErrorf(op, format string, args ...any) error {
	return newError(ErrShape, op, "", format, args...)
}

// IndexErrorf reports an out-of-range layer or element index.
func IndexErrorf(op, format string, args ...any) error {
	return newError(ErrIndex, op, "", format, args...)
}

// PreconditionErrorf reports use of a buffer or layer in the wrong lifecycle state.
func PreconditionErrorf(op, format string, args ...any) error {
	return newError(ErrPrecondition, op, "", format, args...)
}

// IOError wraps a failure of an external tensor source.
func IOError(op, tensor string, err error) error {
	return &Error{Kind: ErrIO, Op: op, Tensor: tensor, Err: err}
}
