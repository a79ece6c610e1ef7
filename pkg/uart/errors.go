package uart

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout indicates the expected input did not arrive before the
	// context deadline.
	ErrTimeout = errors.New("timeout")
	// ErrBufferOverflow indicates the destination buffer is too small for
	// the data preceding the literal.
	ErrBufferOverflow = errors.New("buffer overflow")
)

// OverflowError reports how much data did fit before overflow.
type OverflowError struct {
	Capacity int
}

// Error implements error.
func (e *OverflowError) Error() string {
	return fmt.Sprintf("%v: capacity %d", ErrBufferOverflow, e.Capacity)
}

// Cause lets errors.Cause unwrap to ErrBufferOverflow.
func (e *OverflowError) Cause() error {
	return ErrBufferOverflow
}
