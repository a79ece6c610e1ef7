package esp

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrBadResponse indicates the server response could not be understood.
var ErrBadResponse = errors.New("bad http response")

// CommandError names the AT command which failed.
type CommandError struct {
	Command string
	Err     error
}

// Error implements error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

// Cause implements errors causer.
func (e *CommandError) Cause() error {
	return e.Err
}

// StatusError is a non-2xx HTTP status.
type StatusError struct {
	Path string
	Code int
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http status %d", e.Path, e.Code)
}
