package mcroute

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownOp   = errors.New("mcroute: unknown operation")
	ErrUnsupported = errors.New("mcroute: operation not supported by backend")
	ErrClosed      = errors.New("mcroute: closed")
)

// BackendError wraps a transport failure with where it happened.
type BackendError struct {
	Backend string
	Op      Op
	Key     string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %q on %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
