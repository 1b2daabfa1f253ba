package core

import (
	"errors"
)

var (
	ErrDeviceLost               = errors.New("device lost")
	ErrCommandContextsExhausted = errors.New("maximum number of command contexts reached")
	ErrQueryPoolExhausted       = errors.New("query pool exhausted")
	ErrInvalidHandle            = errors.New("invalid or stale handle")
	ErrInvalidState             = errors.New("command context is not in a valid state for this operation")
	ErrInvalidDescriptor        = errors.New("invalid resource description")
	ErrBackendUnavailable       = errors.New("renderer backend is not available on this build")
	ErrNotSupported             = errors.New("operation not supported by the backend")
	ErrImmutableBuffer          = errors.New("immutable buffers cannot be updated")
	ErrUnknown                  = errors.New("unknown")
)
