package tracer

import "errors"

var (
	// ErrInvalidArgument reports a caller error: a negative traceback
	// limit, a malformed filter pattern, an unknown grouping.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDisabled reports an operation that requires the tracer to be
	// enabled.
	ErrDisabled = errors.New("the tracer module must be enabled to take a snapshot")
)
