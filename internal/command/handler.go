package command

import "context"

// Handler is the uniform capability set every command type implements.
// Dispatch is by Request.CommandType, resolved to a Handler by the table
// built in NewHandlerTable.
type Handler interface {
	// Execute runs the request to completion, honoring cancel promptly
	// before any blocking call.
	Execute(ctx context.Context, req *Request, cancel <-chan struct{}) Output

	// DefaultTimeout returns the handler's own default timeout in seconds,
	// used when the request carries no params.timeout_sec.
	DefaultTimeout() int

	// Reentrant reports whether multiple instances of this handler may run
	// concurrently. The pipeline serializes same-type dispatch for handlers
	// that return false.
	Reentrant() bool
}
