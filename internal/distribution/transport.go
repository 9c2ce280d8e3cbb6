package distribution

import (
	"context"
	"fmt"
)

// Transport is one delivery tier. Connect establishes the link; Receive
// blocks until an event arrives, the context ends, or the link breaks.
// A broken link surfaces as a TransportError and the service decides
// whether to retry or demote.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Receive(ctx context.Context) (Event, error)
	Close() error
}

// TransportError reports a broken or unreachable transport. It never leaves
// this package's service loop; consumers only see tier changes in the status.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transport %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
