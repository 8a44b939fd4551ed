package midirpc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no response arrived within the call's
	// deadline. The server may still be executing; only the waiting stops.
	ErrTimeout = errors.New("midirpc: no response within the deadline")
	// ErrClientClosed is returned for calls issued after Close.
	ErrClientClosed = errors.New("midirpc: client is closed")
	// ErrTooManyCalls is returned when every correlation identifier is
	// taken by an in-flight call.
	ErrTooManyCalls = errors.New("midirpc: too many calls in flight")
)

// FaultError reports that the remote callable raised during execution. It
// carries the fault as the server captured it, plus anything the callable
// wrote to stdout before failing.
type FaultError struct {
	Kind    string
	Message string
	Trace   string
	Stdout  string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("midirpc: remote fault %s: %s", e.Kind, e.Message)
}

// RejectedError reports that the target was not in the server's allow-list.
// Rejections are not retryable.
type RejectedError struct {
	Target string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("midirpc: call to %q rejected: %s", e.Target, e.Reason)
}
