// Package midirpc is a remote-call layer for host applications that are
// only reachable over MIDI System Exclusive messages. A Client encodes
// calls, splits them into SysEx-sized fragments, and correlates the
// responses; a Server reassembles requests, executes them against an
// explicit allow-list, and always answers with exactly one response.
package midirpc

import (
	"context"

	"midirpc/message"
)

// Proxy is the client-side call seam. Client implements it, and stub
// bindings or middleware can wrap it.
type Proxy interface {
	Invoke(ctx context.Context, req *message.Request) (*message.Response, error)
}

// CallFunc is the functional form of Proxy.Invoke.
type CallFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

// ClientMiddleware wraps the client call path, e.g. for tracing.
type ClientMiddleware func(next CallFunc) CallFunc

// InvokeFunc is the server-side dispatch seam. It is total: every request
// gets a response, whatever happened during execution.
type InvokeFunc func(ctx context.Context, req *message.Request) *message.Response

// ServerMiddleware wraps the server dispatch path, e.g. for metrics.
type ServerMiddleware func(next InvokeFunc) InvokeFunc

// Service names a remote API surface for stub binding; see Client.BindStubs.
type Service interface {
	Name() string
}
