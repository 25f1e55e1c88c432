package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
)

// Handler owns the method table. All connections created through NewConn
// share the same registered methods.
type Handler[T any] interface {
	Def(method string, handler MethodHandler[T])
	NewConn(stream ObjectStream, v *T) Conn[T]
}

// Conn is one live peer: it can issue calls and notifications outward and
// dispatches inbound requests to the owning handler's method table.
type Conn[T any] interface {
	Open(ctx context.Context) error
	Call(ctx context.Context, method string, params, result any) error
	Notify(ctx context.Context, method string, params any) error
	Context() MethodContext[T]
	io.Closer
}

// MethodContext carries the connection-scoped value shared by every method
// invocation on one connection.
type MethodContext[T any] interface {
	Get() *T
	Set(value *T)
	Peer() Conn[T]
}

// MethodHandler handles one method invocation. Returning a *Error sends it
// verbatim; any other error is masked as an internal error.
type MethodHandler[T any] func(mctx MethodContext[T], params *json.RawMessage) (any, error)

// ObjectStream is a bidirectional JSON object transport.
type ObjectStream interface {
	Open(ctx context.Context) error
	Read(ctx context.Context, v any) error
	Write(ctx context.Context, obj any) error
	io.Closer
}
