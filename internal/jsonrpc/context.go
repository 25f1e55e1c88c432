package jsonrpc

import "sync/atomic"

type contextImpl[T any] struct {
	conn  Conn[T]
	value atomic.Pointer[T]
}

// NewContext binds a connection-scoped value to its connection. The value is
// swapped atomically so handlers and hooks may replace it concurrently.
func NewContext[T any](conn Conn[T], v *T) MethodContext[T] {
	ctx := &contextImpl[T]{conn: conn}
	ctx.value.Store(v)
	return ctx
}

func (c *contextImpl[T]) Get() *T {
	return c.value.Load()
}

func (c *contextImpl[T]) Set(v *T) {
	c.value.Store(v)
}

func (c *contextImpl[T]) Peer() Conn[T] {
	return c.conn
}
