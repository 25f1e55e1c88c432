package websocket

import (
	"net/http"

	"github.com/taskhive/realtime/internal/jsonrpc"
)

// ConnectionHooks customizes connection lifecycle behavior.
type ConnectionHooks[T any] interface {
	// OnVerify runs before the WebSocket upgrade. Returning false rejects
	// the connection with 401.
	OnVerify(r *http.Request) (*T, bool, error)

	// OnConnect runs once the WebSocket connection is established.
	OnConnect(mctx jsonrpc.MethodContext[T])

	// OnDisconnect runs when the WebSocket connection is closed.
	OnDisconnect(mctx jsonrpc.MethodContext[T], closeCode int)
}

// defaultHooks is a no-op ConnectionHooks. Embed it to override only the
// methods you need.
type defaultHooks[T any] struct{}

func (h *defaultHooks[T]) OnVerify(*http.Request) (*T, bool, error) {
	return nil, true, nil
}

func (h *defaultHooks[T]) OnConnect(jsonrpc.MethodContext[T]) {}

func (h *defaultHooks[T]) OnDisconnect(jsonrpc.MethodContext[T], int) {}
