package jsonrpc

import (
	"context"
	"runtime/debug"

	"github.com/taskhive/realtime/internal/errors"
	"github.com/taskhive/realtime/internal/log"
)

type handlerImpl[T any] struct {
	methods map[string]MethodHandler[T]
	logger  *log.Logger
}

// NewHandler creates a method table. Def must happen before connections are
// opened; the table is not guarded.
func NewHandler[T any](logger *log.Logger) Handler[T] {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &handlerImpl[T]{
		methods: make(map[string]MethodHandler[T]),
		logger:  logger,
	}
}

func (h *handlerImpl[T]) Def(method string, handler MethodHandler[T]) {
	if _, ok := h.methods[method]; ok {
		panic("method already defined: " + method)
	}
	h.methods[method] = handler
}

func (h *handlerImpl[T]) NewConn(stream ObjectStream, v *T) Conn[T] {
	return newConn(stream, v, h.handle, h.logger)
}

func (h *handlerImpl[T]) handle(ctx context.Context, conn *connImpl[T], req *Request) {
	h.logger.Debug("RPC request received",
		log.String("method", req.Method),
		log.Any("id", req.ID))

	handler, ok := h.methods[req.Method]
	if !ok {
		h.logger.Warn("Method not found",
			log.String("method", req.Method),
			log.Any("id", req.ID))
		_ = conn.replyError(ctx, req.ID, ErrMethodNotFound(req.Method))
		return
	}

	result, err := h.invoke(handler, conn.mctx, req)
	if err := h.reply(ctx, conn, req, result, err); err != nil {
		h.logger.Error("Failed to send RPC reply",
			log.String("method", req.Method),
			log.Any("id", req.ID),
			log.Error(err))
	}
}

// invoke runs the handler, converting a panic into an internal error so a
// faulty method never takes the read loop down.
func (h *handlerImpl[T]) invoke(
	handler MethodHandler[T],
	mctx MethodContext[T],
	req *Request,
) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("RPC handler panicked",
				log.String("method", req.Method),
				log.Any("panic", r),
				log.String("stack", string(debug.Stack())))
			result = nil
			err = ErrInternal("internal error")
		}
	}()
	return handler(mctx, req.Params)
}

func (h *handlerImpl[T]) reply(
	ctx context.Context,
	conn *connImpl[T],
	req *Request,
	result any,
	err error,
) error {
	if err == nil {
		h.logger.Debug("RPC request completed", log.Any("id", req.ID))
		return conn.reply(ctx, req.ID, result)
	}

	if rpcErr, ok := errors.As[*Error](err); ok {
		h.logger.Debug("RPC handler returned error",
			log.String("method", req.Method),
			log.Any("id", req.ID),
			log.Int64("error_code", (*rpcErr).Code),
			log.String("error_message", (*rpcErr).Message))
		return conn.replyError(ctx, req.ID, *rpcErr)
	}

	h.logger.Error("RPC handler returned unexpected error",
		log.String("method", req.Method),
		log.Any("id", req.ID),
		log.Error(err))

	// do not leak internal error details to the client
	return conn.replyError(ctx, req.ID, ErrInternal("unknown error"))
}
