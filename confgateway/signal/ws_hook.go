package signal

import (
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/taskhive/realtime/internal/errors"
	"github.com/taskhive/realtime/internal/jsonrpc"
	wsrpc "github.com/taskhive/realtime/internal/jsonrpc/websocket"
	"github.com/taskhive/realtime/internal/jwt"
	"github.com/taskhive/realtime/internal/log"
)

const (
	// inbound events per connection, sustained / burst
	connEventRate  = 20
	connEventBurst = 40
)

func NewWSHook(
	connMgr *ConnManager,
	connGuard ConnectionGuard,
	jwtAuth jwt.Auth,
	logger *log.Logger,
) wsrpc.ConnectionHooks[connContext] {
	return &wsHookImpl{
		connMgr:   connMgr,
		connGuard: connGuard,
		jwtAuth:   jwtAuth,
		logger:    logger,
	}
}

// BindHook wires the coordinator into the hook. The hook is constructed
// before the coordinator (the RPC server needs it at upgrade time), so the
// disconnect path is bound afterwards.
func BindHook(hook wsrpc.ConnectionHooks[connContext], server *Server) {
	if h, ok := hook.(*wsHookImpl); ok {
		h.server = server
	}
}

type wsHookImpl struct {
	server    *Server
	connMgr   *ConnManager
	connGuard ConnectionGuard
	jwtAuth   jwt.Auth
	logger    *log.Logger
}

func (h *wsHookImpl) OnVerify(r *http.Request) (*connContext, bool, error) {
	authAttempts.Add(r.Context(), 1)

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	if token == "" {
		authFailures.Add(r.Context(), 1)
		return nil, false, nil
	}

	payload, err := h.jwtAuth.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrInvalidToken) || errors.Is(err, jwt.ErrNoToken) {
			authFailures.Add(r.Context(), 1)
			return nil, false, nil
		}
		return nil, false, err
	}

	return &connContext{
		userID:  payload.UserID,
		teamID:  payload.TeamID,
		name:    payload.Name,
		reqCtx:  r.Context(),
		limiter: rate.NewLimiter(connEventRate, connEventBurst),
	}, true, nil
}

func (h *wsHookImpl) OnConnect(mctx jsonrpc.MethodContext[connContext]) {
	cc := mctx.Get()
	cc.connID = uuid.New().String()

	if ok, err := h.connGuard.MustHold(mctx); err != nil {
		h.logger.Error("Failed to acquire connection lock", log.Error(err))
	} else if !ok {
		return
	}

	h.connMgr.AddConn(cc.connID, cc.teamID, mctx.Peer())

	wsConnectionsTotal.Add(cc.reqCtx, 1)
	wsConnectionsActive.Add(cc.reqCtx, 1)

	h.logger.Info("Client connected",
		log.String("connId", cc.connID),
		log.String("userId", cc.userID),
		log.String("teamId", cc.teamID))
}

func (h *wsHookImpl) OnDisconnect(mctx jsonrpc.MethodContext[connContext], closeCode int) {
	cc := mctx.Get()

	// transport loss carries no conference id; the coordinator scans live
	// sessions for this connection's membership
	if h.server != nil {
		h.server.HandleDisconnect(cc)
	}
	h.connMgr.RemoveConn(cc.connID)

	wsDisconnectsTotal.Add(cc.reqCtx, 1)
	wsConnectionsActive.Add(cc.reqCtx, -1)

	h.logger.Info("Client disconnected",
		log.String("connId", cc.connID),
		log.String("userId", cc.userID),
		log.Int("closeCode", closeCode))

	if err := h.connGuard.Release(mctx); err != nil {
		h.logger.Error("Failed to release connection lock", log.Error(err))
	}
}
