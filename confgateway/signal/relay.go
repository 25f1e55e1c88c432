package signal

import (
	"encoding/json"

	"github.com/taskhive/realtime/internal/jsonrpc"
	"github.com/taskhive/realtime/internal/log"
)

// Point-to-point WebRTC signaling relay. Messages are forwarded verbatim to
// the target connection with the sender's connection id stamped in; clients
// negotiate media directly from there. The relay does not check that the two
// connections share a conference; the handshake auth bounds who is reachable.

func (s *Server) handleOffer(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	return s.relay(mctx, params, "offer")
}

func (s *Server) handleAnswer(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	return s.relay(mctx, params, "answer")
}

func (s *Server) handleIceCandidate(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	return s.relay(mctx, params, "ice-candidate")
}

func (s *Server) relay(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage, method string) (any, error) {
	cc := mctx.Get()

	var data struct {
		To      string           `json:"to" validate:"required"`
		Payload *json.RawMessage `json:"payload"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, err
	}

	relayMessagesTotal.Add(cc.reqCtx, 1)

	if !s.connMgr.NotifyConn(data.To, method, &relayEvent{
		From:    cc.connID,
		Payload: data.Payload,
	}) {
		// target is gone; drop rather than error, the peer will time out
		s.logger.Debug("Relay target not connected",
			log.String("method", method),
			log.String("to", data.To),
			log.String("from", cc.connID))
	}

	return nil, nil
}
