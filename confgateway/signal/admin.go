package signal

import (
	"encoding/json"

	"github.com/taskhive/realtime/confgateway/conference"
	"github.com/taskhive/realtime/internal/jsonrpc"
	"github.com/taskhive/realtime/internal/log"
)

// Moderation actions.
const (
	actionMute       = "mute"
	actionCameraOff  = "camera-off"
	actionLowerHand  = "lower-hand"
	actionRemove     = "remove-from-conference"
	actionClearHands = "clear-hands"
)

func (s *Server) handleAdminAction(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	cc := mctx.Get()

	var data struct {
		ConferenceID string `json:"conferenceId" validate:"required"`
		Action       string `json:"action" validate:"required"`
		Target       string `json:"target"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, err
	}

	session, err := s.getSession(data.ConferenceID)
	if err != nil {
		return nil, err
	}

	if err := s.requireModerator(cc, session.TeamID); err != nil {
		return nil, err
	}

	adminActionsTotal.Add(cc.reqCtx, 1)

	switch data.Action {
	case actionMute:
		return nil, s.forceMedia(session, cc, data.Target, true)
	case actionCameraOff:
		return nil, s.forceMedia(session, cc, data.Target, false)
	case actionLowerHand:
		return nil, s.adminLowerHand(session, data.Target)
	case actionRemove:
		return nil, s.removeFromConference(session, cc, data.Target)
	case actionClearHands:
		s.broadcastHands(session, session.ClearHands())
		return nil, nil
	default:
		// unrecognized action names are dropped without an error reply
		s.logger.Warn("Unknown admin action",
			log.String("conferenceId", session.ID),
			log.String("action", data.Action),
			log.String("userId", cc.userID))
		return nil, nil
	}
}

func (s *Server) forceMedia(session *conference.Session, cc *connContext, target string, mic bool) error {
	p, ok := session.ForceMedia(target, mic)
	if !ok {
		return errNotFound("target is not a conference participant")
	}

	event := eventForceCameraOff
	if mic {
		event = eventForceMute
	}
	s.connMgr.NotifyConn(target, event, &moderatedEvent{
		ConferenceID: session.ID,
		By:           cc.userID,
	})
	s.connMgr.NotifyConf(session.ID, eventMediaUpdate, &mediaUpdateEvent{
		ConferenceID: session.ID,
		ConnID:       p.ConnID,
		MicOn:        p.MicOn,
		CamOn:        p.CamOn,
	})
	return nil
}

func (s *Server) adminLowerHand(session *conference.Session, target string) error {
	hands, ok := session.LowerHand(target)
	if !ok {
		return errNotFound("target is not a conference participant")
	}
	s.broadcastHands(session, hands)
	return nil
}

func (s *Server) removeFromConference(session *conference.Session, cc *connContext, target string) error {
	if !session.Has(target) {
		return errNotFound("target is not a conference participant")
	}

	// tell the target first; leaveSession drops it from the room channel
	s.connMgr.NotifyConn(target, eventRemovedByAdmin, &moderatedEvent{
		ConferenceID: session.ID,
		By:           cc.userID,
	})
	s.leaveSession(session, target)

	s.logger.Info("Participant removed by admin",
		log.String("conferenceId", session.ID),
		log.String("connId", target),
		log.String("by", cc.userID))
	return nil
}
