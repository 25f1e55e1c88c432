package signal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/taskhive/realtime/internal/jsonrpc"
	"github.com/taskhive/realtime/internal/log"
	"github.com/taskhive/realtime/internal/utils"
)

// speakerTTL is the floor-holding window: a holder that stays silent for
// this long loses the floor. speaking=false rearms it instead of releasing
// immediately, giving a grace window.
const speakerTTL = 4 * time.Second

func speakerKey(confID, connID string) string {
	return confID + "/" + connID
}

func speakerScope(confID string) string {
	return confID + "/"
}

func (s *Server) handleToggleSpeakerMode(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	cc := mctx.Get()

	var data struct {
		ConferenceID string `json:"conferenceId" validate:"required"`
		Enabled      *bool  `json:"enabled" validate:"required"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, err
	}

	session, err := s.getSession(data.ConferenceID)
	if err != nil {
		return nil, err
	}

	// live privilege check, scoped to the conference's team
	if err := s.requireModerator(cc, session.TeamID); err != nil {
		return nil, err
	}

	enabled := utils.Get(data.Enabled)
	session.SetSpeakerMode(enabled)
	if !enabled {
		s.sched.CancelScope(speakerScope(session.ID))
	}

	s.connMgr.NotifyConf(session.ID, eventSpeakerModeToggled, &speakerModeToggledEvent{
		ConferenceID: session.ID,
		Enabled:      enabled,
	})
	s.connMgr.NotifyConf(session.ID, eventActiveSpeaker, &activeSpeakerEvent{
		ConferenceID: session.ID,
		Speaker:      speakerPtr(session.ActiveSpeaker()),
	})

	s.logger.Info("Speaker mode toggled",
		log.String("conferenceId", session.ID),
		log.Bool("enabled", enabled),
		log.String("userId", cc.userID))

	return nil, nil
}

func (s *Server) handleSpeaking(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	cc := mctx.Get()

	var data struct {
		ConferenceID string `json:"conferenceId" validate:"required"`
		Speaking     *bool  `json:"speaking" validate:"required"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, err
	}

	session, err := s.getSession(data.ConferenceID)
	if err != nil {
		return nil, err
	}

	// hijack attempts and signals outside speaker mode are dropped silently
	res := session.Speak(cc.connID, utils.Get(data.Speaking))
	if res.Rearm {
		s.sched.Enqueue(speakerKey(session.ID, cc.connID), speakerTTL)
	}
	if res.Acquired {
		speakerGrantsTotal.Add(cc.reqCtx, 1)
		s.connMgr.NotifyConf(session.ID, eventActiveSpeaker, &activeSpeakerEvent{
			ConferenceID: session.ID,
			Speaker:      speakerPtr(cc.connID),
		})
	}

	return nil, nil
}

func (s *Server) handleSetSpeaker(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	cc := mctx.Get()

	var data struct {
		ConferenceID string `json:"conferenceId" validate:"required"`
		Target       string `json:"target" validate:"required"`
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
	if !session.SpeakerModeEnabled() {
		return nil, errForbidden("speaker mode is not enabled")
	}

	// direct assignment bypasses the hijack rule
	prev, ok := session.AssignSpeaker(data.Target)
	if !ok {
		return nil, errNotFound("target is not a conference participant")
	}

	if prev != "" && prev != data.Target {
		s.sched.Cancel(speakerKey(session.ID, prev))
	}
	s.sched.Enqueue(speakerKey(session.ID, data.Target), speakerTTL)

	s.connMgr.NotifyConf(session.ID, eventSpeakerAssigned, &speakerAssignedEvent{
		ConferenceID: session.ID,
		Speaker:      speakerPtr(data.Target),
		AssignedBy:   cc.userID,
	})

	return nil, nil
}

func (s *Server) handleClearSpeaker(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	cc := mctx.Get()

	var data struct {
		ConferenceID string `json:"conferenceId" validate:"required"`
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
	if !session.SpeakerModeEnabled() {
		return nil, errForbidden("speaker mode is not enabled")
	}

	prev := session.ClearSpeaker()
	if prev != "" {
		s.sched.Cancel(speakerKey(session.ID, prev))
	}

	s.connMgr.NotifyConf(session.ID, eventSpeakerAssigned, &speakerAssignedEvent{
		ConferenceID: session.ID,
		Speaker:      nil,
		AssignedBy:   cc.userID,
	})

	return nil, nil
}

// speakerExpiryLoop consumes fired timer keys. It may run concurrently with
// request handling, so expiry revalidates that the connection still holds
// the floor before clearing anything.
func (s *Server) speakerExpiryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-s.sched.Chan():
			if !ok {
				return
			}
			s.expireSpeaker(ctx, key)
		}
	}
}

func (s *Server) expireSpeaker(ctx context.Context, key string) {
	confID, connID, ok := strings.Cut(key, "/")
	if !ok {
		s.logger.Warn("Malformed speaker timer key", log.String("key", key))
		return
	}

	session, found := s.store.Get(confID)
	if !found {
		return
	}
	if !session.ExpireSpeaker(connID) {
		// floor changed hands or the holder left before the timer fired
		return
	}

	speakerExpiriesTotal.Add(ctx, 1)
	s.logger.Debug("Speaker expired",
		log.String("conferenceId", confID),
		log.String("connId", connID))

	s.connMgr.NotifyConf(session.ID, eventActiveSpeaker, &activeSpeakerEvent{
		ConferenceID: session.ID,
		Speaker:      nil,
	})
}
