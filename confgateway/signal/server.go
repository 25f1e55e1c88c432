package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskhive/realtime/confgateway/conference"
	"github.com/taskhive/realtime/internal/errors"
	"github.com/taskhive/realtime/internal/jsonrpc"
	"github.com/taskhive/realtime/internal/log"
	"github.com/taskhive/realtime/internal/scheduler"
	"github.com/taskhive/realtime/teams"
)

// Service-specific JSON-RPC error codes.
const (
	codeNotFound      = -32000
	codeForbidden     = -32001
	codeAlreadyExists = -32002
	codeRateLimited   = -32003
)

func errNotFound(message string) *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeNotFound, message)
}

func errForbidden(message string) *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeForbidden, message)
}

func errAlreadyExists(message string) *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeAlreadyExists, message)
}

func errRateLimited() *jsonrpc.Error {
	return jsonrpc.ErrCustom(codeRateLimited, "too many requests")
}

// Server coordinates conference sessions: it validates callers against live
// team membership, mutates session state, and broadcasts the resulting
// authoritative state to the room and the team-wide channel.
type Server struct {
	jsonrpc.Handler[connContext]
	store     *conference.Store
	directory teams.Directory
	connMgr   *ConnManager
	connGuard ConnectionGuard
	sched     *scheduler.KeyedScheduler
	logger    *log.Logger
}

func NewServer(
	handler jsonrpc.Handler[connContext],
	store *conference.Store,
	directory teams.Directory,
	connMgr *ConnManager,
	connGuard ConnectionGuard,
	sched *scheduler.KeyedScheduler,
	logger *log.Logger,
) *Server {
	return &Server{
		Handler:   handler,
		store:     store,
		directory: directory,
		connMgr:   connMgr,
		connGuard: connGuard,
		sched:     sched,
		logger:    logger,
	}
}

func (s *Server) Open(ctx context.Context) error {
	s.logger.Info("Opening conference signal server")
	s.register()

	if err := s.connGuard.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connection guard: %w", err)
	}

	go s.speakerExpiryLoop(ctx)
	return nil
}

func (s *Server) Close() error {
	s.logger.Info("Closing conference signal server")
	s.connGuard.Stop()
	s.sched.Shutdown()
	return nil
}

func (s *Server) register() {
	s.def("check", s.handleCheck)
	s.def("create", s.handleCreate)
	s.def("join", s.handleJoin)
	s.def("media-update", s.handleMediaUpdate)
	s.def("leave", s.handleLeave)
	s.def("offer", s.handleOffer)
	s.def("answer", s.handleAnswer)
	s.def("ice-candidate", s.handleIceCandidate)
	s.def("raise-hand", s.handleRaiseHand)
	s.def("lower-hand", s.handleLowerHand)
	s.def("toggle-speaker-mode", s.handleToggleSpeakerMode)
	s.def("speaking", s.handleSpeaking)
	s.def("set-speaker", s.handleSetSpeaker)
	s.def("clear-speaker", s.handleClearSpeaker)
	s.def("admin-action", s.handleAdminAction)
}

// def registers a handler behind the per-connection rate limiter.
func (s *Server) def(method string, handler jsonrpc.MethodHandler[connContext]) {
	s.Def(method, func(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
		cc := mctx.Get()
		rpcRequestsTotal.Add(cc.reqCtx, 1)

		if cc.limiter != nil && !cc.limiter.Allow() {
			rateLimitedTotal.Add(cc.reqCtx, 1)
			return nil, errRateLimited()
		}

		result, err := handler(mctx, params)
		if err != nil {
			rpcRequestsFailed.Add(cc.reqCtx, 1)
		}
		return result, err
	})
}

// liveRole fetches the caller's current role in teamID. This is the live
// check behind every privileged action, distinct from the role snapshot
// captured at join. Session-scoped handlers must pass the session's team,
// not the caller's, so the check binds to the conference being acted on.
// The lookup awaits an external service, so two privileged calls on the
// same session can interleave around it.
func (s *Server) liveRole(cc *connContext, teamID string) (teams.Role, error) {
	members, err := s.directory.Members(cc.reqCtx, teamID)
	if err != nil {
		if errors.Is(err, teams.ErrTeamNotFound) {
			return "", errNotFound("team not found")
		}
		s.logger.Error("Membership lookup failed",
			log.String("teamId", teamID),
			log.Error(err))
		return "", jsonrpc.ErrInternal("membership lookup failed")
	}

	role, ok := teams.RoleOf(members, cc.userID)
	if !ok {
		return "", errForbidden("not a team member")
	}
	return role, nil
}

func (s *Server) requireModerator(cc *connContext, teamID string) error {
	role, err := s.liveRole(cc, teamID)
	if err != nil {
		return err
	}
	if !role.CanModerate() {
		return errForbidden("requires admin or manager role")
	}
	return nil
}

func (s *Server) getSession(conferenceID string) (*conference.Session, error) {
	session, ok := s.store.Get(conferenceID)
	if !ok {
		return nil, errNotFound("conference not found")
	}
	return session, nil
}

func (s *Server) joinedResult(session *conference.Session, connID string) (*JoinedResult, error) {
	self, ok := session.Get(connID)
	if !ok {
		return nil, jsonrpc.ErrInternal("participant state missing")
	}
	return &JoinedResult{
		Conference:    descriptorOf(session),
		Self:          self,
		Participants:  session.Participants(),
		ActiveSpeaker: speakerPtr(session.ActiveSpeaker()),
		Hands:         session.Hands(),
		SpeakerMode:   session.SpeakerModeEnabled(),
	}, nil
}

func (s *Server) handleCheck(mctx jsonrpc.MethodContext[connContext], _ *json.RawMessage) (any, error) {
	cc := mctx.Get()

	session, ok := s.store.GetByTeam(cc.teamID)
	if !ok {
		return &CheckResult{Active: false}, nil
	}

	desc := descriptorOf(session)
	return &CheckResult{Active: true, Conference: &desc}, nil
}

func (s *Server) handleCreate(mctx jsonrpc.MethodContext[connContext], _ *json.RawMessage) (any, error) {
	cc := mctx.Get()

	role, err := s.liveRole(cc, cc.teamID)
	if err != nil {
		return nil, err
	}
	if !role.CanModerate() {
		return nil, errForbidden("requires admin or manager role")
	}

	if _, ok := s.store.GetByTeam(cc.teamID); ok {
		return nil, errAlreadyExists("conference already exists for team")
	}
	if _, ok := s.connMgr.ConfOf(cc.connID); ok {
		return nil, errAlreadyExists("connection already in a conference")
	}

	session := conference.NewSession(cc.teamID, cc.userID, time.Now())
	if err := s.store.Create(session); err != nil {
		return nil, errAlreadyExists("conference already exists for team")
	}

	session.Join(&conference.Participant{
		ConnID: cc.connID,
		UserID: cc.userID,
		Name:   cc.name,
		Role:   role,
		MicOn:  true,
		CamOn:  true,
	})
	s.connMgr.JoinConf(cc.connID, session.ID)

	sessionsCreatedTotal.Add(cc.reqCtx, 1)
	sessionsActive.Add(cc.reqCtx, 1)

	s.logger.Info("Conference created",
		log.String("conferenceId", session.ID),
		log.String("teamId", cc.teamID),
		log.String("userId", cc.userID))

	s.connMgr.NotifyTeam(cc.teamID, eventStarted, &startedEvent{
		ConferenceID: session.ID,
		TeamID:       cc.teamID,
		CreatedBy:    cc.userID,
	})
	s.broadcastParticipants(session)

	return s.joinedResult(session, cc.connID)
}

func (s *Server) handleJoin(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
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

	// membership is checked against the conference's team, not the
	// caller's own; role is snapshotted into the participant
	role, err := s.liveRole(cc, session.TeamID)
	if err != nil {
		return nil, err
	}

	// repeat join for the same (connection, session) pair is a no-op; a
	// connection already in a different conference is rejected outright,
	// never double-tracked
	if confID, ok := s.connMgr.ConfOf(cc.connID); ok {
		if confID == session.ID {
			return s.joinedResult(session, cc.connID)
		}
		return nil, errAlreadyExists("connection already in a conference")
	}

	self := conference.Participant{
		ConnID: cc.connID,
		UserID: cc.userID,
		Name:   cc.name,
		Role:   role,
		MicOn:  true,
		CamOn:  true,
	}
	if session.Join(&self) {
		s.connMgr.NotifyConf(session.ID, eventUserJoined, &userJoinedEvent{
			ConferenceID: session.ID,
			Participant:  self,
		})
		s.connMgr.JoinConf(cc.connID, session.ID)
		s.broadcastParticipants(session)

		s.logger.Info("Participant joined",
			log.String("conferenceId", session.ID),
			log.String("connId", cc.connID),
			log.String("userId", cc.userID))
	}

	return s.joinedResult(session, cc.connID)
}

func (s *Server) handleMediaUpdate(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	cc := mctx.Get()

	var data struct {
		ConferenceID string `json:"conferenceId" validate:"required"`
		MicOn        bool   `json:"micOn"`
		CamOn        bool   `json:"camOn"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, err
	}

	session, err := s.getSession(data.ConferenceID)
	if err != nil {
		return nil, err
	}

	p, ok := session.SetMedia(cc.connID, data.MicOn, data.CamOn)
	if !ok {
		return nil, errForbidden("not a conference participant")
	}

	// delta only, to the rest of the room
	s.connMgr.NotifyConf(session.ID, eventMediaUpdate, &mediaUpdateEvent{
		ConferenceID: session.ID,
		ConnID:       p.ConnID,
		MicOn:        p.MicOn,
		CamOn:        p.CamOn,
	}, cc.connID)

	return nil, nil
}

func (s *Server) handleLeave(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
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

	if !s.leaveSession(session, cc.connID) {
		return nil, errForbidden("not a conference participant")
	}
	return nil, nil
}

func (s *Server) handleRaiseHand(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	return s.handleHand(mctx, params, true)
}

func (s *Server) handleLowerHand(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage) (any, error) {
	return s.handleHand(mctx, params, false)
}

func (s *Server) handleHand(mctx jsonrpc.MethodContext[connContext], params *json.RawMessage, raise bool) (any, error) {
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

	var hands []string
	var ok bool
	if raise {
		hands, ok = session.RaiseHand(cc.connID)
	} else {
		hands, ok = session.LowerHand(cc.connID)
	}
	if !ok {
		return nil, errForbidden("not a conference participant")
	}

	s.broadcastHands(session, hands)
	return nil, nil
}

// HandleDisconnect is the implicit-disconnect path: no conference id on the
// wire, so scan live sessions for the connection's membership and stop at
// the first match. A fault cleaning up one session must not stop the scan.
func (s *Server) HandleDisconnect(cc *connContext) {
	for _, session := range s.store.List() {
		if !session.Has(cc.connID) {
			continue
		}
		if s.cleanupSession(session, cc.connID) {
			return
		}
	}
}

func (s *Server) cleanupSession(session *conference.Session, connID string) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session cleanup panicked",
				log.String("conferenceId", session.ID),
				log.String("connId", connID),
				log.Any("panic", r))
			done = false
		}
	}()
	s.leaveSession(session, connID)
	return true
}

// leaveSession removes the participant and broadcasts the fallout; when the
// room empties, the session is destroyed in the same step.
func (s *Server) leaveSession(session *conference.Session, connID string) bool {
	res, ok := session.Leave(connID)
	if !ok {
		return false
	}

	s.sched.Cancel(speakerKey(session.ID, connID))
	s.connMgr.LeaveConf(connID)

	if res.WasSpeaker {
		s.connMgr.NotifyConf(session.ID, eventActiveSpeaker, &activeSpeakerEvent{
			ConferenceID: session.ID,
			Speaker:      nil,
		})
	}

	s.connMgr.NotifyConf(session.ID, eventUserLeft, &userLeftEvent{
		ConferenceID: session.ID,
		ConnID:       connID,
		UserID:       res.Removed.UserID,
	})
	s.connMgr.NotifyConf(session.ID, eventParticipants, &participantsEvent{
		ConferenceID: session.ID,
		Participants: res.Participants,
	})
	// the hand set goes out on every leave, even when the leaver's hand
	// was down, so clients never reconcile against a stale roster
	s.broadcastHands(session, res.Hands)

	s.logger.Info("Participant left",
		log.String("conferenceId", session.ID),
		log.String("connId", connID),
		log.Int("remaining", res.Remaining))

	if res.Remaining == 0 {
		s.destroySession(session)
	}
	return true
}

func (s *Server) destroySession(session *conference.Session) {
	s.store.Delete(session.ID)
	s.connMgr.RemoveConf(session.ID)
	s.sched.CancelScope(speakerScope(session.ID))

	sessionsActive.Add(context.Background(), -1)

	s.logger.Info("Conference ended",
		log.String("conferenceId", session.ID),
		log.String("teamId", session.TeamID))

	s.connMgr.NotifyTeam(session.TeamID, eventEnded, &endedEvent{
		ConferenceID: session.ID,
		TeamID:       session.TeamID,
	})
}

// EndAll destroys every live session. Used on graceful shutdown so clients
// get an ended signal instead of a silent connection drop.
func (s *Server) EndAll() {
	for _, session := range s.store.List() {
		s.destroySession(session)
	}
}

func (s *Server) broadcastParticipants(session *conference.Session) {
	s.connMgr.NotifyConf(session.ID, eventParticipants, &participantsEvent{
		ConferenceID: session.ID,
		Participants: session.Participants(),
	})
}

func (s *Server) broadcastHands(session *conference.Session, hands []string) {
	s.connMgr.NotifyConf(session.ID, eventHandsUpdated, &handsUpdatedEvent{
		ConferenceID: session.ID,
		Hands:        hands,
	})
}
