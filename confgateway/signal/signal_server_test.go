package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/taskhive/realtime/confgateway/conference"
	"github.com/taskhive/realtime/internal/jsonrpc"
	"github.com/taskhive/realtime/internal/log"
	"github.com/taskhive/realtime/internal/scheduler"
	"github.com/taskhive/realtime/teams"
	teamsmocks "github.com/taskhive/realtime/teams/mocks"
)

type notice struct {
	connID string
	method string
	params any
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []notice
}

func (r *noticeRecorder) add(n notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) all() []notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notice, len(r.notices))
	copy(out, r.notices)
	return out
}

func (r *noticeRecorder) of(connID, method string) []notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notice
	for _, n := range r.notices {
		if n.connID == connID && n.method == method {
			out = append(out, n)
		}
	}
	return out
}

func (r *noticeRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = nil
}

type mockMethodCtx struct {
	cc   *connContext
	peer jsonrpc.Conn[connContext]
}

func (m *mockMethodCtx) Get() *connContext               { return m.cc }
func (m *mockMethodCtx) Set(cc *connContext)             { m.cc = cc }
func (m *mockMethodCtx) Peer() jsonrpc.Conn[connContext] { return m.peer }

type mockPeer struct {
	connID   string
	recorder *noticeRecorder
	mctx     *mockMethodCtx
	closed   bool
}

func (m *mockPeer) Open(context.Context) error { return nil }

func (m *mockPeer) Call(context.Context, string, any, any) error { return nil }

func (m *mockPeer) Notify(_ context.Context, method string, params any) error {
	m.recorder.add(notice{connID: m.connID, method: method, params: params})
	return nil
}

func (m *mockPeer) Close() error {
	m.closed = true
	return nil
}

func (m *mockPeer) Context() jsonrpc.MethodContext[connContext] { return m.mctx }

type fakeGuard struct {
	started bool
}

func (g *fakeGuard) Start(context.Context) error { g.started = true; return nil }
func (g *fakeGuard) Stop()                       {}
func (g *fakeGuard) ServerID() string            { return "test-server" }

func (g *fakeGuard) MustHold(jsonrpc.MethodContext[connContext]) (bool, error) {
	return true, nil
}

func (g *fakeGuard) Release(jsonrpc.MethodContext[connContext]) error {
	return nil
}

type SignalServerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	directory *teamsmocks.MockDirectory
	store     *conference.Store
	connMgr   *ConnManager
	sched     *scheduler.KeyedScheduler
	clock     *clockwork.FakeClock
	server    *Server
	recorder  *noticeRecorder
	logger    *log.Logger
}

func TestSignalServerSuite(t *testing.T) {
	suite.Run(t, new(SignalServerSuite))
}

func (s *SignalServerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.logger = log.NewNop()
	s.directory = teamsmocks.NewMockDirectory(s.ctrl)
	s.store = conference.NewStore()
	s.connMgr = NewConnManager(s.logger)
	s.clock = clockwork.NewFakeClock()
	s.sched = scheduler.NewWithClock(s.logger, s.clock)
	s.recorder = &noticeRecorder{}

	s.server = NewServer(
		jsonrpc.NewHandler[connContext](s.logger),
		s.store,
		s.directory,
		s.connMgr,
		&fakeGuard{},
		s.sched,
		s.logger,
	)
}

func (s *SignalServerSuite) TearDownTest() {
	s.sched.Shutdown()
}

func (s *SignalServerSuite) clientOnTeam(connID, userID, teamID string) *mockMethodCtx {
	cc := &connContext{
		userID: userID,
		teamID: teamID,
		name:   userID,
		connID: connID,
		reqCtx: context.Background(),
	}
	peer := &mockPeer{connID: connID, recorder: s.recorder}
	mctx := &mockMethodCtx{cc: cc, peer: peer}
	peer.mctx = mctx
	s.connMgr.AddConn(connID, teamID, peer)
	return mctx
}

func (s *SignalServerSuite) client(connID, userID string) *mockMethodCtx {
	return s.clientOnTeam(connID, userID, "team1")
}

func (s *SignalServerSuite) teamOn(teamID string, members ...teams.Member) {
	s.directory.EXPECT().
		Members(gomock.Any(), teamID).
		Return(members, nil).
		AnyTimes()
}

func (s *SignalServerSuite) team(members ...teams.Member) {
	s.teamOn("team1", members...)
}

func (s *SignalServerSuite) defaultTeam() {
	s.team(
		teams.Member{UserID: "userA", Role: teams.RoleAdmin},
		teams.Member{UserID: "userB", Role: teams.RoleMember},
	)
}

func (s *SignalServerSuite) raw(v any) *json.RawMessage {
	bs, err := json.Marshal(v)
	s.Require().NoError(err)
	msg := json.RawMessage(bs)
	return &msg
}

func (s *SignalServerSuite) create(mctx *mockMethodCtx) *JoinedResult {
	result, err := s.server.handleCreate(mctx, nil)
	s.Require().NoError(err)
	return result.(*JoinedResult)
}

func (s *SignalServerSuite) join(mctx *mockMethodCtx, confID string) *JoinedResult {
	result, err := s.server.handleJoin(mctx, s.raw(map[string]string{"conferenceId": confID}))
	s.Require().NoError(err)
	return result.(*JoinedResult)
}

func (s *SignalServerSuite) rpcCode(err error) int64 {
	s.Require().Error(err)
	rpcErr, ok := err.(*jsonrpc.Error)
	s.Require().True(ok, "expected a jsonrpc error, got %v", err)
	return rpcErr.Code
}

func (s *SignalServerSuite) TestCreateRequiresModerator() {
	s.defaultTeam()
	b := s.client("connB", "userB")

	_, err := s.server.handleCreate(b, nil)
	s.EqualValues(codeForbidden, s.rpcCode(err))
	s.Equal(0, s.store.Count())
}

func (s *SignalServerSuite) TestCreateRejectsNonMember() {
	s.team(teams.Member{UserID: "userA", Role: teams.RoleAdmin})
	x := s.client("connX", "userX")

	_, err := s.server.handleCreate(x, nil)
	s.EqualValues(codeForbidden, s.rpcCode(err))
}

func (s *SignalServerSuite) TestCreateBroadcastsStartedAndParticipants() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")
	_ = b

	result := s.create(a)
	s.Equal("team1", result.Conference.TeamID)
	s.Equal("connA", result.Self.ConnID)
	s.True(result.Self.MicOn)
	s.True(result.Self.CamOn)
	s.Equal(teams.RoleAdmin, result.Self.Role)

	// team-wide started reaches members outside the room too
	s.Len(s.recorder.of("connA", eventStarted), 1)
	s.Len(s.recorder.of("connB", eventStarted), 1)
	s.Len(s.recorder.of("connA", eventParticipants), 1)
	s.Empty(s.recorder.of("connB", eventParticipants))
}

func (s *SignalServerSuite) TestSecondCreateFailsAlreadyExists() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	a2 := s.client("connA2", "userA")

	result := s.create(a)

	_, err := s.server.handleCreate(a2, nil)
	s.EqualValues(codeAlreadyExists, s.rpcCode(err))

	// existing session unmodified
	session, ok := s.store.Get(result.Conference.ConferenceID)
	s.Require().True(ok)
	s.Equal(1, session.Count())
	s.Equal(1, s.store.Count())
}

func (s *SignalServerSuite) TestCreateThenJoin() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	session, ok := s.store.Get(created.Conference.ConferenceID)
	s.Require().True(ok)
	s.Equal(1, session.Count())

	s.recorder.reset()
	joined := s.join(b, created.Conference.ConferenceID)

	s.Equal(2, session.Count())
	s.Equal(teams.RoleMember, joined.Self.Role)

	// both room members get the authoritative list [A, B]
	for _, connID := range []string{"connA", "connB"} {
		lists := s.recorder.of(connID, eventParticipants)
		s.Require().Len(lists, 1, "connId %s", connID)
		ev := lists[0].params.(*participantsEvent)
		s.Require().Len(ev.Participants, 2)
		s.Equal("userA", ev.Participants[0].UserID)
		s.Equal("userB", ev.Participants[1].UserID)
	}

	// only the existing participant is told of the arrival
	s.Len(s.recorder.of("connA", eventUserJoined), 1)
	s.Empty(s.recorder.of("connB", eventUserJoined))
}

func (s *SignalServerSuite) TestJoinIsIdempotent() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)

	s.recorder.reset()
	again := s.join(b, created.Conference.ConferenceID)

	session, _ := s.store.Get(created.Conference.ConferenceID)
	s.Equal(2, session.Count())
	s.Equal("connB", again.Self.ConnID)
	s.Empty(s.recorder.all(), "repeat join must not rebroadcast")
}

func (s *SignalServerSuite) TestJoinUnknownConference() {
	s.defaultTeam()
	b := s.client("connB", "userB")

	_, err := s.server.handleJoin(b, s.raw(map[string]string{"conferenceId": "nope"}))
	s.EqualValues(codeNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestJoinRejectsNonMember() {
	s.team(teams.Member{UserID: "userA", Role: teams.RoleAdmin})
	a := s.client("connA", "userA")
	x := s.client("connX", "userX")

	created := s.create(a)

	_, err := s.server.handleJoin(x, s.raw(map[string]string{"conferenceId": created.Conference.ConferenceID}))
	s.EqualValues(codeForbidden, s.rpcCode(err))
}

func (s *SignalServerSuite) TestJoinChecksMembershipOfConferenceTeam() {
	s.defaultTeam()
	s.teamOn("team2", teams.Member{UserID: "mallory", Role: teams.RoleAdmin})
	a := s.client("connA", "userA")
	m := s.clientOnTeam("connM", "mallory", "team2")

	created := s.create(a)

	// mallory is an admin, but of team2; team1's conference is off limits
	_, err := s.server.handleJoin(m, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
	}))
	s.EqualValues(codeForbidden, s.rpcCode(err))

	session, _ := s.store.Get(created.Conference.ConferenceID)
	s.False(session.Has("connM"))
}

func (s *SignalServerSuite) TestJoinRejectsConnAlreadyInAnotherConference() {
	s.defaultTeam()
	s.teamOn("team2", teams.Member{UserID: "userB", Role: teams.RoleAdmin})
	a := s.client("connA", "userA")
	b := s.clientOnTeam("connB", "userB", "team2")

	created := s.create(a)
	other := s.create(b)

	// userB belongs to both teams, but a connection sits in one room at a time
	_, err := s.server.handleJoin(b, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
	}))
	s.EqualValues(codeAlreadyExists, s.rpcCode(err))

	session, _ := s.store.Get(created.Conference.ConferenceID)
	s.False(session.Has("connB"), "no phantom membership in the second room")

	confID, ok := s.connMgr.ConfOf("connB")
	s.Require().True(ok)
	s.Equal(other.Conference.ConferenceID, confID)
}

func (s *SignalServerSuite) TestCreateRejectsConnAlreadyInConference() {
	s.defaultTeam()
	s.teamOn("team2", teams.Member{UserID: "userB", Role: teams.RoleAdmin})
	a := s.client("connA", "userA")
	b := s.clientOnTeam("connB", "userB", "team2")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)

	_, err := s.server.handleCreate(b, nil)
	s.EqualValues(codeAlreadyExists, s.rpcCode(err))
	s.Equal(1, s.store.Count())
}

func (s *SignalServerSuite) TestMediaUpdateBroadcastsDeltaToOthers() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)
	s.recorder.reset()

	_, err := s.server.handleMediaUpdate(b, s.raw(map[string]any{
		"conferenceId": created.Conference.ConferenceID,
		"micOn":        false,
		"camOn":        true,
	}))
	s.Require().NoError(err)

	deltas := s.recorder.of("connA", eventMediaUpdate)
	s.Require().Len(deltas, 1)
	ev := deltas[0].params.(*mediaUpdateEvent)
	s.Equal("connB", ev.ConnID)
	s.False(ev.MicOn)
	s.True(ev.CamOn)

	s.Empty(s.recorder.of("connB", eventMediaUpdate), "no echo back to the caller")
}

func (s *SignalServerSuite) TestMediaUpdateRequiresParticipant() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)

	_, err := s.server.handleMediaUpdate(b, s.raw(map[string]any{
		"conferenceId": created.Conference.ConferenceID,
		"micOn":        false,
		"camOn":        false,
	}))
	s.EqualValues(codeForbidden, s.rpcCode(err))
}

func (s *SignalServerSuite) TestLastLeaveDestroysSession() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	created := s.create(a)
	s.recorder.reset()

	_, err := s.server.handleLeave(a, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
	}))
	s.Require().NoError(err)

	s.Equal(0, s.store.Count(), "empty session must be destroyed in the same step")

	ends := s.recorder.of("connA", eventEnded)
	s.Require().Len(ends, 1)
	s.Equal(created.Conference.ConferenceID, ends[0].params.(*endedEvent).ConferenceID)

	// conference membership marker cleared
	_, ok := s.connMgr.ConfOf("connA")
	s.False(ok)

	// check now reports no active conference
	result, err := s.server.handleCheck(a, nil)
	s.Require().NoError(err)
	s.False(result.(*CheckResult).Active)
}

func (s *SignalServerSuite) TestLeaveBroadcastsToRemaining() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)
	s.recorder.reset()

	_, err := s.server.handleLeave(b, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
	}))
	s.Require().NoError(err)

	s.Equal(1, s.store.Count())

	lefts := s.recorder.of("connA", eventUserLeft)
	s.Require().Len(lefts, 1)
	s.Equal("connB", lefts[0].params.(*userLeftEvent).ConnID)

	lists := s.recorder.of("connA", eventParticipants)
	s.Require().Len(lists, 1)
	s.Len(lists[0].params.(*participantsEvent).Participants, 1)

	// the hand set is rebroadcast on every leave, raised hand or not
	hands := s.recorder.of("connA", eventHandsUpdated)
	s.Require().Len(hands, 1)
	s.Empty(hands[0].params.(*handsUpdatedEvent).Hands)

	s.Empty(s.recorder.of("connA", eventEnded))
}

func (s *SignalServerSuite) TestCheckReportsActiveConference() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	result, err := s.server.handleCheck(a, nil)
	s.Require().NoError(err)
	s.False(result.(*CheckResult).Active)

	created := s.create(a)

	result, err = s.server.handleCheck(a, nil)
	s.Require().NoError(err)
	check := result.(*CheckResult)
	s.True(check.Active)
	s.Require().NotNil(check.Conference)
	s.Equal(created.Conference.ConferenceID, check.Conference.ConferenceID)
}

func (s *SignalServerSuite) TestRaiseAndLowerHand() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)
	s.recorder.reset()

	_, err := s.server.handleRaiseHand(b, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
	}))
	s.Require().NoError(err)

	hands := s.recorder.of("connA", eventHandsUpdated)
	s.Require().Len(hands, 1)
	s.Equal([]string{"connB"}, hands[0].params.(*handsUpdatedEvent).Hands)

	s.recorder.reset()
	_, err = s.server.handleLowerHand(b, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
	}))
	s.Require().NoError(err)

	hands = s.recorder.of("connA", eventHandsUpdated)
	s.Require().Len(hands, 1)
	s.Empty(hands[0].params.(*handsUpdatedEvent).Hands)
}

func (s *SignalServerSuite) TestToggleSpeakerModeForbiddenForMember() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)

	enabled := true
	_, err := s.server.handleToggleSpeakerMode(b, s.raw(map[string]any{
		"conferenceId": created.Conference.ConferenceID,
		"enabled":      enabled,
	}))
	s.EqualValues(codeForbidden, s.rpcCode(err))

	session, _ := s.store.Get(created.Conference.ConferenceID)
	s.False(session.SpeakerModeEnabled())
}

func (s *SignalServerSuite) enableSpeakerMode(a *mockMethodCtx, confID string) {
	_, err := s.server.handleToggleSpeakerMode(a, s.raw(map[string]any{
		"conferenceId": confID,
		"enabled":      true,
	}))
	s.Require().NoError(err)
}

func (s *SignalServerSuite) TestSpeakingGrantsFloorAndExpires() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)
	s.enableSpeakerMode(a, confID)
	s.recorder.reset()

	_, err := s.server.handleSpeaking(b, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     true,
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(confID)
	s.Equal("connB", session.ActiveSpeaker())

	grants := s.recorder.of("connA", eventActiveSpeaker)
	s.Require().Len(grants, 1)
	ev := grants[0].params.(*activeSpeakerEvent)
	s.Require().NotNil(ev.Speaker)
	s.Equal("connB", *ev.Speaker)

	s.recorder.reset()

	// timer fires with B still the recorded holder
	s.server.expireSpeaker(context.Background(), speakerKey(confID, "connB"))
	s.Equal("", session.ActiveSpeaker())

	nulls := s.recorder.of("connA", eventActiveSpeaker)
	s.Require().Len(nulls, 1)
	s.Nil(nulls[0].params.(*activeSpeakerEvent).Speaker)

	// a second, stale firing must not broadcast again
	s.recorder.reset()
	s.server.expireSpeaker(context.Background(), speakerKey(confID, "connB"))
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestSpeakingAntiHijack() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)
	s.enableSpeakerMode(a, confID)

	_, err := s.server.handleSpeaking(a, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     true,
	}))
	s.Require().NoError(err)
	s.recorder.reset()

	_, err = s.server.handleSpeaking(b, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     true,
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(confID)
	s.Equal("connA", session.ActiveSpeaker(), "hijack attempt must be dropped")
	s.Empty(s.recorder.all(), "dropped signal must not broadcast")
}

func (s *SignalServerSuite) TestSpeakingFalseKeepsFloorUntilExpiry() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.enableSpeakerMode(a, confID)

	_, err := s.server.handleSpeaking(a, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     true,
	}))
	s.Require().NoError(err)

	_, err = s.server.handleSpeaking(a, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     false,
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(confID)
	s.Equal("connA", session.ActiveSpeaker(), "release is deferred to the grace timer")
}

func (s *SignalServerSuite) TestExpiredTimerAfterLeaveIsNoop() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)
	s.enableSpeakerMode(a, confID)

	_, err := s.server.handleSpeaking(b, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     true,
	}))
	s.Require().NoError(err)

	_, err = s.server.handleLeave(b, s.raw(map[string]string{"conferenceId": confID}))
	s.Require().NoError(err)

	s.recorder.reset()
	s.server.expireSpeaker(context.Background(), speakerKey(confID, "connB"))
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestSetAndClearSpeaker() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)
	s.enableSpeakerMode(a, confID)
	s.recorder.reset()

	_, err := s.server.handleSetSpeaker(a, s.raw(map[string]string{
		"conferenceId": confID,
		"target":       "connB",
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(confID)
	s.Equal("connB", session.ActiveSpeaker())

	assigned := s.recorder.of("connB", eventSpeakerAssigned)
	s.Require().Len(assigned, 1)
	ev := assigned[0].params.(*speakerAssignedEvent)
	s.Require().NotNil(ev.Speaker)
	s.Equal("connB", *ev.Speaker)
	s.Equal("userA", ev.AssignedBy)

	_, err = s.server.handleClearSpeaker(a, s.raw(map[string]string{
		"conferenceId": confID,
	}))
	s.Require().NoError(err)
	s.Equal("", session.ActiveSpeaker())
}

func (s *SignalServerSuite) TestSetSpeakerRequiresSpeakerMode() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)
	s.recorder.reset()

	_, err := s.server.handleSetSpeaker(a, s.raw(map[string]string{
		"conferenceId": confID,
		"target":       "connB",
	}))
	s.EqualValues(codeForbidden, s.rpcCode(err))

	session, _ := s.store.Get(confID)
	s.Equal("", session.ActiveSpeaker(), "no floor may be granted while speaker mode is off")
	s.Empty(s.recorder.all())

	_, err = s.server.handleClearSpeaker(a, s.raw(map[string]string{
		"conferenceId": confID,
	}))
	s.EqualValues(codeForbidden, s.rpcCode(err))
}

func (s *SignalServerSuite) TestDisableSpeakerModeClearsSpeakerAndTimers() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)
	s.enableSpeakerMode(a, confID)

	_, err := s.server.handleSpeaking(b, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     true,
	}))
	s.Require().NoError(err)
	s.recorder.reset()

	_, err = s.server.handleToggleSpeakerMode(a, s.raw(map[string]any{
		"conferenceId": confID,
		"enabled":      false,
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(confID)
	s.False(session.SpeakerModeEnabled())
	s.Equal("", session.ActiveSpeaker())

	nulls := s.recorder.of("connB", eventActiveSpeaker)
	s.Require().Len(nulls, 1)
	s.Nil(nulls[0].params.(*activeSpeakerEvent).Speaker)

	// a timer that slipped past the scope cancel finds nothing to expire
	s.recorder.reset()
	s.server.expireSpeaker(context.Background(), speakerKey(confID, "connB"))
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestSetSpeakerTargetNotParticipant() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	created := s.create(a)
	s.enableSpeakerMode(a, created.Conference.ConferenceID)

	_, err := s.server.handleSetSpeaker(a, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
		"target":       "ghost",
	}))
	s.EqualValues(codeNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestAdminActionForbiddenForMember() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)
	s.recorder.reset()

	_, err := s.server.handleAdminAction(b, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
		"action":       actionMute,
		"target":       "connA",
	}))
	s.EqualValues(codeForbidden, s.rpcCode(err))

	session, _ := s.store.Get(created.Conference.ConferenceID)
	p, _ := session.Get("connA")
	s.True(p.MicOn, "forbidden action must not mutate state")
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestAdminActionChecksRoleInConferenceTeam() {
	s.defaultTeam()
	s.teamOn("team2", teams.Member{UserID: "mallory", Role: teams.RoleAdmin})
	a := s.client("connA", "userA")
	m := s.clientOnTeam("connM", "mallory", "team2")

	created := s.create(a)
	s.recorder.reset()

	// an admin of another team has no say over team1's conference
	_, err := s.server.handleAdminAction(m, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
		"action":       actionMute,
		"target":       "connA",
	}))
	s.EqualValues(codeForbidden, s.rpcCode(err))

	session, _ := s.store.Get(created.Conference.ConferenceID)
	p, _ := session.Get("connA")
	s.True(p.MicOn)
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestAdminActionMute() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)
	s.recorder.reset()

	_, err := s.server.handleAdminAction(a, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
		"action":       actionMute,
		"target":       "connB",
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(created.Conference.ConferenceID)
	p, _ := session.Get("connB")
	s.False(p.MicOn)
	s.True(p.CamOn)

	s.Len(s.recorder.of("connB", eventForceMute), 1)
	s.Len(s.recorder.of("connA", eventMediaUpdate), 1)
}

func (s *SignalServerSuite) TestAdminActionRemoveFromConference() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)
	s.recorder.reset()

	_, err := s.server.handleAdminAction(a, s.raw(map[string]string{
		"conferenceId": confID,
		"action":       actionRemove,
		"target":       "connB",
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(confID)
	s.Equal(1, session.Count())
	s.False(session.Has("connB"))

	s.Len(s.recorder.of("connB", eventRemovedByAdmin), 1)

	lists := s.recorder.of("connA", eventParticipants)
	s.Require().Len(lists, 1)
	ev := lists[0].params.(*participantsEvent)
	s.Require().Len(ev.Participants, 1)
	s.Equal("userA", ev.Participants[0].UserID)

	_, ok := s.connMgr.ConfOf("connB")
	s.False(ok, "membership marker must be cleared")
}

func (s *SignalServerSuite) TestAdminActionTargetNotFound() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	created := s.create(a)

	_, err := s.server.handleAdminAction(a, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
		"action":       actionMute,
		"target":       "ghost",
	}))
	s.EqualValues(codeNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestAdminActionClearHands() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.join(b, confID)

	_, err := s.server.handleRaiseHand(b, s.raw(map[string]string{"conferenceId": confID}))
	s.Require().NoError(err)
	s.recorder.reset()

	_, err = s.server.handleAdminAction(a, s.raw(map[string]string{
		"conferenceId": confID,
		"action":       actionClearHands,
	}))
	s.Require().NoError(err)

	session, _ := s.store.Get(confID)
	s.Empty(session.Hands())

	hands := s.recorder.of("connB", eventHandsUpdated)
	s.Require().Len(hands, 1)
	s.Empty(hands[0].params.(*handsUpdatedEvent).Hands)
}

func (s *SignalServerSuite) TestUnknownAdminActionIsSilentlyDropped() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	created := s.create(a)
	s.recorder.reset()

	result, err := s.server.handleAdminAction(a, s.raw(map[string]string{
		"conferenceId": created.Conference.ConferenceID,
		"action":       "shadow-ban",
		"target":       "connA",
	}))
	s.NoError(err, "unknown action is dropped, not surfaced")
	s.Nil(result)
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestDisconnectCleansOwningSession() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")

	created := s.create(a)
	s.join(b, created.Conference.ConferenceID)
	s.recorder.reset()

	s.server.HandleDisconnect(b.Get())

	session, _ := s.store.Get(created.Conference.ConferenceID)
	s.Equal(1, session.Count())
	s.Len(s.recorder.of("connA", eventUserLeft), 1)
}

func (s *SignalServerSuite) TestDisconnectOfLastParticipantEndsSession() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	s.create(a)
	s.recorder.reset()

	s.server.HandleDisconnect(a.Get())

	s.Equal(0, s.store.Count())
	s.Len(s.recorder.of("connA", eventEnded), 1)
}

func (s *SignalServerSuite) TestDisconnectUnknownConnIsNoop() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	s.create(a)
	s.recorder.reset()

	s.server.HandleDisconnect(&connContext{connID: "ghost", teamID: "team1", reqCtx: context.Background()})

	s.Equal(1, s.store.Count())
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestRelayStampsSenderConnID() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")
	_ = b

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	_, err := s.server.handleOffer(a, s.raw(map[string]any{
		"to":      "connB",
		"payload": payload,
	}))
	s.Require().NoError(err)

	offers := s.recorder.of("connB", "offer")
	s.Require().Len(offers, 1)
	ev := offers[0].params.(*relayEvent)
	s.Equal("connA", ev.From)
	s.JSONEq(`{"sdp":"v=0"}`, string(*ev.Payload))
}

func (s *SignalServerSuite) TestRelayWorksWithoutConferenceMembership() {
	// the relay deliberately skips session checks
	s.defaultTeam()
	a := s.client("connA", "userA")
	b := s.client("connB", "userB")
	_ = b

	_, err := s.server.handleIceCandidate(a, s.raw(map[string]any{
		"to":      "connB",
		"payload": json.RawMessage(`{"candidate":"c"}`),
	}))
	s.Require().NoError(err)
	s.Len(s.recorder.of("connB", "ice-candidate"), 1)
}

func (s *SignalServerSuite) TestRelayToUnknownTargetIsDropped() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	_, err := s.server.handleAnswer(a, s.raw(map[string]any{
		"to":      "ghost",
		"payload": json.RawMessage(`{}`),
	}))
	s.NoError(err)
	s.Empty(s.recorder.all())
}

func (s *SignalServerSuite) TestEndAllDestroysEverySession() {
	s.defaultTeam()
	a := s.client("connA", "userA")
	s.create(a)
	s.recorder.reset()

	s.server.EndAll()

	s.Equal(0, s.store.Count())
	s.Len(s.recorder.of("connA", eventEnded), 1)
}

func (s *SignalServerSuite) TestSpeakerTimerArmedOnGrant() {
	s.defaultTeam()
	a := s.client("connA", "userA")

	created := s.create(a)
	confID := created.Conference.ConferenceID
	s.enableSpeakerMode(a, confID)

	_, err := s.server.handleSpeaking(a, s.raw(map[string]any{
		"conferenceId": confID,
		"speaking":     true,
	}))
	s.Require().NoError(err)

	// let the scheduler absorb the enqueue, then advance past the window
	time.Sleep(50 * time.Millisecond)
	s.clock.Advance(speakerTTL + time.Second)

	select {
	case key := <-s.sched.Chan():
		s.Equal(speakerKey(confID, "connA"), key)
	case <-time.After(2 * time.Second):
		s.Fail("speaker timer did not fire")
	}
}
