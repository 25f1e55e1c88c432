package signal

import (
	"sync"

	"github.com/taskhive/realtime/internal/jsonrpc"
	"github.com/taskhive/realtime/internal/log"
)

// ConnManager indexes live connections three ways: every connection by id,
// connections per team (the team-wide channel), and connections per
// conference (the room channel). Conference membership is an explicit
// conn -> conference index here, never stashed on the transport object.
type ConnManager struct {
	mu         sync.RWMutex
	conns      map[string]jsonrpc.Conn[connContext] // connID -> conn
	team2conns map[string]map[string]struct{}       // teamID -> connIDs
	conf2conns map[string]map[string]struct{}       // confID -> connIDs
	conn2team  map[string]string
	conn2conf  map[string]string
	logger     *log.Logger
}

func NewConnManager(logger *log.Logger) *ConnManager {
	return &ConnManager{
		conns:      make(map[string]jsonrpc.Conn[connContext]),
		team2conns: make(map[string]map[string]struct{}),
		conf2conns: make(map[string]map[string]struct{}),
		conn2team:  make(map[string]string),
		conn2conf:  make(map[string]string),
		logger:     logger,
	}
}

// AddConn registers an authenticated connection on its team channel.
func (m *ConnManager) AddConn(connID, teamID string, conn jsonrpc.Conn[connContext]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[connID] = conn
	m.conn2team[connID] = teamID

	team, ok := m.team2conns[teamID]
	if !ok {
		team = make(map[string]struct{})
		m.team2conns[teamID] = team
	}
	team[connID] = struct{}{}

	m.logger.Debug("Connection registered",
		log.String("connId", connID),
		log.String("teamId", teamID))
}

// RemoveConn drops the connection from every index.
func (m *ConnManager) RemoveConn(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if teamID, ok := m.conn2team[connID]; ok {
		if team, ok := m.team2conns[teamID]; ok {
			delete(team, connID)
			if len(team) == 0 {
				delete(m.team2conns, teamID)
			}
		}
	}
	m.leaveConfLocked(connID)

	delete(m.conn2team, connID)
	delete(m.conns, connID)

	m.logger.Debug("Connection removed", log.String("connId", connID))
}

// JoinConf records the connection's conference membership. A connection
// belongs to at most one conference; joining a second is rejected.
func (m *ConnManager) JoinConf(connID, confID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.conn2conf[connID]; ok && current != confID {
		return false
	}
	m.conn2conf[connID] = confID

	conf, ok := m.conf2conns[confID]
	if !ok {
		conf = make(map[string]struct{})
		m.conf2conns[confID] = conf
	}
	conf[connID] = struct{}{}
	return true
}

// LeaveConf clears the connection's conference membership marker.
func (m *ConnManager) LeaveConf(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveConfLocked(connID)
}

func (m *ConnManager) leaveConfLocked(connID string) {
	confID, ok := m.conn2conf[connID]
	if !ok {
		return
	}
	if conf, ok := m.conf2conns[confID]; ok {
		delete(conf, connID)
		if len(conf) == 0 {
			delete(m.conf2conns, confID)
		}
	}
	delete(m.conn2conf, connID)
}

// RemoveConf clears every membership marker of a destroyed conference.
func (m *ConnManager) RemoveConf(confID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conf, ok := m.conf2conns[confID]
	if !ok {
		return
	}
	for connID := range conf {
		delete(m.conn2conf, connID)
	}
	delete(m.conf2conns, confID)
}

// ConfOf returns the conference the connection currently belongs to.
func (m *ConnManager) ConfOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	confID, ok := m.conn2conf[connID]
	return confID, ok
}

// Conn returns the live connection for connID.
func (m *ConnManager) Conn(connID string) (jsonrpc.Conn[connContext], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *ConnManager) connsOf(ids map[string]struct{}, exclude []string) []jsonrpc.Conn[connContext] {
	out := make([]jsonrpc.Conn[connContext], 0, len(ids))
	for connID := range ids {
		if contains(exclude, connID) {
			continue
		}
		if conn, ok := m.conns[connID]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// NotifyConf sends a notification to every connection in the conference,
// minus the excluded ones.
func (m *ConnManager) NotifyConf(confID, method string, data any, exclude ...string) {
	m.mu.RLock()
	conns := m.connsOf(m.conf2conns[confID], exclude)
	m.mu.RUnlock()

	m.notifyAll(conns, method, data)
}

// NotifyTeam sends a notification on the team-wide channel.
func (m *ConnManager) NotifyTeam(teamID, method string, data any, exclude ...string) {
	m.mu.RLock()
	conns := m.connsOf(m.team2conns[teamID], exclude)
	m.mu.RUnlock()

	m.notifyAll(conns, method, data)
}

// NotifyConn sends a targeted notification to one connection. Returns false
// when the connection is not registered.
func (m *ConnManager) NotifyConn(connID, method string, data any) bool {
	conn, ok := m.Conn(connID)
	if !ok {
		return false
	}
	m.notifyAll([]jsonrpc.Conn[connContext]{conn}, method, data)
	return true
}

func (m *ConnManager) notifyAll(conns []jsonrpc.Conn[connContext], method string, data any) {
	for _, conn := range conns {
		ctx := conn.Context().Get().reqCtx
		if err := conn.Notify(ctx, method, data); err != nil {
			notificationsFailed.Add(ctx, 1)
			m.logger.Error("Failed to notify client",
				log.String("method", method),
				log.Error(err))
			continue
		}
		notificationsSent.Add(ctx, 1)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
