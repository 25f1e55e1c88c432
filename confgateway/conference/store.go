package conference

import (
	"sync"

	"github.com/taskhive/realtime/internal/errors"
)

const (
	ErrSessionExists   errors.Code = "session_exists"
	ErrSessionNotFound errors.Code = "session_not_found"
)

// Store is the in-memory registry of live sessions. It owns every Session
// instance; lookups hand out the session pointer but identifiers are what
// travel on the wire.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

func (st *Store) Create(session *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[session.ID]; ok {
		return errors.Newf(ErrSessionExists, "session %s already exists", session.ID)
	}
	st.sessions[session.ID] = session
	return nil
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	session, ok := st.sessions[id]
	return session, ok
}

// GetByTeam finds the team's live session by first-match scan. At most one
// session exists per team, so the scan is sufficient.
func (st *Store) GetByTeam(teamID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	for _, session := range st.sessions {
		if session.TeamID == teamID {
			return session, true
		}
	}
	return nil, false
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) List() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		out = append(out, session)
	}
	return out
}
