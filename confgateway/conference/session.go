package conference

import (
	"sort"
	"sync"
	"time"
)

// Session is the ephemeral state of one live conference. All mutation goes
// through its methods under the session lock; callers only ever hold the
// session identifier, never references into its internals.
//
// Speaker expiry timers are not kept here: methods report which timer
// actions the caller must take against its scheduler, so the timer arena
// stays cancellable as a unit when the session dies.
type Session struct {
	ID        string
	TeamID    string
	CreatedBy string
	CreatedAt time.Time

	mu            sync.Mutex
	participants  map[string]*Participant
	order         []string
	hands         map[string]struct{}
	speakerMode   bool
	activeSpeaker string
}

func NewSession(teamID, creatorUserID string, at time.Time) *Session {
	return &Session{
		ID:           NewID(teamID, at),
		TeamID:       teamID,
		CreatedBy:    creatorUserID,
		CreatedAt:    at,
		participants: make(map[string]*Participant),
		hands:        make(map[string]struct{}),
	}
}

// Join inserts p. A repeat join for the same connection is a no-op and
// returns false.
func (s *Session) Join(p *Participant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.ConnID]; ok {
		return false
	}
	cp := *p
	s.participants[p.ConnID] = &cp
	s.order = append(s.order, p.ConnID)
	return true
}

// Get returns a copy of the participant, if present.
func (s *Session) Get(connID string) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants lists participants in join order.
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}

func (s *Session) participantsLocked() []Participant {
	out := make([]Participant, 0, len(s.order))
	for _, connID := range s.order {
		if p, ok := s.participants[connID]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// Count returns the number of participants.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// Has reports whether connID is a current participant.
func (s *Session) Has(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.participants[connID]
	return ok
}

// SetMedia updates the participant's media flags and returns the updated
// copy. ok is false when connID is not a participant.
func (s *Session) SetMedia(connID string, micOn, camOn bool) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return Participant{}, false
	}
	p.MicOn = micOn
	p.CamOn = camOn
	return *p, true
}

// ForceMedia turns a single media flag off. Used by moderation actions.
func (s *Session) ForceMedia(connID string, mic bool) (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return Participant{}, false
	}
	if mic {
		p.MicOn = false
	} else {
		p.CamOn = false
	}
	return *p, true
}

// LeaveResult describes the cleanup a departure requires.
type LeaveResult struct {
	Removed      Participant
	HandLowered  bool
	WasSpeaker   bool
	Remaining    int
	Participants []Participant
	Hands        []string
}

// Leave removes the participant along with its hand-raise entry; if it held
// the floor the active speaker is cleared. ok is false when connID was not
// a participant. The caller cancels the connection's expiry timer and
// destroys the session when Remaining hits zero.
func (s *Session) Leave(connID string) (LeaveResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return LeaveResult{}, false
	}

	res := LeaveResult{Removed: *p}

	delete(s.participants, connID)
	for i, id := range s.order {
		if id == connID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if _, raised := s.hands[connID]; raised {
		delete(s.hands, connID)
		res.HandLowered = true
	}

	if s.activeSpeaker == connID {
		s.activeSpeaker = ""
		res.WasSpeaker = true
	}

	res.Remaining = len(s.participants)
	res.Participants = s.participantsLocked()
	res.Hands = s.handsLocked()
	return res, true
}

// RaiseHand adds connID to the hand-raise set. Returns the updated set and
// false when connID is not a participant.
func (s *Session) RaiseHand(connID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[connID]; !ok {
		return nil, false
	}
	s.hands[connID] = struct{}{}
	return s.handsLocked(), true
}

// LowerHand removes connID from the hand-raise set.
func (s *Session) LowerHand(connID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[connID]; !ok {
		return nil, false
	}
	delete(s.hands, connID)
	return s.handsLocked(), true
}

// ClearHands empties the hand-raise set.
func (s *Session) ClearHands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hands = make(map[string]struct{})
	return []string{}
}

// Hands returns the hand-raise set in stable order.
func (s *Session) Hands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handsLocked()
}

func (s *Session) handsLocked() []string {
	out := make([]string, 0, len(s.hands))
	for connID := range s.hands {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// SpeakerModeEnabled reports whether turn-taking is on.
func (s *Session) SpeakerModeEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakerMode
}

// ActiveSpeaker returns the connection currently holding the floor, or "".
func (s *Session) ActiveSpeaker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSpeaker
}

// SetSpeakerMode flips the turn-taking flag. Disabling clears the active
// speaker; the caller must cancel every outstanding timer for the session.
func (s *Session) SetSpeakerMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.speakerMode = enabled
	if !enabled {
		s.activeSpeaker = ""
	}
}

// SpeakResult tells the caller how to react to a speaking signal.
type SpeakResult struct {
	// Acquired is true when the floor changed hands and an active-speaker
	// broadcast is due.
	Acquired bool
	// Rearm is true when the connection's expiry timer must be (re)armed.
	Rearm bool
}

// Speak applies a speaking(true/false) signal from connID. If another
// connection holds the floor the signal is dropped. speaking=false from the
// holder does not release immediately: the timer is rearmed to give a grace
// window, and expiry does the clearing.
func (s *Session) Speak(connID string, speaking bool) SpeakResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.speakerMode {
		return SpeakResult{}
	}
	if _, ok := s.participants[connID]; !ok {
		return SpeakResult{}
	}
	// anti-hijack: somebody else holds the floor
	if s.activeSpeaker != "" && s.activeSpeaker != connID {
		return SpeakResult{}
	}

	if speaking {
		acquired := s.activeSpeaker != connID
		s.activeSpeaker = connID
		return SpeakResult{Acquired: acquired, Rearm: true}
	}

	if s.activeSpeaker == connID {
		// grace window: keep the floor, let the timer expire it
		return SpeakResult{Rearm: true}
	}
	return SpeakResult{}
}

// AssignSpeaker directly hands the floor to connID, bypassing the hijack
// rule. prev is the previous holder ("" when none); ok is false when connID
// is not a participant or speaker mode is off. The mode-off case matters:
// a floor held outside speaker mode would carry an expiry timer the
// disable path never cancels.
func (s *Session) AssignSpeaker(connID string) (prev string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.speakerMode {
		return "", false
	}
	if _, exists := s.participants[connID]; !exists {
		return "", false
	}
	prev = s.activeSpeaker
	s.activeSpeaker = connID
	return prev, true
}

// ClearSpeaker drops the floor. prev is the holder that was cleared.
func (s *Session) ClearSpeaker() (prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.activeSpeaker
	s.activeSpeaker = ""
	return prev
}

// ExpireSpeaker is the timer-expiry path: it clears the floor only when
// connID is still the recorded holder. The participant may have left or
// been replaced between arming and firing.
func (s *Session) ExpireSpeaker(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeSpeaker != connID {
		return false
	}
	s.activeSpeaker = ""
	return true
}
