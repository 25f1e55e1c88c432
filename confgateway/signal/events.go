package signal

import (
	"encoding/json"
	"time"

	"github.com/taskhive/realtime/confgateway/conference"
)

// Outbound notification names.
const (
	// conference channel
	eventParticipants       = "participants"
	eventUserJoined         = "user-joined"
	eventUserLeft           = "user-left"
	eventMediaUpdate        = "media-update"
	eventHandsUpdated       = "hands-updated"
	eventActiveSpeaker      = "active-speaker"
	eventSpeakerModeToggled = "speaker-mode-toggled"
	eventSpeakerAssigned    = "speaker-assigned"

	// team channel
	eventStarted = "started"
	eventEnded   = "ended"

	// targeted
	eventForceMute      = "force-mute"
	eventForceCameraOff = "force-camera-off"
	eventRemovedByAdmin = "removed-by-admin"
)

// Descriptor is the session identity handed to clients.
type Descriptor struct {
	ConferenceID string    `json:"conferenceId"`
	TeamID       string    `json:"teamId"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

func descriptorOf(session *conference.Session) Descriptor {
	return Descriptor{
		ConferenceID: session.ID,
		TeamID:       session.TeamID,
		CreatedBy:    session.CreatedBy,
		CreatedAt:    session.CreatedAt,
	}
}

// CheckResult answers a check request for the caller's team.
type CheckResult struct {
	Active     bool        `json:"active"`
	Conference *Descriptor `json:"conference,omitempty"`
}

// JoinedResult is the direct reply to create and join.
type JoinedResult struct {
	Conference    Descriptor               `json:"conference"`
	Self          conference.Participant   `json:"self"`
	Participants  []conference.Participant `json:"participants"`
	ActiveSpeaker *string                  `json:"activeSpeaker"`
	Hands         []string                 `json:"hands"`
	SpeakerMode   bool                     `json:"speakerMode"`
}

type startedEvent struct {
	ConferenceID string `json:"conferenceId"`
	TeamID       string `json:"teamId"`
	CreatedBy    string `json:"createdBy"`
}

type endedEvent struct {
	ConferenceID string `json:"conferenceId"`
	TeamID       string `json:"teamId"`
}

type participantsEvent struct {
	ConferenceID string                   `json:"conferenceId"`
	Participants []conference.Participant `json:"participants"`
}

type userJoinedEvent struct {
	ConferenceID string                 `json:"conferenceId"`
	Participant  conference.Participant `json:"participant"`
}

type userLeftEvent struct {
	ConferenceID string `json:"conferenceId"`
	ConnID       string `json:"connId"`
	UserID       string `json:"userId"`
}

type mediaUpdateEvent struct {
	ConferenceID string `json:"conferenceId"`
	ConnID       string `json:"connId"`
	MicOn        bool   `json:"micOn"`
	CamOn        bool   `json:"camOn"`
}

type handsUpdatedEvent struct {
	ConferenceID string   `json:"conferenceId"`
	Hands        []string `json:"hands"`
}

type activeSpeakerEvent struct {
	ConferenceID string  `json:"conferenceId"`
	Speaker      *string `json:"speaker"`
}

type speakerModeToggledEvent struct {
	ConferenceID string `json:"conferenceId"`
	Enabled      bool   `json:"enabled"`
}

type speakerAssignedEvent struct {
	ConferenceID string  `json:"conferenceId"`
	Speaker      *string `json:"speaker"`
	AssignedBy   string  `json:"assignedBy"`
}

type moderatedEvent struct {
	ConferenceID string `json:"conferenceId"`
	By           string `json:"by"`
}

// relayEvent is the forwarded form of offer/answer/ice-candidate.
type relayEvent struct {
	From    string           `json:"from"`
	Payload *json.RawMessage `json:"payload"`
}

func speakerPtr(connID string) *string {
	if connID == "" {
		return nil
	}
	return &connID
}
