package conference

import (
	"fmt"
	"time"

	"github.com/taskhive/realtime/teams"
)

// Participant is one connection's membership in a session. Role is a
// snapshot of the member's team role taken at join time; privileged actions
// re-check live membership instead of trusting it.
type Participant struct {
	ConnID string     `json:"connId"`
	UserID string     `json:"userId"`
	Name   string     `json:"name"`
	Role   teams.Role `json:"role"`
	MicOn  bool       `json:"micOn"`
	CamOn  bool       `json:"camOn"`
}

// NewID derives a session identifier from the owning team and the creation
// instant. One live session per team makes this unique.
func NewID(teamID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", teamID, at.UnixMilli())
}
