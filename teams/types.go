package teams

import (
	"context"

	"github.com/taskhive/realtime/internal/errors"
)

//go:generate mockgen -source=types.go -destination=mocks/mock_teams.go -package=mocks

const (
	ErrTeamNotFound errors.Code = "team_not_found"
	ErrUpstream     errors.Code = "team_service_error"
)

// Role is a member's role within a team.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// CanModerate reports whether the role carries moderation privilege.
func (r Role) CanModerate() bool {
	return r == RoleAdmin || r == RoleManager
}

// Member is one entry of a team's membership list.
type Member struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Directory resolves live team membership. Lookups back both the role
// snapshot taken at join time and every privileged-action check.
type Directory interface {
	Members(ctx context.Context, teamID string) ([]Member, error)
}

// RoleOf returns the role of userID within members, or false if userID is
// not a member.
func RoleOf(members []Member, userID string) (Role, bool) {
	for _, m := range members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}
