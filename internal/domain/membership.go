package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is a per-membership authorization level, OWNER > MODERATOR > MEMBER.
type Role string

const (
	RoleOwner     Role = "OWNER"
	RoleModerator Role = "MODERATOR"
	RoleMember    Role = "MEMBER"
)

// Rank gives the total order used by role-gated actions. Unknown roles rank
// below MEMBER so a corrupted document can never grant authority.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleModerator:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r satisfies the required role.
func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= required.Rank()
}

func (r Role) String() string {
	return string(r)
}

// Membership relates one user to one channel. At most one exists per pair.
type Membership struct {
	ChannelID string    `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}
