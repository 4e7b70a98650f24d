package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ChannelIDMinLength = 3
	ChannelIDMaxLength = 30
)

var channelIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Channel is a named, persistent chat scope with an owner, a roster and an
// optional privacy flag. The ID is immutable after creation.
type Channel struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Private     bool        `json:"private"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	BannedUsers []uuid.UUID `json:"banned_users,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ValidateChannelID checks length and charset of a channel identifier.
func ValidateChannelID(id string) bool {
	if len(id) < ChannelIDMinLength || len(id) > ChannelIDMaxLength {
		return false
	}
	return channelIDPattern.MatchString(id)
}

// ValidateChannelName rejects blank display names.
func ValidateChannelName(name string) bool {
	return strings.TrimSpace(name) != ""
}

// IsBanned checks the channel's ban list.
func (c *Channel) IsBanned(userID uuid.UUID) bool {
	if c == nil {
		return false
	}
	for _, banned := range c.BannedUsers {
		if banned == userID {
			return true
		}
	}
	return false
}
