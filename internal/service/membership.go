// Package service implements the user-facing membership protocol on top of
// the registry: joining, leaving, switching focus and the role-gated
// moderation actions the command layer invokes.
package service

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hikari-mc/chatcore-go/internal/domain"
	"github.com/hikari-mc/chatcore-go/internal/registry"
	"github.com/hikari-mc/chatcore-go/pkg/chaterr"
)

type MembershipService struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func NewMembershipService(reg *registry.Registry, logger *zap.Logger) *MembershipService {
	return &MembershipService{
		registry: reg,
		logger:   logger,
	}
}

// IsMember reports whether the user holds a membership in the channel.
func (ms *MembershipService) IsMember(userID uuid.UUID, channelID string) bool {
	members, err := ms.registry.Members(channelID)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Role returns the user's role in the channel, or a NotMember failure.
func (ms *MembershipService) Role(userID uuid.UUID, channelID string) (domain.Role, error) {
	members, err := ms.registry.Members(channelID)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m.Role, nil
		}
	}
	return "", chaterr.NotMember(fmt.Sprintf("not a member of channel %q", channelID))
}

// HasRoleAtLeast is a single rank comparison. Absence of a membership is not
// an error here, just false.
func (ms *MembershipService) HasRoleAtLeast(userID uuid.UUID, channelID string, required domain.Role) bool {
	role, err := ms.Role(userID, channelID)
	if err != nil {
		return false
	}
	return role.AtLeast(required)
}

// Join adds the user to the channel as MEMBER and makes it their active
// channel. All validation runs inside the registry's checked join.
func (ms *MembershipService) Join(userID uuid.UUID, channelID string, bypassPrivateCheck bool) error {
	if err := ms.registry.TryJoin(channelID, userID, bypassPrivateCheck); err != nil {
		return err
	}
	ms.logger.Info("Player joined channel",
		zap.String("channel", channelID),
		zap.String("user", userID.String()))
	return nil
}

// Leave clears the user's active assignment only. The membership persists,
// so the user can come back with Switch without re-joining — and without a
// fresh invitation on private channels. This asymmetry with kick/ban is
// deliberate.
func (ms *MembershipService) Leave(userID uuid.UUID) error {
	if _, ok := ms.registry.ActiveChannel(userID); !ok {
		return chaterr.NotMember("no active channel to leave")
	}
	ms.registry.ClearActiveChannel(userID)
	return nil
}

// Switch moves the user's focus to a channel they already belong to.
func (ms *MembershipService) Switch(userID uuid.UUID, channelID string) error {
	if _, ok := ms.registry.Get(channelID); !ok {
		return chaterr.NotFound(channelID)
	}
	if current, ok := ms.registry.ActiveChannel(userID); ok && current == channelID {
		return chaterr.New(chaterr.CodeAlreadyActive,
			fmt.Sprintf("channel %q is already your active channel", channelID),
			map[string]any{"channel": channelID})
	}
	if !ms.IsMember(userID, channelID) {
		return chaterr.NotMember(fmt.Sprintf("not a member of channel %q", channelID))
	}
	ms.registry.SetActiveChannel(userID, channelID)
	return nil
}

// PlayerChannels lists every channel the user belongs to, derived by
// scanning rosters. Cardinalities are small enough that no index is kept.
func (ms *MembershipService) PlayerChannels(userID uuid.UUID) []string {
	var channelIDs []string
	for _, ch := range ms.registry.All() {
		if ms.IsMember(userID, ch.ID) {
			channelIDs = append(channelIDs, ch.ID)
		}
	}
	return channelIDs
}

// Kick removes a member. Requires MODERATOR or better; the owner cannot be
// kicked, and bypass-protected targets are rejected.
func (ms *MembershipService) Kick(actorID uuid.UUID, channelID string, targetID uuid.UUID, targetProtected bool) error {
	ch, ok := ms.registry.Get(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}
	if !ms.HasRoleAtLeast(actorID, channelID, domain.RoleModerator) {
		return insufficientRole(channelID, domain.RoleModerator)
	}
	if targetID == ch.OwnerID {
		return chaterr.New(chaterr.CodeBypassProtected,
			"the channel owner cannot be kicked; transfer ownership first",
			map[string]any{"channel": channelID})
	}
	if targetProtected {
		return chaterr.New(chaterr.CodeBypassProtected,
			"that player cannot be kicked",
			map[string]any{"channel": channelID, "user": targetID.String()})
	}
	if !ms.IsMember(targetID, channelID) {
		return chaterr.NotMember(fmt.Sprintf("player is not a member of channel %q", channelID))
	}
	return ms.registry.RemoveMember(channelID, targetID)
}

// Ban adds the target to the ban list, removing their membership. Requires
// MODERATOR or better; the owner cannot be banned.
func (ms *MembershipService) Ban(actorID uuid.UUID, channelID string, targetID uuid.UUID, targetProtected bool) error {
	ch, ok := ms.registry.Get(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}
	if !ms.HasRoleAtLeast(actorID, channelID, domain.RoleModerator) {
		return insufficientRole(channelID, domain.RoleModerator)
	}
	if targetID == ch.OwnerID {
		return chaterr.New(chaterr.CodeBypassProtected,
			"the channel owner cannot be banned; transfer ownership first",
			map[string]any{"channel": channelID})
	}
	return ms.registry.BanUser(channelID, targetID, targetProtected)
}

// Unban lifts a ban. Requires MODERATOR or better.
func (ms *MembershipService) Unban(actorID uuid.UUID, channelID string, targetID uuid.UUID) error {
	if !ms.HasRoleAtLeast(actorID, channelID, domain.RoleModerator) {
		if _, ok := ms.registry.Get(channelID); !ok {
			return chaterr.NotFound(channelID)
		}
		return insufficientRole(channelID, domain.RoleModerator)
	}
	return ms.registry.UnbanUser(channelID, targetID)
}

// Promote raises a MEMBER to MODERATOR. Owner only.
func (ms *MembershipService) Promote(actorID uuid.UUID, channelID string, targetID uuid.UUID) error {
	return ms.changeRole(actorID, channelID, targetID, domain.RoleModerator)
}

// Demote lowers a MODERATOR to MEMBER. Owner only.
func (ms *MembershipService) Demote(actorID uuid.UUID, channelID string, targetID uuid.UUID) error {
	return ms.changeRole(actorID, channelID, targetID, domain.RoleMember)
}

// TransferOwnership hands the channel to another member. Owner only; the
// former owner stays on as MODERATOR.
func (ms *MembershipService) TransferOwnership(actorID uuid.UUID, channelID string, newOwnerID uuid.UUID) error {
	ch, ok := ms.registry.Get(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}
	if ch.OwnerID != actorID {
		return chaterr.New(chaterr.CodeNoOwnerPermission,
			fmt.Sprintf("only the owner may transfer channel %q", channelID),
			map[string]any{"channel": channelID})
	}
	if !ms.IsMember(newOwnerID, channelID) {
		return chaterr.NotMember(fmt.Sprintf("new owner must be a member of channel %q", channelID))
	}
	return ms.registry.UpdateOwner(channelID, newOwnerID)
}

func (ms *MembershipService) changeRole(actorID uuid.UUID, channelID string, targetID uuid.UUID, newRole domain.Role) error {
	ch, ok := ms.registry.Get(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}
	if ch.OwnerID != actorID {
		return chaterr.New(chaterr.CodeNoOwnerPermission,
			fmt.Sprintf("only the owner may change roles in channel %q", channelID),
			map[string]any{"channel": channelID})
	}
	return ms.registry.UpdateMemberRole(channelID, targetID, newRole)
}

func insufficientRole(channelID string, required domain.Role) error {
	return chaterr.New(chaterr.CodeInsufficientRole,
		fmt.Sprintf("this action requires %s in channel %q", required, channelID),
		map[string]any{"channel": channelID, "required": required.String()})
}
