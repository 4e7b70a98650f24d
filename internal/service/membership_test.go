package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hikari-mc/chatcore-go/internal/config"
	"github.com/hikari-mc/chatcore-go/internal/domain"
	"github.com/hikari-mc/chatcore-go/internal/registry"
	"github.com/hikari-mc/chatcore-go/pkg/chaterr"
)

type memStore struct {
	mu       sync.Mutex
	snapshot *domain.Snapshot
}

func (s *memStore) Load(_ context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return domain.EmptySnapshot(), nil
	}
	return s.snapshot, nil
}

func (s *memStore) Save(_ context.Context, snapshot *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	return nil
}

func (s *memStore) Close() error { return nil }

type nopSaver struct{}

func (nopSaver) Queue(*domain.Snapshot) {}

func newService() (*MembershipService, *registry.Registry) {
	limits := config.Limits{
		MaxChannels:          20,
		MaxMembersPerChannel: 10,
		MaxChannelsPerPlayer: 5,
	}
	reg := registry.New(&memStore{}, nopSaver{}, limits, zap.NewNop())
	return NewMembershipService(reg, zap.NewNop()), reg
}

func channel(id string, owner uuid.UUID) domain.Channel {
	return domain.Channel{ID: id, Name: id, OwnerID: owner}
}

// The end-to-end scenario: create, join, leave, ban, rejoin.
func TestChannelLifecycleScenario(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	u1 := uuid.New()
	u2 := uuid.New()

	req.NoError(reg.Create(channel("general", u1)))
	req.True(ms.IsMember(u1, "general"))
	active, ok := reg.ActiveChannel(u1)
	req.True(ok)
	req.Equal("general", active)

	req.NoError(ms.Join(u2, "general", false))
	role, err := ms.Role(u2, "general")
	req.NoError(err)
	req.Equal(domain.RoleMember, role)
	active, ok = reg.ActiveChannel(u2)
	req.True(ok)
	req.Equal("general", active)

	req.NoError(ms.Leave(u2))
	_, ok = reg.ActiveChannel(u2)
	req.False(ok)
	req.True(ms.IsMember(u2, "general"))

	req.NoError(ms.Ban(u1, "general", u2, false))
	req.False(ms.IsMember(u2, "general"))

	req.Equal(chaterr.CodePlayerBanned, chaterr.CodeOf(ms.Join(u2, "general", false)))
}

func TestLeaveWithoutActiveChannel(t *testing.T) {
	req := require.New(t)
	ms, _ := newService()

	err := ms.Leave(uuid.New())
	req.Equal(chaterr.CodeNotMember, chaterr.CodeOf(err))
}

// Leaving clears focus but keeps the membership, so switching back succeeds
// without re-running join checks — even after the channel fills up.
func TestLeaveThenSwitchBack(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	owner := uuid.New()
	player := uuid.New()

	req.NoError(reg.Create(channel("general", owner)))
	req.NoError(ms.Join(player, "general", false))
	req.NoError(ms.Leave(player))

	req.NoError(ms.Switch(player, "general"))

	active, ok := reg.ActiveChannel(player)
	req.True(ok)
	req.Equal("general", active)

	// No duplicate membership was created.
	members, err := reg.Members("general")
	req.NoError(err)
	req.Len(members, 2)
}

func TestSwitchRules(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	owner := uuid.New()
	player := uuid.New()

	req.Equal(chaterr.CodeNotFound, chaterr.CodeOf(ms.Switch(player, "missing")))

	req.NoError(reg.Create(channel("general", owner)))
	req.Equal(chaterr.CodeNotMember, chaterr.CodeOf(ms.Switch(player, "general")))

	req.NoError(ms.Join(player, "general", false))
	req.Equal(chaterr.CodeAlreadyActive, chaterr.CodeOf(ms.Switch(player, "general")))
}

func TestHasRoleAtLeast(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	owner := uuid.New()
	mod := uuid.New()
	member := uuid.New()
	outsider := uuid.New()

	req.NoError(reg.Create(channel("general", owner)))
	req.NoError(ms.Join(mod, "general", false))
	req.NoError(ms.Join(member, "general", false))
	req.NoError(reg.UpdateMemberRole("general", mod, domain.RoleModerator))

	req.True(ms.HasRoleAtLeast(owner, "general", domain.RoleOwner))
	req.True(ms.HasRoleAtLeast(owner, "general", domain.RoleMember))
	req.True(ms.HasRoleAtLeast(mod, "general", domain.RoleModerator))
	req.False(ms.HasRoleAtLeast(mod, "general", domain.RoleOwner))
	req.True(ms.HasRoleAtLeast(member, "general", domain.RoleMember))
	req.False(ms.HasRoleAtLeast(member, "general", domain.RoleModerator))

	// Absence is false, not an error.
	req.False(ms.HasRoleAtLeast(outsider, "general", domain.RoleMember))
	req.False(ms.HasRoleAtLeast(owner, "missing", domain.RoleMember))
}

func TestPlayerChannels(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	player := uuid.New()

	req.NoError(reg.Create(channel("one", uuid.New())))
	req.NoError(reg.Create(channel("two", uuid.New())))
	req.NoError(reg.Create(channel("three", uuid.New())))

	req.NoError(ms.Join(player, "one", false))
	req.NoError(ms.Join(player, "three", false))

	channels := ms.PlayerChannels(player)
	req.ElementsMatch([]string{"one", "three"}, channels)
	req.Empty(ms.PlayerChannels(uuid.New()))
}

func TestKickRules(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	owner := uuid.New()
	mod := uuid.New()
	member := uuid.New()

	req.NoError(reg.Create(channel("general", owner)))
	req.NoError(ms.Join(mod, "general", false))
	req.NoError(ms.Join(member, "general", false))
	req.NoError(reg.UpdateMemberRole("general", mod, domain.RoleModerator))

	// Plain members cannot kick.
	req.Equal(chaterr.CodeInsufficientRole, chaterr.CodeOf(
		ms.Kick(member, "general", mod, false)))

	// The owner cannot be kicked at all.
	req.Equal(chaterr.CodeBypassProtected, chaterr.CodeOf(
		ms.Kick(mod, "general", owner, false)))

	// Bypass-protected targets are rejected.
	req.Equal(chaterr.CodeBypassProtected, chaterr.CodeOf(
		ms.Kick(mod, "general", member, true)))

	req.NoError(ms.Kick(mod, "general", member, false))
	req.False(ms.IsMember(member, "general"))

	// Kicked players may rejoin; they were not banned.
	req.NoError(ms.Join(member, "general", false))
}

func TestBanAndUnbanGating(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	owner := uuid.New()
	member := uuid.New()
	target := uuid.New()

	req.NoError(reg.Create(channel("general", owner)))
	req.NoError(ms.Join(member, "general", false))
	req.NoError(ms.Join(target, "general", false))

	req.Equal(chaterr.CodeInsufficientRole, chaterr.CodeOf(
		ms.Ban(member, "general", target, false)))
	req.Equal(chaterr.CodeBypassProtected, chaterr.CodeOf(
		ms.Ban(owner, "general", owner, false)))

	req.NoError(ms.Ban(owner, "general", target, false))
	req.Equal(chaterr.CodeInsufficientRole, chaterr.CodeOf(
		ms.Unban(member, "general", target)))
	req.NoError(ms.Unban(owner, "general", target))
	req.NoError(ms.Join(target, "general", false))
}

func TestPromoteDemoteOwnerOnly(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	owner := uuid.New()
	mod := uuid.New()
	member := uuid.New()

	req.NoError(reg.Create(channel("general", owner)))
	req.NoError(ms.Join(mod, "general", false))
	req.NoError(ms.Join(member, "general", false))

	req.NoError(ms.Promote(owner, "general", mod))
	req.True(ms.HasRoleAtLeast(mod, "general", domain.RoleModerator))

	// Moderators cannot promote others.
	req.Equal(chaterr.CodeNoOwnerPermission, chaterr.CodeOf(
		ms.Promote(mod, "general", member)))

	req.NoError(ms.Demote(owner, "general", mod))
	req.False(ms.HasRoleAtLeast(mod, "general", domain.RoleModerator))
}

func TestTransferOwnership(t *testing.T) {
	req := require.New(t)
	ms, reg := newService()
	owner := uuid.New()
	successor := uuid.New()
	outsider := uuid.New()

	req.NoError(reg.Create(channel("general", owner)))
	req.NoError(ms.Join(successor, "general", false))

	req.Equal(chaterr.CodeNoOwnerPermission, chaterr.CodeOf(
		ms.TransferOwnership(successor, "general", successor)))
	req.Equal(chaterr.CodeNotMember, chaterr.CodeOf(
		ms.TransferOwnership(owner, "general", outsider)))

	req.NoError(ms.TransferOwnership(owner, "general", successor))

	role, err := ms.Role(successor, "general")
	req.NoError(err)
	req.Equal(domain.RoleOwner, role)
	role, err = ms.Role(owner, "general")
	req.NoError(err)
	req.Equal(domain.RoleModerator, role)

	// The former owner can now be kicked by the new owner.
	req.NoError(ms.Kick(successor, "general", owner, false))
}
