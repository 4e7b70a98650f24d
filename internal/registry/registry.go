// Package registry owns the authoritative in-memory channel state: the
// channel map, per-channel rosters and ban sets, and each player's single
// active-channel assignment. It is safe for concurrent use from arbitrary
// goroutines; unrelated channels never contend on a shared lock.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/hikari-mc/chatcore-go/internal/config"
	"github.com/hikari-mc/chatcore-go/internal/domain"
	"github.com/hikari-mc/chatcore-go/internal/store"
	"github.com/hikari-mc/chatcore-go/pkg/chaterr"
)

// Saver receives the latest snapshot after every mutation. Implemented by
// store.DebouncedSaver in production.
type Saver interface {
	Queue(snapshot *domain.Snapshot)
}

// channelState bundles one channel with its roster and ban set under a single
// lock, so membership mutations are atomic with respect to roster reads of
// the same channel.
type channelState struct {
	mu      sync.RWMutex
	channel domain.Channel
	members []domain.Membership
	banned  map[uuid.UUID]struct{}
	// deleted marks a state a caller may still hold a reference to after the
	// channel left the map; mutators must treat it as NotFound.
	deleted bool
}

type Registry struct {
	store  store.Store
	saver  Saver
	limits config.Limits
	logger *zap.Logger

	// createMu serializes channel create/delete only; per-channel state
	// carries its own lock for roster operations.
	createMu     sync.Mutex
	channels     sync.Map // map[string]*channelState
	channelCount int

	active sync.Map // map[uuid.UUID]string

	// memberCounts tracks how many channels each player belongs to, so the
	// per-player cap check in TryJoin does not scan other channels' rosters
	// while holding this channel's lock.
	countMu      sync.Mutex
	memberCounts map[uuid.UUID]int
}

func New(s store.Store, saver Saver, limits config.Limits, logger *zap.Logger) *Registry {
	return &Registry{
		store:        s,
		saver:        saver,
		limits:       limits,
		logger:       logger,
		memberCounts: make(map[uuid.UUID]int),
	}
}

// Load replaces all in-memory state with the stored document. Called once at
// startup before any other operation.
func (r *Registry) Load(ctx context.Context) error {
	snapshot, err := r.store.Load(ctx)
	if err != nil {
		return err
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	count := 0
	for id, ch := range snapshot.Channels {
		state := &channelState{
			channel: ch,
			banned:  make(map[uuid.UUID]struct{}, len(ch.BannedUsers)),
		}
		for _, banned := range ch.BannedUsers {
			state.banned[banned] = struct{}{}
		}
		for _, m := range snapshot.Members[id] {
			state.members = append(state.members, m)
			r.adjustMemberCount(m.UserID, 1)
		}
		r.channels.Store(id, state)
		count++
	}
	r.channelCount = count

	for userKey, channelID := range snapshot.ActiveChannels {
		userID, err := uuid.Parse(userKey)
		if err != nil {
			r.logger.Warn("Skipping malformed active channel entry",
				zap.String("key", userKey),
				zap.Error(err))
			continue
		}
		if _, ok := snapshot.Channels[channelID]; !ok {
			r.logger.Warn("Skipping active channel entry for unknown channel",
				zap.String("channel", channelID))
			continue
		}
		r.active.Store(userID, channelID)
	}

	r.logger.Info("Channel data loaded",
		zap.Int("channels", count),
		zap.Int("version", snapshot.Version))

	return nil
}

// SaveSync captures the full in-memory state and writes it immediately. Used
// on the shutdown path only; it supersedes any pending debounced save.
func (r *Registry) SaveSync(ctx context.Context) error {
	return r.store.Save(ctx, r.Snapshot())
}

// Snapshot builds a point-in-time copy of the whole dataset.
func (r *Registry) Snapshot() *domain.Snapshot {
	snapshot := domain.EmptySnapshot()

	r.channels.Range(func(key, value any) bool {
		state := value.(*channelState)
		state.mu.RLock()
		ch := state.channel
		ch.BannedUsers = lo.Keys(state.banned)
		members := make([]domain.Membership, len(state.members))
		copy(members, state.members)
		state.mu.RUnlock()

		snapshot.Channels[ch.ID] = ch
		snapshot.Members[ch.ID] = members
		return true
	})

	r.active.Range(func(key, value any) bool {
		snapshot.ActiveChannels[key.(uuid.UUID).String()] = value.(string)
		return true
	})

	return snapshot
}

func (r *Registry) scheduleSave() {
	r.saver.Queue(r.Snapshot())
}

// Create inserts a new channel, gives the owner an OWNER membership and makes
// the channel the owner's active one.
func (r *Registry) Create(ch domain.Channel) error {
	if !domain.ValidateChannelID(ch.ID) {
		return chaterr.Validation(
			fmt.Sprintf("channel id %q must be %d-%d characters of [a-zA-Z0-9_-]",
				ch.ID, domain.ChannelIDMinLength, domain.ChannelIDMaxLength),
			"id", ch.ID)
	}
	if !domain.ValidateChannelName(ch.Name) {
		return chaterr.Validation("channel name must not be blank", "name", ch.Name)
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}

	r.createMu.Lock()
	if r.channelCount >= r.limits.MaxChannels {
		r.createMu.Unlock()
		return chaterr.New(chaterr.CodeChannelLimit,
			fmt.Sprintf("server channel limit of %d reached", r.limits.MaxChannels),
			map[string]any{"limit": r.limits.MaxChannels})
	}

	state := &channelState{
		channel: ch,
		banned:  make(map[uuid.UUID]struct{}),
		members: []domain.Membership{{
			ChannelID: ch.ID,
			UserID:    ch.OwnerID,
			Role:      domain.RoleOwner,
			JoinedAt:  ch.CreatedAt,
		}},
	}
	if _, loaded := r.channels.LoadOrStore(ch.ID, state); loaded {
		r.createMu.Unlock()
		return chaterr.AlreadyExists(ch.ID)
	}
	r.channelCount++
	r.createMu.Unlock()

	r.adjustMemberCount(ch.OwnerID, 1)
	r.active.Store(ch.OwnerID, ch.ID)
	r.scheduleSave()

	r.logger.Info("Channel created",
		zap.String("channel", ch.ID),
		zap.String("owner", ch.OwnerID.String()))

	return nil
}

// Delete removes the channel, all its memberships and every active
// assignment pointing at it. Only the owner may delete.
func (r *Registry) Delete(channelID string, requesterID uuid.UUID) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}

	state.mu.Lock()
	if state.deleted {
		state.mu.Unlock()
		return chaterr.NotFound(channelID)
	}
	if state.channel.OwnerID != requesterID {
		state.mu.Unlock()
		return chaterr.New(chaterr.CodeNoOwnerPermission,
			fmt.Sprintf("only the owner may delete channel %q", channelID),
			map[string]any{"channel": channelID})
	}
	members := state.members
	state.members = nil
	state.deleted = true

	// Taken while holding state.mu; Create and Load never lock a state
	// inside createMu, so the ordering is safe.
	r.createMu.Lock()
	if _, ok := r.channels.LoadAndDelete(channelID); ok {
		r.channelCount--
	}
	r.createMu.Unlock()
	state.mu.Unlock()

	for _, m := range members {
		r.adjustMemberCount(m.UserID, -1)
	}
	r.clearActiveFor(channelID)
	r.scheduleSave()

	r.logger.Info("Channel deleted",
		zap.String("channel", channelID),
		zap.Int("members_removed", len(members)))

	return nil
}

// Get returns a copy of the channel, including its current ban list.
func (r *Registry) Get(channelID string) (domain.Channel, bool) {
	state, ok := r.load(channelID)
	if !ok {
		return domain.Channel{}, false
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	if state.deleted {
		return domain.Channel{}, false
	}
	ch := state.channel
	ch.BannedUsers = lo.Keys(state.banned)
	return ch, true
}

// All returns every channel, in no particular order.
func (r *Registry) All() []domain.Channel {
	var channels []domain.Channel
	r.channels.Range(func(_, value any) bool {
		state := value.(*channelState)
		state.mu.RLock()
		channels = append(channels, state.channel)
		state.mu.RUnlock()
		return true
	})
	return channels
}

// Public returns non-private channels sorted by display name.
func (r *Registry) Public() []domain.Channel {
	public := lo.Filter(r.All(), func(ch domain.Channel, _ int) bool {
		return !ch.Private
	})
	sort.Slice(public, func(i, j int) bool {
		return public[i].Name < public[j].Name
	})
	return public
}

// Members returns a snapshot of the channel's roster, safe to iterate
// without further locking.
func (r *Registry) Members(channelID string) ([]domain.Membership, error) {
	state, ok := r.load(channelID)
	if !ok {
		return nil, chaterr.NotFound(channelID)
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	if state.deleted {
		return nil, chaterr.NotFound(channelID)
	}
	members := make([]domain.Membership, len(state.members))
	copy(members, state.members)
	return members, nil
}

// AddMember inserts a membership without any of TryJoin's checks. Callers
// must ensure the pair does not already exist.
func (r *Registry) AddMember(channelID string, userID uuid.UUID, role domain.Role) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}

	state.mu.Lock()
	if state.deleted {
		state.mu.Unlock()
		return chaterr.NotFound(channelID)
	}
	state.members = append(state.members, domain.Membership{
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
		JoinedAt:  time.Now(),
	})
	state.mu.Unlock()

	r.adjustMemberCount(userID, 1)
	r.scheduleSave()
	return nil
}

// RemoveMember drops the membership and clears the user's active assignment
// if it pointed at this channel.
func (r *Registry) RemoveMember(channelID string, userID uuid.UUID) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}

	state.mu.Lock()
	if state.deleted {
		state.mu.Unlock()
		return chaterr.NotFound(channelID)
	}
	before := len(state.members)
	state.members = lo.Filter(state.members, func(m domain.Membership, _ int) bool {
		return m.UserID != userID
	})
	removed := len(state.members) < before
	state.mu.Unlock()

	if removed {
		r.adjustMemberCount(userID, -1)
		r.active.CompareAndDelete(userID, channelID)
		r.scheduleSave()
	}
	return nil
}

// TryJoin runs the full join validation chain and the membership insert under
// the channel's own critical section, so concurrent joins cannot interleave
// between a check and the add. On success the channel becomes the user's
// active one.
func (r *Registry) TryJoin(channelID string, userID uuid.UUID, bypassPrivateCheck bool) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}

	if current, ok := r.active.Load(userID); ok && current.(string) == channelID {
		return chaterr.New(chaterr.CodeAlreadyActive,
			fmt.Sprintf("channel %q is already your active channel", channelID),
			map[string]any{"channel": channelID})
	}

	state.mu.Lock()
	err := r.tryJoinLocked(state, channelID, userID, bypassPrivateCheck)
	state.mu.Unlock()
	if err != nil {
		return err
	}

	r.active.Store(userID, channelID)
	r.scheduleSave()

	return nil
}

// tryJoinLocked holds state.mu for the whole validation chain and the insert.
// Snapshotting for the save happens outside the lock.
func (r *Registry) tryJoinLocked(state *channelState, channelID string, userID uuid.UUID, bypassPrivateCheck bool) error {
	if state.deleted {
		return chaterr.NotFound(channelID)
	}
	for _, m := range state.members {
		if m.UserID == userID {
			return chaterr.New(chaterr.CodeAlreadyMember,
				fmt.Sprintf("already a member of channel %q", channelID),
				map[string]any{"channel": channelID})
		}
	}
	if _, banned := state.banned[userID]; banned {
		return chaterr.New(chaterr.CodePlayerBanned,
			fmt.Sprintf("banned from channel %q", channelID),
			map[string]any{"channel": channelID})
	}
	if state.channel.Private && !bypassPrivateCheck {
		return chaterr.New(chaterr.CodePrivateChannel,
			fmt.Sprintf("channel %q is private and requires an invitation", channelID),
			map[string]any{"channel": channelID})
	}
	if len(state.members) >= r.limits.MaxMembersPerChannel {
		return chaterr.New(chaterr.CodeMemberLimit,
			fmt.Sprintf("channel %q is full (%d members)", channelID, r.limits.MaxMembersPerChannel),
			map[string]any{"channel": channelID, "limit": r.limits.MaxMembersPerChannel})
	}
	if !r.reserveMemberSlot(userID) {
		return chaterr.New(chaterr.CodePlayerChannelLimit,
			fmt.Sprintf("you may not belong to more than %d channels", r.limits.MaxChannelsPerPlayer),
			map[string]any{"limit": r.limits.MaxChannelsPerPlayer})
	}

	state.members = append(state.members, domain.Membership{
		ChannelID: channelID,
		UserID:    userID,
		Role:      domain.RoleMember,
		JoinedAt:  time.Now(),
	})
	return nil
}

// BanUser adds the user to the channel's ban list, removing any membership
// and active assignment. Bypass-protected users cannot be banned; the flag
// comes from the host's permission system via the caller.
func (r *Registry) BanUser(channelID string, userID uuid.UUID, bypassProtected bool) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}
	if bypassProtected {
		return chaterr.New(chaterr.CodeBypassProtected,
			"that player cannot be banned",
			map[string]any{"channel": channelID, "user": userID.String()})
	}

	state.mu.Lock()
	if state.deleted {
		state.mu.Unlock()
		return chaterr.NotFound(channelID)
	}
	if _, banned := state.banned[userID]; banned {
		state.mu.Unlock()
		return chaterr.New(chaterr.CodeAlreadyBanned,
			fmt.Sprintf("player is already banned from channel %q", channelID),
			map[string]any{"channel": channelID})
	}
	state.banned[userID] = struct{}{}
	before := len(state.members)
	state.members = lo.Filter(state.members, func(m domain.Membership, _ int) bool {
		return m.UserID != userID
	})
	removed := len(state.members) < before
	state.mu.Unlock()

	if removed {
		r.adjustMemberCount(userID, -1)
	}
	r.active.CompareAndDelete(userID, channelID)
	r.scheduleSave()

	r.logger.Info("Player banned from channel",
		zap.String("channel", channelID),
		zap.String("user", userID.String()))

	return nil
}

// UnbanUser removes the user from the ban list. Membership is not restored.
func (r *Registry) UnbanUser(channelID string, userID uuid.UUID) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}

	state.mu.Lock()
	if state.deleted {
		state.mu.Unlock()
		return chaterr.NotFound(channelID)
	}
	if _, banned := state.banned[userID]; !banned {
		state.mu.Unlock()
		return chaterr.New(chaterr.CodeNotBanned,
			fmt.Sprintf("player is not banned from channel %q", channelID),
			map[string]any{"channel": channelID})
	}
	delete(state.banned, userID)
	state.mu.Unlock()

	r.scheduleSave()
	return nil
}

// UpdateMemberRole switches a membership between MODERATOR and MEMBER. OWNER
// can neither be assigned nor cleared here; use UpdateOwner.
func (r *Registry) UpdateMemberRole(channelID string, userID uuid.UUID, newRole domain.Role) error {
	if newRole != domain.RoleModerator && newRole != domain.RoleMember {
		return chaterr.Validation("role must be MODERATOR or MEMBER", "role", newRole.String())
	}

	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}

	state.mu.Lock()
	err := func() error {
		if state.deleted {
			return chaterr.NotFound(channelID)
		}
		for i, m := range state.members {
			if m.UserID != userID {
				continue
			}
			if m.Role == domain.RoleOwner {
				return chaterr.Validation("the owner's role cannot be changed here", "role", newRole.String())
			}
			state.members[i].Role = newRole
			return nil
		}
		return chaterr.NotMember(fmt.Sprintf("player is not a member of channel %q", channelID))
	}()
	state.mu.Unlock()

	if err != nil {
		return err
	}
	r.scheduleSave()
	return nil
}

// UpdateOwner reassigns channel ownership: the new owner's membership becomes
// OWNER and the former owner is demoted to MODERATOR. The new owner must
// already be a member; callers validate that.
func (r *Registry) UpdateOwner(channelID string, newOwnerID uuid.UUID) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}

	state.mu.Lock()
	if state.deleted {
		state.mu.Unlock()
		return chaterr.NotFound(channelID)
	}
	found := false
	for _, m := range state.members {
		if m.UserID == newOwnerID {
			found = true
			break
		}
	}
	if !found {
		state.mu.Unlock()
		return chaterr.NotMember(fmt.Sprintf("new owner is not a member of channel %q", channelID))
	}
	for i, m := range state.members {
		switch {
		case m.UserID == newOwnerID:
			state.members[i].Role = domain.RoleOwner
		case m.Role == domain.RoleOwner:
			state.members[i].Role = domain.RoleModerator
		}
	}
	state.channel.OwnerID = newOwnerID
	state.mu.Unlock()

	r.scheduleSave()

	r.logger.Info("Channel ownership transferred",
		zap.String("channel", channelID),
		zap.String("new_owner", newOwnerID.String()))

	return nil
}

// Rename changes the display name. The channel ID never changes.
func (r *Registry) Rename(channelID, name string) error {
	if !domain.ValidateChannelName(name) {
		return chaterr.Validation("channel name must not be blank", "name", name)
	}
	return r.updateChannel(channelID, func(ch *domain.Channel) {
		ch.Name = name
	})
}

// SetDescription updates the optional description.
func (r *Registry) SetDescription(channelID, description string) error {
	return r.updateChannel(channelID, func(ch *domain.Channel) {
		ch.Description = description
	})
}

// SetPrivate toggles the privacy flag.
func (r *Registry) SetPrivate(channelID string, private bool) error {
	return r.updateChannel(channelID, func(ch *domain.Channel) {
		ch.Private = private
	})
}

// ActiveChannel returns the user's single active channel, if any.
func (r *Registry) ActiveChannel(userID uuid.UUID) (string, bool) {
	value, ok := r.active.Load(userID)
	if !ok {
		return "", false
	}
	return value.(string), true
}

// SetActiveChannel points the user's focus at channelID.
func (r *Registry) SetActiveChannel(userID uuid.UUID, channelID string) {
	r.active.Store(userID, channelID)
	r.scheduleSave()
}

// ClearActiveChannel drops the user's focus; they fall back to global chat.
func (r *Registry) ClearActiveChannel(userID uuid.UUID) {
	r.active.Delete(userID)
	r.scheduleSave()
}

func (r *Registry) load(channelID string) (*channelState, bool) {
	value, ok := r.channels.Load(channelID)
	if !ok {
		return nil, false
	}
	return value.(*channelState), true
}

func (r *Registry) updateChannel(channelID string, mutate func(*domain.Channel)) error {
	state, ok := r.load(channelID)
	if !ok {
		return chaterr.NotFound(channelID)
	}
	state.mu.Lock()
	if state.deleted {
		state.mu.Unlock()
		return chaterr.NotFound(channelID)
	}
	mutate(&state.channel)
	state.mu.Unlock()
	r.scheduleSave()
	return nil
}

func (r *Registry) clearActiveFor(channelID string) {
	var users []uuid.UUID
	r.active.Range(func(key, value any) bool {
		if value.(string) == channelID {
			users = append(users, key.(uuid.UUID))
		}
		return true
	})
	for _, userID := range users {
		r.active.CompareAndDelete(userID, channelID)
	}
}

func (r *Registry) adjustMemberCount(userID uuid.UUID, delta int) {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	next := r.memberCounts[userID] + delta
	if next <= 0 {
		delete(r.memberCounts, userID)
		return
	}
	r.memberCounts[userID] = next
}

// reserveMemberSlot atomically checks the per-player cap and claims a slot.
func (r *Registry) reserveMemberSlot(userID uuid.UUID) bool {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	if r.memberCounts[userID] >= r.limits.MaxChannelsPerPlayer {
		return false
	}
	r.memberCounts[userID]++
	return true
}
