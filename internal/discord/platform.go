// Package discord adapts the Discord REST API to the moderation engine.
package discord

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/discord/rate"
	"github.com/robalyx/warden/internal/moderation/kind"
	"go.uber.org/zap"
)

// guildInfoTTL is how long the owner and administrator roles are cached.
const guildInfoTTL = 5 * time.Minute

// API is the part of the disgo REST client used by the adapter.
type API interface {
	GetMember(guildID, userID snowflake.ID, opts ...rest.RequestOpt) (*discord.Member, error)
	AddMemberRole(guildID, userID, roleID snowflake.ID, opts ...rest.RequestOpt) error
	RemoveMemberRole(guildID, userID, roleID snowflake.ID, opts ...rest.RequestOpt) error
	UpdateMember(
		guildID, userID snowflake.ID, memberUpdate discord.MemberUpdate, opts ...rest.RequestOpt,
	) (*discord.Member, error)
	RemoveMember(guildID, userID snowflake.ID, opts ...rest.RequestOpt) error
	AddBan(guildID, userID snowflake.ID, deleteMessageDuration time.Duration, opts ...rest.RequestOpt) error
	DeleteBan(guildID, userID snowflake.ID, opts ...rest.RequestOpt) error
	GetBan(guildID, userID snowflake.ID, opts ...rest.RequestOpt) (*discord.Ban, error)
	GetGuild(guildID snowflake.ID, withCounts bool, opts ...rest.RequestOpt) (*discord.RestGuild, error)
	GetRoles(guildID snowflake.ID, opts ...rest.RequestOpt) ([]discord.Role, error)
	CreateDMChannel(userID snowflake.ID, opts ...rest.RequestOpt) (*discord.DMChannel, error)
	CreateMessage(
		channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt,
	) (*discord.Message, error)
}

type guildInfo struct {
	ownerID    snowflake.ID
	adminRoles []snowflake.ID
	fetchedAt  time.Time
}

var _ kind.Platform = (*Platform)(nil)

// Platform implements kind.Platform for a single guild.
type Platform struct {
	api     API
	guildID snowflake.ID
	reads   *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger

	mu    sync.Mutex
	guild *guildInfo
}

// NewPlatform creates a platform adapter. Member and ban lookups wait on
// reads so a full reconciliation pass stays under the REST rate limits.
func NewPlatform(api API, guildID uint64, reads *rate.Limiter, logger *zap.Logger) *Platform {
	return &Platform{
		api:     api,
		guildID: snowflake.ID(guildID),
		reads:   reads,
		now:     time.Now,
		logger:  logger.Named("discord_platform"),
	}
}

// ResolveMember returns the member, or nil when the user is not in the guild.
func (p *Platform) ResolveMember(ctx context.Context, userID uint64) (*kind.Member, error) {
	if err := p.waitRead(ctx); err != nil {
		return nil, err
	}

	member, err := p.api.GetMember(p.guildID, snowflake.ID(userID), rest.WithCtx(ctx))
	if err != nil {
		if isNotFound(err, codeUnknownMember, codeUnknownUser) {
			return nil, nil
		}

		return nil, classify("get member", err)
	}

	info, err := p.guildInfo(ctx)
	if err != nil {
		return nil, err
	}

	roleIDs := make([]uint64, len(member.RoleIDs))
	for i, id := range member.RoleIDs {
		roleIDs[i] = uint64(id)
	}

	return &kind.Member{
		ID:           userID,
		DisplayName:  displayName(member),
		RoleIDs:      roleIDs,
		ServerMuted:  member.Mute,
		TimeoutUntil: member.CommunicationDisabledUntil,
		IsBot:        member.User.Bot,
		IsGuildOwner: member.User.ID == info.ownerID,
		HasAdminPerms: slices.ContainsFunc(member.RoleIDs, func(id snowflake.ID) bool {
			return slices.Contains(info.adminRoles, id)
		}),
	}, nil
}

// AddRole gives the member a role.
func (p *Platform) AddRole(ctx context.Context, userID, roleID uint64, reason string) error {
	err := p.api.AddMemberRole(p.guildID, snowflake.ID(userID), snowflake.ID(roleID), p.opts(ctx, reason)...)
	return classify("add role", err)
}

// RemoveRole takes a role from the member.
func (p *Platform) RemoveRole(ctx context.Context, userID, roleID uint64, reason string) error {
	err := p.api.RemoveMemberRole(p.guildID, snowflake.ID(userID), snowflake.ID(roleID), p.opts(ctx, reason)...)
	return classify("remove role", err)
}

// Ban bans the user and purges their recent messages.
func (p *Platform) Ban(ctx context.Context, userID uint64, deleteMessages time.Duration, reason string) error {
	err := p.api.AddBan(p.guildID, snowflake.ID(userID), deleteMessages, p.opts(ctx, reason)...)
	return classify("ban", err)
}

// Unban lifts a ban. Lifting a ban that does not exist is not an error.
func (p *Platform) Unban(ctx context.Context, userID uint64, reason string) error {
	err := p.api.DeleteBan(p.guildID, snowflake.ID(userID), p.opts(ctx, reason)...)
	if err != nil && isNotFound(err, codeUnknownBan) {
		return nil
	}

	return classify("unban", err)
}

// IsBanned reports whether the user is banned from the guild.
func (p *Platform) IsBanned(ctx context.Context, userID uint64) (bool, error) {
	if err := p.waitRead(ctx); err != nil {
		return false, err
	}

	_, err := p.api.GetBan(p.guildID, snowflake.ID(userID), rest.WithCtx(ctx))
	if err != nil {
		if isNotFound(err, codeUnknownBan) {
			return false, nil
		}

		return false, classify("get ban", err)
	}

	return true, nil
}

// Kick removes the member from the guild.
func (p *Platform) Kick(ctx context.Context, userID uint64, reason string) error {
	err := p.api.RemoveMember(p.guildID, snowflake.ID(userID), p.opts(ctx, reason)...)
	return classify("kick", err)
}

// SetTimeout applies a communication timeout, or clears it when until is nil.
func (p *Platform) SetTimeout(ctx context.Context, userID uint64, until *time.Time, reason string) error {
	update := discord.MemberUpdate{CommunicationDisabledUntil: json.NullPtr[time.Time]()}
	if until != nil {
		update.CommunicationDisabledUntil = json.NewNullablePtr(*until)
	}

	_, err := p.api.UpdateMember(p.guildID, snowflake.ID(userID), update, p.opts(ctx, reason)...)

	return classify("set timeout", err)
}

// SetVoiceMute server-mutes or unmutes the member.
func (p *Platform) SetVoiceMute(ctx context.Context, userID uint64, muted bool, reason string) error {
	update := discord.MemberUpdate{Mute: &muted}

	_, err := p.api.UpdateMember(p.guildID, snowflake.ID(userID), update, p.opts(ctx, reason)...)

	return classify("set voice mute", err)
}

func (p *Platform) opts(ctx context.Context, reason string) []rest.RequestOpt {
	opts := []rest.RequestOpt{rest.WithCtx(ctx)}
	if reason != "" {
		opts = append(opts, rest.WithReason(reason))
	}

	return opts
}

func (p *Platform) waitRead(ctx context.Context) error {
	if p.reads == nil {
		return nil
	}

	return p.reads.WaitForNextSlot(ctx)
}

// guildInfo returns the cached guild owner and administrator roles.
func (p *Platform) guildInfo(ctx context.Context) (*guildInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.guild != nil && p.now().Sub(p.guild.fetchedAt) < guildInfoTTL {
		return p.guild, nil
	}

	guild, err := p.api.GetGuild(p.guildID, false, rest.WithCtx(ctx))
	if err != nil {
		return nil, classify("get guild", err)
	}

	roles, err := p.api.GetRoles(p.guildID, rest.WithCtx(ctx))
	if err != nil {
		return nil, classify("get roles", err)
	}

	info := &guildInfo{
		ownerID:   guild.OwnerID,
		fetchedAt: p.now(),
	}

	for _, role := range roles {
		if role.Permissions.Has(discord.PermissionAdministrator) {
			info.adminRoles = append(info.adminRoles, role.ID)
		}
	}

	p.guild = info

	p.logger.Debug("Refreshed guild info",
		zap.Uint64("ownerID", uint64(info.ownerID)),
		zap.Int("adminRoles", len(info.adminRoles)))

	return info, nil
}

func displayName(member *discord.Member) string {
	if member.Nick != nil && *member.Nick != "" {
		return *member.Nick
	}

	return UserName(member.User)
}

// UserName returns the name a user is shown with outside a guild.
func UserName(user discord.User) string {
	if user.GlobalName != nil && *user.GlobalName != "" {
		return *user.GlobalName
	}

	return user.Username
}
