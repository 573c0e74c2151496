package kind

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation/clock"
)

// MaxTimeout is the longest communication timeout the platform accepts.
const MaxTimeout = 28 * 24 * time.Hour

// Roles holds the guild roles that kinds act on.
type Roles struct {
	Muted uint64 // Role given to muted members
	Voice uint64 // Role that grants voice access
}

// Options configures the default kinds.
type Options struct {
	Roles Roles
	// SoftbanDeleteWindow is how much message history a softban purges.
	SoftbanDeleteWindow time.Duration
	Clock               clock.Clock
}

// NewDefaultRegistry registers every built-in kind against the platform.
func NewDefaultRegistry(platform Platform, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	if opts.SoftbanDeleteWindow <= 0 {
		opts.SoftbanDeleteWindow = 24 * time.Hour
	}

	return NewRegistry(
		&roleKind{
			desc: Descriptor{
				Kind: enum.ActionMute, PastParticiple: "muted", RevokedVerb: "unmuted",
				PersistModeration: true, ReapplyOnRejoin: true, EnforceOnDrift: true,
			},
			platform: platform,
			role:     func(*types.Case) uint64 { return opts.Roles.Muted },
		},
		&banKind{platform: platform},
		&kickKind{platform: platform},
		NewOnceOff(enum.ActionWarn, "warned", false),
		&roleKind{
			desc: Descriptor{
				Kind: enum.ActionRolepersist, PastParticiple: "rolepersisted", RevokedVerb: "released from rolepersist",
				PersistModeration: true, RequiresRole: true, ReapplyOnRejoin: true, EnforceOnDrift: true,
			},
			platform: platform,
			role:     func(c *types.Case) uint64 { return c.RoleID },
		},
		&timeoutKind{platform: platform, clock: opts.Clock},
		&softbanKind{platform: platform, deleteWindow: opts.SoftbanDeleteWindow},
		&voiceMuteKind{platform: platform},
		&voiceTakeKind{platform: platform, role: opts.Roles.Voice},
		NewOnceOff(enum.ActionNote, "noted", true),
		NewOnceOff(enum.ActionVoiceNote, "noted", true),
	)
}

// AuditReason builds the reason string attached to platform audit logs.
func AuditReason(c *types.Case) string {
	if reason := c.ReasonText(); reason != "" {
		return fmt.Sprintf("Case #%d: %s", c.CaseNumber, reason)
	}

	return fmt.Sprintf("Case #%d", c.CaseNumber)
}

// onceOffKind records information only.
type onceOffKind struct {
	desc Descriptor
}

// NewOnceOff creates a kind with no external effect. Staff-only kinds are
// never announced to the subject.
func NewOnceOff(name enum.ActionKind, pastParticiple string, staffOnly bool) Kind {
	return &onceOffKind{desc: Descriptor{
		Kind:           name,
		PastParticiple: pastParticiple,
		OnceOff:        true,
		StaffOnly:      staffOnly,
	}}
}

func (k *onceOffKind) Descriptor() Descriptor {
	return k.desc
}

func (k *onceOffKind) Apply(context.Context, *types.Case) error {
	return nil
}

func (k *onceOffKind) Remove(context.Context, *types.Case) error {
	return nil
}

func (k *onceOffKind) Probe(context.Context, *types.Case) (State, error) {
	return StateUnknown, nil
}

// roleKind holds a role on the member while the case is active.
// Members outside the guild are skipped and get the role again on rejoin.
type roleKind struct {
	desc     Descriptor
	platform Platform
	role     func(*types.Case) uint64
}

func (k *roleKind) Descriptor() Descriptor {
	return k.desc
}

func (k *roleKind) Apply(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return err
	}

	roleID := k.role(c)
	if member.HasRole(roleID) {
		return nil
	}

	return k.platform.AddRole(ctx, c.SubjectID, roleID, AuditReason(c))
}

func (k *roleKind) Remove(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return err
	}

	roleID := k.role(c)
	if !member.HasRole(roleID) {
		return nil
	}

	return k.platform.RemoveRole(ctx, c.SubjectID, roleID, AuditReason(c))
}

func (k *roleKind) Probe(ctx context.Context, c *types.Case) (State, error) {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return StateUnknown, err
	}

	return presence(member.HasRole(k.role(c))), nil
}

// voiceTakeKind takes the voice role away; revoking grants it back.
type voiceTakeKind struct {
	platform Platform
	role     uint64
}

func (k *voiceTakeKind) Descriptor() Descriptor {
	return Descriptor{
		Kind: enum.ActionVoiceTake, PastParticiple: "devoiced", RevokedVerb: "given voice back",
		PersistModeration: true, ReapplyOnRejoin: true, EnforceOnDrift: true, Withholding: true,
	}
}

func (k *voiceTakeKind) Apply(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return err
	}

	if !member.HasRole(k.role) {
		return nil
	}

	return k.platform.RemoveRole(ctx, c.SubjectID, k.role, AuditReason(c))
}

func (k *voiceTakeKind) Remove(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return err
	}

	if member.HasRole(k.role) {
		return nil
	}

	return k.platform.AddRole(ctx, c.SubjectID, k.role, AuditReason(c))
}

func (k *voiceTakeKind) Probe(ctx context.Context, c *types.Case) (State, error) {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return StateUnknown, err
	}

	return presence(!member.HasRole(k.role)), nil
}

// banKind bans the user. Bans work whether or not the user is in the guild.
type banKind struct {
	platform Platform
}

func (k *banKind) Descriptor() Descriptor {
	return Descriptor{
		Kind: enum.ActionBan, PastParticiple: "banned", RevokedVerb: "unbanned",
		PersistModeration: true, RemovesMember: true,
	}
}

func (k *banKind) Apply(ctx context.Context, c *types.Case) error {
	banned, err := k.platform.IsBanned(ctx, c.SubjectID)
	if err != nil || banned {
		return err
	}

	return k.platform.Ban(ctx, c.SubjectID, 0, AuditReason(c))
}

func (k *banKind) Remove(ctx context.Context, c *types.Case) error {
	banned, err := k.platform.IsBanned(ctx, c.SubjectID)
	if err != nil || !banned {
		return err
	}

	return k.platform.Unban(ctx, c.SubjectID, AuditReason(c))
}

func (k *banKind) Probe(ctx context.Context, c *types.Case) (State, error) {
	banned, err := k.platform.IsBanned(ctx, c.SubjectID)
	if err != nil {
		return StateUnknown, err
	}

	return presence(banned), nil
}

// softbanKind bans and unbans right away to purge recent messages.
type softbanKind struct {
	platform     Platform
	deleteWindow time.Duration
}

func (k *softbanKind) Descriptor() Descriptor {
	return Descriptor{
		Kind: enum.ActionSoftban, PastParticiple: "softbanned",
		Instant: true, RemovesMember: true,
	}
}

func (k *softbanKind) Apply(ctx context.Context, c *types.Case) error {
	if err := k.platform.Ban(ctx, c.SubjectID, k.deleteWindow, AuditReason(c)); err != nil {
		return err
	}

	return k.platform.Unban(ctx, c.SubjectID, AuditReason(c))
}

func (k *softbanKind) Remove(context.Context, *types.Case) error {
	return nil
}

func (k *softbanKind) Probe(context.Context, *types.Case) (State, error) {
	return StateUnknown, nil
}

// kickKind removes the member once.
type kickKind struct {
	platform Platform
}

func (k *kickKind) Descriptor() Descriptor {
	return Descriptor{
		Kind: enum.ActionKick, PastParticiple: "kicked",
		Instant: true, RemovesMember: true,
	}
}

func (k *kickKind) Apply(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil {
		return err
	}

	if member == nil {
		return ErrSubjectAbsent
	}

	return k.platform.Kick(ctx, c.SubjectID, AuditReason(c))
}

func (k *kickKind) Remove(context.Context, *types.Case) error {
	return nil
}

func (k *kickKind) Probe(context.Context, *types.Case) (State, error) {
	return StateUnknown, nil
}

// timeoutKind uses the platform's native communication timeout.
type timeoutKind struct {
	platform Platform
	clock    clock.Clock
}

func (k *timeoutKind) Descriptor() Descriptor {
	return Descriptor{
		Kind: enum.ActionTimeout, PastParticiple: "timed out", RevokedVerb: "removed from timeout",
		PersistModeration: true, RequiresDuration: true, EnforceOnDrift: true,
	}
}

func (k *timeoutKind) Apply(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil {
		return err
	}

	if member == nil {
		return ErrSubjectAbsent
	}

	due, ok := c.DueAt()
	if !ok {
		return fmt.Errorf("%w: timeout needs a duration", ErrRejected)
	}

	if limit := k.clock.Now().Add(MaxTimeout); due.After(limit) {
		due = limit
	}

	if member.TimeoutUntil != nil && member.TimeoutUntil.Equal(due) {
		return nil
	}

	return k.platform.SetTimeout(ctx, c.SubjectID, &due, AuditReason(c))
}

func (k *timeoutKind) Remove(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return err
	}

	if !member.TimedOut(k.clock.Now()) {
		return nil
	}

	return k.platform.SetTimeout(ctx, c.SubjectID, nil, AuditReason(c))
}

func (k *timeoutKind) Probe(ctx context.Context, c *types.Case) (State, error) {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return StateUnknown, err
	}

	return presence(member.TimedOut(k.clock.Now())), nil
}

// voiceMuteKind server-mutes the member in voice channels.
type voiceMuteKind struct {
	platform Platform
}

func (k *voiceMuteKind) Descriptor() Descriptor {
	return Descriptor{
		Kind: enum.ActionVoiceMute, PastParticiple: "voice muted", RevokedVerb: "voice unmuted",
		PersistModeration: true, EnforceOnDrift: true,
	}
}

func (k *voiceMuteKind) Apply(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil {
		return err
	}

	if member == nil {
		return ErrSubjectAbsent
	}

	if member.ServerMuted {
		return nil
	}

	return k.platform.SetVoiceMute(ctx, c.SubjectID, true, AuditReason(c))
}

func (k *voiceMuteKind) Remove(ctx context.Context, c *types.Case) error {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil || !member.ServerMuted {
		return err
	}

	return k.platform.SetVoiceMute(ctx, c.SubjectID, false, AuditReason(c))
}

func (k *voiceMuteKind) Probe(ctx context.Context, c *types.Case) (State, error) {
	member, err := k.platform.ResolveMember(ctx, c.SubjectID)
	if err != nil || member == nil {
		return StateUnknown, err
	}

	return presence(member.ServerMuted), nil
}

func presence(present bool) State {
	if present {
		return StatePresent
	}

	return StateAbsent
}
