package kind

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrSubjectAbsent is returned when an effect needs a guild member who is not present.
	ErrSubjectAbsent = errors.New("subject is not a member of the guild")
	// ErrRejected marks platform errors that will not succeed on retry,
	// such as missing permissions or an unknown user.
	ErrRejected = errors.New("platform rejected the request")
)

// Member is the platform's current view of a guild member.
type Member struct {
	ID            uint64
	DisplayName   string
	RoleIDs       []uint64
	ServerMuted   bool
	TimeoutUntil  *time.Time
	IsBot         bool
	IsGuildOwner  bool
	HasAdminPerms bool
}

// HasRole reports whether the member currently has the role.
func (m *Member) HasRole(roleID uint64) bool {
	return slices.Contains(m.RoleIDs, roleID)
}

// TimedOut reports whether a communication timeout is in force at now.
func (m *Member) TimedOut(now time.Time) bool {
	return m.TimeoutUntil != nil && m.TimeoutUntil.After(now)
}

// Platform is the adapter to the community platform the effects are applied to.
type Platform interface {
	// ResolveMember returns the member, or nil with no error when the user is not in the guild.
	ResolveMember(ctx context.Context, userID uint64) (*Member, error)
	AddRole(ctx context.Context, userID, roleID uint64, reason string) error
	RemoveRole(ctx context.Context, userID, roleID uint64, reason string) error
	Ban(ctx context.Context, userID uint64, deleteMessages time.Duration, reason string) error
	Unban(ctx context.Context, userID uint64, reason string) error
	IsBanned(ctx context.Context, userID uint64) (bool, error)
	Kick(ctx context.Context, userID uint64, reason string) error
	// SetTimeout applies a timeout until the given time, or clears it when until is nil.
	SetTimeout(ctx context.Context, userID uint64, until *time.Time, reason string) error
	SetVoiceMute(ctx context.Context, userID uint64, muted bool, reason string) error
}
