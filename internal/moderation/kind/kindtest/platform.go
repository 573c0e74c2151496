// Package kindtest provides an in-memory platform for moderation tests.
package kindtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/robalyx/warden/internal/moderation/kind"
)

// Operation names recorded by Platform.
const (
	OpAddRole      = "add_role"
	OpRemoveRole   = "remove_role"
	OpBan          = "ban"
	OpUnban        = "unban"
	OpKick         = "kick"
	OpSetTimeout   = "set_timeout"
	OpSetVoiceMute = "set_voice_mute"
)

// Platform is a thread-safe fake of kind.Platform that records mutations.
type Platform struct {
	mu         sync.Mutex
	members    map[uint64]*kind.Member
	bans       map[uint64]bool
	calls      map[string]int
	failures   map[string][]error
	hooks      map[string]func()
	resolveErr error
}

// NewPlatform creates an empty guild.
func NewPlatform() *Platform {
	return &Platform{
		members:  make(map[uint64]*kind.Member),
		bans:     make(map[uint64]bool),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		hooks:    make(map[string]func()),
	}
}

// AddMember puts a member into the guild.
func (p *Platform) AddMember(id uint64, roles ...uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.members[id] = &kind.Member{ID: id, DisplayName: "member", RoleIDs: roles}
}

// RemoveMember takes a member out of the guild without recording a call.
func (p *Platform) RemoveMember(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.members, id)
}

// SetRole changes a member's role out of band.
func (p *Platform) SetRole(id, roleID uint64, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.members[id]; ok {
		m.RoleIDs = setRole(m.RoleIDs, roleID, present)
	}
}

// SetBanned changes ban state out of band.
func (p *Platform) SetBanned(id uint64, banned bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bans[id] = banned
}

// Member returns a copy of the member, or nil.
func (p *Platform) Member(id uint64) *kind.Member {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.members[id]
	if !ok {
		return nil
	}

	clone := *m
	clone.RoleIDs = slices.Clone(m.RoleIDs)

	return &clone
}

// Banned reports the fake's ban state.
func (p *Platform) Banned(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.bans[id]
}

// FailNext makes the next calls of op return the given errors in order.
func (p *Platform) FailNext(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures[op] = append(p.failures[op], errs...)
}

// BeforeCall runs fn ahead of every later call of op, outside the platform lock.
func (p *Platform) BeforeCall(op string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.hooks[op] = fn
}

// FailResolve makes ResolveMember return err until cleared with nil.
func (p *Platform) FailResolve(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resolveErr = err
}

// Calls returns how many times op was attempted.
func (p *Platform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls[op]
}

// Mutations returns the total number of mutating calls attempted.
func (p *Platform) Mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, n := range p.calls {
		total += n
	}

	return total
}

func (p *Platform) ResolveMember(_ context.Context, userID uint64) (*kind.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resolveErr != nil {
		return nil, p.resolveErr
	}

	m, ok := p.members[userID]
	if !ok {
		return nil, nil
	}

	clone := *m
	clone.RoleIDs = slices.Clone(m.RoleIDs)

	return &clone, nil
}

func (p *Platform) AddRole(_ context.Context, userID, roleID uint64, _ string) error {
	return p.mutate(OpAddRole, func() error {
		m, ok := p.members[userID]
		if !ok {
			return kind.ErrSubjectAbsent
		}

		m.RoleIDs = setRole(m.RoleIDs, roleID, true)

		return nil
	})
}

func (p *Platform) RemoveRole(_ context.Context, userID, roleID uint64, _ string) error {
	return p.mutate(OpRemoveRole, func() error {
		m, ok := p.members[userID]
		if !ok {
			return kind.ErrSubjectAbsent
		}

		m.RoleIDs = setRole(m.RoleIDs, roleID, false)

		return nil
	})
}

func (p *Platform) Ban(_ context.Context, userID uint64, _ time.Duration, _ string) error {
	return p.mutate(OpBan, func() error {
		p.bans[userID] = true
		delete(p.members, userID)

		return nil
	})
}

func (p *Platform) Unban(_ context.Context, userID uint64, _ string) error {
	return p.mutate(OpUnban, func() error {
		p.bans[userID] = false
		return nil
	})
}

func (p *Platform) IsBanned(_ context.Context, userID uint64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.bans[userID], nil
}

func (p *Platform) Kick(_ context.Context, userID uint64, _ string) error {
	return p.mutate(OpKick, func() error {
		if _, ok := p.members[userID]; !ok {
			return kind.ErrSubjectAbsent
		}

		delete(p.members, userID)

		return nil
	})
}

func (p *Platform) SetTimeout(_ context.Context, userID uint64, until *time.Time, _ string) error {
	return p.mutate(OpSetTimeout, func() error {
		m, ok := p.members[userID]
		if !ok {
			return kind.ErrSubjectAbsent
		}

		m.TimeoutUntil = until

		return nil
	})
}

func (p *Platform) SetVoiceMute(_ context.Context, userID uint64, muted bool, _ string) error {
	return p.mutate(OpSetVoiceMute, func() error {
		m, ok := p.members[userID]
		if !ok {
			return kind.ErrSubjectAbsent
		}

		m.ServerMuted = muted

		return nil
	})
}

func (p *Platform) mutate(op string, fn func() error) error {
	p.mu.Lock()
	hook := p.hooks[op]
	p.mu.Unlock()

	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls[op]++

	if queued := p.failures[op]; len(queued) > 0 {
		err := queued[0]
		p.failures[op] = queued[1:]

		return err
	}

	return fn()
}

func setRole(roles []uint64, roleID uint64, present bool) []uint64 {
	roles = slices.DeleteFunc(roles, func(r uint64) bool { return r == roleID })
	if present {
		roles = append(roles, roleID)
	}

	return roles
}
