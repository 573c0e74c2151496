// Package moderation implements the moderation case lifecycle: issuing,
// revoking, expiring and editing cases against the platform.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation/clock"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/kind"
	"github.com/robalyx/warden/internal/moderation/lock"
	"go.uber.org/zap"
)

// ExpiredReason is recorded on cases revoked by the expiry scheduler.
const ExpiredReason = "duration expired"

// CaseStore is the durable store of moderation cases.
type CaseStore interface {
	AllocateCaseNumber(ctx context.Context) (int64, error)
	Insert(ctx context.Context, c *types.Case) error
	Get(ctx context.Context, caseNumber int64) (*types.Case, error)
	FindActive(ctx context.Context, subjectID uint64, kind enum.ActionKind, roleID uint64) (*types.Case, error)
	FindRecent(ctx context.Context, filter types.CaseFilter, limit int) ([]*types.Case, error)
	ListActive(ctx context.Context, filter types.CaseFilter) ([]*types.Case, error)
	CountByKind(ctx context.Context, filter types.CaseFilter) (map[enum.ActionKind]int64, error)
	UpdateActive(ctx context.Context, caseNumber int64, active bool) error
	UpdateRemoved(ctx context.Context, caseNumber int64, removed *types.EditRecord) error
	UpdateExpunged(ctx context.Context, caseNumber int64, expunged *types.EditRecord) error
	UpdateReason(ctx context.Context, caseNumber int64, reason *string) error
	UpdateDuration(ctx context.Context, caseNumber int64, duration *int64, active bool) error
	AppendContext(ctx context.Context, caseNumber int64, link string) error
}

// Scheduler arms and cancels expiry timers.
type Scheduler interface {
	Schedule(c *types.Case)
	Cancel(caseNumber int64) bool
}

// Responder replies to whoever invoked a command.
type Responder interface {
	Reply(ctx context.Context, content string) error
	ReplyError(ctx context.Context, content string) error
}

// Actor is whoever performs an action: a moderator or the system.
type Actor struct {
	ID   uint64
	Name string
}

// IssueRequest describes a new moderation action.
type IssueRequest struct {
	Kind        enum.ActionKind
	SubjectID   uint64
	SubjectName string
	RoleID      uint64 // Rolepersist only
	RoleName    string
	Issuer      Actor
	Reason      *string
	Duration    string // Raw duration text, empty for indefinite
	SourceLink  *string
	Responder   Responder // Optional
}

// RevokeRequest describes the revocation of an active action.
type RevokeRequest struct {
	Kind        enum.ActionKind
	SubjectID   uint64
	SubjectName string
	RoleID      uint64
	Actor       Actor
	Reason      *string
	// AllowNoEntry forces the effect absent even when no active case exists.
	AllowNoEntry bool
	Responder    Responder // Optional
}

// Options tunes the engine.
type Options struct {
	// System is the actor recorded for automatic revocations.
	System Actor
	// ProtectedUserIDs and ProtectedRoleIDs cannot be targeted by effect-bearing kinds.
	ProtectedUserIDs []uint64
	ProtectedRoleIDs []uint64
	// DuplicateWindow rejects repeated once-off and instant cases issued within it.
	DuplicateWindow time.Duration
	// NotifySubjects sends direct messages to subjects on issue and revoke.
	NotifySubjects bool
	// ApplyRetries bounds the retries of a failed platform call.
	ApplyRetries        uint64
	ApplyRetryInterval  time.Duration
	ApplyRetryMaxWindow time.Duration
}

// Params are the engine's collaborators.
type Params struct {
	Store     CaseStore
	Registry  *kind.Registry
	Platform  kind.Platform
	Locks     *lock.SubjectLocker
	Bus       *eventbus.Bus
	Scheduler Scheduler // Optional
	Notifier  Notifier  // Optional
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Engine runs the issue and revoke workflows. Every read-modify-write of a
// subject's cases happens while holding that subject's lock.
type Engine struct {
	store     CaseStore
	registry  *kind.Registry
	platform  kind.Platform
	locks     *lock.SubjectLocker
	bus       *eventbus.Bus
	scheduler Scheduler
	notifier  Notifier
	clock     clock.Clock
	opts      Options
	logger    *zap.Logger
}

// NewEngine creates a new moderation engine.
func NewEngine(params Params, opts Options) *Engine {
	if params.Clock == nil {
		params.Clock = clock.Real{}
	}

	if params.Locks == nil {
		params.Locks = lock.New()
	}

	if opts.System.Name == "" {
		opts.System.Name = "System"
	}

	if opts.ApplyRetryInterval <= 0 {
		opts.ApplyRetryInterval = 500 * time.Millisecond
	}

	if opts.ApplyRetryMaxWindow <= 0 {
		opts.ApplyRetryMaxWindow = 30 * time.Second
	}

	return &Engine{
		store:     params.Store,
		registry:  params.Registry,
		platform:  params.Platform,
		locks:     params.Locks,
		bus:       params.Bus,
		scheduler: params.Scheduler,
		notifier:  params.Notifier,
		clock:     params.Clock,
		opts:      opts,
		logger:    params.Logger.Named("moderation"),
	}
}

// SetScheduler attaches the expiry scheduler. It must be called before the
// engine handles requests.
func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// Registry returns the kind registry the engine dispatches to.
func (e *Engine) Registry() *kind.Registry {
	return e.registry
}

// Issue runs the issue workflow and replies to the invoker when a responder is set.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*types.Case, error) {
	c, desc, err := e.issue(ctx, req)
	if err != nil {
		e.logFailure("issue", req.SubjectID, req.Kind, err)
		e.replyError(ctx, req.Responder, err)

		return c, err
	}

	e.reply(ctx, req.Responder, issuedMessage(c, desc))

	return c, nil
}

func (e *Engine) issue(ctx context.Context, req IssueRequest) (*types.Case, kind.Descriptor, error) {
	op := "issue " + string(req.Kind)

	k, err := e.registry.Get(req.Kind)
	if err != nil {
		return nil, kind.Descriptor{}, newError(ErrValidation, op, req.SubjectID, "unknown moderation kind", err)
	}

	desc := k.Descriptor()
	now := e.clock.Now()

	duration, err := e.validateIssue(ctx, op, req, desc, now)
	if err != nil {
		return nil, desc, err
	}

	unlock, err := e.locks.Lock(ctx, req.SubjectID)
	if err != nil {
		return nil, desc, fmt.Errorf("failed to lock subject %d: %w", req.SubjectID, err)
	}
	defer unlock()

	if err := e.checkDuplicate(ctx, op, req, desc, now); err != nil {
		return nil, desc, err
	}

	number, err := e.store.AllocateCaseNumber(ctx)
	if err != nil {
		return nil, desc, fmt.Errorf("failed to allocate case for %s: %w", op, err)
	}

	c := &types.Case{
		CaseNumber:  number,
		Kind:        req.Kind,
		RoleID:      req.RoleID,
		RoleName:    req.RoleName,
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		IssuerID:    req.Issuer.ID,
		IssuerName:  req.Issuer.Name,
		Reason:      req.Reason,
		IssuedAt:    now,
		Active:      desc.EffectBearing(),
		SourceLink:  req.SourceLink,
	}

	if duration != nil {
		ms := duration.Milliseconds()
		c.Duration = &ms
	}

	// The subject cannot be reached once removed from the guild.
	if desc.RemovesMember {
		e.notifySubject(ctx, c, desc, eventbus.IssueModeration)
	}

	switch {
	case desc.EffectBearing():
		// The row is reserved before the effect so a crash in between leaves
		// an active case that reconciliation can find.
		if err := e.insert(ctx, op, c, desc); err != nil {
			return nil, desc, err
		}

		if err := e.withRetry(ctx, func(ctx context.Context) error { return k.Apply(ctx, c) }); err != nil {
			e.voidReserved(ctx, c, err)
			return c, desc, platformError(op, req.SubjectID, err)
		}
	case !desc.OnceOff:
		if err := e.withRetry(ctx, func(ctx context.Context) error { return k.Apply(ctx, c) }); err != nil {
			e.markVoid(c, err)

			if insertErr := e.store.Insert(ctx, c); insertErr != nil {
				e.logger.Error("Failed to persist void case",
					zap.Int64("caseNumber", c.CaseNumber),
					zap.Error(insertErr))
			}

			return c, desc, platformError(op, req.SubjectID, err)
		}

		if err := e.insert(ctx, op, c, desc); err != nil {
			return nil, desc, err
		}
	default:
		if err := e.insert(ctx, op, c, desc); err != nil {
			return nil, desc, err
		}
	}

	if desc.PersistModeration && c.Duration != nil && e.scheduler != nil {
		e.scheduler.Schedule(c)
	}

	if !desc.RemovesMember {
		e.notifySubject(ctx, c, desc, eventbus.IssueModeration)
	}

	e.audit(ctx, eventbus.IssueModeration, c, desc, req.Issuer)
	e.publish(ctx, eventbus.IssueModeration, c, req.Issuer)

	e.logger.Info("Issued moderation",
		zap.Int64("caseNumber", c.CaseNumber),
		zap.String("kind", string(c.Kind)),
		zap.Uint64("subjectID", c.SubjectID),
		zap.Uint64("issuerID", c.IssuerID))

	return c, desc, nil
}

// validateIssue rejects requests before any mutation and returns the parsed duration.
func (e *Engine) validateIssue(
	ctx context.Context, op string, req IssueRequest, desc kind.Descriptor, now time.Time,
) (*time.Duration, error) {
	if req.SubjectID == 0 {
		return nil, newError(ErrValidation, op, req.SubjectID, "no user was given", nil)
	}

	if desc.RequiresRole && req.RoleID == 0 {
		return nil, newError(ErrValidation, op, req.SubjectID, "a role is required", nil)
	}

	if req.Issuer.ID == req.SubjectID && !desc.OnceOff {
		return nil, newError(ErrValidation, op, req.SubjectID, "you cannot moderate yourself", nil)
	}

	duration, err := ParseDuration(req.Duration, now)
	if err != nil {
		return nil, newError(ErrValidation, op, req.SubjectID, err.Error(), err)
	}

	if duration != nil && !desc.PersistModeration {
		return nil, newError(ErrValidation, op, req.SubjectID,
			fmt.Sprintf("%s cases cannot have a duration", desc.Kind), nil)
	}

	if desc.RequiresDuration {
		if duration == nil {
			return nil, newError(ErrValidation, op, req.SubjectID,
				fmt.Sprintf("%s cases need a duration", desc.Kind), nil)
		}

		if *duration > kind.MaxTimeout {
			return nil, newError(ErrValidation, op, req.SubjectID,
				"duration cannot be longer than "+FormatDuration(kind.MaxTimeout), nil)
		}
	}

	if !desc.OnceOff {
		protected, err := e.isProtected(ctx, req.SubjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to check protection of subject %d: %w", req.SubjectID, err)
		}

		if protected {
			return nil, newError(ErrValidation, op, req.SubjectID,
				fmt.Sprintf("%s is protected and cannot be %s", req.SubjectName, desc.PastParticiple), nil)
		}
	}

	return duration, nil
}

// checkDuplicate must be called with the subject locked.
func (e *Engine) checkDuplicate(
	ctx context.Context, op string, req IssueRequest, desc kind.Descriptor, now time.Time,
) error {
	if desc.EffectBearing() {
		active, err := e.store.FindActive(ctx, req.SubjectID, req.Kind, req.RoleID)
		if err != nil {
			return fmt.Errorf("failed to look up active %s: %w", req.Kind, err)
		}

		if active != nil {
			return newError(ErrValidation, op, req.SubjectID,
				fmt.Sprintf("%s is already %s (case #%d)", req.SubjectName, desc.PastParticiple, active.CaseNumber), nil)
		}

		return nil
	}

	if e.opts.DuplicateWindow <= 0 {
		return nil
	}

	recent, err := e.store.FindRecent(ctx, types.CaseFilter{
		SubjectID: req.SubjectID,
		Kinds:     []enum.ActionKind{req.Kind},
		Since:     now.Add(-e.opts.DuplicateWindow),
	}, 1)
	if err != nil {
		return fmt.Errorf("failed to look up recent %s: %w", req.Kind, err)
	}

	if len(recent) > 0 && recent[0].Removed == nil {
		return newError(ErrValidation, op, req.SubjectID,
			fmt.Sprintf("%s was already %s recently (case #%d)", req.SubjectName, desc.PastParticiple, recent[0].CaseNumber), nil)
	}

	return nil
}

// insert stores a freshly numbered case.
func (e *Engine) insert(ctx context.Context, op string, c *types.Case, desc kind.Descriptor) error {
	err := e.store.Insert(ctx, c)
	if err == nil {
		return nil
	}

	if errors.Is(err, types.ErrActiveCaseExists) {
		return newError(ErrValidation, op, c.SubjectID,
			fmt.Sprintf("%s is already %s", c.SubjectName, desc.PastParticiple), err)
	}

	return fmt.Errorf("failed to persist case %d: %w", c.CaseNumber, err)
}

// markVoid turns c into the record of an effect that could not be applied.
func (e *Engine) markVoid(c *types.Case, cause error) {
	reason := "apply failed: " + cause.Error()
	c.Active = false
	c.Removed = &types.EditRecord{
		ActorID:   e.opts.System.ID,
		ActorName: e.opts.System.Name,
		Timestamp: e.clock.Now(),
		Reason:    &reason,
	}
}

// voidReserved releases a reserved case whose effect could not be applied.
// If the store refuses, the case stays active and reconciliation picks it up.
func (e *Engine) voidReserved(ctx context.Context, c *types.Case, cause error) {
	e.markVoid(c, cause)

	if err := e.store.UpdateRemoved(ctx, c.CaseNumber, c.Removed); err != nil {
		e.logger.Error("Failed to void reserved case",
			zap.Int64("caseNumber", c.CaseNumber),
			zap.String("kind", string(c.Kind)),
			zap.Uint64("subjectID", c.SubjectID),
			zap.Error(err))
	}
}

func (e *Engine) revocable(op string, name enum.ActionKind, subjectID uint64) (kind.Kind, error) {
	k, err := e.registry.Get(name)
	if err != nil {
		return nil, newError(ErrValidation, op, subjectID, "unknown moderation kind", err)
	}

	if !k.Descriptor().EffectBearing() {
		return nil, newError(ErrValidation, op, subjectID,
			fmt.Sprintf("%s cases cannot be revoked", name), nil)
	}

	return k, nil
}

// isProtected reports whether the subject is exempt from effect-bearing actions.
func (e *Engine) isProtected(ctx context.Context, subjectID uint64) (bool, error) {
	if slices.Contains(e.opts.ProtectedUserIDs, subjectID) {
		return true, nil
	}

	if e.platform == nil {
		return false, nil
	}

	member, err := e.platform.ResolveMember(ctx, subjectID)
	if err != nil {
		return false, err
	}

	if member == nil {
		return false, nil
	}

	if member.IsGuildOwner || member.HasAdminPerms || member.IsBot {
		return true, nil
	}

	for _, roleID := range e.opts.ProtectedRoleIDs {
		if member.HasRole(roleID) {
			return true, nil
		}
	}

	return false, nil
}

// withRetry runs a platform call with a bounded exponential backoff.
// Rejections, absent subjects and cancellation are not retried.
func (e *Engine) withRetry(ctx context.Context, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(e.opts.ApplyRetryInterval),
		backoff.WithMaxElapsedTime(e.opts.ApplyRetryMaxWindow),
	)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, kind.ErrRejected) || errors.Is(err, kind.ErrSubjectAbsent) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, e.opts.ApplyRetries), ctx))
}

func (e *Engine) publish(ctx context.Context, name eventbus.Name, c *types.Case, actor Actor) {
	if e.bus == nil {
		return
	}

	e.bus.Publish(ctx, eventbus.Event{
		Name:      name,
		Case:      c,
		ActorID:   actor.ID,
		Timestamp: e.clock.Now(),
	})
}

func (e *Engine) logFailure(action string, subjectID uint64, name enum.ActionKind, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("kind", string(name)),
		zap.Uint64("subjectID", subjectID),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConcurrency):
		e.logger.Debug("Moderation request rejected", fields...)
	default:
		e.logger.Error("Moderation request failed", fields...)
	}
}

// platformError classifies a failed platform call. An absent subject is a
// not-found condition, everything else failed to apply.
func platformError(op string, subjectID uint64, err error) *Error {
	if errors.Is(err, kind.ErrSubjectAbsent) {
		return newError(ErrNotFound, op, subjectID, platformMessage(err), err)
	}

	return newError(ErrExternalApply, op, subjectID, platformMessage(err), err)
}

func platformMessage(err error) string {
	switch {
	case errors.Is(err, kind.ErrSubjectAbsent):
		return "the user is not in the server"
	case errors.Is(err, kind.ErrRejected):
		return "the platform refused the request"
	default:
		return "the platform did not respond"
	}
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}

	return name
}
