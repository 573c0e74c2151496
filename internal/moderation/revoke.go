package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/kind"
	"go.uber.org/zap"
)

// Revoke runs the revoke workflow and replies to the invoker when a responder is set.
func (e *Engine) Revoke(ctx context.Context, req RevokeRequest) (*types.Case, error) {
	c, desc, err := e.revoke(ctx, req)
	if err != nil {
		e.logFailure("revoke", req.SubjectID, req.Kind, err)
		e.replyError(ctx, req.Responder, err)

		return nil, err
	}

	e.reply(ctx, req.Responder, revokedMessage(c, desc, req.SubjectName))

	return c, nil
}

func (e *Engine) revoke(ctx context.Context, req RevokeRequest) (*types.Case, kind.Descriptor, error) {
	op := "revoke " + string(req.Kind)

	k, err := e.revocable(op, req.Kind, req.SubjectID)
	if err != nil {
		return nil, kind.Descriptor{}, err
	}

	desc := k.Descriptor()

	unlock, err := e.locks.Lock(ctx, req.SubjectID)
	if err != nil {
		return nil, desc, fmt.Errorf("failed to lock subject %d: %w", req.SubjectID, err)
	}
	defer unlock()

	active, err := e.store.FindActive(ctx, req.SubjectID, req.Kind, req.RoleID)
	if err != nil {
		return nil, desc, fmt.Errorf("failed to look up active %s: %w", req.Kind, err)
	}

	if active == nil {
		if !req.AllowNoEntry {
			return nil, desc, newError(ErrNotFound, op, req.SubjectID,
				fmt.Sprintf("%s is not %s", nameOr(req.SubjectName, "that user"), desc.PastParticiple), nil)
		}

		// No case to close, only force the effect into the absent state.
		target := &types.Case{
			CaseNumber:  types.UnallocatedCase,
			Kind:        req.Kind,
			RoleID:      req.RoleID,
			SubjectID:   req.SubjectID,
			SubjectName: req.SubjectName,
			Reason:      req.Reason,
		}

		if err := e.withRetry(ctx, func(ctx context.Context) error { return k.Remove(ctx, target) }); err != nil {
			return nil, desc, platformError(op, req.SubjectID, err)
		}

		return nil, desc, nil
	}

	revoked, err := e.revokeLocked(ctx, op, k, active, req.Actor, req.Reason)

	return revoked, desc, err
}

// TryRevoke revokes a case by number without waiting for the subject's lock.
// It returns a concurrency error when another action holds the subject.
func (e *Engine) TryRevoke(
	ctx context.Context, caseNumber int64, actor Actor, reason *string, responder Responder,
) (*types.Case, error) {
	c, desc, err := e.tryRevoke(ctx, caseNumber, actor, reason)
	if err != nil {
		e.replyError(ctx, responder, err)
		return nil, err
	}

	e.reply(ctx, responder, revokedMessage(c, desc, c.SubjectName))

	return c, nil
}

func (e *Engine) tryRevoke(
	ctx context.Context, caseNumber int64, actor Actor, reason *string,
) (*types.Case, kind.Descriptor, error) {
	c, err := e.store.Get(ctx, caseNumber)
	if err != nil {
		if errors.Is(err, types.ErrCaseNotFound) {
			return nil, kind.Descriptor{}, newError(ErrNotFound, "revoke case", 0,
				fmt.Sprintf("case #%d does not exist", caseNumber), err)
		}

		return nil, kind.Descriptor{}, err
	}

	op := "revoke " + string(c.Kind)

	k, err := e.revocable(op, c.Kind, c.SubjectID)
	if err != nil {
		return nil, kind.Descriptor{}, err
	}

	desc := k.Descriptor()

	unlock, ok := e.locks.TryLock(c.SubjectID)
	if !ok {
		return nil, desc, newError(ErrConcurrency, op, c.SubjectID, "", nil)
	}
	defer unlock()

	// Re-read under the lock, the case may have changed since.
	c, err = e.store.Get(ctx, caseNumber)
	if err != nil {
		return nil, desc, err
	}

	if !c.Active {
		return nil, desc, newError(ErrNotFound, op, c.SubjectID,
			fmt.Sprintf("case #%d is no longer active", caseNumber), nil)
	}

	revoked, err := e.revokeLocked(ctx, op, k, c, actor, reason)

	return revoked, desc, err
}

// Expire revokes a case whose duration has elapsed. It is a no-op when the
// case is no longer active, so a late or repeated timer never revokes twice.
func (e *Engine) Expire(ctx context.Context, caseNumber int64) error {
	c, err := e.store.Get(ctx, caseNumber)
	if err != nil {
		return fmt.Errorf("failed to load expiring case %d: %w", caseNumber, err)
	}

	k, err := e.registry.Get(c.Kind)
	if err != nil {
		return err
	}

	unlock, err := e.locks.Lock(ctx, c.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to lock subject %d: %w", c.SubjectID, err)
	}
	defer unlock()

	c, err = e.store.Get(ctx, caseNumber)
	if err != nil {
		return fmt.Errorf("failed to reload expiring case %d: %w", caseNumber, err)
	}

	if !c.Active {
		e.logger.Debug("Skipping expiry of inactive case", zap.Int64("caseNumber", caseNumber))
		return nil
	}

	now := e.clock.Now()
	if !c.IsExpired(now) {
		// The duration was extended after the timer was armed.
		if c.HasDuration() && e.scheduler != nil {
			e.scheduler.Schedule(c)
		}

		return nil
	}

	reason := ExpiredReason
	_, err = e.revokeLocked(ctx, "expire "+string(c.Kind), k, c, e.opts.System, &reason)

	return err
}

// revokeLocked removes the effect of an active case and closes it.
// The subject's lock must be held.
func (e *Engine) revokeLocked(
	ctx context.Context, op string, k kind.Kind, c *types.Case, actor Actor, reason *string,
) (*types.Case, error) {
	desc := k.Descriptor()

	if err := e.withRetry(ctx, func(ctx context.Context) error { return k.Remove(ctx, c) }); err != nil {
		return nil, platformError(op, c.SubjectID, err)
	}

	removed := &types.EditRecord{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Timestamp: e.clock.Now(),
		Reason:    reason,
	}

	if err := e.store.UpdateRemoved(ctx, c.CaseNumber, removed); err != nil {
		return nil, fmt.Errorf("failed to mark case %d removed: %w", c.CaseNumber, err)
	}

	revoked := c.Clone()
	revoked.Removed = removed
	revoked.Active = false

	if e.scheduler != nil {
		e.scheduler.Cancel(c.CaseNumber)
	}

	e.notifySubject(ctx, revoked, desc, eventbus.RevokeModeration)
	e.audit(ctx, eventbus.RevokeModeration, revoked, desc, actor)
	e.publish(ctx, eventbus.RevokeModeration, revoked, actor)

	e.logger.Info("Revoked moderation",
		zap.Int64("caseNumber", revoked.CaseNumber),
		zap.String("kind", string(revoked.Kind)),
		zap.Uint64("subjectID", revoked.SubjectID),
		zap.Uint64("actorID", actor.ID))

	return revoked, nil
}

// Reapply puts the effect of an active case back in place.
func (e *Engine) Reapply(ctx context.Context, caseNumber int64) error {
	c, err := e.store.Get(ctx, caseNumber)
	if err != nil {
		return err
	}

	unlock, err := e.locks.Lock(ctx, c.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to lock subject %d: %w", c.SubjectID, err)
	}
	defer unlock()

	return e.reapplyLocked(ctx, caseNumber)
}

// OnMemberJoin re-applies every active case of the subject whose kind
// persists across leaving and rejoining the guild.
func (e *Engine) OnMemberJoin(ctx context.Context, subjectID uint64) error {
	rejoinKinds := e.registry.Filter(func(d kind.Descriptor) bool { return d.ReapplyOnRejoin })

	unlock, err := e.locks.Lock(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("failed to lock subject %d: %w", subjectID, err)
	}
	defer unlock()

	active, err := e.store.ListActive(ctx, types.CaseFilter{SubjectID: subjectID, Kinds: rejoinKinds})
	if err != nil {
		return fmt.Errorf("failed to list active cases of %d: %w", subjectID, err)
	}

	var errs []error
	for _, c := range active {
		if err := e.reapplyLocked(ctx, c.CaseNumber); err != nil {
			errs = append(errs, err)
			continue
		}

		e.logger.Info("Re-applied moderation on rejoin",
			zap.Int64("caseNumber", c.CaseNumber),
			zap.String("kind", string(c.Kind)),
			zap.Uint64("subjectID", subjectID))
	}

	return errors.Join(errs...)
}

func (e *Engine) reapplyLocked(ctx context.Context, caseNumber int64) error {
	c, err := e.store.Get(ctx, caseNumber)
	if err != nil {
		return err
	}

	if !c.Active {
		return nil
	}

	k, err := e.registry.Get(c.Kind)
	if err != nil {
		return err
	}

	if err := e.withRetry(ctx, func(ctx context.Context) error { return k.Apply(ctx, c) }); err != nil {
		return platformError("reapply "+string(c.Kind), c.SubjectID, err)
	}

	return nil
}
