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

// UpdateReason replaces the reason of a case.
func (e *Engine) UpdateReason(ctx context.Context, caseNumber int64, actor Actor, reason *string) (*types.Case, error) {
	return e.editCase(ctx, "update reason", caseNumber, actor, func(c *types.Case, _ kind.Descriptor) error {
		if err := e.store.UpdateReason(ctx, caseNumber, reason); err != nil {
			return err
		}

		c.Reason = reason

		return nil
	})
}

// UpdateDuration changes how long a durable case lasts. The new due time is
// computed from now and the expiry timer is re-armed or cancelled to match.
// Text that resolves to no duration makes the case indefinite.
func (e *Engine) UpdateDuration(ctx context.Context, caseNumber int64, actor Actor, durationText string) (*types.Case, error) {
	op := "update duration"

	return e.editCase(ctx, op, caseNumber, actor, func(c *types.Case, desc kind.Descriptor) error {
		if !desc.PersistModeration {
			return newError(ErrValidation, op, c.SubjectID,
				fmt.Sprintf("%s cases cannot have a duration", c.Kind), nil)
		}

		if !c.Active {
			return newError(ErrValidation, op, c.SubjectID,
				fmt.Sprintf("case #%d is no longer active", c.CaseNumber), nil)
		}

		now := e.clock.Now()

		parsed, err := ParseDuration(durationText, now)
		if err != nil {
			return newError(ErrValidation, op, c.SubjectID, err.Error(), err)
		}

		if desc.RequiresDuration && parsed == nil {
			return newError(ErrValidation, op, c.SubjectID,
				fmt.Sprintf("%s cases need a duration", c.Kind), nil)
		}

		if desc.RequiresDuration && *parsed > kind.MaxTimeout {
			return newError(ErrValidation, op, c.SubjectID,
				"duration cannot be longer than "+FormatDuration(kind.MaxTimeout), nil)
		}

		var duration *int64
		if parsed != nil {
			ms := now.Add(*parsed).Sub(c.IssuedAt).Milliseconds()
			duration = &ms
		}

		// Native timeouts carry their own end time on the platform, which is
		// moved before the store so a refusal changes nothing.
		var k kind.Kind
		if desc.RequiresDuration {
			if k, err = e.registry.Get(c.Kind); err != nil {
				return err
			}

			next := c.Clone()
			next.Duration = duration

			if err := e.withRetry(ctx, func(ctx context.Context) error { return k.Apply(ctx, next) }); err != nil {
				return platformError(op, c.SubjectID, err)
			}
		}

		if err := e.store.UpdateDuration(ctx, caseNumber, duration, true); err != nil {
			if k != nil {
				e.restoreEffect(ctx, k, c)
			}

			return err
		}

		c.Duration = duration

		if e.scheduler != nil {
			if duration == nil {
				e.scheduler.Cancel(caseNumber)
			} else {
				e.scheduler.Schedule(c)
			}
		}

		return nil
	})
}

// restoreEffect puts the stored end time of c back on the platform.
func (e *Engine) restoreEffect(ctx context.Context, k kind.Kind, c *types.Case) {
	if err := e.withRetry(ctx, func(ctx context.Context) error { return k.Apply(ctx, c) }); err != nil {
		e.logger.Error("Failed to restore effect after a failed update, reconciliation will report it",
			zap.Int64("caseNumber", c.CaseNumber),
			zap.String("kind", string(c.Kind)),
			zap.Uint64("subjectID", c.SubjectID),
			zap.Error(err))
	}
}

// Expunge hides a case from history and statistics. It does not touch the
// case's effect or active flag.
func (e *Engine) Expunge(ctx context.Context, caseNumber int64, actor Actor, reason *string) (*types.Case, error) {
	op := "expunge"

	return e.editCase(ctx, op, caseNumber, actor, func(c *types.Case, _ kind.Descriptor) error {
		if c.Expunged != nil {
			return newError(ErrValidation, op, c.SubjectID,
				fmt.Sprintf("case #%d is already expunged", c.CaseNumber), nil)
		}

		record := &types.EditRecord{
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Timestamp: e.clock.Now(),
			Reason:    reason,
		}

		if err := e.store.UpdateExpunged(ctx, caseNumber, record); err != nil {
			return err
		}

		c.Expunged = record

		return nil
	})
}

// AddContext attaches a link to further context to a case.
func (e *Engine) AddContext(ctx context.Context, caseNumber int64, actor Actor, link string) (*types.Case, error) {
	op := "add context"

	return e.editCase(ctx, op, caseNumber, actor, func(c *types.Case, _ kind.Descriptor) error {
		if link == "" {
			return newError(ErrValidation, op, c.SubjectID, "no link was given", nil)
		}

		if err := e.store.AppendContext(ctx, caseNumber, link); err != nil {
			return err
		}

		c.Context = append(c.Context, link)

		return nil
	})
}

// editCase loads a case under its subject's lock, applies edit and
// publishes the update.
func (e *Engine) editCase(
	ctx context.Context, op string, caseNumber int64, actor Actor,
	edit func(c *types.Case, desc kind.Descriptor) error,
) (*types.Case, error) {
	c, err := e.store.Get(ctx, caseNumber)
	if err != nil {
		if errors.Is(err, types.ErrCaseNotFound) {
			return nil, newError(ErrNotFound, op, 0, fmt.Sprintf("case #%d does not exist", caseNumber), err)
		}

		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, c.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock subject %d: %w", c.SubjectID, err)
	}
	defer unlock()

	c, err = e.store.Get(ctx, caseNumber)
	if err != nil {
		return nil, err
	}

	k, err := e.registry.Get(c.Kind)
	if err != nil {
		return nil, err
	}

	desc := k.Descriptor()
	if err := edit(c, desc); err != nil {
		return nil, err
	}

	e.audit(ctx, eventbus.UpdateModeration, c, desc, actor)
	e.publish(ctx, eventbus.UpdateModeration, c, actor)

	e.logger.Info("Updated moderation case",
		zap.String("op", op),
		zap.Int64("caseNumber", caseNumber),
		zap.Uint64("actorID", actor.ID))

	return c, nil
}
