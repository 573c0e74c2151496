package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/kind"
	"go.uber.org/zap"
)

// ErrDirectMessagesClosed is returned by a Notifier when the subject does not
// accept direct messages. It is expected and never treated as a failure.
var ErrDirectMessagesClosed = errors.New("direct messages are closed")

// AuditEntry is a case change reported to the staff log.
type AuditEntry struct {
	Event      eventbus.Name
	Case       *types.Case
	Descriptor kind.Descriptor
	Actor      Actor
}

// Notifier delivers messages about cases to subjects and staff.
type Notifier interface {
	SendDirect(ctx context.Context, subjectID uint64, content string) error
	SendAudit(ctx context.Context, entry AuditEntry) error
}

// notifySubject tells the subject about an issue or revoke. Failures are logged only.
func (e *Engine) notifySubject(ctx context.Context, c *types.Case, desc kind.Descriptor, event eventbus.Name) {
	if e.notifier == nil || !e.opts.NotifySubjects || desc.StaffOnly {
		return
	}

	err := e.notifier.SendDirect(ctx, c.SubjectID, subjectMessage(c, desc, event))
	switch {
	case err == nil:
	case errors.Is(err, ErrDirectMessagesClosed):
		e.logger.Debug("Subject has direct messages closed",
			zap.Int64("caseNumber", c.CaseNumber),
			zap.Uint64("subjectID", c.SubjectID))
	default:
		e.logger.Warn("Failed to notify subject",
			zap.Int64("caseNumber", c.CaseNumber),
			zap.Uint64("subjectID", c.SubjectID),
			zap.Error(err))
	}
}

func (e *Engine) audit(ctx context.Context, event eventbus.Name, c *types.Case, desc kind.Descriptor, actor Actor) {
	if e.notifier == nil {
		return
	}

	err := e.notifier.SendAudit(ctx, AuditEntry{
		Event:      event,
		Case:       c.Clone(),
		Descriptor: desc,
		Actor:      actor,
	})
	if err != nil {
		e.logger.Warn("Failed to send audit entry",
			zap.String("event", string(event)),
			zap.Int64("caseNumber", c.CaseNumber),
			zap.Error(err))
	}
}

func subjectMessage(c *types.Case, desc kind.Descriptor, event eventbus.Name) string {
	var b strings.Builder

	switch event {
	case eventbus.RevokeModeration:
		verb := desc.RevokedVerb
		if verb == "" {
			verb = "no longer " + desc.PastParticiple
		}

		fmt.Fprintf(&b, "You have been %s.", verb)

		if c.Removed != nil && c.Removed.Reason != nil {
			fmt.Fprintf(&b, "\nReason: %s", *c.Removed.Reason)
		}
	default:
		fmt.Fprintf(&b, "You have been %s", desc.PastParticiple)

		if d, ok := c.DurationValue(); ok {
			fmt.Fprintf(&b, " for %s", FormatDuration(d))
		}

		b.WriteString(".")

		if reason := c.ReasonText(); reason != "" {
			fmt.Fprintf(&b, "\nReason: %s", reason)
		}

		fmt.Fprintf(&b, "\nCase #%d", c.CaseNumber)
	}

	return b.String()
}

func issuedMessage(c *types.Case, desc kind.Descriptor) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s was %s", c.SubjectName, desc.PastParticiple)

	if c.RoleName != "" {
		fmt.Fprintf(&b, " with %s", c.RoleName)
	}

	if d, ok := c.DurationValue(); ok {
		fmt.Fprintf(&b, " for %s", FormatDuration(d))
	}

	fmt.Fprintf(&b, " (case #%d)", c.CaseNumber)

	return b.String()
}

func revokedMessage(c *types.Case, desc kind.Descriptor, subjectName string) string {
	verb := desc.RevokedVerb
	if verb == "" {
		verb = "no longer " + desc.PastParticiple
	}

	if c == nil {
		return fmt.Sprintf("%s was %s", nameOr(subjectName, "The user"), verb)
	}

	return fmt.Sprintf("%s was %s (case #%d)", c.SubjectName, verb, c.CaseNumber)
}

func (e *Engine) reply(ctx context.Context, responder Responder, content string) {
	if responder == nil {
		return
	}

	if err := responder.Reply(ctx, content); err != nil {
		e.logger.Warn("Failed to reply", zap.Error(err))
	}
}

func (e *Engine) replyError(ctx context.Context, responder Responder, err error) {
	if responder == nil {
		return
	}

	if replyErr := responder.ReplyError(ctx, UserMessage(err)); replyErr != nil {
		e.logger.Warn("Failed to reply with error", zap.Error(replyErr))
	}
}
