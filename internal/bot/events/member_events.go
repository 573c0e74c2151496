package events

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/moderation/reconcile"
	"go.uber.org/zap"
)

// Rejoiner re-applies a returning member's active cases.
type Rejoiner interface {
	OnMemberJoin(ctx context.Context, subjectID uint64) error
}

// SubjectChecker compares a subject's active cases with the platform.
type SubjectChecker interface {
	CheckSubject(ctx context.Context, subjectID uint64) (*reconcile.Report, error)
}

// MemberEventHandler reacts to members joining the moderated guild.
type MemberEventHandler struct {
	ctx      context.Context //nolint:containedctx // bound to the bot's lifetime
	guildID  snowflake.ID
	rejoiner Rejoiner
	checker  SubjectChecker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMemberEventHandler creates a member event handler. The checker is optional.
func NewMemberEventHandler(
	ctx context.Context, guildID uint64, rejoiner Rejoiner, checker SubjectChecker,
	timeout time.Duration, logger *zap.Logger,
) *MemberEventHandler {
	return &MemberEventHandler{
		ctx:      ctx,
		guildID:  snowflake.ID(guildID),
		rejoiner: rejoiner,
		checker:  checker,
		timeout:  timeout,
		logger:   logger.Named("member_events"),
	}
}

// OnGuildMemberJoin re-applies persistent cases and then checks the
// member against every active case.
func (h *MemberEventHandler) OnGuildMemberJoin(event *events.GuildMemberJoin) {
	if event.GuildID != h.guildID {
		return
	}

	go h.HandleJoin(uint64(event.Member.User.ID))
}

// HandleJoin processes a join of the given user.
func (h *MemberEventHandler) HandleJoin(userID uint64) {
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()

	if err := h.rejoiner.OnMemberJoin(ctx, userID); err != nil {
		h.logger.Error("Failed to re-apply cases on join",
			zap.Uint64("userID", userID),
			zap.Error(err))
	}

	if h.checker == nil {
		return
	}

	report, err := h.checker.CheckSubject(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to check joining member",
			zap.Uint64("userID", userID),
			zap.Error(err))

		return
	}

	if len(report.Findings) > 0 {
		h.logger.Debug("Checked joining member",
			zap.Uint64("userID", userID),
			zap.Int("findings", len(report.Findings)))
	}
}
