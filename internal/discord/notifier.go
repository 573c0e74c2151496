package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RevokeButtonPrefix starts the custom ID of the revoke button on audit entries.
const RevokeButtonPrefix = "revoke_case:"

// Embed colors per event.
const (
	issueColor  = 0xE74C3C
	revokeColor = 0x2ECC71
	updateColor = 0xF1C40F
	noteColor   = 0x312D2B
)

var errNoDMChannel = errors.New("no direct message channel")

// Channels are the log channels audit entries are posted to. Zero disables a channel.
type Channels struct {
	StaffActionLog  uint64
	PublicActionLog uint64
}

// Notifier delivers case notifications through Discord messages.
type Notifier struct {
	api      API
	channels Channels
	titler   cases.Caser
	logger   *zap.Logger
}

var _ moderation.Notifier = (*Notifier)(nil)

// NewNotifier creates a Discord notifier.
func NewNotifier(api API, channels Channels, logger *zap.Logger) *Notifier {
	return &Notifier{
		api:      api,
		channels: channels,
		titler:   cases.Title(language.English),
		logger:   logger.Named("discord_notifier"),
	}
}

// RevokeButtonID returns the custom ID of the revoke button for a case.
func RevokeButtonID(caseNumber int64) string {
	return RevokeButtonPrefix + strconv.FormatInt(caseNumber, 10)
}

// ParseRevokeButtonID extracts the case number from a revoke button custom ID.
func ParseRevokeButtonID(customID string) (int64, bool) {
	raw, ok := strings.CutPrefix(customID, RevokeButtonPrefix)
	if !ok {
		return 0, false
	}

	caseNumber, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || caseNumber <= 0 {
		return 0, false
	}

	return caseNumber, true
}

// SendDirect sends a direct message to the subject.
func (n *Notifier) SendDirect(ctx context.Context, subjectID uint64, content string) error {
	channel, err := n.api.CreateDMChannel(snowflake.ID(subjectID), rest.WithCtx(ctx))
	if err != nil {
		if hasCode(err, codeCannotDM, codeUnknownUser) {
			return moderation.ErrDirectMessagesClosed
		}

		return classify("create dm channel", err)
	}

	if channel == nil {
		return errNoDMChannel
	}

	_, err = n.api.CreateMessage(channel.ID(), discord.NewMessageCreateBuilder().
		SetContent(content).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		if hasCode(err, codeCannotDM) {
			return moderation.ErrDirectMessagesClosed
		}

		return classify("send dm", err)
	}

	return nil
}

// SendAudit posts the entry to the staff log, and issues and revokes of
// subject-visible kinds to the public log.
func (n *Notifier) SendAudit(ctx context.Context, entry moderation.AuditEntry) error {
	var errs []error

	if n.channels.StaffActionLog != 0 {
		builder := discord.NewMessageCreateBuilder().
			SetEmbeds(n.AuditEmbed(entry)).
			SetAllowedMentions(&discord.AllowedMentions{})

		if entry.Event == eventbus.IssueModeration && entry.Case.Active {
			builder.AddContainerComponents(discord.NewActionRow(
				discord.NewDangerButton("Revoke", RevokeButtonID(entry.Case.CaseNumber)),
			))
		}

		_, err := n.api.CreateMessage(snowflake.ID(n.channels.StaffActionLog), builder.Build(), rest.WithCtx(ctx))
		if err != nil {
			errs = append(errs, classify("send staff log", err))
		}
	}

	if n.channels.PublicActionLog != 0 && !entry.Descriptor.StaffOnly && entry.Event != eventbus.UpdateModeration {
		_, err := n.api.CreateMessage(snowflake.ID(n.channels.PublicActionLog), discord.NewMessageCreateBuilder().
			SetContent(n.PublicLine(entry)).
			SetAllowedMentions(&discord.AllowedMentions{}).
			Build(), rest.WithCtx(ctx))
		if err != nil {
			errs = append(errs, classify("send public log", err))
		}
	}

	return errors.Join(errs...)
}

// AuditEmbed renders the staff log embed of an entry.
func (n *Notifier) AuditEmbed(entry moderation.AuditEntry) discord.Embed {
	c := entry.Case

	embed := discord.NewEmbedBuilder().
		SetTitle(n.Title(entry)).
		SetColor(eventColor(entry)).
		AddField("User", fmt.Sprintf("%s (<@%d>)", c.SubjectName, c.SubjectID), true).
		AddField("Moderator", actorMention(entry.Actor), true)

	if c.RoleName != "" || c.RoleID != 0 {
		embed.AddField("Role", fmt.Sprintf("%s (<@&%d>)", c.RoleName, c.RoleID), true)
	}

	if entry.Descriptor.EffectBearing() {
		duration := "Indefinite"
		if d, ok := c.DurationValue(); ok {
			duration = moderation.FormatDuration(d)
		}

		embed.AddField("Duration", duration, true)

		if due, ok := c.DueAt(); ok && c.Active {
			embed.AddField("Expires", fmt.Sprintf("<t:%d:R>", due.Unix()), true)
		}
	}

	embed.AddField("Reason", reasonOrNone(c.Reason), false)

	if c.Removed != nil {
		embed.AddField("Revoke Reason", reasonOrNone(c.Removed.Reason), false)
	}

	if c.Expunged != nil {
		embed.AddField("Expunged", fmt.Sprintf("By %s: %s", c.Expunged.ActorName, reasonOrNone(c.Expunged.Reason)), false)
	}

	if len(c.Context) > 0 {
		embed.AddField("Context", strings.Join(c.Context, "\n"), false)
	}

	if c.SourceLink != nil {
		embed.AddField("Source", *c.SourceLink, false)
	}

	return embed.
		SetFooterText(fmt.Sprintf("User ID: %d", c.SubjectID)).
		SetTimestamp(c.IssuedAt).
		Build()
}

// Title renders the heading of an entry, e.g. "Voice Take Revoked | Case #12".
func (n *Notifier) Title(entry moderation.AuditEntry) string {
	label := n.titler.String(strings.ReplaceAll(string(entry.Case.Kind), "_", " "))

	switch entry.Event {
	case eventbus.RevokeModeration:
		label += " Revoked"
	case eventbus.UpdateModeration:
		label += " Updated"
	}

	return fmt.Sprintf("%s | Case #%d", label, entry.Case.CaseNumber)
}

// PublicLine renders the public log message of an entry.
func (n *Notifier) PublicLine(entry moderation.AuditEntry) string {
	c := entry.Case

	var b strings.Builder

	fmt.Fprintf(&b, "**%s**\n", n.Title(entry))

	if entry.Event == eventbus.RevokeModeration {
		verb := entry.Descriptor.RevokedVerb
		if verb == "" {
			verb = "no longer " + entry.Descriptor.PastParticiple
		}

		fmt.Fprintf(&b, "<@%d> was %s.", c.SubjectID, verb)

		return b.String()
	}

	fmt.Fprintf(&b, "<@%d> was %s", c.SubjectID, entry.Descriptor.PastParticiple)

	if d, ok := c.DurationValue(); ok {
		fmt.Fprintf(&b, " for %s", moderation.FormatDuration(d))
	}

	b.WriteString(".")

	if reason := c.ReasonText(); reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}

	return b.String()
}

func eventColor(entry moderation.AuditEntry) int {
	switch {
	case entry.Descriptor.StaffOnly:
		return noteColor
	case entry.Event == eventbus.RevokeModeration:
		return revokeColor
	case entry.Event == eventbus.UpdateModeration:
		return updateColor
	default:
		return issueColor
	}
}

func actorMention(actor moderation.Actor) string {
	if actor.ID == 0 {
		return actor.Name
	}

	return fmt.Sprintf("%s (<@%d>)", actor.Name, actor.ID)
}

func reasonOrNone(reason *string) string {
	if reason == nil || *reason == "" {
		return "No reason given"
	}

	return *reason
}

// CaseSummary renders a one-line description of a case for listings.
func CaseSummary(c *types.Case) string {
	var b strings.Builder

	fmt.Fprintf(&b, "`#%d` **%s**", c.CaseNumber, c.Kind)

	if d, ok := c.DurationValue(); ok {
		fmt.Fprintf(&b, " %s", moderation.FormatDuration(d))
	}

	switch {
	case c.Active:
		b.WriteString(" · active")
	case c.Removed != nil:
		b.WriteString(" · revoked")
	}

	if c.Expunged != nil {
		b.WriteString(" · expunged")
	}

	fmt.Fprintf(&b, " · <t:%d:d> by %s", c.IssuedAt.Unix(), c.IssuerName)

	if reason := c.ReasonText(); reason != "" {
		fmt.Fprintf(&b, "\n> %s", reason)
	}

	return b.String()
}
