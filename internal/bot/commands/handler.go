// Package commands turns slash command invocations into moderation engine calls.
package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/robalyx/warden/internal/bot/constants"
	"github.com/robalyx/warden/internal/bot/utils"
	"github.com/robalyx/warden/internal/database/service"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	wardendiscord "github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/moderation"
	"go.uber.org/zap"
)

var errUnknownCommand = errors.New("unknown command")

// OptionReader reads slash command options. discord.SlashCommandInteractionData implements it.
type OptionReader interface {
	OptString(name string) (string, bool)
	OptInt(name string) (int, bool)
	OptBool(name string) (bool, bool)
	OptUser(name string) (discord.User, bool)
	OptRole(name string) (discord.Role, bool)
}

// CaseReader looks up stored cases for display.
type CaseReader interface {
	Get(ctx context.Context, caseNumber int64) (*types.Case, error)
	FindRecent(ctx context.Context, filter types.CaseFilter, limit int) ([]*types.Case, error)
}

// IncidentCounter reports the time since the last incident.
type IncidentCounter interface {
	DaysSinceLastIncident(ctx context.Context) (int, bool, error)
}

// Invocation is a single slash command use.
type Invocation struct {
	Command      string
	Options      OptionReader
	Invoker      moderation.Actor
	InvokerRoles []uint64
	Responder    moderation.Responder
}

// Handler dispatches commands to the moderation engine.
type Handler struct {
	engine         *moderation.Engine
	cases          CaseReader
	stats          *service.StatsService
	incidents      IncidentCounter
	moderatorRoles []uint64
	logger         *zap.Logger
}

// NewHandler creates a command handler. Only members holding one of the
// moderator roles may use it; an empty list leaves access to Discord's
// command permissions.
func NewHandler(
	engine *moderation.Engine, cases CaseReader, stats *service.StatsService, moderatorRoles []uint64, logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:         engine,
		cases:          cases,
		stats:          stats,
		moderatorRoles: moderatorRoles,
		logger:         logger.Named("commands"),
	}
}

// WithIncidents shows the days since the last incident in statistics.
func (h *Handler) WithIncidents(incidents IncidentCounter) *Handler {
	h.incidents = incidents
	return h
}

// Handle runs a command. Every outcome is reported through the responder;
// the returned error is for logging.
func (h *Handler) Handle(ctx context.Context, inv Invocation) error {
	if !h.allowed(inv.InvokerRoles) {
		return reply(ctx, inv.Responder, constants.NotAllowedMessage, true)
	}

	switch inv.Command {
	case constants.RevokeCommandName:
		return h.handleRevoke(ctx, inv)
	case constants.CaseCommandName:
		return h.handleCase(ctx, inv)
	case constants.HistoryCommandName:
		return h.handleHistory(ctx, inv)
	case constants.ReasonCommandName:
		reason := optionalString(inv.Options, constants.ReasonOption)
		return h.edit(ctx, inv, "Updated the reason of", func(n int64) (*types.Case, error) {
			return h.engine.UpdateReason(ctx, n, inv.Invoker, reason)
		})
	case constants.DurationCommandName:
		duration, _ := inv.Options.OptString(constants.DurationOption)
		return h.edit(ctx, inv, "Updated the duration of", func(n int64) (*types.Case, error) {
			return h.engine.UpdateDuration(ctx, n, inv.Invoker, duration)
		})
	case constants.ExpungeCommandName:
		reason := optionalString(inv.Options, constants.ReasonOption)
		return h.edit(ctx, inv, "Expunged", func(n int64) (*types.Case, error) {
			return h.engine.Expunge(ctx, n, inv.Invoker, reason)
		})
	case constants.ContextCommandName:
		link, _ := inv.Options.OptString(constants.LinkOption)
		return h.edit(ctx, inv, "Added context to", func(n int64) (*types.Case, error) {
			return h.engine.AddContext(ctx, n, inv.Invoker, strings.TrimSpace(link))
		})
	case constants.StatsCommandName:
		return h.handleStats(ctx, inv)
	}

	kindName, err := enum.ParseActionKind(inv.Command)
	if err != nil {
		_ = reply(ctx, inv.Responder, constants.UnknownCommandMessage, true)
		return fmt.Errorf("%w: %s", errUnknownCommand, inv.Command)
	}

	return h.handleIssue(ctx, inv, kindName)
}

// HandleRevokeButton revokes the case behind an audit log button.
func (h *Handler) HandleRevokeButton(
	ctx context.Context, caseNumber int64, invoker moderation.Actor, roles []uint64, responder moderation.Responder,
) error {
	if !h.allowed(roles) {
		return reply(ctx, responder, constants.NotAllowedMessage, true)
	}

	_, err := h.engine.TryRevoke(ctx, caseNumber, invoker, nil, responder)

	return err
}

func (h *Handler) handleIssue(ctx context.Context, inv Invocation, kindName enum.ActionKind) error {
	user, ok := inv.Options.OptUser(constants.UserOption)
	if !ok {
		return reply(ctx, inv.Responder, "No user was given.", true)
	}

	req := moderation.IssueRequest{
		Kind:        kindName,
		SubjectID:   uint64(user.ID),
		SubjectName: wardendiscord.UserName(user),
		Issuer:      inv.Invoker,
		Reason:      optionalString(inv.Options, constants.ReasonOption),
		Responder:   inv.Responder,
	}

	if role, ok := inv.Options.OptRole(constants.RoleOption); ok {
		req.RoleID = uint64(role.ID)
		req.RoleName = role.Name
	}

	if duration, ok := inv.Options.OptString(constants.DurationOption); ok {
		req.Duration = duration
	}

	_, err := h.engine.Issue(ctx, req)

	return err
}

func (h *Handler) handleRevoke(ctx context.Context, inv Invocation) error {
	rawKind, _ := inv.Options.OptString(constants.KindOption)

	kindName, err := enum.ParseActionKind(rawKind)
	if err != nil {
		return reply(ctx, inv.Responder, fmt.Sprintf("`%s` is not a moderation kind.", rawKind), true)
	}

	user, ok := inv.Options.OptUser(constants.UserOption)
	if !ok {
		return reply(ctx, inv.Responder, "No user was given.", true)
	}

	force, _ := inv.Options.OptBool(constants.ForceOption)

	req := moderation.RevokeRequest{
		Kind:         kindName,
		SubjectID:    uint64(user.ID),
		SubjectName:  wardendiscord.UserName(user),
		Actor:        inv.Invoker,
		Reason:       optionalString(inv.Options, constants.ReasonOption),
		AllowNoEntry: force,
		Responder:    inv.Responder,
	}

	if role, ok := inv.Options.OptRole(constants.RoleOption); ok {
		req.RoleID = uint64(role.ID)
	}

	_, err = h.engine.Revoke(ctx, req)

	return err
}

func (h *Handler) handleCase(ctx context.Context, inv Invocation) error {
	caseNumber, ok := caseNumberOption(inv.Options)
	if !ok {
		return reply(ctx, inv.Responder, "No case number was given.", true)
	}

	c, err := h.cases.Get(ctx, caseNumber)
	if err != nil {
		if errors.Is(err, types.ErrCaseNotFound) {
			return reply(ctx, inv.Responder, fmt.Sprintf("Case #%d does not exist.", caseNumber), true)
		}

		_ = reply(ctx, inv.Responder, constants.InternalErrorMessage, true)

		return err
	}

	return reply(ctx, inv.Responder, FormatCase(c), false)
}

func (h *Handler) handleHistory(ctx context.Context, inv Invocation) error {
	user, ok := inv.Options.OptUser(constants.UserOption)
	if !ok {
		return reply(ctx, inv.Responder, "No user was given.", true)
	}

	includeExpunged, _ := inv.Options.OptBool(constants.AllOption)

	cases, err := h.cases.FindRecent(ctx, types.CaseFilter{
		SubjectID:       uint64(user.ID),
		IncludeExpunged: includeExpunged,
	}, constants.HistoryPageSize)
	if err != nil {
		_ = reply(ctx, inv.Responder, constants.InternalErrorMessage, true)
		return err
	}

	name := wardendiscord.UserName(user)
	if len(cases) == 0 {
		return reply(ctx, inv.Responder, fmt.Sprintf("%s has no cases.", name), false)
	}

	lines := make([]string, 0, len(cases)+1)
	lines = append(lines, fmt.Sprintf("**Recent cases of %s**", name))

	for _, c := range cases {
		lines = append(lines, wardendiscord.CaseSummary(c))
	}

	return reply(ctx, inv.Responder, utils.TruncateString(strings.Join(lines, "\n"), constants.MaxMessageLength), false)
}

func (h *Handler) handleStats(ctx context.Context, inv Invocation) error {
	var issuerID uint64

	title := "**Moderation statistics**"
	if moderator, ok := inv.Options.OptUser(constants.ModeratorOption); ok {
		issuerID = uint64(moderator.ID)
		title = fmt.Sprintf("**Moderation statistics for %s**", wardendiscord.UserName(moderator))
	}

	summary, err := h.stats.Summary(ctx, issuerID)
	if err != nil {
		_ = reply(ctx, inv.Responder, constants.InternalErrorMessage, true)
		return err
	}

	lines := []string{title}
	lines = append(lines, FormatStats(summary)...)

	if h.incidents != nil {
		days, ok, err := h.incidents.DaysSinceLastIncident(ctx)
		switch {
		case err != nil:
			h.logger.Warn("Failed to read incident history", zap.Error(err))
		case ok:
			lines = append(lines, fmt.Sprintf("Days since last incident: **%d**", days))
		}
	}

	return reply(ctx, inv.Responder, strings.Join(lines, "\n"), false)
}

// edit runs a case edit and confirms it.
func (h *Handler) edit(
	ctx context.Context, inv Invocation, verb string, fn func(caseNumber int64) (*types.Case, error),
) error {
	caseNumber, ok := caseNumberOption(inv.Options)
	if !ok {
		return reply(ctx, inv.Responder, "No case number was given.", true)
	}

	c, err := fn(caseNumber)
	if err != nil {
		_ = reply(ctx, inv.Responder, moderation.UserMessage(err), true)
		return err
	}

	return reply(ctx, inv.Responder, fmt.Sprintf("%s case #%d.", verb, c.CaseNumber), false)
}

func (h *Handler) allowed(roles []uint64) bool {
	if len(h.moderatorRoles) == 0 {
		return true
	}

	return slices.ContainsFunc(roles, func(id uint64) bool {
		return slices.Contains(h.moderatorRoles, id)
	})
}

// FormatCase renders a case for the case command.
func FormatCase(c *types.Case) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Case #%d** · %s\n", c.CaseNumber, c.Kind)
	fmt.Fprintf(&b, "User: %s (<@%d>)\n", c.SubjectName, c.SubjectID)
	fmt.Fprintf(&b, "Moderator: %s\n", c.IssuerName)

	if c.RoleID != 0 {
		fmt.Fprintf(&b, "Role: %s\n", c.RoleName)
	}

	fmt.Fprintf(&b, "Issued: <t:%d:f>\n", c.IssuedAt.Unix())

	if d, ok := c.DurationValue(); ok {
		fmt.Fprintf(&b, "Duration: %s\n", moderation.FormatDuration(d))
	}

	status := "inactive"
	if c.Active {
		status = "active"
	}

	fmt.Fprintf(&b, "Status: %s\n", status)

	if reason := c.ReasonText(); reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", utils.NormalizeString(reason))
	}

	if c.Removed != nil {
		fmt.Fprintf(&b, "Revoked by %s <t:%d:R>\n", c.Removed.ActorName, c.Removed.Timestamp.Unix())
	}

	if c.Expunged != nil {
		fmt.Fprintf(&b, "Expunged by %s\n", c.Expunged.ActorName)
	}

	for _, link := range c.Context {
		fmt.Fprintf(&b, "Context: %s\n", link)
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatStats renders one line per statistics window, kinds in display order.
func FormatStats(summary *service.StatsSummary) []string {
	lines := make([]string, 0, len(summary.Windows))

	for _, window := range summary.Windows {
		parts := make([]string, 0, len(window.Counts))

		for _, k := range enum.AllActionKinds() {
			if count := window.Counts[k]; count > 0 {
				parts = append(parts, fmt.Sprintf("%s %s", utils.FormatNumber(uint64(count)), k))
			}
		}

		detail := "none"
		if len(parts) > 0 {
			detail = strings.Join(parts, ", ")
		}

		lines = append(lines, fmt.Sprintf("%s: **%d** (%s)", window.Window.Label, window.Total, detail))
	}

	return lines
}

func caseNumberOption(options OptionReader) (int64, bool) {
	n, ok := options.OptInt(constants.CaseOption)
	if !ok || n <= 0 {
		return 0, false
	}

	return int64(n), true
}

func optionalString(options OptionReader, name string) *string {
	value, ok := options.OptString(name)
	if !ok {
		return nil
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	return &value
}

func reply(ctx context.Context, responder moderation.Responder, content string, isError bool) error {
	if responder == nil {
		return nil
	}

	if isError {
		return responder.ReplyError(ctx, content)
	}

	return responder.Reply(ctx, content)
}
