package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/bot/commands"
	"github.com/robalyx/warden/internal/bot/constants"
	botEvents "github.com/robalyx/warden/internal/bot/events"
	"github.com/robalyx/warden/internal/bot/utils"
	wardendiscord "github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/kind"
	"go.uber.org/zap"
)

// Bot connects the Discord gateway to the command handler and member events.
type Bot struct {
	ctx            context.Context //nolint:containedctx // bound to the gateway session
	client         bot.Client
	guildID        snowflake.ID
	syncCommands   bool
	requestTimeout time.Duration
	handler        *commands.Handler
	members        *botEvents.MemberEventHandler
	logger         *zap.Logger
}

// Options configures the bot.
type Options struct {
	Token          string
	GuildID        uint64
	SyncCommands   bool
	RequestTimeout time.Duration
}

// New creates the Discord client. Attach must be called before Start.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Bot, error) {
	b := &Bot{
		ctx:            ctx,
		guildID:        snowflake.ID(opts.GuildID),
		syncCommands:   opts.SyncCommands,
		requestTimeout: opts.RequestTimeout,
		logger:         logger.Named("bot"),
	}

	// Configure Discord client with required gateway intents and event handlers
	client, err := disgo.New(opts.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnApplicationCommandInteraction: b.handleApplicationCommandInteraction,
			OnComponentInteraction:          b.handleComponentInteraction,
			OnGuildMemberJoin:               b.handleGuildMemberJoin,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}

	b.client = client

	return b, nil
}

// Rest returns the REST client used by the platform adapter and notifier.
func (b *Bot) Rest() rest.Rest {
	return b.client.Rest()
}

// Attach sets the command handler and member event handler.
func (b *Bot) Attach(handler *commands.Handler, members *botEvents.MemberEventHandler) {
	b.handler = handler
	b.members = members
}

// Start registers the guild commands and opens the gateway connection.
func (b *Bot) Start(ctx context.Context, registry *kind.Registry) error {
	if b.syncCommands {
		b.logger.Info("Registering commands")

		_, err := b.client.Rest().SetGuildCommands(b.client.ApplicationID(), b.guildID,
			commands.Definitions(registry), rest.WithCtx(ctx))
		if err != nil {
			return fmt.Errorf("failed to register guild commands: %w", err)
		}
	}

	b.logger.Info("Starting bot")

	return b.client.OpenGateway(ctx)
}

// Close gracefully shuts down the Discord gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.logger.Info("Closing bot")
	b.client.Close(ctx)
}

// handleApplicationCommandInteraction defers an ephemeral response and runs
// the command in a goroutine so slow platform calls do not block the gateway.
func (b *Bot) handleApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	go func() {
		// Defer response to prevent Discord timeout while processing
		if err := event.DeferCreateMessage(true); err != nil {
			b.logger.Error("Failed to defer create message", zap.Error(err))
			return
		}

		responder := b.newResponder(event.ApplicationID(), event.Token())

		data, ok := event.Data.(discord.SlashCommandInteractionData)
		if !ok || b.handler == nil {
			_ = responder.ReplyError(b.ctx, constants.UnknownCommandMessage)
			return
		}

		ctx, cancel := context.WithTimeout(b.ctx, b.requestTimeout)
		defer cancel()

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Panic in application command interaction handler", zap.Any("panic", r))
				_ = responder.ReplyError(ctx, constants.InternalErrorMessage)
			}

			b.logger.Debug("Application command interaction handled",
				zap.String("command", data.CommandName()),
				zap.Duration("duration", time.Since(start)))
		}()

		err := b.handler.Handle(ctx, commands.Invocation{
			Command:      data.CommandName(),
			Options:      data,
			Invoker:      actorOf(event.User()),
			InvokerRoles: memberRoles(event.Member()),
			Responder:    responder,
		})
		if err != nil {
			b.logger.Info("Command failed",
				zap.String("command", data.CommandName()),
				zap.Uint64("userID", uint64(event.User().ID)),
				zap.Error(err))
		}
	}()
}

// handleComponentInteraction processes the revoke buttons on audit log entries.
func (b *Bot) handleComponentInteraction(event *events.ComponentInteractionCreate) {
	caseNumber, ok := wardendiscord.ParseRevokeButtonID(event.Data.CustomID())
	if !ok || b.handler == nil {
		return
	}

	go func() {
		if err := event.DeferCreateMessage(true); err != nil {
			b.logger.Error("Failed to defer create message", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(b.ctx, b.requestTimeout)
		defer cancel()

		responder := b.newResponder(event.ApplicationID(), event.Token())

		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Panic in component interaction handler", zap.Any("panic", r))
				_ = responder.ReplyError(ctx, constants.InternalErrorMessage)
			}
		}()

		err := b.handler.HandleRevokeButton(ctx, caseNumber, actorOf(event.User()), memberRoles(event.Member()), responder)
		if err != nil {
			b.logger.Info("Revoke button failed",
				zap.Int64("caseNumber", caseNumber),
				zap.Uint64("userID", uint64(event.User().ID)),
				zap.Error(err))
		}
	}()
}

func (b *Bot) handleGuildMemberJoin(event *events.GuildMemberJoin) {
	if b.members != nil {
		b.members.OnGuildMemberJoin(event)
	}
}

func (b *Bot) newResponder(applicationID snowflake.ID, token string) *interactionResponder {
	return &interactionResponder{
		rest:          b.client.Rest(),
		applicationID: applicationID,
		token:         token,
	}
}

// interactionResponder edits the deferred interaction response.
type interactionResponder struct {
	rest          rest.Rest
	applicationID snowflake.ID
	token         string
}

func (r *interactionResponder) Reply(ctx context.Context, content string) error {
	return r.update(ctx, utils.TruncateString(content, constants.MaxMessageLength))
}

func (r *interactionResponder) ReplyError(ctx context.Context, content string) error {
	return r.update(ctx, utils.TruncateString("❌ "+content, constants.MaxMessageLength))
}

func (r *interactionResponder) update(ctx context.Context, content string) error {
	_, err := r.rest.UpdateInteractionResponse(r.applicationID, r.token, discord.NewMessageUpdateBuilder().
		SetContent(content).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build(), rest.WithCtx(ctx))

	return err
}

func actorOf(user discord.User) moderation.Actor {
	return moderation.Actor{
		ID:   uint64(user.ID),
		Name: wardendiscord.UserName(user),
	}
}

func memberRoles(member *discord.ResolvedMember) []uint64 {
	if member == nil {
		return nil
	}

	roles := make([]uint64, len(member.RoleIDs))
	for i, id := range member.RoleIDs {
		roles[i] = uint64(id)
	}

	return roles
}
