package commands

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/robalyx/warden/internal/bot/constants"
	"github.com/robalyx/warden/internal/moderation/kind"
)

// Definitions builds the slash commands for the registered kinds.
func Definitions(registry *kind.Registry) []discord.ApplicationCommandCreate {
	maxReason := constants.MaxReasonLength
	minCase := 1

	var (
		defs        []discord.ApplicationCommandCreate
		kindChoices []discord.ApplicationCommandOptionChoiceString
	)

	for _, k := range registry.Kinds() {
		desc := k.Descriptor()
		defs = append(defs, issueCommand(desc, maxReason))

		if desc.EffectBearing() {
			kindChoices = append(kindChoices, discord.ApplicationCommandOptionChoiceString{
				Name:  label(string(desc.Kind)),
				Value: string(desc.Kind),
			})
		}
	}

	caseOption := discord.ApplicationCommandOptionInt{
		Name:        constants.CaseOption,
		Description: "Case number",
		Required:    true,
		MinValue:    &minCase,
	}

	defs = append(defs,
		discord.SlashCommandCreate{
			Name:        constants.RevokeCommandName,
			Description: "Revoke an active moderation",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        constants.KindOption,
					Description: "Kind of moderation to revoke",
					Required:    true,
					Choices:     kindChoices,
				},
				discord.ApplicationCommandOptionUser{
					Name:        constants.UserOption,
					Description: "User to revoke it for",
					Required:    true,
				},
				discord.ApplicationCommandOptionRole{
					Name:        constants.RoleOption,
					Description: "Role of a rolepersist",
				},
				discord.ApplicationCommandOptionString{
					Name:        constants.ReasonOption,
					Description: "Why it is revoked",
					MaxLength:   &maxReason,
				},
				discord.ApplicationCommandOptionBool{
					Name:        constants.ForceOption,
					Description: "Remove the effect even when no case exists",
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.CaseCommandName,
			Description: "Show a case",
			Options:     []discord.ApplicationCommandOption{caseOption},
		},
		discord.SlashCommandCreate{
			Name:        constants.HistoryCommandName,
			Description: "Show a user's recent cases",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionUser{
					Name:        constants.UserOption,
					Description: "User to look up",
					Required:    true,
				},
				discord.ApplicationCommandOptionBool{
					Name:        constants.AllOption,
					Description: "Include expunged cases",
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.ReasonCommandName,
			Description: "Change the reason of a case",
			Options: []discord.ApplicationCommandOption{
				caseOption,
				discord.ApplicationCommandOptionString{
					Name:        constants.ReasonOption,
					Description: "New reason, leave empty to clear it",
					MaxLength:   &maxReason,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.DurationCommandName,
			Description: "Change how long an active case lasts, counted from now",
			Options: []discord.ApplicationCommandOption{
				caseOption,
				discord.ApplicationCommandOptionString{
					Name:        constants.DurationOption,
					Description: "New duration such as 2h or 3 days, empty for indefinite",
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.ExpungeCommandName,
			Description: "Hide a case from history and statistics",
			Options: []discord.ApplicationCommandOption{
				caseOption,
				discord.ApplicationCommandOptionString{
					Name:        constants.ReasonOption,
					Description: "Why it is expunged",
					MaxLength:   &maxReason,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.ContextCommandName,
			Description: "Attach a link with more context to a case",
			Options: []discord.ApplicationCommandOption{
				caseOption,
				discord.ApplicationCommandOptionString{
					Name:        constants.LinkOption,
					Description: "Message link",
					Required:    true,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        constants.StatsCommandName,
			Description: "Show moderation statistics",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionUser{
					Name:        constants.ModeratorOption,
					Description: "Only count cases issued by this moderator",
				},
			},
		},
	)

	return defs
}

// issueCommand builds the command that issues one kind. Discord requires
// required options to precede optional ones.
func issueCommand(desc kind.Descriptor, maxReason int) discord.SlashCommandCreate {
	options := []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        constants.UserOption,
			Description: "User to moderate",
			Required:    true,
		},
	}

	if desc.RequiresRole {
		options = append(options, discord.ApplicationCommandOptionRole{
			Name:        constants.RoleOption,
			Description: "Role to persist",
			Required:    true,
		})
	}

	if desc.EffectBearing() {
		durationDesc := "How long, e.g. 10m, 2 days or a date. Indefinite when empty"
		if desc.RequiresDuration {
			durationDesc = "How long, e.g. 10m or 2 days"
		}

		options = append(options, discord.ApplicationCommandOptionString{
			Name:        constants.DurationOption,
			Description: durationDesc,
			Required:    desc.RequiresDuration,
		})
	}

	options = append(options, discord.ApplicationCommandOptionString{
		Name:        constants.ReasonOption,
		Description: "Reason shown in the logs",
		MaxLength:   &maxReason,
	})

	return discord.SlashCommandCreate{
		Name:        string(desc.Kind),
		Description: fmt.Sprintf("Issue a %s", label(string(desc.Kind))),
		Options:     options,
	}
}

func label(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
