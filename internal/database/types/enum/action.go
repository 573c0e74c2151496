package enum

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownActionKind is returned when a kind name does not match any action.
var ErrUnknownActionKind = errors.New("unknown action kind")

// ActionKind represents the type of moderation action recorded by a case.
// Values are persisted verbatim so they must never be renamed.
type ActionKind string

const (
	// ActionMute assigns the muted role to a member.
	ActionMute ActionKind = "mute"
	// ActionBan bans a user from the guild.
	ActionBan ActionKind = "ban"
	// ActionKick removes a member from the guild once.
	ActionKick ActionKind = "kick"
	// ActionWarn records a warning.
	ActionWarn ActionKind = "warn"
	// ActionRolepersist assigns a specific role that survives leaving and rejoining.
	ActionRolepersist ActionKind = "rolepersist"
	// ActionTimeout applies the platform's native communication timeout.
	ActionTimeout ActionKind = "timeout"
	// ActionSoftban bans and immediately unbans to purge recent messages.
	ActionSoftban ActionKind = "softban"
	// ActionVoiceMute server-mutes a member in voice channels.
	ActionVoiceMute ActionKind = "voice_mute"
	// ActionVoiceTake removes the voice role from a member.
	ActionVoiceTake ActionKind = "voice_take"
	// ActionNote records a staff note.
	ActionNote ActionKind = "note"
	// ActionVoiceNote records a staff note about voice conduct.
	ActionVoiceNote ActionKind = "voice_note"
)

// AllActionKinds lists every action kind in display order.
func AllActionKinds() []ActionKind {
	return []ActionKind{
		ActionMute,
		ActionBan,
		ActionKick,
		ActionWarn,
		ActionRolepersist,
		ActionTimeout,
		ActionSoftban,
		ActionVoiceMute,
		ActionVoiceTake,
		ActionNote,
		ActionVoiceNote,
	}
}

// String returns the persisted name of the kind.
func (k ActionKind) String() string {
	return string(k)
}

// IsValid reports whether the kind is one of the known action kinds.
func (k ActionKind) IsValid() bool {
	for _, kind := range AllActionKinds() {
		if kind == k {
			return true
		}
	}

	return false
}

// ParseActionKind converts a user supplied name into an ActionKind.
// Spaces and dashes are accepted in place of underscores.
func ParseActionKind(s string) (ActionKind, error) {
	normalized := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))

	kind := ActionKind(normalized)
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownActionKind, s)
	}

	return kind, nil
}
