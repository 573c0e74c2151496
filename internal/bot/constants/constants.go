package constants

const (
	// Commands that act on an existing case or subject. Issue commands are
	// named after their kind.
	RevokeCommandName   = "revoke"
	CaseCommandName     = "case"
	HistoryCommandName  = "history"
	ReasonCommandName   = "reason"
	DurationCommandName = "duration"
	ExpungeCommandName  = "expunge"
	ContextCommandName  = "context"
	StatsCommandName    = "stats"

	// Command options.
	UserOption      = "user"
	RoleOption      = "role"
	KindOption      = "kind"
	ReasonOption    = "reason"
	DurationOption  = "duration"
	CaseOption      = "case"
	LinkOption      = "link"
	ForceOption     = "force"
	ModeratorOption = "moderator"
	AllOption       = "all"

	// Limits.
	HistoryPageSize  = 10
	MaxReasonLength  = 1000
	MaxMessageLength = 2000

	// Responses.
	NotAllowedMessage     = "You are not allowed to use this command."
	UnknownCommandMessage = "This command is not available."
	InternalErrorMessage  = "Internal error. Please report this to an administrator."
)
