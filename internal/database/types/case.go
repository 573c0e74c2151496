package types

import (
	"errors"
	"slices"
	"time"

	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/uptrace/bun"
)

// UnallocatedCase marks a case that has not received a number from the allocator yet.
const UnallocatedCase int64 = -1

var (
	// ErrCaseNotFound is returned when a case number does not exist.
	ErrCaseNotFound = errors.New("case not found")
	// ErrActiveCaseExists is returned when storing a second active case for
	// the same subject, kind and role.
	ErrActiveCaseExists = errors.New("an active case already exists")
)

// EditRecord captures who changed a case, when and why.
type EditRecord struct {
	ActorID   uint64    `json:"actor_id"`
	ActorName string    `json:"actor_display_name"`
	Timestamp time.Time `json:"timestamp"`
	Reason    *string   `json:"reason"`
}

// Case is a single moderation record. Cases are never deleted; revocation and
// expungement are recorded as edit markers on the row.
type Case struct {
	bun.BaseModel `bun:"table:moderation_cases,alias:mc"`

	CaseNumber  int64           `bun:",pk"`                          // Allocated case number
	Kind        enum.ActionKind `bun:"action,notnull"`               // Action kind
	RoleID      uint64          `bun:",nullzero"`                    // Role for rolepersist cases
	RoleName    string          `bun:",nullzero"`                    // Role name at time of issue
	SubjectID   uint64          `bun:",notnull"`                     // User the action targets
	SubjectName string          `bun:"subject_display_name,notnull"` // Display name of the subject
	IssuerID    uint64          `bun:",notnull"`                     // Moderator who issued the action
	IssuerName  string          `bun:"issuer_display_name,notnull"`  // Display name of the moderator
	Reason      *string         `bun:",type:text"`                   // Optional reason
	IssuedAt    time.Time       `bun:",notnull"`                     // When the case was created
	Duration    *int64          `bun:",nullzero"`                    // Time to live in milliseconds (null for indefinite)
	Active      bool            `bun:",notnull"`                     // Whether the effect is believed to hold
	Removed     *EditRecord     `bun:",type:jsonb,nullzero"`         // Set once when revoked
	Expunged    *EditRecord     `bun:",type:jsonb,nullzero"`         // Set when excluded from history
	SourceLink  *string         `bun:",type:text"`                   // Link to the originating command
	Context     []string        `bun:",array,type:text[]"`           // Additional context links
}

// CaseFilter narrows case queries. Zero values match everything.
type CaseFilter struct {
	SubjectID       uint64
	IssuerID        uint64
	Kinds           []enum.ActionKind
	Since           time.Time
	ActiveOnly      bool
	IncludeExpunged bool
}

// Matches reports whether the case satisfies the filter.
func (f CaseFilter) Matches(c *Case) bool {
	if f.SubjectID != 0 && c.SubjectID != f.SubjectID {
		return false
	}

	if f.IssuerID != 0 && c.IssuerID != f.IssuerID {
		return false
	}

	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, c.Kind) {
		return false
	}

	if !f.Since.IsZero() && c.IssuedAt.Before(f.Since) {
		return false
	}

	if f.ActiveOnly && !c.Active {
		return false
	}

	if !f.IncludeExpunged && c.Expunged != nil {
		return false
	}

	return true
}

// HasDuration reports whether the case is time bound.
func (c *Case) HasDuration() bool {
	return c.Duration != nil
}

// DurationValue returns the case duration as a time.Duration.
func (c *Case) DurationValue() (time.Duration, bool) {
	if c.Duration == nil {
		return 0, false
	}

	return time.Duration(*c.Duration) * time.Millisecond, true
}

// DueAt returns when a time bound case should expire.
func (c *Case) DueAt() (time.Time, bool) {
	d, ok := c.DurationValue()
	if !ok {
		return time.Time{}, false
	}

	return c.IssuedAt.Add(d), true
}

// IsExpired checks if a time bound case has passed its due time.
func (c *Case) IsExpired(now time.Time) bool {
	due, ok := c.DueAt()
	return ok && !now.Before(due)
}

// ReasonText returns the reason or an empty string.
func (c *Case) ReasonText() string {
	if c.Reason == nil {
		return ""
	}

	return *c.Reason
}

// Clone returns a deep copy of the case.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Reason = clonePtr(c.Reason)
	clone.Duration = clonePtr(c.Duration)
	clone.SourceLink = clonePtr(c.SourceLink)
	clone.Removed = c.Removed.clone()
	clone.Expunged = c.Expunged.clone()

	if c.Context != nil {
		clone.Context = slices.Clone(c.Context)
	}

	return &clone
}

func (r *EditRecord) clone() *EditRecord {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Reason = clonePtr(r.Reason)

	return &clone
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}
