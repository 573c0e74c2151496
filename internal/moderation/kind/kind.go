// Package kind holds the capability table of moderation action kinds.
// Each kind knows how to apply, remove and probe its effect on the platform.
package kind

import (
	"context"
	"errors"
	"fmt"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
)

// ErrUnsupportedKind is returned when no kind is registered under a name.
var ErrUnsupportedKind = errors.New("unsupported moderation kind")

// State is an observation of whether an effect currently holds.
type State int

const (
	// StateUnknown means the subject could not be resolved, so nothing can be said.
	StateUnknown State = iota
	// StatePresent means the effect is in force.
	StatePresent
	// StateAbsent means the effect is not in force.
	StateAbsent
)

func (s State) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Descriptor is the static metadata of a kind.
type Descriptor struct {
	Kind           enum.ActionKind
	PastParticiple string // "muted", "banned", used in messages
	RevokedVerb    string // "unmuted", "unbanned"

	// OnceOff kinds have no external effect and are never active.
	OnceOff bool
	// Instant kinds apply an effect once and are never active.
	Instant bool
	// PersistModeration kinds take part in the active index and expiry scheduling.
	PersistModeration bool
	// RequiresDuration kinds cannot be issued without a duration.
	RequiresDuration bool
	// RequiresRole kinds act on the role carried by the case.
	RequiresRole bool
	// ReapplyOnRejoin kinds are applied again when the subject rejoins the guild.
	ReapplyOnRejoin bool
	// EnforceOnDrift kinds are re-applied when reconciliation finds the effect missing.
	// Other kinds are only flagged.
	EnforceOnDrift bool
	// RemovesMember kinds end the subject's membership, so notifications go out first.
	RemovesMember bool
	// StaffOnly kinds are never shown to the subject.
	StaffOnly bool
	// Withholding kinds take something away, so their effect looks the same
	// as a member who never had it and cannot be told apart without a case.
	Withholding bool
}

// EffectBearing reports whether the kind can hold an active case.
func (d Descriptor) EffectBearing() bool {
	return !d.OnceOff && !d.Instant
}

// Kind is the behaviour of one moderation action kind.
type Kind interface {
	Descriptor() Descriptor
	// Apply puts the effect in place. It is safe to call when already applied.
	Apply(ctx context.Context, c *types.Case) error
	// Remove undoes the effect. It is safe to call when already removed.
	Remove(ctx context.Context, c *types.Case) error
	// Probe reports whether the case's effect currently holds on the platform.
	Probe(ctx context.Context, c *types.Case) (State, error)
}

// Registry maps action kinds to their implementation.
type Registry struct {
	kinds map[enum.ActionKind]Kind
	order []enum.ActionKind
}

// NewRegistry creates a registry from the given kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[enum.ActionKind]Kind, len(kinds))}
	for _, k := range kinds {
		r.Register(k)
	}

	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(k Kind) {
	name := k.Descriptor().Kind
	if _, exists := r.kinds[name]; !exists {
		r.order = append(r.order, name)
	}

	r.kinds[name] = k
}

// Get returns the kind registered under name.
func (r *Registry) Get(name enum.ActionKind) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, name)
	}

	return k, nil
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.order))
	for _, name := range r.order {
		kinds = append(kinds, r.kinds[name])
	}

	return kinds
}

// Filter returns the names of registered kinds whose descriptor satisfies fn.
func (r *Registry) Filter(fn func(Descriptor) bool) []enum.ActionKind {
	var names []enum.ActionKind
	for _, name := range r.order {
		if fn(r.kinds[name].Descriptor()) {
			names = append(names, name)
		}
	}

	return names
}
