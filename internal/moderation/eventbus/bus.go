// Package eventbus is a typed publish/subscribe channel for moderation events.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Name identifies an event type.
type Name string

const (
	// IssueModeration is published after a case has been issued and persisted.
	IssueModeration Name = "issue_moderation"
	// RevokeModeration is published after a case has been revoked.
	RevokeModeration Name = "revoke_moderation"
	// UpdateModeration is published after a case's reason, duration, context or
	// expungement has been edited.
	UpdateModeration Name = "update_moderation"
)

// Event is the payload delivered to subscribers. Case is a private copy.
type Event struct {
	Name      Name
	Case      *types.Case
	ActorID   uint64
	Timestamp time.Time
}

// Handler reacts to an event. Returned errors are logged.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events to subscribers on their own goroutines so a slow,
// failing or panicking handler never affects the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]subscription
	nextID   uint64
	wg       conc.WaitGroup
	logger   *zap.Logger
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Name][]subscription),
		logger:   logger.Named("event_bus"),
	}
}

// Subscribe registers a handler for name and returns a function that removes it.
func (b *Bus) Subscribe(name Name, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.handlers[name]
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish hands the event to every current subscriber of its name and returns immediately.
// Each subscriber gets its own copy of the case.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[event.Name]...)
	b.mu.RUnlock()

	// Handlers may outlive the request that triggered the event.
	ctx = context.WithoutCancel(ctx)

	for _, sub := range subs {
		delivered := event
		delivered.Case = event.Case.Clone()

		b.wg.Go(func() {
			var err error

			recovered := panics.Try(func() {
				err = sub.handler(ctx, delivered)
			})

			if recovered != nil {
				b.logger.Error("Event handler panicked",
					zap.String("event", string(delivered.Name)),
					zap.Any("panic", recovered.Value),
					zap.String("stack", string(recovered.Stack)))

				return
			}

			if err != nil {
				b.logger.Warn("Event handler failed",
					zap.String("event", string(delivered.Name)),
					zap.Int64("caseNumber", caseNumber(delivered.Case)),
					zap.Error(err))
			}
		})
	}
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func caseNumber(c *types.Case) int64 {
	if c == nil {
		return types.UnallocatedCase
	}

	return c.CaseNumber
}
