// Package expiry arms timers that revoke duration-bound cases when they run out.
// Timers live in memory only and are re-derived from the case store on start.
package expiry

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation/clock"
	"go.uber.org/zap"
)

// DefaultRetryDelay is how long a failed expiry waits before firing again.
const DefaultRetryDelay = time.Minute

// Expirer revokes a case whose time is up.
type Expirer interface {
	Expire(ctx context.Context, caseNumber int64) error
}

// CaseLister lists active cases.
type CaseLister interface {
	ListActive(ctx context.Context, filter types.CaseFilter) ([]*types.Case, error)
}

type pending struct {
	timer     clock.Timer
	due       time.Time
	cancelled atomic.Bool
}

func (p *pending) stop() {
	p.cancelled.Store(true)
	p.timer.Stop()
}

// Scheduler keeps one timer per duration-bound active case.
type Scheduler struct {
	store      CaseLister
	kinds      []enum.ActionKind
	clock      clock.Clock
	timers     *xsync.MapOf[int64, *pending]
	retryDelay time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	ctx     context.Context //nolint:containedctx // lifetime of fired expiries
	expirer Expirer
}

// New creates a scheduler for cases of the given durable kinds.
func New(store CaseLister, kinds []enum.ActionKind, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}

	return &Scheduler{
		store:      store,
		kinds:      kinds,
		clock:      clk,
		timers:     xsync.NewMapOf[int64, *pending](),
		retryDelay: DefaultRetryDelay,
		logger:     logger.Named("expiry_scheduler"),
		ctx:        context.Background(),
	}
}

// WithRetryDelay overrides the delay before a failed expiry is retried.
func (s *Scheduler) WithRetryDelay(d time.Duration) *Scheduler {
	s.retryDelay = d
	return s
}

// Start sets the expirer and the context fired expiries run under.
func (s *Scheduler) Start(ctx context.Context, expirer Expirer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	s.expirer = expirer
}

// Run starts the scheduler, restores timers from the store and blocks until
// ctx is done, then stops every timer.
func (s *Scheduler) Run(ctx context.Context, expirer Expirer) error {
	s.Start(ctx, expirer)

	count, err := s.Restore(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("Expiry scheduler started", zap.Int("restored", count))

	<-ctx.Done()
	s.Stop()

	s.logger.Info("Expiry scheduler stopped")

	return nil
}

// Restore arms a timer for every active, durable, duration-bound case.
// Overdue cases fire immediately.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	if len(s.kinds) == 0 {
		return 0, nil
	}

	cases, err := s.store.ListActive(ctx, types.CaseFilter{Kinds: s.kinds})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range cases {
		if !c.HasDuration() {
			continue
		}

		s.Schedule(c)
		count++
	}

	return count, nil
}

// Schedule arms or re-arms the timer of a case from its due time.
// Cases without a duration are ignored.
func (s *Scheduler) Schedule(c *types.Case) {
	due, ok := c.DueAt()
	if !ok {
		return
	}

	s.scheduleAt(c.CaseNumber, due)
}

func (s *Scheduler) scheduleAt(caseNumber int64, due time.Time) {
	delay := max(due.Sub(s.clock.Now()), 0)

	p := &pending{due: due}

	// The timer is created inside Compute so a fire cannot observe the map
	// before the entry exists.
	s.timers.Compute(caseNumber, func(old *pending, loaded bool) (*pending, bool) {
		if loaded {
			old.stop()
		}

		p.timer = s.clock.AfterFunc(delay, func() { s.fire(caseNumber, p) })

		return p, false
	})

	s.logger.Debug("Scheduled expiry",
		zap.Int64("caseNumber", caseNumber),
		zap.Time("due", due),
		zap.Duration("delay", delay))
}

// Cancel stops the timer of a case. It reports whether one was pending.
func (s *Scheduler) Cancel(caseNumber int64) bool {
	cancelled := false

	s.timers.Compute(caseNumber, func(old *pending, loaded bool) (*pending, bool) {
		if loaded {
			old.stop()
			cancelled = true
		}

		return nil, true
	})

	if cancelled {
		s.logger.Debug("Cancelled expiry", zap.Int64("caseNumber", caseNumber))
	}

	return cancelled
}

// Pending returns the case numbers with an armed timer, in ascending order.
func (s *Scheduler) Pending() []int64 {
	var numbers []int64

	s.timers.Range(func(caseNumber int64, _ *pending) bool {
		numbers = append(numbers, caseNumber)
		return true
	})

	slices.Sort(numbers)

	return numbers
}

// Due returns when the case's timer fires.
func (s *Scheduler) Due(caseNumber int64) (time.Time, bool) {
	p, ok := s.timers.Load(caseNumber)
	if !ok {
		return time.Time{}, false
	}

	return p.due, true
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	for _, caseNumber := range s.Pending() {
		s.Cancel(caseNumber)
	}
}

func (s *Scheduler) fire(caseNumber int64, p *pending) {
	if p.cancelled.Load() {
		return
	}

	current := false

	s.timers.Compute(caseNumber, func(old *pending, loaded bool) (*pending, bool) {
		if loaded && old == p {
			current = true
			return nil, true
		}

		return old, !loaded
	})

	// Replaced or cancelled while firing.
	if !current {
		return
	}

	s.mu.RLock()
	ctx, expirer := s.ctx, s.expirer
	s.mu.RUnlock()

	if ctx.Err() != nil {
		return
	}

	if expirer == nil {
		s.logger.Warn("Expiry fired before the scheduler was started", zap.Int64("caseNumber", caseNumber))
		s.scheduleAt(caseNumber, s.clock.Now().Add(s.retryDelay))

		return
	}

	if err := expirer.Expire(ctx, caseNumber); err != nil {
		if errors.Is(err, types.ErrCaseNotFound) || ctx.Err() != nil {
			s.logger.Warn("Dropping expiry",
				zap.Int64("caseNumber", caseNumber),
				zap.Error(err))

			return
		}

		s.logger.Error("Failed to expire case, retrying later",
			zap.Int64("caseNumber", caseNumber),
			zap.Duration("retryIn", s.retryDelay),
			zap.Error(err))

		s.scheduleAt(caseNumber, s.clock.Now().Add(s.retryDelay))

		return
	}

	s.logger.Info("Expired case", zap.Int64("caseNumber", caseNumber))
}
