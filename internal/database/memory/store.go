// Package memory provides an in-memory case store with the same semantics as
// the Postgres service. It backs tests and the bot's dry-run mode.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
)

// Store keeps cases in a map guarded by a RWMutex.
// Every read and write copies the case so callers never share state with the store.
type Store struct {
	mu      sync.RWMutex
	cases   map[int64]*types.Case
	counter int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		cases: make(map[int64]*types.Case),
	}
}

// AllocateCaseNumber hands out the next case number.
func (s *Store) AllocateCaseNumber(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return types.UnallocatedCase, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++

	return s.counter, nil
}

// Insert stores a new case.
func (s *Store) Insert(ctx context.Context, c *types.Case) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.CaseNumber == types.UnallocatedCase {
		return fmt.Errorf("%w: case has no number", types.ErrCaseNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.CaseNumber]; exists {
		return fmt.Errorf("case %d already stored", c.CaseNumber)
	}

	if c.Active {
		for _, existing := range s.cases {
			if existing.Active && sameSlot(existing, c) {
				return fmt.Errorf("%w: case %d", types.ErrActiveCaseExists, existing.CaseNumber)
			}
		}
	}

	s.cases[c.CaseNumber] = c.Clone()

	return nil
}

// Get retrieves a case by number.
func (s *Store) Get(ctx context.Context, caseNumber int64) (*types.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[caseNumber]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrCaseNotFound, caseNumber)
	}

	return c.Clone(), nil
}

// FindActive returns the newest active case for a subject and kind, or nil.
func (s *Store) FindActive(
	ctx context.Context, subjectID uint64, kind enum.ActionKind, roleID uint64,
) (*types.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *types.Case
	for _, c := range s.cases {
		if !c.Active || c.SubjectID != subjectID || c.Kind != kind || c.RoleID != roleID {
			continue
		}

		if found == nil || c.IssuedAt.After(found.IssuedAt) {
			found = c
		}
	}

	return found.Clone(), nil
}

// FindRecent returns matching cases, newest first.
func (s *Store) FindRecent(ctx context.Context, filter types.CaseFilter, limit int) ([]*types.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cases := s.collect(filter)
	slices.SortFunc(cases, func(a, b *types.Case) int {
		if c := b.IssuedAt.Compare(a.IssuedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.CaseNumber, a.CaseNumber)
	})

	if limit > 0 && len(cases) > limit {
		cases = cases[:limit]
	}

	return cases, nil
}

// ListActive returns every active case matching the filter, oldest first.
func (s *Store) ListActive(ctx context.Context, filter types.CaseFilter) ([]*types.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter.ActiveOnly = true
	filter.IncludeExpunged = true

	cases := s.collect(filter)
	slices.SortFunc(cases, func(a, b *types.Case) int {
		return cmp.Compare(a.CaseNumber, b.CaseNumber)
	})

	return cases, nil
}

// CountByKind returns matching case counts grouped by kind.
func (s *Store) CountByKind(ctx context.Context, filter types.CaseFilter) (map[enum.ActionKind]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[enum.ActionKind]int64)
	for _, c := range s.cases {
		if filter.Matches(c) {
			counts[c.Kind]++
		}
	}

	return counts, nil
}

// UpdateActive sets the active flag of a case.
func (s *Store) UpdateActive(ctx context.Context, caseNumber int64, active bool) error {
	return s.update(ctx, caseNumber, func(c *types.Case) error {
		if active {
			if err := s.checkSlotFree(c); err != nil {
				return err
			}
		}

		c.Active = active

		return nil
	})
}

// UpdateRemoved records the revocation of a case and clears its active flag.
func (s *Store) UpdateRemoved(ctx context.Context, caseNumber int64, removed *types.EditRecord) error {
	return s.update(ctx, caseNumber, func(c *types.Case) error {
		c.Removed = cloneRecord(removed)
		c.Active = false

		return nil
	})
}

// UpdateExpunged records the expungement of a case.
func (s *Store) UpdateExpunged(ctx context.Context, caseNumber int64, expunged *types.EditRecord) error {
	return s.update(ctx, caseNumber, func(c *types.Case) error {
		c.Expunged = cloneRecord(expunged)
		return nil
	})
}

// UpdateReason replaces the reason of a case.
func (s *Store) UpdateReason(ctx context.Context, caseNumber int64, reason *string) error {
	return s.update(ctx, caseNumber, func(c *types.Case) error {
		if reason == nil {
			c.Reason = nil
			return nil
		}

		r := *reason
		c.Reason = &r

		return nil
	})
}

// UpdateDuration replaces the duration and active flag of a case.
func (s *Store) UpdateDuration(ctx context.Context, caseNumber int64, duration *int64, active bool) error {
	return s.update(ctx, caseNumber, func(c *types.Case) error {
		if active && !c.Active {
			if err := s.checkSlotFree(c); err != nil {
				return err
			}
		}

		if duration == nil {
			c.Duration = nil
		} else {
			d := *duration
			c.Duration = &d
		}

		c.Active = active

		return nil
	})
}

// AppendContext adds a context link to a case.
func (s *Store) AppendContext(ctx context.Context, caseNumber int64, link string) error {
	return s.update(ctx, caseNumber, func(c *types.Case) error {
		c.Context = append(c.Context, link)
		return nil
	})
}

func (s *Store) update(ctx context.Context, caseNumber int64, fn func(*types.Case) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseNumber]
	if !ok {
		return fmt.Errorf("%w: %d", types.ErrCaseNotFound, caseNumber)
	}

	updated := c.Clone()
	if err := fn(updated); err != nil {
		return err
	}

	s.cases[caseNumber] = updated

	return nil
}

// checkSlotFree must be called with the write lock held.
func (s *Store) checkSlotFree(c *types.Case) error {
	for _, existing := range s.cases {
		if existing.CaseNumber != c.CaseNumber && existing.Active && sameSlot(existing, c) {
			return fmt.Errorf("%w: case %d", types.ErrActiveCaseExists, existing.CaseNumber)
		}
	}

	return nil
}

func (s *Store) collect(filter types.CaseFilter) []*types.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cases := make([]*types.Case, 0, len(s.cases))
	for _, c := range s.cases {
		if filter.Matches(c) {
			cases = append(cases, c.Clone())
		}
	}

	return cases
}

func sameSlot(a, b *types.Case) bool {
	return a.SubjectID == b.SubjectID && a.Kind == b.Kind && a.RoleID == b.RoleID
}

func cloneRecord(r *types.EditRecord) *types.EditRecord {
	if r == nil {
		return nil
	}

	return (&types.Case{Removed: r}).Clone().Removed
}
