package service

import (
	"context"
	"fmt"

	"github.com/robalyx/warden/internal/database/models"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"go.uber.org/zap"
)

// CaseService is the Postgres backed case store used by the moderation engine.
type CaseService struct {
	model   *models.CaseModel
	counter *models.CounterModel
	logger  *zap.Logger
}

// NewCase creates a new case service.
func NewCase(model *models.CaseModel, counter *models.CounterModel, logger *zap.Logger) *CaseService {
	return &CaseService{
		model:   model,
		counter: counter,
		logger:  logger.Named("case_service"),
	}
}

// AllocateCaseNumber hands out the next case number. Numbers are unique and
// increase monotonically; a number may be skipped when an issue aborts.
func (s *CaseService) AllocateCaseNumber(ctx context.Context) (int64, error) {
	number, err := s.counter.Next(ctx, types.CaseNumberCounter)
	if err != nil {
		return types.UnallocatedCase, fmt.Errorf("failed to allocate case number: %w", err)
	}

	return number, nil
}

// Insert stores a new case.
func (s *CaseService) Insert(ctx context.Context, c *types.Case) error {
	if c.CaseNumber == types.UnallocatedCase {
		return fmt.Errorf("%w: case has no number", types.ErrCaseNotFound)
	}

	return s.model.Insert(ctx, c)
}

// Get retrieves a case by number.
func (s *CaseService) Get(ctx context.Context, caseNumber int64) (*types.Case, error) {
	return s.model.Get(ctx, caseNumber)
}

// FindActive returns the active case for a subject and kind, or nil.
func (s *CaseService) FindActive(
	ctx context.Context, subjectID uint64, kind enum.ActionKind, roleID uint64,
) (*types.Case, error) {
	return s.model.FindActive(ctx, subjectID, kind, roleID)
}

// FindRecent returns matching cases, newest first.
func (s *CaseService) FindRecent(ctx context.Context, filter types.CaseFilter, limit int) ([]*types.Case, error) {
	return s.model.FindRecent(ctx, filter, limit)
}

// ListActive returns every active case matching the filter.
func (s *CaseService) ListActive(ctx context.Context, filter types.CaseFilter) ([]*types.Case, error) {
	return s.model.ListActive(ctx, filter)
}

// CountByKind returns matching case counts grouped by kind.
func (s *CaseService) CountByKind(ctx context.Context, filter types.CaseFilter) (map[enum.ActionKind]int64, error) {
	return s.model.CountByKind(ctx, filter)
}

// UpdateActive sets the active flag of a case.
func (s *CaseService) UpdateActive(ctx context.Context, caseNumber int64, active bool) error {
	return s.model.UpdateActive(ctx, caseNumber, active)
}

// UpdateRemoved marks a case as revoked.
func (s *CaseService) UpdateRemoved(ctx context.Context, caseNumber int64, removed *types.EditRecord) error {
	return s.model.UpdateRemoved(ctx, caseNumber, removed)
}

// UpdateExpunged marks a case as expunged.
func (s *CaseService) UpdateExpunged(ctx context.Context, caseNumber int64, expunged *types.EditRecord) error {
	return s.model.UpdateExpunged(ctx, caseNumber, expunged)
}

// UpdateReason replaces the reason of a case.
func (s *CaseService) UpdateReason(ctx context.Context, caseNumber int64, reason *string) error {
	return s.model.UpdateReason(ctx, caseNumber, reason)
}

// UpdateDuration replaces the duration and active flag of a case.
func (s *CaseService) UpdateDuration(ctx context.Context, caseNumber int64, duration *int64, active bool) error {
	return s.model.UpdateDuration(ctx, caseNumber, duration, active)
}

// AppendContext adds a context link to a case.
func (s *CaseService) AppendContext(ctx context.Context, caseNumber int64, link string) error {
	return s.model.AppendContext(ctx, caseNumber, link)
}
