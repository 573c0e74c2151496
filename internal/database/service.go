package database

import (
	"github.com/robalyx/warden/internal/database/service"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	cases *service.CaseService
	stats *service.StatsService
}

// NewService creates a new service instance with all services.
func NewService(repository *Repository, logger *zap.Logger) *Service {
	caseModel := repository.Case()
	counterModel := repository.Counter()

	return &Service{
		cases: service.NewCase(caseModel, counterModel, logger),
		stats: service.NewStats(caseModel, logger),
	}
}

// Case returns the case store service.
func (s *Service) Case() *service.CaseService {
	return s.cases
}

// Stats returns the moderation statistics service.
func (s *Service) Stats() *service.StatsService {
	return s.stats
}
