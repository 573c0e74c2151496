package database

import (
	"github.com/robalyx/warden/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	cases   *models.CaseModel
	counter *models.CounterModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		cases:   models.NewCase(db, logger),
		counter: models.NewCounter(db, logger),
	}
}

// Case returns the moderation case model repository.
func (r *Repository) Case() *models.CaseModel {
	return r.cases
}

// Counter returns the counter model repository.
func (r *Repository) Counter() *models.CounterModel {
	return r.counter
}
