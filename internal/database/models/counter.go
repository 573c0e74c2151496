package models

import (
	"context"
	"fmt"

	"github.com/robalyx/warden/internal/database/dbretry"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// CounterModel handles atomic named counters.
type CounterModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewCounter creates a new CounterModel instance.
func NewCounter(db *bun.DB, logger *zap.Logger) *CounterModel {
	return &CounterModel{
		db:     db,
		logger: logger.Named("db_counter"),
	}
}

// Next increments the named counter and returns the new value.
// The row is created on first use so the first value handed out is 1.
func (m *CounterModel) Next(ctx context.Context, id string) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		var value int64

		err := m.db.NewRaw(`
			INSERT INTO moderation_counters (id, value) VALUES (?, 1)
			ON CONFLICT (id) DO UPDATE SET value = moderation_counters.value + 1
			RETURNING value
		`, id).Scan(ctx, &value)
		if err != nil {
			return 0, fmt.Errorf("failed to increment counter %s: %w", id, err)
		}

		return value, nil
	})
}

// Resync raises the named counter to at least the highest stored case number.
// Used after restoring cases from a backup.
func (m *CounterModel) Resync(ctx context.Context, id string) (int64, error) {
	var value int64

	err := dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("LOCK TABLE moderation_counters IN SHARE ROW EXCLUSIVE MODE").Exec(ctx); err != nil {
			return fmt.Errorf("failed to lock counters: %w", err)
		}

		return tx.NewRaw(`
			INSERT INTO moderation_counters (id, value)
			SELECT ?, COALESCE(MAX(case_number), 0) FROM moderation_cases
			ON CONFLICT (id) DO UPDATE SET value = GREATEST(moderation_counters.value, EXCLUDED.value)
			RETURNING value
		`, id).Scan(ctx, &value)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resync counter %s: %w", id, err)
	}

	m.logger.Info("Resynced counter", zap.String("id", id), zap.Int64("value", value))

	return value, nil
}
