package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/warden/internal/database/dbretry"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// CaseModel handles database operations for moderation cases.
type CaseModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewCase creates a new CaseModel instance.
func NewCase(db *bun.DB, logger *zap.Logger) *CaseModel {
	return &CaseModel{
		db:     db,
		logger: logger.Named("db_case"),
	}
}

// Insert stores a new case. The case number must already be allocated.
func (m *CaseModel) Insert(ctx context.Context, c *types.Case) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().Model(c).Exec(ctx)
		if err != nil {
			if dbretry.IsUniqueViolation(err) {
				return fmt.Errorf("%w: case %d", types.ErrActiveCaseExists, c.CaseNumber)
			}

			return fmt.Errorf("failed to insert case %d: %w", c.CaseNumber, err)
		}

		return nil
	})
}

// Get retrieves a case by its number.
func (m *CaseModel) Get(ctx context.Context, caseNumber int64) (*types.Case, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Case, error) {
		var c types.Case

		err := m.db.NewSelect().
			Model(&c).
			Where("case_number = ?", caseNumber).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: %d", types.ErrCaseNotFound, caseNumber)
			}

			return nil, fmt.Errorf("failed to get case %d: %w", caseNumber, err)
		}

		return &c, nil
	})
}

// FindActive returns the active case for a subject and kind, or nil when none exists.
func (m *CaseModel) FindActive(
	ctx context.Context, subjectID uint64, kind enum.ActionKind, roleID uint64,
) (*types.Case, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Case, error) {
		var c types.Case

		err := m.db.NewSelect().
			Model(&c).
			Where("subject_id = ?", subjectID).
			Where("action = ?", kind).
			Where("COALESCE(role_id, 0) = ?", roleID).
			Where("active").
			Order("issued_at DESC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}

			return nil, fmt.Errorf("failed to find active case: %w", err)
		}

		return &c, nil
	})
}

// FindRecent returns matching cases, newest first.
func (m *CaseModel) FindRecent(ctx context.Context, filter types.CaseFilter, limit int) ([]*types.Case, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Case, error) {
		var cases []*types.Case

		query := m.db.NewSelect().Model(&cases)
		applyFilter(query, filter)

		query.Order("issued_at DESC", "case_number DESC")
		if limit > 0 {
			query.Limit(limit)
		}

		if err := query.Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to find recent cases: %w", err)
		}

		return cases, nil
	})
}

// ListActive returns every active case matching the filter, oldest first.
func (m *CaseModel) ListActive(ctx context.Context, filter types.CaseFilter) ([]*types.Case, error) {
	filter.ActiveOnly = true
	filter.IncludeExpunged = true

	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Case, error) {
		var cases []*types.Case

		query := m.db.NewSelect().Model(&cases)
		applyFilter(query, filter)

		if err := query.Order("case_number ASC").Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to list active cases: %w", err)
		}

		return cases, nil
	})
}

// CountByKind returns the number of matching cases grouped by kind.
func (m *CaseModel) CountByKind(ctx context.Context, filter types.CaseFilter) (map[enum.ActionKind]int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (map[enum.ActionKind]int64, error) {
		var rows []struct {
			Kind  enum.ActionKind `bun:"action"`
			Count int64           `bun:"count"`
		}

		query := m.db.NewSelect().
			Model((*types.Case)(nil)).
			Column("action").
			ColumnExpr("COUNT(*) AS count")
		applyFilter(query, filter)

		if err := query.Group("action").Scan(ctx, &rows); err != nil {
			return nil, fmt.Errorf("failed to count cases: %w", err)
		}

		counts := make(map[enum.ActionKind]int64, len(rows))
		for _, row := range rows {
			counts[row.Kind] = row.Count
		}

		return counts, nil
	})
}

// UpdateActive sets the active flag of a case.
func (m *CaseModel) UpdateActive(ctx context.Context, caseNumber int64, active bool) error {
	return m.updateColumns(ctx, &types.Case{CaseNumber: caseNumber, Active: active}, "active")
}

// UpdateRemoved records the revocation of a case and clears its active flag.
func (m *CaseModel) UpdateRemoved(ctx context.Context, caseNumber int64, removed *types.EditRecord) error {
	return m.updateColumns(ctx, &types.Case{CaseNumber: caseNumber, Removed: removed}, "removed", "active")
}

// UpdateExpunged records the expungement of a case. The active flag is untouched.
func (m *CaseModel) UpdateExpunged(ctx context.Context, caseNumber int64, expunged *types.EditRecord) error {
	return m.updateColumns(ctx, &types.Case{CaseNumber: caseNumber, Expunged: expunged}, "expunged")
}

// UpdateReason replaces the reason of a case.
func (m *CaseModel) UpdateReason(ctx context.Context, caseNumber int64, reason *string) error {
	return m.updateColumns(ctx, &types.Case{CaseNumber: caseNumber, Reason: reason}, "reason")
}

// UpdateDuration replaces the duration of a case together with its active flag.
func (m *CaseModel) UpdateDuration(ctx context.Context, caseNumber int64, duration *int64, active bool) error {
	return m.updateColumns(ctx, &types.Case{CaseNumber: caseNumber, Duration: duration, Active: active}, "duration", "active")
}

// AppendContext adds a context link to a case.
func (m *CaseModel) AppendContext(ctx context.Context, caseNumber int64, link string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		result, err := m.db.NewUpdate().
			Model((*types.Case)(nil)).
			Set("context = array_append(context, ?)", link).
			Where("case_number = ?", caseNumber).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to append context to case %d: %w", caseNumber, err)
		}

		return checkAffected(result, caseNumber)
	})
}

// CountInactiveBefore counts the inactive, unexpunged cases issued before cutoff.
func (m *CaseModel) CountInactiveBefore(ctx context.Context, cutoff time.Time, kinds []enum.ActionKind) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		query := m.db.NewSelect().Model((*types.Case)(nil))
		inactiveBefore(query.QueryBuilder(), cutoff, kinds)

		count, err := query.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count inactive cases: %w", err)
		}

		return count, nil
	})
}

// ExpungeInactiveBefore expunges every inactive case issued before cutoff.
// Active cases are never touched.
func (m *CaseModel) ExpungeInactiveBefore(
	ctx context.Context, cutoff time.Time, kinds []enum.ActionKind, record *types.EditRecord,
) (int64, error) {
	data, err := sonic.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("failed to encode expunge record: %w", err)
	}

	var affected int64

	err = dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		query := tx.NewUpdate().
			Model((*types.Case)(nil)).
			Set("expunged = ?::jsonb", string(data))
		inactiveBefore(query.QueryBuilder(), cutoff, kinds)

		result, err := query.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to expunge cases: %w", err)
		}

		affected, err = result.RowsAffected()

		return err
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("Expunged inactive cases",
		zap.Time("cutoff", cutoff),
		zap.Int64("count", affected))

	return affected, nil
}

// updateColumns writes the given columns of c to the row with the same case number.
func (m *CaseModel) updateColumns(ctx context.Context, c *types.Case, columns ...string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		result, err := m.db.NewUpdate().
			Model(c).
			Column(columns...).
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update case %d: %w", c.CaseNumber, err)
		}

		return checkAffected(result, c.CaseNumber)
	})
}

// applyFilter adds the filter conditions to a select query.
func applyFilter(query *bun.SelectQuery, filter types.CaseFilter) {
	if filter.SubjectID != 0 {
		query.Where("subject_id = ?", filter.SubjectID)
	}

	if filter.IssuerID != 0 {
		query.Where("issuer_id = ?", filter.IssuerID)
	}

	if len(filter.Kinds) > 0 {
		query.Where("action IN (?)", bun.In(filter.Kinds))
	}

	if !filter.Since.IsZero() {
		query.Where("issued_at >= ?", filter.Since)
	}

	if filter.ActiveOnly {
		query.Where("active")
	}

	if !filter.IncludeExpunged {
		query.Where("expunged IS NULL")
	}
}

func inactiveBefore(query bun.QueryBuilder, cutoff time.Time, kinds []enum.ActionKind) {
	query.Where("issued_at < ?", cutoff).
		Where("NOT active").
		Where("expunged IS NULL")

	if len(kinds) > 0 {
		query.Where("action IN (?)", bun.In(kinds))
	}
}

func checkAffected(result sql.Result, caseNumber int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%w: %d", types.ErrCaseNotFound, caseNumber)
	}

	return nil
}
