package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.Case)(nil),
			(*types.Counter)(nil),
		}

		for _, model := range models {
			if _, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		// Seed the allocator from any cases imported before the counter existed
		_, err := db.NewRaw(`
			INSERT INTO moderation_counters (id, value)
			SELECT ?, COALESCE(MAX(case_number), 0) FROM moderation_cases
			ON CONFLICT (id) DO NOTHING
		`, types.CaseNumberCounter).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed case number counter: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.Counter)(nil),
			(*types.Case)(nil),
		}

		for _, model := range models {
			if _, err := db.NewDropTable().
				Model(model).
				IfExists().
				Cascade().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table for %T: %w", model, err)
			}
		}

		return nil
	})
}
