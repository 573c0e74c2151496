package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Active case lookups by action (expiry restore, reconciliation)
			CREATE INDEX IF NOT EXISTS idx_moderation_cases_action_active
			ON moderation_cases (action, active);

			-- Per subject history, newest first
			CREATE INDEX IF NOT EXISTS idx_moderation_cases_subject_history
			ON moderation_cases (subject_id, issued_at DESC)
			WHERE expunged IS NULL;

			-- Active case lookup for a subject
			CREATE INDEX IF NOT EXISTS idx_moderation_cases_subject_action_active
			ON moderation_cases (subject_id, action, active);

			-- Statistics windows
			CREATE INDEX IF NOT EXISTS idx_moderation_cases_action_issued
			ON moderation_cases (action, issued_at DESC);

			CREATE INDEX IF NOT EXISTS idx_moderation_cases_issuer_issued
			ON moderation_cases (issuer_id, issued_at DESC);

			-- At most one active case per subject, action and role
			CREATE UNIQUE INDEX IF NOT EXISTS idx_moderation_cases_one_active
			ON moderation_cases (subject_id, action, COALESCE(role_id, 0))
			WHERE active;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create moderation case indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_moderation_cases_one_active;
			DROP INDEX IF EXISTS idx_moderation_cases_issuer_issued;
			DROP INDEX IF EXISTS idx_moderation_cases_action_issued;
			DROP INDEX IF EXISTS idx_moderation_cases_subject_action_active;
			DROP INDEX IF EXISTS idx_moderation_cases_subject_history;
			DROP INDEX IF EXISTS idx_moderation_cases_action_active;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop moderation case indexes: %w", err)
		}

		return nil
	})
}
