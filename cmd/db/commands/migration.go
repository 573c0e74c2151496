package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// MigrationCommands returns all migration-related commands.
func MigrationCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "init",
			Usage: "Initialize migration tables",
			Action: func(ctx context.Context, _ *cli.Command) error {
				return deps.Migrator.Init(ctx)
			},
		},
		{
			Name:   "migrate",
			Usage:  "Run pending migrations",
			Action: handleGroupChange(deps, "migrate", deps.Migrator.Migrate),
		},
		{
			Name:   "rollback",
			Usage:  "Rollback the last migration group",
			Action: handleGroupChange(deps, "rollback", deps.Migrator.Rollback),
		},
		{
			Name:   "status",
			Usage:  "Show migration status",
			Action: handleStatus(deps),
		},
		{
			Name:      "create",
			Usage:     "Create a new Go migration file",
			ArgsUsage: "NAME",
			Action:    handleCreate(deps),
		},
	}
}

// handleGroupChange runs a migrate or rollback while holding the migration lock.
func handleGroupChange(
	deps *CLIDependencies,
	verb string,
	change func(ctx context.Context, opts ...migrate.MigrationOption) (*migrate.MigrationGroup, error),
) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		if err := deps.Migrator.Lock(ctx); err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}
		defer deps.Migrator.Unlock(ctx) //nolint:errcheck // -

		group, err := change(ctx)
		if err != nil {
			return fmt.Errorf("%s failed: %w", verb, err)
		}

		if group.IsZero() {
			deps.Logger.Info("Nothing to do", zap.String("command", verb))
			return nil
		}

		deps.Logger.Info("Migration group changed",
			zap.String("command", verb),
			zap.String("group", group.String()),
			zap.Int("migrations", len(group.Migrations)))

		return nil
	}
}

// handleStatus prints applied and pending migrations.
func handleStatus(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		ms, err := deps.Migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return err
		}

		for _, m := range ms {
			if m.IsApplied() {
				fmt.Printf("  applied  %s (group %d, %s)\n", m.Name, m.GroupID, m.MigratedAt.Format(time.DateTime))
			} else {
				fmt.Printf("  pending  %s\n", m.Name)
			}
		}

		deps.Logger.Info("Migration status",
			zap.Int("total", len(ms)),
			zap.Int("unapplied", len(ms.Unapplied())),
			zap.String("last_group", ms.LastGroup().String()))

		return nil
	}
}

// handleCreate writes an empty Go migration named after the argument.
func handleCreate(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrNameRequired
		}

		mf, err := deps.Migrator.CreateGoMigration(ctx, c.Args().First())
		if err != nil {
			return err
		}

		fmt.Println(mf.Path)

		return nil
	}
}
