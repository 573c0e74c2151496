package commands

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// CaseCommands returns the case maintenance commands.
func CaseCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:      "expunge-before",
			Usage:     "Expunge inactive cases issued before a time",
			ArgsUsage: "TIME",
			Description: `Hide old cases from history. Active cases are never expunged.

TIME accepts most common formats, for example:
  db expunge-before "2024-01-01"
  db expunge-before "2024-01-01 12:00:00"
  db expunge-before "2024-01-01T12:00:00+08:00" --kinds warn,note`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "kinds",
					Usage:   "Comma separated action kinds to limit the expunge to",
					Aliases: []string{"k"},
				},
				&cli.BoolFlag{
					Name:    "yes",
					Usage:   "Skip the confirmation prompt",
					Aliases: []string{"y"},
				},
			},
			Action: handleExpungeBefore(deps),
		},
		{
			Name:   "resync-counter",
			Usage:  "Raise the case number counter to the highest stored case",
			Action: handleResyncCounter(deps),
		},
		{
			Name:   "case-stats",
			Usage:  "Print stored and active case counts by kind",
			Action: handleCaseStats(deps),
		},
	}
}

// handleExpungeBefore expunges inactive cases older than the given time.
func handleExpungeBefore(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrTimeRequired
		}

		timeStr := c.Args().First()

		cutoff, err := dateparse.ParseIn(timeStr, time.UTC)
		if err != nil {
			return fmt.Errorf("failed to parse time %q: %w", timeStr, err)
		}

		kinds, err := parseKinds(c.String("kinds"))
		if err != nil {
			return err
		}

		cases := deps.DB.Model().Case()

		count, err := cases.CountInactiveBefore(ctx, cutoff, kinds)
		if err != nil {
			return err
		}

		if count == 0 {
			deps.Logger.Info("No inactive cases found before the cutoff", zap.Time("cutoff", cutoff))
			return nil
		}

		if !c.Bool("yes") {
			log.Printf("Are you sure you want to expunge %d cases issued before %s? (y/N)",
				count, cutoff.Format("2006-01-02 15:04:05 MST"))

			var response string

			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return ErrAborted
			}
		}

		reason := "Bulk expunge before " + cutoff.Format(time.RFC3339)

		affected, err := cases.ExpungeInactiveBefore(ctx, cutoff, kinds, &types.EditRecord{
			ActorName: "System",
			Timestamp: time.Now().UTC(),
			Reason:    &reason,
		})
		if err != nil {
			return err
		}

		deps.Logger.Info("Expunged cases",
			zap.Time("cutoff", cutoff),
			zap.Int64("affected", affected))

		return nil
	}
}

// handleResyncCounter repairs the case number counter.
func handleResyncCounter(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		value, err := deps.DB.Model().Counter().Resync(ctx, types.CaseNumberCounter)
		if err != nil {
			return err
		}

		fmt.Printf("Next case number: %d\n", value+1)

		return nil
	}
}

// handleCaseStats prints case counts by kind.
func handleCaseStats(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		cases := deps.DB.Model().Case()

		total, err := cases.CountByKind(ctx, types.CaseFilter{})
		if err != nil {
			return err
		}

		active, err := cases.CountByKind(ctx, types.CaseFilter{ActiveOnly: true, IncludeExpunged: true})
		if err != nil {
			return err
		}

		fmt.Printf("%-14s %8s %8s\n", "KIND", "STORED", "ACTIVE")

		for _, kind := range enum.AllActionKinds() {
			fmt.Printf("%-14s %8d %8d\n", kind, total[kind], active[kind])
		}

		return nil
	}
}

func parseKinds(raw string) ([]enum.ActionKind, error) {
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	kinds := make([]enum.ActionKind, 0, len(parts))

	for _, part := range parts {
		kind, err := enum.ParseActionKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}

		kinds = append(kinds, kind)
	}

	return kinds, nil
}
