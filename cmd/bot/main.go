package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/rest"
	"github.com/robalyx/warden/internal/bot"
	"github.com/robalyx/warden/internal/bot/commands"
	botEvents "github.com/robalyx/warden/internal/bot/events"
	"github.com/robalyx/warden/internal/moderation/incident"
	"github.com/robalyx/warden/internal/moderation/reconcile"
	"github.com/robalyx/warden/internal/redis"
	"github.com/robalyx/warden/internal/setup"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"github.com/robalyx/warden/internal/worker/status"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// BotLogDir specifies where bot log files are stored.
	BotLogDir = "logs/bot_logs"
	// CLILogDir specifies where one-shot command log files are stored.
	CLILogDir = "logs/cli_logs"
)

var ErrInvalidUserID = errors.New("invalid user id")

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "warden",
		Usage: "Moderation bot",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Connect to Discord and handle moderation commands",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "auto-migrate",
						Usage: "Apply pending database migrations without asking",
					},
				},
				Action: runBot,
			},
			{
				Name:  "reconcile",
				Usage: "Compare active cases with the guild once and repair drift",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "Only check this user id",
					},
				},
				Action: runReconcile,
			},
			{
				Name:  "stats",
				Usage: "Print moderation statistics",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "moderator",
						Usage: "Only count cases issued by this user id",
					},
				},
				Action: runStats,
			},
			{
				Name:   "status",
				Usage:  "List the status of running components",
				Action: runStatus,
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// runBot starts the bot and blocks until an interrupt signal arrives.
func runBot(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, telemetry.ServiceBot, BotLogDir, setup.Options{
		AutoMigrate: c.Bool("auto-migrate"),
		Interactive: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	cfg := app.Config.Bot
	logger := app.Logger
	timeout := telemetry.ServiceBot.GetRequestTimeout(app.Config)

	discordBot, err := bot.New(ctx, bot.Options{
		Token:          cfg.Discord.Token,
		GuildID:        cfg.Discord.GuildID,
		SyncCommands:   cfg.Discord.SyncCommands,
		RequestTimeout: timeout,
	}, logger)
	if err != nil {
		return err
	}

	rt, err := newRuntime(app, discordBot.Rest())
	if err != nil {
		return err
	}
	defer rt.bus.Wait()

	unsubscribeMetrics := rt.metrics.Subscribe(rt.bus)
	defer unsubscribeMetrics()

	unsubscribeIncidents := rt.incidents.Subscribe(rt.bus)
	defer unsubscribeIncidents()

	handler := commands.NewHandler(rt.engine, rt.store, app.DB.Service().Stats(), cfg.Roles.Moderators, logger).
		WithIncidents(rt.incidents)
	members := botEvents.NewMemberEventHandler(ctx, cfg.Discord.GuildID, rt.engine, rt.checker, timeout, logger)
	discordBot.Attach(handler, members)

	// Drift is repaired before any restored timer can fire
	report, err := rt.checker.CheckAll(ctx)
	if err != nil {
		logger.Warn("Startup reconciliation failed", zap.Error(err))
	} else {
		logReport(logger, report)
	}

	rt.scheduler.Start(ctx, rt.engine)
	defer rt.scheduler.Stop()

	restored, err := rt.scheduler.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore expiry timers: %w", err)
	}

	logger.Info("Expiry timers restored", zap.Int("count", restored))

	if err := discordBot.Start(ctx, rt.registry); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	defer discordBot.Close(context.WithoutCancel(ctx))

	rt.reporter.Start(ctx)
	defer rt.reporter.Stop(context.WithoutCancel(ctx))

	log.Println("Bot has been started. Waiting for interrupt signal to gracefully shutdown...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.checker.Run(gctx, cfg.Moderation.ReconcileEvery())
	})
	g.Go(func() error {
		return rt.metrics.Run(gctx, cfg.Moderation.StatsRefreshEvery())
	})

	if metricsCfg := app.Config.Common.Metrics; metricsCfg.Enabled {
		g.Go(func() error {
			return rt.metricsServe(gctx, metricsCfg.Addr, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Shutting down")

	return nil
}

// runReconcile performs one reconciliation pass over the REST API only.
func runReconcile(ctx context.Context, c *cli.Command) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, CLILogDir, setup.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	api := rest.New(rest.NewClient(app.Config.Bot.Discord.Token))

	rt, err := newRuntime(app, api)
	if err != nil {
		return err
	}
	defer rt.bus.Wait()
	defer rt.scheduler.Stop()

	var report *reconcile.Report

	if raw := c.String("user"); raw != "" {
		userID, err := parseUserID(raw)
		if err != nil {
			return err
		}

		report, err = rt.checker.CheckSubject(ctx, userID)
		if err != nil {
			return err
		}
	} else {
		report, err = rt.checker.CheckAll(ctx)
		if err != nil {
			return err
		}
	}

	logReport(app.Logger, report)

	fmt.Printf("Checked %d subjects in %s\n", report.Subjects, report.Duration.Round(time.Millisecond))

	for _, finding := range report.Findings {
		if finding.Outcome == reconcile.OutcomeMatch {
			continue
		}

		line := fmt.Sprintf("  %-10s user %d  %s", finding.Outcome, finding.SubjectID, finding.Kind)
		if finding.CaseNumber > 0 {
			line += fmt.Sprintf("  case #%d", finding.CaseNumber)
		}

		if finding.Err != nil {
			line += "  " + finding.Err.Error()
		}

		fmt.Println(line)
	}

	return nil
}

// runStats prints case counts and the incident history.
func runStats(ctx context.Context, c *cli.Command) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, CLILogDir, setup.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	var moderatorID uint64
	if raw := c.String("moderator"); raw != "" {
		if moderatorID, err = parseUserID(raw); err != nil {
			return err
		}
	}

	summary, err := app.DB.Service().Stats().Summary(ctx, moderatorID)
	if err != nil {
		return err
	}

	for _, line := range commands.FormatStats(summary) {
		fmt.Println(line)
	}

	incidentClient, err := app.RedisManager.GetClient(redis.IncidentDBIndex)
	if err != nil {
		return err
	}

	incidents, err := incident.New(incidentClient, nil, app.Logger).Summary(ctx)
	if err != nil {
		return err
	}

	if incidents.Last.IsZero() {
		fmt.Println("No incidents recorded")
		return nil
	}

	fmt.Printf("Last incident: %s (%s)\n", incidents.Last.Format(time.RFC3339), incidents.LastKind)

	for kind, count := range incidents.Counts {
		fmt.Printf("  %-12s %d\n", kind, count)
	}

	return nil
}

// runStatus lists every component heartbeat in Redis.
func runStatus(ctx context.Context, _ *cli.Command) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceCLI, CLILogDir, setup.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	statuses, err := status.NewMonitor(app.StatusClient, app.Logger).GetAllStatuses(ctx)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Println("No components are reporting")
		return nil
	}

	now := time.Now()
	for _, s := range statuses {
		state := "healthy"

		switch {
		case s.IsStale(now):
			state = "stale"
		case !s.IsHealthy:
			state = "unhealthy"
		}

		fmt.Printf("%-12s %-36s %-9s %3d%%  %s (seen %s ago)\n",
			s.ComponentType, s.ComponentID, state, s.Progress, s.CurrentTask,
			now.Sub(s.LastSeen).Round(time.Second))
	}

	return nil
}

func logReport(logger *zap.Logger, report *reconcile.Report) {
	logger.Info("Reconciliation finished",
		zap.Int("subjects", report.Subjects),
		zap.Int("reapplied", report.Count(reconcile.OutcomeReapplied)),
		zap.Int("flagged", report.Count(reconcile.OutcomeFlagged)),
		zap.Int("unmanaged", report.Count(reconcile.OutcomeUnmanaged)),
		zap.Int("failed", report.Count(reconcile.OutcomeFailed)),
		zap.Duration("duration", report.Duration))
}

func parseUserID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUserID, raw)
	}

	return id, nil
}
