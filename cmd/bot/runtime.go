package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robalyx/warden/internal/database/service"
	wardendiscord "github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/discord/rate"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/expiry"
	"github.com/robalyx/warden/internal/moderation/incident"
	"github.com/robalyx/warden/internal/moderation/kind"
	"github.com/robalyx/warden/internal/moderation/metrics"
	"github.com/robalyx/warden/internal/moderation/reconcile"
	"github.com/robalyx/warden/internal/redis"
	"github.com/robalyx/warden/internal/setup"
	"github.com/robalyx/warden/internal/worker/status"
	"go.uber.org/zap"
)

const (
	// probeInterval spaces out member and ban lookups made by reconciliation.
	probeInterval = 250 * time.Millisecond
	probeJitter   = 50 * time.Millisecond

	reconcilerComponent = "reconciler"
)

// runtime holds the moderation components shared by every command.
type runtime struct {
	store     *service.CaseService
	registry  *kind.Registry
	bus       *eventbus.Bus
	engine    *moderation.Engine
	scheduler *expiry.Scheduler
	checker   *reconcile.Checker
	reporter  *status.Reporter
	metrics   *metrics.Metrics
	gatherer  *prometheus.Registry
	incidents *incident.Tracker
}

// newRuntime builds the engine and its collaborators on top of the Discord REST API.
func newRuntime(app *setup.App, api wardendiscord.API) (*runtime, error) {
	cfg := app.Config.Bot
	retry := app.Config.Common.Retry
	logger := app.Logger

	platform := wardendiscord.NewPlatform(api, cfg.Discord.GuildID, rate.New(probeInterval, probeJitter), logger)
	notifier := wardendiscord.NewNotifier(api, wardendiscord.Channels{
		StaffActionLog:  cfg.Channels.StaffActionLog,
		PublicActionLog: cfg.Channels.PublicActionLog,
	}, logger)

	registry := kind.NewDefaultRegistry(platform, kind.Options{
		Roles: kind.Roles{
			Muted: cfg.Roles.Muted,
			Voice: cfg.Roles.Voice,
		},
		SoftbanDeleteWindow: cfg.Moderation.SoftbanDeleteWindow(),
	})

	store := app.DB.Service().Case()
	bus := eventbus.New(logger)

	engine := moderation.NewEngine(moderation.Params{
		Store:    store,
		Registry: registry,
		Platform: platform,
		Bus:      bus,
		Notifier: notifier,
		Logger:   logger,
	}, moderation.Options{
		ProtectedUserIDs:    cfg.Moderation.ProtectedUsers,
		ProtectedRoleIDs:    cfg.Roles.Protected,
		DuplicateWindow:     cfg.Moderation.DuplicateWindowDuration(),
		NotifySubjects:      cfg.Moderation.NotifySubjects,
		ApplyRetries:        retry.MaxRetries,
		ApplyRetryInterval:  time.Duration(retry.Delay) * time.Millisecond,
		ApplyRetryMaxWindow: time.Duration(retry.MaxDelay) * time.Millisecond,
	})

	scheduler := expiry.New(store, registry.Filter(func(d kind.Descriptor) bool {
		return d.PersistModeration
	}), nil, logger)
	engine.SetScheduler(scheduler)

	incidentClient, err := app.RedisManager.GetClient(redis.IncidentDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident redis client: %w", err)
	}

	incidents := incident.New(incidentClient, registry.Filter(func(d kind.Descriptor) bool {
		return d.StaffOnly
	}), logger)

	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	allKinds := registry.Filter(func(kind.Descriptor) bool { return true })
	m := metrics.New(gatherer, store, allKinds, logger)

	reporter := status.NewReporter(app.StatusClient, reconcilerComponent, app.LogManager.GetInstanceID(), logger)
	checker := reconcile.New(store, registry, engine, cfg.Moderation.ProbeConcurrency, logger).
		WithRecorder(m).
		WithStatusReporter(reporter)

	return &runtime{
		store:     store,
		registry:  registry,
		bus:       bus,
		engine:    engine,
		scheduler: scheduler,
		checker:   checker,
		reporter:  reporter,
		metrics:   m,
		gatherer:  gatherer,
		incidents: incidents,
	}, nil
}

// metricsServe exposes the runtime's collectors until ctx is done.
func (rt *runtime) metricsServe(ctx context.Context, addr string, logger *zap.Logger) error {
	return metrics.Serve(ctx, addr, rt.gatherer, logger)
}
