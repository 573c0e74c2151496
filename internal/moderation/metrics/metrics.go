// Package metrics exports moderation counters and gauges to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"go.uber.org/zap"
)

// CaseCounter counts stored cases by kind.
type CaseCounter interface {
	CountByKind(ctx context.Context, filter types.CaseFilter) (map[enum.ActionKind]int64, error)
}

// Metrics holds the moderation collectors of one registry.
type Metrics struct {
	total    *prometheus.GaugeVec
	active   *prometheus.GaugeVec
	issued   *prometheus.CounterVec
	revoked  *prometheus.CounterVec
	findings *prometheus.CounterVec
	refresh  prometheus.Histogram
	store    CaseCounter
	kinds    []enum.ActionKind
	logger   *zap.Logger
}

// New registers the moderation collectors on reg. Gauges are reported for
// every kind in kinds, including those with no cases.
func New(reg prometheus.Registerer, store CaseCounter, kinds []enum.ActionKind, logger *zap.Logger) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		total: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moderations_count",
			Help: "Number of stored moderation cases, excluding expunged ones",
		}, []string{"kind"}),
		active: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "active_moderations_count",
			Help: "Number of moderation cases whose effect is in place",
		}, []string{"kind"}),
		issued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderations_issued_total",
			Help: "Number of moderation cases issued since start",
		}, []string{"kind"}),
		revoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderations_revoked_total",
			Help: "Number of moderation cases revoked since start",
		}, []string{"kind", "cause"}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moderation_reconcile_findings_total",
			Help: "Reconciliation findings by kind and outcome",
		}, []string{"kind", "outcome"}),
		refresh: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moderation_gauge_refresh_seconds",
			Help:    "Duration of moderation gauge refreshes",
			Buckets: prometheus.DefBuckets,
		}),
		store:  store,
		kinds:  kinds,
		logger: logger.Named("metrics"),
	}
}

// Subscribe counts issued and revoked cases published on bus. The returned
// function removes the subscriptions.
func (m *Metrics) Subscribe(bus *eventbus.Bus) func() {
	unsubIssue := bus.Subscribe(eventbus.IssueModeration, func(_ context.Context, e eventbus.Event) error {
		m.issued.WithLabelValues(string(e.Case.Kind)).Inc()
		return nil
	})

	unsubRevoke := bus.Subscribe(eventbus.RevokeModeration, func(_ context.Context, e eventbus.Event) error {
		m.revoked.WithLabelValues(string(e.Case.Kind), revokeCause(e.Case)).Inc()
		return nil
	})

	return func() {
		unsubIssue()
		unsubRevoke()
	}
}

// RecordFinding counts one reconciliation finding.
func (m *Metrics) RecordFinding(kind enum.ActionKind, outcome string) {
	m.findings.WithLabelValues(string(kind), outcome).Inc()
}

// Refresh recomputes the case gauges from the store.
func (m *Metrics) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() {
		m.refresh.Observe(time.Since(start).Seconds())
	}()

	total, err := m.store.CountByKind(ctx, types.CaseFilter{})
	if err != nil {
		return fmt.Errorf("failed to count cases: %w", err)
	}

	active, err := m.store.CountByKind(ctx, types.CaseFilter{ActiveOnly: true, IncludeExpunged: true})
	if err != nil {
		return fmt.Errorf("failed to count active cases: %w", err)
	}

	for _, kind := range m.kinds {
		m.total.WithLabelValues(string(kind)).Set(float64(total[kind]))
		m.active.WithLabelValues(string(kind)).Set(float64(active[kind]))
	}

	return nil
}

// Run refreshes the gauges immediately and then on every interval until ctx is done.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			m.logger.Warn("Failed to refresh moderation gauges", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down metrics server", zap.Error(err))
		}
	}()

	logger.Info("Metrics server listening", zap.String("addr", addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}

func revokeCause(c *types.Case) string {
	if c.Removed != nil && c.Removed.Reason != nil && *c.Removed.Reason == moderation.ExpiredReason {
		return "expired"
	}

	return "manual"
}
