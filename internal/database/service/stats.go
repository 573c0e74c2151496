package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"go.uber.org/zap"
)

// CaseCounter counts cases grouped by kind.
type CaseCounter interface {
	CountByKind(ctx context.Context, filter types.CaseFilter) (map[enum.ActionKind]int64, error)
}

// StatsWindow is a reporting period ending now. A zero Span means all time.
type StatsWindow struct {
	Label string
	Span  time.Duration
}

// DefaultStatsWindows are the periods shown in moderation statistics.
func DefaultStatsWindows() []StatsWindow {
	return []StatsWindow{
		{Label: "7 days", Span: 7 * 24 * time.Hour},
		{Label: "30 days", Span: 30 * 24 * time.Hour},
		{Label: "All time"},
	}
}

// WindowCounts holds case counts for one reporting period.
type WindowCounts struct {
	Window StatsWindow
	Counts map[enum.ActionKind]int64
	Total  int64
}

// StatsSummary is the moderation statistics for every window.
type StatsSummary struct {
	IssuerID    uint64 // 0 for all moderators
	GeneratedAt time.Time
	Windows     []WindowCounts
}

// StatsService aggregates moderation statistics. Expunged cases are excluded.
type StatsService struct {
	counter CaseCounter
	logger  *zap.Logger
	now     func() time.Time
}

// NewStats creates a new stats service.
func NewStats(counter CaseCounter, logger *zap.Logger) *StatsService {
	return &StatsService{
		counter: counter,
		logger:  logger.Named("stats_service"),
		now:     time.Now,
	}
}

// WithClock overrides the time source used to compute window boundaries.
func (s *StatsService) WithClock(now func() time.Time) *StatsService {
	s.now = now
	return s
}

// Summary computes case counts by kind for every default window.
// When issuerID is non-zero only cases issued by that moderator are counted.
func (s *StatsService) Summary(ctx context.Context, issuerID uint64) (*StatsSummary, error) {
	now := s.now()
	summary := &StatsSummary{
		IssuerID:    issuerID,
		GeneratedAt: now,
	}

	for _, window := range DefaultStatsWindows() {
		filter := types.CaseFilter{IssuerID: issuerID}
		if window.Span > 0 {
			filter.Since = now.Add(-window.Span)
		}

		counts, err := s.counter.CountByKind(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to count cases for %s: %w", window.Label, err)
		}

		var total int64
		for _, count := range counts {
			total += count
		}

		summary.Windows = append(summary.Windows, WindowCounts{
			Window: window,
			Counts: counts,
			Total:  total,
		})
	}

	s.logger.Debug("Computed moderation statistics",
		zap.Uint64("issuerID", issuerID),
		zap.Int("windows", len(summary.Windows)))

	return summary, nil
}
