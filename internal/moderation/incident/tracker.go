// Package incident tracks how long the guild has gone without a moderation
// incident, keeping the figures in Redis so they survive restarts.
package incident

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"go.uber.org/zap"
)

const (
	lastKey   = "warden:incident:last"
	countsKey = "warden:incident:counts"
	gapsKey   = "warden:incident:gaps"

	// anyField holds the time of the most recent incident of any kind.
	anyField = "any"
)

// Gap buckets describe how long the guild went between two incidents.
var gapBuckets = []struct { //nolint:gochecknoglobals // -
	label string
	below time.Duration
}{
	{"<1 min", time.Minute},
	{"1-5 min", 5 * time.Minute},
	{"5-15 min", 15 * time.Minute},
	{"15-60 min", time.Hour},
	{"1-6 hrs", 6 * time.Hour},
	{"6-24 hrs", 24 * time.Hour},
	{"1+ day", 0},
}

// Summary is the incident history kept by the tracker.
type Summary struct {
	Last     time.Time // Zero when no incident was recorded
	LastKind enum.ActionKind
	PerKind  map[enum.ActionKind]time.Time
	Counts   map[enum.ActionKind]int64
	Gaps     map[string]int64
}

// Tracker records issued cases as incidents.
type Tracker struct {
	client  rueidis.Client
	ignored []enum.ActionKind
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a tracker. Cases of an ignored kind, such as staff notes,
// are not incidents.
func New(client rueidis.Client, ignored []enum.ActionKind, logger *zap.Logger) *Tracker {
	return &Tracker{
		client:  client,
		ignored: ignored,
		now:     time.Now,
		logger:  logger.Named("incident"),
	}
}

// WithClock replaces the time source used by DaysSinceLastIncident.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Subscribe records every issued case published on bus.
func (t *Tracker) Subscribe(bus *eventbus.Bus) func() {
	return bus.Subscribe(eventbus.IssueModeration, func(ctx context.Context, e eventbus.Event) error {
		return t.Record(ctx, e.Case)
	})
}

// Record stores c as the latest incident.
func (t *Tracker) Record(ctx context.Context, c *types.Case) error {
	if slices.Contains(t.ignored, c.Kind) {
		return nil
	}

	previous, err := t.lastAny(ctx)
	if err != nil {
		return err
	}

	at := strconv.FormatInt(c.IssuedAt.UnixMilli(), 10)
	cmds := rueidis.Commands{
		t.client.B().Hset().Key(lastKey).FieldValue().
			FieldValue(anyField, at).
			FieldValue(string(c.Kind), at).
			FieldValue(anyField+":kind", string(c.Kind)).
			Build(),
		t.client.B().Hincrby().Key(countsKey).Field(string(c.Kind)).Increment(1).Build(),
	}

	if !previous.IsZero() && c.IssuedAt.After(previous) {
		cmds = append(cmds, t.client.B().Hincrby().Key(gapsKey).Field(gapLabel(c.IssuedAt.Sub(previous))).Increment(1).Build())
	}

	for _, resp := range t.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to record incident for case %d: %w", c.CaseNumber, err)
		}
	}

	t.logger.Debug("Recorded incident",
		zap.Int64("caseNumber", c.CaseNumber),
		zap.String("kind", string(c.Kind)))

	return nil
}

// DaysSinceLastIncident returns the whole days since the latest incident.
// ok is false when no incident has been recorded.
func (t *Tracker) DaysSinceLastIncident(ctx context.Context) (days int, ok bool, err error) {
	last, err := t.lastAny(ctx)
	if err != nil || last.IsZero() {
		return 0, false, err
	}

	elapsed := t.now().Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}

	return int(elapsed / (24 * time.Hour)), true, nil
}

// Summary loads the full incident history.
func (t *Tracker) Summary(ctx context.Context) (*Summary, error) {
	resps := t.client.DoMulti(ctx,
		t.client.B().Hgetall().Key(lastKey).Build(),
		t.client.B().Hgetall().Key(countsKey).Build(),
		t.client.B().Hgetall().Key(gapsKey).Build(),
	)

	last, err := resps[0].AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to load last incidents: %w", err)
	}

	counts, err := resps[1].AsIntMap()
	if err != nil {
		return nil, fmt.Errorf("failed to load incident counts: %w", err)
	}

	gaps, err := resps[2].AsIntMap()
	if err != nil {
		return nil, fmt.Errorf("failed to load incident gaps: %w", err)
	}

	summary := &Summary{
		LastKind: enum.ActionKind(last[anyField+":kind"]),
		PerKind:  make(map[enum.ActionKind]time.Time),
		Counts:   make(map[enum.ActionKind]int64, len(counts)),
		Gaps:     gaps,
	}

	for field, value := range last {
		if field == anyField+":kind" {
			continue
		}

		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			t.logger.Warn("Ignoring malformed incident time", zap.String("field", field), zap.String("value", value))
			continue
		}

		if field == anyField {
			summary.Last = time.UnixMilli(ms).UTC()
			continue
		}

		summary.PerKind[enum.ActionKind(field)] = time.UnixMilli(ms).UTC()
	}

	for kind, count := range counts {
		summary.Counts[enum.ActionKind(kind)] = count
	}

	return summary, nil
}

func (t *Tracker) lastAny(ctx context.Context) (time.Time, error) {
	ms, err := t.client.Do(ctx, t.client.B().Hget().Key(lastKey).Field(anyField).Build()).AsInt64()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("failed to load last incident: %w", err)
	}

	return time.UnixMilli(ms).UTC(), nil
}

func gapLabel(gap time.Duration) string {
	for _, bucket := range gapBuckets {
		if bucket.below == 0 || gap < bucket.below {
			return bucket.label
		}
	}

	return gapBuckets[len(gapBuckets)-1].label
}
