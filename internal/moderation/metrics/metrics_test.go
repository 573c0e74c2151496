package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robalyx/warden/internal/database/memory"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func seed(t *testing.T, store *memory.Store, kind enum.ActionKind, active, expunged bool) *types.Case {
	t.Helper()

	n, err := store.AllocateCaseNumber(t.Context())
	require.NoError(t, err)

	c := &types.Case{
		CaseNumber: n,
		Kind:       kind,
		SubjectID:  uint64(100 + n),
		IssuedAt:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Active:     active,
	}

	if expunged {
		c.Expunged = &types.EditRecord{ActorID: 1}
	}

	require.NoError(t, store.Insert(t.Context(), c))

	return c
}

func TestRefreshSetsGauges(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(t, store, enum.ActionMute, true, false)
	seed(t, store, enum.ActionMute, false, false)
	seed(t, store, enum.ActionBan, true, true)
	seed(t, store, enum.ActionWarn, false, false)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, store, []enum.ActionKind{enum.ActionMute, enum.ActionBan, enum.ActionWarn, enum.ActionKick},
		zaptest.NewLogger(t))

	require.NoError(t, m.Refresh(t.Context()))

	expected := `
# HELP moderations_count Number of stored moderation cases, excluding expunged ones
# TYPE moderations_count gauge
moderations_count{kind="ban"} 0
moderations_count{kind="kick"} 0
moderations_count{kind="mute"} 2
moderations_count{kind="warn"} 1
# HELP active_moderations_count Number of moderation cases whose effect is in place
# TYPE active_moderations_count gauge
active_moderations_count{kind="ban"} 1
active_moderations_count{kind="kick"} 0
active_moderations_count{kind="mute"} 1
active_moderations_count{kind="warn"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"moderations_count", "active_moderations_count"))
}

func TestSubscribeCountsEvents(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, memory.New(), nil, logger)
	bus := eventbus.New(logger)
	unsubscribe := m.Subscribe(bus)

	expired := moderation.ExpiredReason
	manual := "appeal accepted"

	bus.Publish(t.Context(), eventbus.Event{Name: eventbus.IssueModeration, Case: &types.Case{Kind: enum.ActionMute}})
	bus.Publish(t.Context(), eventbus.Event{Name: eventbus.IssueModeration, Case: &types.Case{Kind: enum.ActionMute}})
	bus.Publish(t.Context(), eventbus.Event{
		Name: eventbus.RevokeModeration,
		Case: &types.Case{Kind: enum.ActionMute, Removed: &types.EditRecord{Reason: &expired}},
	})
	bus.Publish(t.Context(), eventbus.Event{
		Name: eventbus.RevokeModeration,
		Case: &types.Case{Kind: enum.ActionBan, Removed: &types.EditRecord{Reason: &manual}},
	})
	bus.Wait()

	unsubscribe()
	bus.Publish(t.Context(), eventbus.Event{Name: eventbus.IssueModeration, Case: &types.Case{Kind: enum.ActionMute}})
	bus.Wait()

	expected := `
# HELP moderations_issued_total Number of moderation cases issued since start
# TYPE moderations_issued_total counter
moderations_issued_total{kind="mute"} 2
# HELP moderations_revoked_total Number of moderation cases revoked since start
# TYPE moderations_revoked_total counter
moderations_revoked_total{cause="expired",kind="mute"} 1
moderations_revoked_total{cause="manual",kind="ban"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"moderations_issued_total", "moderations_revoked_total"))
}

func TestRecordFinding(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, memory.New(), nil, zaptest.NewLogger(t))

	m.RecordFinding(enum.ActionMute, "reapplied")
	m.RecordFinding(enum.ActionMute, "reapplied")
	m.RecordFinding(enum.ActionBan, "flagged")

	count, err := testutil.GatherAndCount(reg, "moderation_reconcile_findings_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
