package moderation_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/database/memory"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/clock"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/expiry"
	"github.com/robalyx/warden/internal/moderation/kind"
	"github.com/robalyx/warden/internal/moderation/kind/kindtest"
	"github.com/robalyx/warden/internal/moderation/lock"
	"github.com/robalyx/warden/internal/moderation/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	mutedRole     = 100
	voiceRole     = 200
	protectedRole = 300
	systemID      = 1
)

var (
	start     = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	moderator = moderation.Actor{ID: 5, Name: "mod"}
)

type harness struct {
	engine    *moderation.Engine
	store     *memory.Store
	platform  *kindtest.Platform
	clock     *clock.Manual
	bus       *eventbus.Bus
	scheduler *expiry.Scheduler
	notifier  *fakeNotifier
	locks     *lock.SubjectLocker
	events    *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (l *eventLog) record(_ context.Context, e eventbus.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)

	return nil
}

func (l *eventLog) byName(name eventbus.Name) []eventbus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []eventbus.Event
	for _, e := range l.events {
		if e.Name == name {
			out = append(out, e)
		}
	}

	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	directs []string
	audits  []moderation.AuditEntry
	closed  bool
}

func (n *fakeNotifier) SendDirect(_ context.Context, _ uint64, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return moderation.ErrDirectMessagesClosed
	}

	n.directs = append(n.directs, content)

	return nil
}

func (n *fakeNotifier) SendAudit(_ context.Context, entry moderation.AuditEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.audits = append(n.audits, entry)

	return nil
}

type fakeResponder struct {
	replies []string
	errors  []string
}

func (r *fakeResponder) Reply(_ context.Context, content string) error {
	r.replies = append(r.replies, content)
	return nil
}

func (r *fakeResponder) ReplyError(_ context.Context, content string) error {
	r.errors = append(r.errors, content)
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	clk := clock.NewManual(start)
	store := memory.New()
	platform := kindtest.NewPlatform()
	registry := kind.NewDefaultRegistry(platform, kind.Options{
		Roles: kind.Roles{Muted: mutedRole, Voice: voiceRole},
		Clock: clk,
	})
	bus := eventbus.New(logger)
	notifier := &fakeNotifier{}
	locks := lock.New()

	durable := registry.Filter(func(d kind.Descriptor) bool { return d.PersistModeration })
	scheduler := expiry.New(store, durable, clk, logger)

	engine := moderation.NewEngine(moderation.Params{
		Store:     store,
		Registry:  registry,
		Platform:  platform,
		Locks:     locks,
		Bus:       bus,
		Scheduler: scheduler,
		Notifier:  notifier,
		Clock:     clk,
		Logger:    logger,
	}, moderation.Options{
		System:             moderation.Actor{ID: systemID, Name: "System"},
		ProtectedRoleIDs:   []uint64{protectedRole},
		DuplicateWindow:    5 * time.Minute,
		NotifySubjects:     true,
		ApplyRetries:       2,
		ApplyRetryInterval: time.Millisecond,
	})
	scheduler.Start(t.Context(), engine)

	events := &eventLog{}
	bus.Subscribe(eventbus.IssueModeration, events.record)
	bus.Subscribe(eventbus.RevokeModeration, events.record)
	bus.Subscribe(eventbus.UpdateModeration, events.record)

	return &harness{
		engine:    engine,
		store:     store,
		platform:  platform,
		clock:     clk,
		bus:       bus,
		scheduler: scheduler,
		notifier:  notifier,
		locks:     locks,
		events:    events,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func issue(kindName enum.ActionKind, subject uint64) moderation.IssueRequest {
	return moderation.IssueRequest{
		Kind:        kindName,
		SubjectID:   subject,
		SubjectName: "subject",
		Issuer:      moderator,
	}
}

func TestBanScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()

	// Six earlier cases so the ban receives number 7.
	for i := range 6 {
		_, err := h.engine.Issue(ctx, issue(enum.ActionNote, uint64(1000+i)))
		require.NoError(t, err)
	}

	req := issue(enum.ActionBan, 42)
	req.Reason = ptr("spam")

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int64(7), c.CaseNumber)
	assert.Equal(t, enum.ActionBan, c.Kind)
	assert.True(t, c.Active)
	assert.Nil(t, c.Removed)
	assert.True(t, h.platform.Banned(42))

	stored, err := h.store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, c, stored)

	h.bus.Wait()

	issued := h.events.byName(eventbus.IssueModeration)
	require.Len(t, issued, 7)

	idx := slices.IndexFunc(issued, func(e eventbus.Event) bool { return e.Case.CaseNumber == 7 })
	require.NotEqual(t, -1, idx)
	assert.Equal(t, enum.ActionBan, issued[idx].Case.Kind)
	assert.Equal(t, "spam", issued[idx].Case.ReasonText())
	assert.Equal(t, moderator.ID, issued[idx].ActorID)
}

func TestMuteExpiresAfterDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	req := issue(enum.ActionMute, 9)
	req.Duration = "10m"

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)
	assert.True(t, h.platform.Member(9).HasRole(mutedRole))
	assert.Equal(t, []int64{c.CaseNumber}, h.scheduler.Pending())

	h.clock.Advance(9 * time.Minute)
	assert.True(t, h.platform.Member(9).HasRole(mutedRole))

	h.clock.Advance(time.Minute)
	h.bus.Wait()

	assert.False(t, h.platform.Member(9).HasRole(mutedRole))

	revoked := h.events.byName(eventbus.RevokeModeration)
	require.Len(t, revoked, 1)
	assert.Equal(t, c.CaseNumber, revoked[0].Case.CaseNumber)
	assert.False(t, revoked[0].Case.Active)
	require.NotNil(t, revoked[0].Case.Removed)
	assert.Equal(t, moderation.ExpiredReason, *revoked[0].Case.Removed.Reason)
	assert.Equal(t, uint64(systemID), revoked[0].Case.Removed.ActorID)

	// The timer must not fire again.
	h.clock.Advance(time.Hour)
	h.bus.Wait()
	assert.Len(t, h.events.byName(eventbus.RevokeModeration), 1)
	assert.Equal(t, 1, h.platform.Calls(kindtest.OpRemoveRole))
	assert.Empty(t, h.scheduler.Pending())
}

func TestRevokeCancelsPendingExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	req := issue(enum.ActionMute, 9)
	req.Duration = "1h"

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)

	revoked, err := h.engine.Revoke(ctx, moderation.RevokeRequest{
		Kind:      enum.ActionMute,
		SubjectID: 9,
		Actor:     moderator,
		Reason:    ptr("appeal"),
	})
	require.NoError(t, err)
	assert.Equal(t, c.CaseNumber, revoked.CaseNumber)
	assert.Empty(t, h.scheduler.Pending())

	h.clock.Advance(2 * time.Hour)
	h.bus.Wait()

	events := h.events.byName(eventbus.RevokeModeration)
	require.Len(t, events, 1)
	assert.Equal(t, "appeal", *events[0].Case.Removed.Reason)

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.Removed)
	assert.Equal(t, moderator.ID, stored.Removed.ActorID)
}

func TestConcurrentDuplicateIssueYieldsOneActiveCase(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	const attempts = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)

	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				ok++
			case errors.Is(err, moderation.ErrValidation):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, rejected)
	assert.Equal(t, 1, h.platform.Calls(kindtest.OpAddRole))

	active, err := h.store.ListActive(ctx, types.CaseFilter{SubjectID: 9})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, 0, h.locks.Len())
}

func TestCaseNumbersIncreaseAcrossSubjects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)

	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c, err := h.engine.Issue(ctx, issue(enum.ActionWarn, uint64(500+i)))
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			numbers = append(numbers, c.CaseNumber)
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, numbers)
}

func TestOnceOffNeverTouchesPlatform(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	for _, name := range []enum.ActionKind{enum.ActionWarn, enum.ActionNote, enum.ActionVoiceNote} {
		c, err := h.engine.Issue(ctx, issue(name, 9))
		require.NoError(t, err)
		assert.False(t, c.Active)
	}

	assert.Zero(t, h.platform.Mutations())
	assert.Empty(t, h.scheduler.Pending())

	// Only the warning is announced to the subject.
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	assert.Len(t, h.notifier.directs, 1)
	assert.Len(t, h.notifier.audits, 3)
}

func TestOnceOffRejectsDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	req := issue(enum.ActionWarn, 9)
	req.Duration = "1d"

	_, err := h.engine.Issue(t.Context(), req)
	require.ErrorIs(t, err, moderation.ErrValidation)
}

func TestRecentDuplicateOnceOffIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()

	_, err := h.engine.Issue(ctx, issue(enum.ActionWarn, 9))
	require.NoError(t, err)

	_, err = h.engine.Issue(ctx, issue(enum.ActionWarn, 9))
	require.ErrorIs(t, err, moderation.ErrValidation)

	h.clock.Advance(6 * time.Minute)

	_, err = h.engine.Issue(ctx, issue(enum.ActionWarn, 9))
	require.NoError(t, err)
}

func TestProtectedSubjectIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9, protectedRole)

	responder := &fakeResponder{}
	req := issue(enum.ActionMute, 9)
	req.Responder = responder

	_, err := h.engine.Issue(t.Context(), req)
	require.ErrorIs(t, err, moderation.ErrValidation)
	assert.Zero(t, h.platform.Mutations())
	require.Len(t, responder.errors, 1)
	assert.Contains(t, responder.errors[0], "protected")

	// Notes about protected members are still allowed.
	_, err = h.engine.Issue(t.Context(), issue(enum.ActionNote, 9))
	require.NoError(t, err)
}

func TestMalformedDurationIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9)

	req := issue(enum.ActionMute, 9)
	req.Duration = "10 fortnights"

	_, err := h.engine.Issue(t.Context(), req)
	require.ErrorIs(t, err, moderation.ErrValidation)
	assert.Zero(t, h.platform.Mutations())

	n, err := h.store.AllocateCaseNumber(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "no case number may be used by a rejected request")
}

func TestApplyFailurePersistsVoidRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	boom := errors.New("gateway timeout")
	h.platform.FailNext(kindtest.OpAddRole, boom, boom, boom)

	responder := &fakeResponder{}
	req := issue(enum.ActionMute, 9)
	req.Duration = "1h"
	req.Responder = responder

	c, err := h.engine.Issue(ctx, req)
	require.ErrorIs(t, err, moderation.ErrExternalApply)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, h.platform.Calls(kindtest.OpAddRole))
	require.Len(t, responder.errors, 1)

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.Removed)
	assert.Contains(t, *stored.Removed.Reason, "apply failed")

	active, err := h.store.FindActive(ctx, 9, enum.ActionMute, 0)
	require.NoError(t, err)
	assert.Nil(t, active)
	assert.Empty(t, h.scheduler.Pending())

	h.bus.Wait()
	assert.Empty(t, h.events.byName(eventbus.IssueModeration))
}

func TestEffectIsAppliedAfterCaseIsStored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	var stored *types.Case
	h.platform.BeforeCall(kindtest.OpAddRole, func() {
		stored, _ = h.store.FindActive(ctx, 9, enum.ActionMute, 0)
	})

	c, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, c.CaseNumber, stored.CaseNumber)
	assert.True(t, stored.Active)
}

func TestInterruptedIssueIsRepairedByReconciliation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9)

	// The process goes away after the case is stored but before the role lands.
	ctx, cancel := context.WithCancel(t.Context())
	h.platform.BeforeCall(kindtest.OpAddRole, cancel)
	h.platform.FailNext(kindtest.OpAddRole, context.Canceled)

	c, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.ErrorIs(t, err, context.Canceled)
	h.platform.BeforeCall(kindtest.OpAddRole, nil)

	reserved, err := h.store.FindActive(t.Context(), 9, enum.ActionMute, 0)
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, c.CaseNumber, reserved.CaseNumber)
	assert.NotContains(t, h.platform.Member(9).RoleIDs, uint64(mutedRole))

	checker := reconcile.New(h.store, h.engine.Registry(), h.engine, 1, zaptest.NewLogger(t))
	report, err := checker.CheckSubject(t.Context(), 9)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(reconcile.OutcomeReapplied))
	assert.Contains(t, h.platform.Member(9).RoleIDs, uint64(mutedRole))
}

func TestInstantApplyFailurePersistsVoidRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)
	h.platform.FailNext(kindtest.OpKick, kind.ErrRejected)

	c, err := h.engine.Issue(ctx, issue(enum.ActionKick, 9))
	require.ErrorIs(t, err, moderation.ErrExternalApply)

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	require.NotNil(t, stored.Removed)
	assert.NotNil(t, h.platform.Member(9))
}

func TestTransientApplyFailureIsRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9)
	h.platform.FailNext(kindtest.OpAddRole, errors.New("connection reset by peer"))

	c, err := h.engine.Issue(t.Context(), issue(enum.ActionMute, 9))
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.Equal(t, 2, h.platform.Calls(kindtest.OpAddRole))
}

func TestRejectedApplyIsNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9)
	h.platform.FailNext(kindtest.OpAddRole, kind.ErrRejected)

	_, err := h.engine.Issue(t.Context(), issue(enum.ActionMute, 9))
	require.ErrorIs(t, err, moderation.ErrExternalApply)
	assert.Equal(t, 1, h.platform.Calls(kindtest.OpAddRole))
}

func TestFailedRemoveLeavesCaseActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	c, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.NoError(t, err)

	h.platform.FailNext(kindtest.OpRemoveRole, kind.ErrRejected)

	_, err = h.engine.Revoke(ctx, moderation.RevokeRequest{Kind: enum.ActionMute, SubjectID: 9, Actor: moderator})
	require.ErrorIs(t, err, moderation.ErrExternalApply)

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Nil(t, stored.Removed)
}

func TestRevokeWithoutCase(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9, mutedRole)

	_, err := h.engine.Revoke(ctx, moderation.RevokeRequest{Kind: enum.ActionMute, SubjectID: 9, Actor: moderator})
	require.ErrorIs(t, err, moderation.ErrNotFound)
	assert.True(t, h.platform.Member(9).HasRole(mutedRole))

	c, err := h.engine.Revoke(ctx, moderation.RevokeRequest{
		Kind:         enum.ActionMute,
		SubjectID:    9,
		Actor:        moderator,
		AllowNoEntry: true,
	})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.False(t, h.platform.Member(9).HasRole(mutedRole))
}

func TestRevokeOnceOffIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.engine.Revoke(t.Context(), moderation.RevokeRequest{Kind: enum.ActionWarn, SubjectID: 9, Actor: moderator})
	require.ErrorIs(t, err, moderation.ErrValidation)
}

func TestInstantKindsNeverBecomeActive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9)

	c, err := h.engine.Issue(t.Context(), issue(enum.ActionKick, 9))
	require.NoError(t, err)
	assert.False(t, c.Active)
	assert.Nil(t, h.platform.Member(9))
	assert.Equal(t, 1, h.platform.Calls(kindtest.OpKick))

	// A kicked user cannot be kicked again.
	_, err = h.engine.Issue(t.Context(), issue(enum.ActionKick, 77))
	require.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestTryRevokeReportsBusySubject(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	c, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.NoError(t, err)

	unlock, err := h.locks.Lock(ctx, 9)
	require.NoError(t, err)

	_, err = h.engine.TryRevoke(ctx, c.CaseNumber, moderator, nil, nil)
	require.ErrorIs(t, err, moderation.ErrConcurrency)

	unlock()

	revoked, err := h.engine.TryRevoke(ctx, c.CaseNumber, moderator, nil, nil)
	require.NoError(t, err)
	assert.False(t, revoked.Active)

	_, err = h.engine.TryRevoke(ctx, c.CaseNumber, moderator, nil, nil)
	require.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestVoiceTakeRevokeRestoresVoice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9, voiceRole)

	_, err := h.engine.Issue(ctx, issue(enum.ActionVoiceTake, 9))
	require.NoError(t, err)
	assert.False(t, h.platform.Member(9).HasRole(voiceRole))

	_, err = h.engine.Revoke(ctx, moderation.RevokeRequest{Kind: enum.ActionVoiceTake, SubjectID: 9, Actor: moderator})
	require.NoError(t, err)
	assert.True(t, h.platform.Member(9).HasRole(voiceRole))
}

func TestRejoinReappliesPersistentKinds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	_, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.NoError(t, err)

	h.platform.RemoveMember(9)
	h.platform.AddMember(9)

	require.NoError(t, h.engine.OnMemberJoin(ctx, 9))
	assert.True(t, h.platform.Member(9).HasRole(mutedRole))
}

func TestTimeoutRequiresDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9)

	_, err := h.engine.Issue(t.Context(), issue(enum.ActionTimeout, 9))
	require.ErrorIs(t, err, moderation.ErrValidation)

	req := issue(enum.ActionTimeout, 9)
	req.Duration = "30d"
	_, err = h.engine.Issue(t.Context(), req)
	require.ErrorIs(t, err, moderation.ErrValidation)

	req.Duration = "1h"
	c, err := h.engine.Issue(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.Equal(t, start.Add(time.Hour), *h.platform.Member(9).TimeoutUntil)
}

func TestSelfModerationIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(moderator.ID)

	_, err := h.engine.Issue(t.Context(), issue(enum.ActionBan, moderator.ID))
	require.ErrorIs(t, err, moderation.ErrValidation)
}

func TestClosedDirectMessagesAreTolerated(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.platform.AddMember(9)
	h.notifier.closed = true

	c, err := h.engine.Issue(t.Context(), issue(enum.ActionMute, 9))
	require.NoError(t, err)
	assert.True(t, c.Active)
}
