package moderation_test

import (
	"testing"
	"time"

	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/kind"
	"github.com/robalyx/warden/internal/moderation/kind/kindtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateDurationExtendsExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	req := issue(enum.ActionMute, 9)
	req.Duration = "10m"

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)

	updated, err := h.engine.UpdateDuration(ctx, c.CaseNumber, moderator, "1h")
	require.NoError(t, err)
	require.NotNil(t, updated.Duration)
	assert.Equal(t, (65 * time.Minute).Milliseconds(), *updated.Duration)

	due, ok := h.scheduler.Due(c.CaseNumber)
	require.True(t, ok)
	assert.Equal(t, start.Add(65*time.Minute), due)

	// The original due time passes without revoking.
	h.clock.Advance(10 * time.Minute)
	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.True(t, stored.Active)

	h.clock.Advance(50 * time.Minute)
	stored, err = h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.False(t, h.platform.Member(9).HasRole(mutedRole))
}

func TestUpdateDurationToIndefiniteCancelsTimer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	req := issue(enum.ActionMute, 9)
	req.Duration = "10m"

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)

	updated, err := h.engine.UpdateDuration(ctx, c.CaseNumber, moderator, "perm")
	require.NoError(t, err)
	assert.Nil(t, updated.Duration)
	assert.Empty(t, h.scheduler.Pending())

	h.clock.Advance(time.Hour)

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestUpdateDurationRejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	warn, err := h.engine.Issue(ctx, issue(enum.ActionWarn, 9))
	require.NoError(t, err)

	_, err = h.engine.UpdateDuration(ctx, warn.CaseNumber, moderator, "1h")
	require.ErrorIs(t, err, moderation.ErrValidation)

	mute, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.NoError(t, err)

	_, err = h.engine.Revoke(ctx, moderation.RevokeRequest{Kind: enum.ActionMute, SubjectID: 9, Actor: moderator})
	require.NoError(t, err)

	_, err = h.engine.UpdateDuration(ctx, mute.CaseNumber, moderator, "1h")
	require.ErrorIs(t, err, moderation.ErrValidation)

	_, err = h.engine.UpdateDuration(ctx, 999, moderator, "1h")
	require.ErrorIs(t, err, moderation.ErrNotFound)
}

func TestRefusedTimeoutUpdateKeepsOldDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	req := issue(enum.ActionTimeout, 9)
	req.Duration = "10m"

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)

	h.platform.FailNext(kindtest.OpSetTimeout, kind.ErrRejected)

	_, err = h.engine.UpdateDuration(ctx, c.CaseNumber, moderator, "1h")
	require.ErrorIs(t, err, moderation.ErrExternalApply)

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	require.NotNil(t, stored.Duration)
	assert.Equal(t, (10 * time.Minute).Milliseconds(), *stored.Duration)
	assert.Equal(t, start.Add(10*time.Minute), *h.platform.Member(9).TimeoutUntil)

	due, ok := h.scheduler.Due(c.CaseNumber)
	require.True(t, ok)
	assert.Equal(t, start.Add(10*time.Minute), due)
}

func TestTimeoutUpdateMovesPlatformEndTime(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	req := issue(enum.ActionTimeout, 9)
	req.Duration = "10m"

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)

	updated, err := h.engine.UpdateDuration(ctx, c.CaseNumber, moderator, "1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour.Milliseconds(), *updated.Duration)
	assert.Equal(t, start.Add(time.Hour), *h.platform.Member(9).TimeoutUntil)

	due, ok := h.scheduler.Due(c.CaseNumber)
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Hour), due)
}

func TestTimeoutUpdateBeyondPlatformLimitIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	req := issue(enum.ActionTimeout, 9)
	req.Duration = "1h"

	c, err := h.engine.Issue(ctx, req)
	require.NoError(t, err)

	_, err = h.engine.UpdateDuration(ctx, c.CaseNumber, moderator, "40d")
	require.ErrorIs(t, err, moderation.ErrValidation)
	assert.Equal(t, 1, h.platform.Calls(kindtest.OpSetTimeout))

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, time.Hour.Milliseconds(), *stored.Duration)

	_, err = h.engine.UpdateDuration(ctx, c.CaseNumber, moderator, "28d")
	require.NoError(t, err)
}

func TestUpdateReasonPublishesUpdate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()

	c, err := h.engine.Issue(ctx, issue(enum.ActionWarn, 9))
	require.NoError(t, err)

	updated, err := h.engine.UpdateReason(ctx, c.CaseNumber, moderator, ptr("spamming invites"))
	require.NoError(t, err)
	assert.Equal(t, "spamming invites", updated.ReasonText())

	stored, err := h.store.Get(ctx, c.CaseNumber)
	require.NoError(t, err)
	assert.Equal(t, "spamming invites", stored.ReasonText())

	h.bus.Wait()

	events := h.events.byName(eventbus.UpdateModeration)
	require.Len(t, events, 1)
	assert.Equal(t, c.CaseNumber, events[0].Case.CaseNumber)
}

func TestExpungeKeepsEffect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()
	h.platform.AddMember(9)

	c, err := h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.NoError(t, err)

	expunged, err := h.engine.Expunge(ctx, c.CaseNumber, moderator, ptr("issued by mistake"))
	require.NoError(t, err)
	require.NotNil(t, expunged.Expunged)
	assert.True(t, expunged.Active)
	assert.True(t, h.platform.Member(9).HasRole(mutedRole))

	_, err = h.engine.Expunge(ctx, c.CaseNumber, moderator, nil)
	require.ErrorIs(t, err, moderation.ErrValidation)

	// Expunged cases still block a second active case.
	_, err = h.engine.Issue(ctx, issue(enum.ActionMute, 9))
	require.ErrorIs(t, err, moderation.ErrValidation)
}

func TestAddContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := t.Context()

	c, err := h.engine.Issue(ctx, issue(enum.ActionWarn, 9))
	require.NoError(t, err)

	_, err = h.engine.AddContext(ctx, c.CaseNumber, moderator, "")
	require.ErrorIs(t, err, moderation.ErrValidation)

	updated, err := h.engine.AddContext(ctx, c.CaseNumber, moderator, "https://discord.com/channels/1/2/3")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://discord.com/channels/1/2/3"}, updated.Context)
}
