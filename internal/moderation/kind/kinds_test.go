package kind_test

import (
	"errors"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation/clock"
	"github.com/robalyx/warden/internal/moderation/kind"
	"github.com/robalyx/warden/internal/moderation/kind/kindtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mutedRole = 100
	voiceRole = 200
	subject   = 42
)

func newRegistry(t *testing.T) (*kind.Registry, *kindtest.Platform, *clock.Manual) {
	t.Helper()

	platform := kindtest.NewPlatform()
	clk := clock.NewManual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	registry := kind.NewDefaultRegistry(platform, kind.Options{
		Roles: kind.Roles{Muted: mutedRole, Voice: voiceRole},
		Clock: clk,
	})

	return registry, platform, clk
}

func caseFor(k enum.ActionKind) *types.Case {
	return &types.Case{CaseNumber: 1, Kind: k, SubjectID: subject, IssuedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestRegistryContainsEveryKind(t *testing.T) {
	t.Parallel()

	registry, _, _ := newRegistry(t)

	for _, name := range enum.AllActionKinds() {
		k, err := registry.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, k.Descriptor().Kind)
		assert.NotEmpty(t, k.Descriptor().PastParticiple)
	}

	_, err := registry.Get("launch")
	require.ErrorIs(t, err, kind.ErrUnsupportedKind)
}

func TestDescriptorFlags(t *testing.T) {
	t.Parallel()

	registry, _, _ := newRegistry(t)

	tests := []struct {
		kind          enum.ActionKind
		effectBearing bool
		persist       bool
		rejoin        bool
	}{
		{enum.ActionMute, true, true, true},
		{enum.ActionBan, true, true, false},
		{enum.ActionRolepersist, true, true, true},
		{enum.ActionVoiceTake, true, true, true},
		{enum.ActionVoiceMute, true, true, false},
		{enum.ActionTimeout, true, true, false},
		{enum.ActionKick, false, false, false},
		{enum.ActionSoftban, false, false, false},
		{enum.ActionWarn, false, false, false},
		{enum.ActionNote, false, false, false},
		{enum.ActionVoiceNote, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			k, err := registry.Get(tt.kind)
			require.NoError(t, err)

			desc := k.Descriptor()
			assert.Equal(t, tt.effectBearing, desc.EffectBearing())
			assert.Equal(t, tt.persist, desc.PersistModeration)
			assert.Equal(t, tt.rejoin, desc.ReapplyOnRejoin)
		})
	}
}

func TestMuteApplyRemoveProbe(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)
	platform.AddMember(subject)

	mute, err := registry.Get(enum.ActionMute)
	require.NoError(t, err)

	ctx := t.Context()
	c := caseFor(enum.ActionMute)

	state, err := mute.Probe(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, kind.StateAbsent, state)

	require.NoError(t, mute.Apply(ctx, c))
	require.NoError(t, mute.Apply(ctx, c))
	assert.Equal(t, 1, platform.Calls(kindtest.OpAddRole))
	assert.True(t, platform.Member(subject).HasRole(mutedRole))

	state, err = mute.Probe(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, kind.StatePresent, state)

	require.NoError(t, mute.Remove(ctx, c))
	require.NoError(t, mute.Remove(ctx, c))
	assert.Equal(t, 1, platform.Calls(kindtest.OpRemoveRole))
}

func TestMuteOfAbsentMemberIsDeferred(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)

	mute, err := registry.Get(enum.ActionMute)
	require.NoError(t, err)

	require.NoError(t, mute.Apply(t.Context(), caseFor(enum.ActionMute)))
	assert.Zero(t, platform.Mutations())

	state, err := mute.Probe(t.Context(), caseFor(enum.ActionMute))
	require.NoError(t, err)
	assert.Equal(t, kind.StateUnknown, state)
}

func TestVoiceTakeRevokeGrantsRole(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)
	platform.AddMember(subject, voiceRole)

	take, err := registry.Get(enum.ActionVoiceTake)
	require.NoError(t, err)

	ctx := t.Context()
	c := caseFor(enum.ActionVoiceTake)

	require.NoError(t, take.Apply(ctx, c))
	assert.False(t, platform.Member(subject).HasRole(voiceRole))

	state, err := take.Probe(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, kind.StatePresent, state)

	require.NoError(t, take.Remove(ctx, c))
	assert.True(t, platform.Member(subject).HasRole(voiceRole))
	assert.Equal(t, 1, platform.Calls(kindtest.OpAddRole))
}

func TestRolepersistUsesCaseRole(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)
	platform.AddMember(subject)

	rp, err := registry.Get(enum.ActionRolepersist)
	require.NoError(t, err)

	c := caseFor(enum.ActionRolepersist)
	c.RoleID = 555

	require.NoError(t, rp.Apply(t.Context(), c))
	assert.True(t, platform.Member(subject).HasRole(555))
	assert.False(t, platform.Member(subject).HasRole(mutedRole))
}

func TestBanIsIdempotent(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)

	ban, err := registry.Get(enum.ActionBan)
	require.NoError(t, err)

	ctx := t.Context()
	c := caseFor(enum.ActionBan)

	require.NoError(t, ban.Apply(ctx, c))
	require.NoError(t, ban.Apply(ctx, c))
	assert.Equal(t, 1, platform.Calls(kindtest.OpBan))

	require.NoError(t, ban.Remove(ctx, c))
	require.NoError(t, ban.Remove(ctx, c))
	assert.Equal(t, 1, platform.Calls(kindtest.OpUnban))
	assert.False(t, platform.Banned(subject))
}

func TestSoftbanBansThenUnbans(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)
	platform.AddMember(subject)

	softban, err := registry.Get(enum.ActionSoftban)
	require.NoError(t, err)

	require.NoError(t, softban.Apply(t.Context(), caseFor(enum.ActionSoftban)))
	assert.Equal(t, 1, platform.Calls(kindtest.OpBan))
	assert.Equal(t, 1, platform.Calls(kindtest.OpUnban))
	assert.False(t, platform.Banned(subject))
	assert.Nil(t, platform.Member(subject))
}

func TestKickNeedsMember(t *testing.T) {
	t.Parallel()

	registry, _, _ := newRegistry(t)

	kick, err := registry.Get(enum.ActionKick)
	require.NoError(t, err)

	err = kick.Apply(t.Context(), caseFor(enum.ActionKick))
	require.ErrorIs(t, err, kind.ErrSubjectAbsent)
}

func TestTimeoutClampsToPlatformLimit(t *testing.T) {
	t.Parallel()

	registry, platform, clk := newRegistry(t)
	platform.AddMember(subject)

	timeout, err := registry.Get(enum.ActionTimeout)
	require.NoError(t, err)

	c := caseFor(enum.ActionTimeout)
	long := (60 * 24 * time.Hour).Milliseconds()
	c.Duration = &long

	require.NoError(t, timeout.Apply(t.Context(), c))

	until := platform.Member(subject).TimeoutUntil
	require.NotNil(t, until)
	assert.Equal(t, clk.Now().Add(kind.MaxTimeout), *until)

	state, err := timeout.Probe(t.Context(), c)
	require.NoError(t, err)
	assert.Equal(t, kind.StatePresent, state)

	require.NoError(t, timeout.Remove(t.Context(), c))
	assert.Nil(t, platform.Member(subject).TimeoutUntil)
}

func TestOnceOffNeverTouchesPlatform(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)
	platform.AddMember(subject)

	for _, name := range []enum.ActionKind{enum.ActionWarn, enum.ActionNote, enum.ActionVoiceNote} {
		k, err := registry.Get(name)
		require.NoError(t, err)

		require.NoError(t, k.Apply(t.Context(), caseFor(name)))
		require.NoError(t, k.Remove(t.Context(), caseFor(name)))

		state, err := k.Probe(t.Context(), caseFor(name))
		require.NoError(t, err)
		assert.Equal(t, kind.StateUnknown, state)
	}

	assert.Zero(t, platform.Mutations())
}

func TestPlatformErrorsPropagate(t *testing.T) {
	t.Parallel()

	registry, platform, _ := newRegistry(t)
	platform.AddMember(subject)

	boom := errors.New("rate limited")
	platform.FailNext(kindtest.OpAddRole, boom)

	mute, err := registry.Get(enum.ActionMute)
	require.NoError(t, err)

	err = mute.Apply(t.Context(), caseFor(enum.ActionMute))
	require.ErrorIs(t, err, boom)
}
