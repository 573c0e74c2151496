package discord_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	wardendiscord "github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/eventbus"
	"github.com/robalyx/warden/internal/moderation/kind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const guildID = 1

type sentMessage struct {
	channelID snowflake.ID
	message   discord.MessageCreate
}

// fakeAPI is an in-memory guild behind the REST surface the adapter uses.
type fakeAPI struct {
	mu         sync.Mutex
	members    map[snowflake.ID]*discord.Member
	bans       map[snowflake.ID]bool
	ownerID    snowflake.ID
	roles      []discord.Role
	mutateErr  error
	dmClosed   bool
	updates    []discord.MemberUpdate
	sent       []sentMessage
	guildCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		members: make(map[snowflake.ID]*discord.Member),
		bans:    make(map[snowflake.ID]bool),
	}
}

func restError(status, code int) error {
	return &rest.Error{
		Response: &http.Response{StatusCode: status, Status: http.StatusText(status)},
		Code:     rest.JSONErrorCode(code),
		Message:  "fake error",
	}
}

func (f *fakeAPI) GetMember(_, userID snowflake.ID, _ ...rest.RequestOpt) (*discord.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	member, ok := f.members[userID]
	if !ok {
		return nil, restError(http.StatusNotFound, 10007)
	}

	clone := *member

	return &clone, nil
}

func (f *fakeAPI) AddMemberRole(_, userID, roleID snowflake.ID, _ ...rest.RequestOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mutateErr != nil {
		return f.mutateErr
	}

	member := f.members[userID]
	member.RoleIDs = append(member.RoleIDs, roleID)

	return nil
}

func (f *fakeAPI) RemoveMemberRole(_, _, _ snowflake.ID, _ ...rest.RequestOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.mutateErr
}

func (f *fakeAPI) UpdateMember(
	_, _ snowflake.ID, update discord.MemberUpdate, _ ...rest.RequestOpt,
) (*discord.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mutateErr != nil {
		return nil, f.mutateErr
	}

	f.updates = append(f.updates, update)

	return &discord.Member{}, nil
}

func (f *fakeAPI) RemoveMember(_, userID snowflake.ID, _ ...rest.RequestOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.members, userID)

	return f.mutateErr
}

func (f *fakeAPI) AddBan(_, userID snowflake.ID, _ time.Duration, _ ...rest.RequestOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bans[userID] = true

	return f.mutateErr
}

func (f *fakeAPI) DeleteBan(_, userID snowflake.ID, _ ...rest.RequestOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.bans[userID] {
		return restError(http.StatusNotFound, 10026)
	}

	delete(f.bans, userID)

	return nil
}

func (f *fakeAPI) GetBan(_, userID snowflake.ID, _ ...rest.RequestOpt) (*discord.Ban, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.bans[userID] {
		return nil, restError(http.StatusNotFound, 10026)
	}

	return &discord.Ban{}, nil
}

func (f *fakeAPI) GetGuild(_ snowflake.ID, _ bool, _ ...rest.RequestOpt) (*discord.RestGuild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.guildCalls++

	return &discord.RestGuild{Guild: discord.Guild{ID: guildID, OwnerID: f.ownerID}}, nil
}

func (f *fakeAPI) GetRoles(_ snowflake.ID, _ ...rest.RequestOpt) ([]discord.Role, error) {
	return f.roles, nil
}

func (f *fakeAPI) CreateDMChannel(userID snowflake.ID, _ ...rest.RequestOpt) (*discord.DMChannel, error) {
	var channel discord.DMChannel

	raw := fmt.Sprintf(`{"id":"%d","type":1}`, 9000+uint64(userID))
	if err := json.Unmarshal([]byte(raw), &channel); err != nil {
		return nil, err
	}

	return &channel, nil
}

func (f *fakeAPI) CreateMessage(
	channelID snowflake.ID, message discord.MessageCreate, _ ...rest.RequestOpt,
) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dmClosed && channelID > 9000 {
		return nil, restError(http.StatusForbidden, 50007)
	}

	f.sent = append(f.sent, sentMessage{channelID: channelID, message: message})

	return &discord.Message{}, nil
}

func (f *fakeAPI) messagesTo(channelID snowflake.ID) []discord.MessageCreate {
	f.mu.Lock()
	defer f.mu.Unlock()

	var messages []discord.MessageCreate
	for _, sent := range f.sent {
		if sent.channelID == channelID {
			messages = append(messages, sent.message)
		}
	}

	return messages
}

func newPlatform(t *testing.T, api *fakeAPI) *wardendiscord.Platform {
	t.Helper()

	return wardendiscord.NewPlatform(api, guildID, nil, zaptest.NewLogger(t))
}

func TestResolveMember(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	nick := "Ally"
	until := time.Now().Add(time.Hour)
	api.ownerID = 7
	api.roles = []discord.Role{
		{ID: 500, Permissions: discord.PermissionAdministrator},
		{ID: 100, Permissions: discord.PermissionSendMessages},
	}
	api.members[42] = &discord.Member{
		User:                       discord.User{ID: 42, Username: "alice"},
		Nick:                       &nick,
		RoleIDs:                    []snowflake.ID{100},
		Mute:                       true,
		CommunicationDisabledUntil: &until,
	}
	api.members[43] = &discord.Member{
		User:    discord.User{ID: 43, Username: "bob", Bot: true},
		RoleIDs: []snowflake.ID{500},
	}
	api.members[7] = &discord.Member{User: discord.User{ID: 7, Username: "owner"}}

	platform := newPlatform(t, api)

	alice, err := platform.ResolveMember(t.Context(), 42)
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "Ally", alice.DisplayName)
	assert.True(t, alice.HasRole(100))
	assert.True(t, alice.ServerMuted)
	assert.True(t, alice.TimedOut(time.Now()))
	assert.False(t, alice.HasAdminPerms)
	assert.False(t, alice.IsGuildOwner)

	bob, err := platform.ResolveMember(t.Context(), 43)
	require.NoError(t, err)
	assert.Equal(t, "bob", bob.DisplayName)
	assert.True(t, bob.IsBot)
	assert.True(t, bob.HasAdminPerms)

	owner, err := platform.ResolveMember(t.Context(), 7)
	require.NoError(t, err)
	assert.True(t, owner.IsGuildOwner)

	absent, err := platform.ResolveMember(t.Context(), 99)
	require.NoError(t, err)
	assert.Nil(t, absent)

	assert.Equal(t, 1, api.guildCalls)
}

func TestPlatformErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{name: "missing permissions", err: restError(http.StatusForbidden, 50013), rejected: true},
		{name: "unknown role", err: restError(http.StatusNotFound, 10011), rejected: true},
		{name: "rate limited", err: restError(http.StatusTooManyRequests, 0), rejected: false},
		{name: "server error", err: restError(http.StatusBadGateway, 0), rejected: false},
		{name: "network error", err: context.DeadlineExceeded, rejected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI()
			api.members[42] = &discord.Member{User: discord.User{ID: 42}}
			api.mutateErr = tt.err

			err := newPlatform(t, api).AddRole(t.Context(), 42, 100, "test")
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, kind.ErrRejected))
		})
	}
}

func TestBanLifecycle(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	platform := newPlatform(t, api)

	banned, err := platform.IsBanned(t.Context(), 42)
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, platform.Ban(t.Context(), 42, time.Hour, "spam"))

	banned, err = platform.IsBanned(t.Context(), 42)
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, platform.Unban(t.Context(), 42, "appeal"))
	// A ban that is already gone is not an error.
	require.NoError(t, platform.Unban(t.Context(), 42, "appeal"))
}

func TestMemberUpdates(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	platform := newPlatform(t, api)
	until := time.Now().Add(time.Hour)

	require.NoError(t, platform.SetVoiceMute(t.Context(), 42, true, "loud"))
	require.NoError(t, platform.SetTimeout(t.Context(), 42, &until, "spam"))
	require.NoError(t, platform.SetTimeout(t.Context(), 42, nil, "lifted"))

	require.Len(t, api.updates, 3)
	require.NotNil(t, api.updates[0].Mute)
	assert.True(t, *api.updates[0].Mute)
	assert.NotNil(t, api.updates[1].CommunicationDisabledUntil)
	assert.NotNil(t, api.updates[2].CommunicationDisabledUntil)
	assert.Nil(t, api.updates[1].Mute)
}

func auditEntry(event eventbus.Name, k enum.ActionKind, desc kind.Descriptor) moderation.AuditEntry {
	reason := "spamming"
	duration := int64(time.Hour / time.Millisecond)

	return moderation.AuditEntry{
		Event: event,
		Case: &types.Case{
			CaseNumber:  12,
			Kind:        k,
			SubjectID:   42,
			SubjectName: "alice",
			IssuerID:    5,
			IssuerName:  "mod",
			Reason:      &reason,
			Duration:    &duration,
			IssuedAt:    time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
			Active:      event == eventbus.IssueModeration,
		},
		Descriptor: desc,
		Actor:      moderation.Actor{ID: 5, Name: "mod"},
	}
}

func TestSendAudit(t *testing.T) {
	t.Parallel()

	const staff, public = 800, 801

	muteDesc := kind.Descriptor{
		Kind: enum.ActionMute, PastParticiple: "muted", RevokedVerb: "unmuted", PersistModeration: true,
	}
	noteDesc := kind.Descriptor{Kind: enum.ActionNote, PastParticiple: "noted", OnceOff: true, StaffOnly: true}

	tests := []struct {
		name         string
		entry        moderation.AuditEntry
		publicPosts  int
		revokeButton bool
	}{
		{
			name:         "issue",
			entry:        auditEntry(eventbus.IssueModeration, enum.ActionMute, muteDesc),
			publicPosts:  1,
			revokeButton: true,
		},
		{
			name:        "revoke",
			entry:       auditEntry(eventbus.RevokeModeration, enum.ActionMute, muteDesc),
			publicPosts: 1,
		},
		{
			name:  "update stays in the staff log",
			entry: auditEntry(eventbus.UpdateModeration, enum.ActionMute, muteDesc),
		},
		{
			name:  "staff note stays in the staff log",
			entry: auditEntry(eventbus.IssueModeration, enum.ActionNote, noteDesc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI()
			notifier := wardendiscord.NewNotifier(api, wardendiscord.Channels{
				StaffActionLog:  staff,
				PublicActionLog: public,
			}, zaptest.NewLogger(t))

			require.NoError(t, notifier.SendAudit(t.Context(), tt.entry))

			staffPosts := api.messagesTo(staff)
			require.Len(t, staffPosts, 1)
			require.Len(t, staffPosts[0].Embeds, 1)
			assert.Contains(t, staffPosts[0].Embeds[0].Title, "Case #12")
			assert.Equal(t, tt.revokeButton, len(staffPosts[0].Components) > 0)

			assert.Len(t, api.messagesTo(public), tt.publicPosts)
		})
	}
}

func TestNotifierText(t *testing.T) {
	t.Parallel()

	notifier := wardendiscord.NewNotifier(newFakeAPI(), wardendiscord.Channels{}, zaptest.NewLogger(t))
	desc := kind.Descriptor{Kind: enum.ActionVoiceTake, PastParticiple: "voice taken", RevokedVerb: "given voice back"}

	revoke := auditEntry(eventbus.RevokeModeration, enum.ActionVoiceTake, desc)
	assert.Equal(t, "Voice Take Revoked | Case #12", notifier.Title(revoke))
	assert.Equal(t, "**Voice Take Revoked | Case #12**\n<@42> was given voice back.", notifier.PublicLine(revoke))

	issue := auditEntry(eventbus.IssueModeration, enum.ActionVoiceTake, desc)
	assert.Equal(t,
		"**Voice Take | Case #12**\n<@42> was voice taken for 1 hour.\nReason: spamming",
		notifier.PublicLine(issue))
}

func TestSendDirect(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	notifier := wardendiscord.NewNotifier(api, wardendiscord.Channels{}, zaptest.NewLogger(t))

	require.NoError(t, notifier.SendDirect(t.Context(), 42, "You have been muted."))
	require.Len(t, api.messagesTo(9042), 1)
	assert.Equal(t, "You have been muted.", api.messagesTo(9042)[0].Content)

	api.dmClosed = true
	err := notifier.SendDirect(t.Context(), 42, "again")
	require.ErrorIs(t, err, moderation.ErrDirectMessagesClosed)
}

func TestRevokeButtonID(t *testing.T) {
	t.Parallel()

	id := wardendiscord.RevokeButtonID(77)

	caseNumber, ok := wardendiscord.ParseRevokeButtonID(id)
	require.True(t, ok)
	assert.Equal(t, int64(77), caseNumber)

	for _, bad := range []string{"revoke_case:", "revoke_case:abc", "revoke_case:-3", "other:5"} {
		_, ok := wardendiscord.ParseRevokeButtonID(bad)
		assert.False(t, ok, bad)
	}
}
