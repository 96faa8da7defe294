package memberlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

type mockPermissionEvaluator struct {
	mock.Mock
}

func (m *mockPermissionEvaluator) HasChannelPermissionTo(ctx context.Context, guild *domain.Guild, channel *domain.Channel, member *domain.GuildMember, permission uint64) (bool, error) {
	args := m.Called(ctx, guild, channel, member, permission)
	return args.Bool(0), args.Error(1)
}

func (m *mockPermissionEvaluator) HasGuildPermissionTo(ctx context.Context, guild *domain.Guild, member *domain.GuildMember, permission uint64) (bool, error) {
	args := m.Called(ctx, guild, member, permission)
	return args.Bool(0), args.Error(1)
}

func allowAll() *mockPermissionEvaluator {
	perms := new(mockPermissionEvaluator)
	perms.On("HasChannelPermissionTo", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(true, nil)
	return perms
}

func testGuild() *domain.Guild {
	return &domain.Guild{
		ID:      "guild-1",
		OwnerID: "alice",
		Roles: []*domain.Role{
			{ID: "guild-1", Name: "@everyone", Permissions: domain.PermissionReadMessages},
			{ID: "mods", Name: "Mods", Position: 10, Hoist: true},
			{ID: "helpers", Name: "Helpers", Position: 5, Hoist: true},
		},
		Members: []*domain.GuildMember{
			{UserID: "alice", Username: "Alice", Roles: []domain.RoleID{"mods"}},
			{UserID: "bob", Username: "bob", Roles: []domain.RoleID{"mods"}},
			{UserID: "carol", Username: "Carol", Roles: []domain.RoleID{"helpers"}},
			{UserID: "dave", Username: "dave"},
			{UserID: "erin", Username: "Erin", Roles: []domain.RoleID{"mods"}},
		},
		Presences: map[domain.UserID]*domain.Presence{
			"alice": {UserID: "alice", Status: domain.StatusOnline},
			"bob":   {UserID: "bob", Status: domain.StatusIdle},
			"carol": {UserID: "carol", Status: domain.StatusOnline},
			"dave":  {UserID: "dave", Status: domain.StatusDND},
			// erin has no tracked presence and counts as offline
		},
	}
}

func testChannel() *domain.Channel {
	return &domain.Channel{ID: "chan-1", GuildID: "guild-1", Name: "general"}
}

func TestComputeSectionOrder(t *testing.T) {
	computed, err := Compute(context.Background(), allowAll(), testGuild(), testChannel(), false)
	require.NoError(t, err)

	// Hoisted groups by descending position, then online, then offline.
	assert.Equal(t, []domain.GroupItem{
		{ID: "mods", Count: 2},
		{ID: "helpers", Count: 1},
		{ID: domain.GroupOnline, Count: 1},
		{ID: domain.GroupOffline, Count: 1},
	}, computed.Groups)

	require.Len(t, computed.Items, 9)
	assert.Equal(t, "mods", computed.Items[0].Group.ID)
	assert.Equal(t, domain.UserID("alice"), computed.Items[1].Member.UserID)
	assert.Equal(t, domain.UserID("bob"), computed.Items[2].Member.UserID)
	assert.Equal(t, "helpers", computed.Items[3].Group.ID)
	assert.Equal(t, domain.UserID("carol"), computed.Items[4].Member.UserID)
	assert.Equal(t, domain.GroupOnline, computed.Items[5].Group.ID)
	assert.Equal(t, domain.UserID("dave"), computed.Items[6].Member.UserID)
	assert.Equal(t, domain.GroupOffline, computed.Items[7].Group.ID)
	assert.Equal(t, domain.UserID("erin"), computed.Items[8].Member.UserID)

	assert.Equal(t, 5, computed.MemberCount)
	assert.Equal(t, 4, computed.OnlineCount)
}

func TestComputeForcesOfflineStatus(t *testing.T) {
	guild := testGuild()
	guild.Presences["erin"] = &domain.Presence{UserID: "erin", Status: domain.StatusInvisible, Game: "secret"}

	computed, err := Compute(context.Background(), allowAll(), guild, testChannel(), false)
	require.NoError(t, err)

	offline := computed.Items[len(computed.Items)-1].Member
	require.NotNil(t, offline)
	assert.Equal(t, domain.UserID("erin"), offline.UserID)
	assert.Equal(t, domain.StatusOffline, offline.Status)
	assert.Empty(t, offline.Game)
}

func TestComputeSortsCaseInsensitively(t *testing.T) {
	guild := &domain.Guild{
		ID:    "guild-1",
		Roles: []*domain.Role{{ID: "guild-1", Permissions: domain.PermissionReadMessages}},
		Members: []*domain.GuildMember{
			{UserID: "u1", Username: "zeta"},
			{UserID: "u2", Username: "Alpha"},
			{UserID: "u3", Username: "beta"},
		},
		Presences: map[domain.UserID]*domain.Presence{
			"u1": {UserID: "u1", Status: domain.StatusOnline},
			"u2": {UserID: "u2", Status: domain.StatusOnline},
			"u3": {UserID: "u3", Status: domain.StatusOnline},
		},
	}

	computed, err := Compute(context.Background(), allowAll(), guild, testChannel(), false)
	require.NoError(t, err)

	require.Len(t, computed.Items, 4)
	assert.Equal(t, domain.UserID("u2"), computed.Items[1].Member.UserID)
	assert.Equal(t, domain.UserID("u3"), computed.Items[2].Member.UserID)
	assert.Equal(t, domain.UserID("u1"), computed.Items[3].Member.UserID)
}

func TestComputeFiltersByReadPermission(t *testing.T) {
	guild := testGuild()
	channel := testChannel()

	perms := new(mockPermissionEvaluator)
	perms.On("HasChannelPermissionTo", mock.Anything, guild, channel,
		mock.MatchedBy(func(m *domain.GuildMember) bool { return m.UserID == "alice" }),
		domain.PermissionReadMessages).
		Return(true, nil)
	perms.On("HasChannelPermissionTo", mock.Anything, guild, channel, mock.Anything, domain.PermissionReadMessages).
		Return(false, nil)

	computed, err := Compute(context.Background(), perms, guild, channel, false)
	require.NoError(t, err)

	assert.Equal(t, 1, computed.MemberCount)
	require.Len(t, computed.Items, 2)
	assert.Equal(t, domain.UserID("alice"), computed.Items[1].Member.UserID)
}

func TestComputeBypassSkipsPermissionChecks(t *testing.T) {
	perms := new(mockPermissionEvaluator)

	computed, err := Compute(context.Background(), perms, testGuild(), testChannel(), true)
	require.NoError(t, err)

	assert.Equal(t, 5, computed.MemberCount)
	perms.AssertNotCalled(t, "HasChannelPermissionTo",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestComputeOmitsEmptySections(t *testing.T) {
	guild := testGuild()
	// Everyone online: no offline group should appear.
	guild.Presences["erin"] = &domain.Presence{UserID: "erin", Status: domain.StatusOnline}

	computed, err := Compute(context.Background(), allowAll(), guild, testChannel(), false)
	require.NoError(t, err)

	for _, g := range computed.Groups {
		assert.NotEqual(t, domain.GroupOffline, g.ID)
	}
}
