package memberlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

// applyOps replays incremental ops against a flat list, the way a client
// maintains its local roster view.
func applyOps(list []domain.ListItem, ops []domain.ListOp) []domain.ListItem {
	out := make([]domain.ListItem, len(list))
	copy(out, list)
	for _, op := range ops {
		switch op.Op {
		case domain.ListOpDelete:
			out = append(out[:op.Index], out[op.Index+1:]...)
		case domain.ListOpInsert:
			out = append(out, domain.ListItem{})
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = *op.Item
		case domain.ListOpUpdate:
			out[op.Index] = *op.Item
		}
	}
	return out
}

func assertListsEqual(t *testing.T, want, got []domain.ListItem) {
	t.Helper()
	require.Equal(t, len(want), len(got), "list lengths differ")
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "item %d differs: want %+v, got %+v", i, want[i], got[i])
	}
}

func computeItems(t *testing.T, guild *domain.Guild) []domain.ListItem {
	t.Helper()
	computed, err := Compute(context.Background(), allowAll(), guild, testChannel(), false)
	require.NoError(t, err)
	return computed.Items
}

func TestDiffStatusChangeInPlace(t *testing.T) {
	guild := testGuild()
	before := computeItems(t, guild)

	// bob flips idle -> dnd: same group, same index.
	guild.Presences["bob"] = &domain.Presence{UserID: "bob", Status: domain.StatusDND}
	after := computeItems(t, guild)

	ops := diffMember(before, after, "bob")
	require.Len(t, ops, 1)
	assert.Equal(t, domain.ListOpUpdate, ops[0].Op)
	assert.Equal(t, 2, ops[0].Index)
	assert.Equal(t, domain.StatusDND, ops[0].Item.Member.Status)

	assertListsEqual(t, after, applyOps(before, ops))
}

func TestDiffMemberGoesOffline(t *testing.T) {
	guild := testGuild()
	before := computeItems(t, guild)

	// alice drops offline: leaves the mods group, joins the offline group.
	guild.Presences["alice"] = &domain.Presence{UserID: "alice", Status: domain.StatusOffline}
	after := computeItems(t, guild)

	ops := diffMember(before, after, "alice")
	assertListsEqual(t, after, applyOps(before, ops))

	// The mods marker shrinks rather than disappearing.
	var sawMarkerUpdate bool
	for _, op := range ops {
		if op.Op == domain.ListOpUpdate && op.Item != nil && op.Item.IsGroup() && op.Item.Group.ID == "mods" {
			sawMarkerUpdate = true
			assert.Equal(t, 1, op.Item.Group.Count)
		}
	}
	assert.True(t, sawMarkerUpdate)
}

func TestDiffLastMemberOfGroupLeaves(t *testing.T) {
	guild := testGuild()
	before := computeItems(t, guild)

	// carol is the only helper; removing her deletes the member then the
	// now-empty group marker.
	guild.Members = append(guild.Members[:2], guild.Members[3:]...)
	after := computeItems(t, guild)

	ops := diffMember(before, after, "carol")
	require.Len(t, ops, 2)
	assert.Equal(t, domain.ListOpDelete, ops[0].Op)
	assert.Equal(t, 4, ops[0].Index)
	assert.Equal(t, domain.ListOpDelete, ops[1].Op)
	assert.Equal(t, 3, ops[1].Index)

	assertListsEqual(t, after, applyOps(before, ops))
}

func TestDiffMemberJoins(t *testing.T) {
	guild := testGuild()
	before := computeItems(t, guild)

	guild.Members = append(guild.Members, &domain.GuildMember{UserID: "frank", Username: "Frank"})
	guild.Presences["frank"] = &domain.Presence{UserID: "frank", Status: domain.StatusOnline}
	after := computeItems(t, guild)

	ops := diffMember(before, after, "frank")
	assertListsEqual(t, after, applyOps(before, ops))
}

func TestDiffMemberJoinsNewGroup(t *testing.T) {
	guild := testGuild()
	// Remove dave so the online group does not exist beforehand.
	guild.Members = append(guild.Members[:3], guild.Members[4:]...)
	before := computeItems(t, guild)

	guild.Members = append(guild.Members, &domain.GuildMember{UserID: "frank", Username: "Frank"})
	guild.Presences["frank"] = &domain.Presence{UserID: "frank", Status: domain.StatusOnline}
	after := computeItems(t, guild)

	ops := diffMember(before, after, "frank")
	require.Len(t, ops, 2)
	assert.Equal(t, domain.ListOpInsert, ops[0].Op)
	require.NotNil(t, ops[0].Item.Group)
	assert.Equal(t, domain.GroupOnline, ops[0].Item.Group.ID)
	assert.Equal(t, domain.ListOpInsert, ops[1].Op)
	assert.Equal(t, domain.UserID("frank"), ops[1].Item.Member.UserID)

	assertListsEqual(t, after, applyOps(before, ops))
}

func TestDiffUntouchedMemberYieldsNothing(t *testing.T) {
	guild := testGuild()
	items := computeItems(t, guild)

	assert.Empty(t, diffMember(items, items, "nobody"))
}

func TestDiffReplaySequence(t *testing.T) {
	guild := testGuild()
	snapshot := computeItems(t, guild)

	steps := []func(){
		func() { guild.Presences["dave"] = &domain.Presence{UserID: "dave", Status: domain.StatusOffline} },
		func() {
			guild.Members = append(guild.Members, &domain.GuildMember{UserID: "frank", Username: "frank"})
			guild.Presences["frank"] = &domain.Presence{UserID: "frank", Status: domain.StatusOnline}
		},
		func() { guild.Presences["frank"] = &domain.Presence{UserID: "frank", Status: domain.StatusIdle, Game: "chess"} },
		func() { guild.Presences["alice"] = &domain.Presence{UserID: "alice", Status: domain.StatusInvisible} },
		func() { guild.Members = append(guild.Members[:1], guild.Members[2:]...) }, // bob leaves
	}
	users := []domain.UserID{"dave", "frank", "frank", "alice", "bob"}

	for i, step := range steps {
		step()
		after := computeItems(t, guild)
		ops := diffMember(snapshot, after, users[i])
		assertListsEqual(t, after, applyOps(snapshot, ops))
		snapshot = after
	}
}
