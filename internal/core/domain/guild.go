package domain

import "time"

type GuildID string
type ChannelID string
type UserID string
type RoleID string
type OverwriteID string

// Permission bits consulted by this module. The full permission set lives
// with the REST side; only read access matters for list computation.
const (
	PermissionReadMessages uint64 = 1 << 10
	PermissionConnect      uint64 = 1 << 20
	PermissionSpeak        uint64 = 1 << 21
)

// Guild is an immutable snapshot of a guild as seen by the realtime layer.
// Presences ride along with the snapshot so list computation stays a pure
// function of (snapshot, ranges).
type Guild struct {
	ID        GuildID
	Name      string
	OwnerID   UserID
	Roles     []*Role
	Members   []*GuildMember
	Presences map[UserID]*Presence
}

type Role struct {
	ID          RoleID
	Name        string
	Position    int
	Hoist       bool
	Permissions uint64
}

type GuildMember struct {
	UserID   UserID
	Username string
	Roles    []RoleID
	JoinedAt time.Time
}

// EveryoneRole returns the default role. Its id equals the guild id.
func (g *Guild) EveryoneRole() *Role {
	for _, r := range g.Roles {
		if r.ID == RoleID(g.ID) {
			return r
		}
	}
	return nil
}

// Member returns the member with the given user id, or nil.
func (g *Guild) Member(id UserID) *GuildMember {
	for _, m := range g.Members {
		if m.UserID == id {
			return m
		}
	}
	return nil
}

// Presence returns the tracked presence for a user. Untracked users are
// reported offline.
func (g *Guild) Presence(id UserID) *Presence {
	if p, ok := g.Presences[id]; ok && p != nil {
		return p
	}
	return &Presence{UserID: id, Status: StatusOffline}
}

func (m *GuildMember) HasRole(id RoleID) bool {
	for _, r := range m.Roles {
		if r == id {
			return true
		}
	}
	return false
}

type OverwriteType string

const (
	OverwriteRole   OverwriteType = "role"
	OverwriteMember OverwriteType = "member"
)

type PermissionOverwrite struct {
	ID    OverwriteID
	Type  OverwriteType
	Allow uint64
	Deny  uint64
}

// AffectsRead reports whether the overwrite grants or denies read access.
func (o *PermissionOverwrite) AffectsRead() bool {
	return (o.Allow|o.Deny)&PermissionReadMessages != 0
}

type Channel struct {
	ID         ChannelID
	GuildID    GuildID
	Name       string
	Overwrites []*PermissionOverwrite
}
