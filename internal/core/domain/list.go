package domain

// Synthetic group ids for the fixed trailing sections of a member list.
// Hoisted-role groups use the role id.
const (
	GroupOnline  = "online"
	GroupOffline = "offline"
)

// ListID identifies a permission-equivalence class of channel views.
// Channels with identical read-permission topology share one list id and
// one cached computation. The sentinel "everyone" marks channels readable
// by the default role with no overwrite altering that.
type ListID string

const ListIDEveryone ListID = "everyone"

type GroupItem struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

type MemberItem struct {
	UserID   UserID         `json:"id"`
	Username string         `json:"username"`
	Roles    []RoleID       `json:"roles"`
	Status   PresenceStatus `json:"status"`
	Game     string         `json:"game,omitempty"`
}

// ListItem is one row of the flat member list: either a group marker or a
// member entry. Exactly one field is set.
type ListItem struct {
	Group  *GroupItem  `json:"group,omitempty"`
	Member *MemberItem `json:"member,omitempty"`
}

func (i ListItem) IsGroup() bool { return i.Group != nil }

// Equal compares two items structurally. Group markers compare by id and
// count, member entries by user id, username, status and game.
func (i ListItem) Equal(other ListItem) bool {
	switch {
	case i.Group != nil && other.Group != nil:
		return i.Group.ID == other.Group.ID && i.Group.Count == other.Group.Count
	case i.Member != nil && other.Member != nil:
		return i.Member.UserID == other.Member.UserID &&
			i.Member.Username == other.Member.Username &&
			i.Member.Status == other.Member.Status &&
			i.Member.Game == other.Member.Game
	default:
		return false
	}
}

type ListOpType string

const (
	ListOpSync   ListOpType = "SYNC"
	ListOpInsert ListOpType = "INSERT"
	ListOpDelete ListOpType = "DELETE"
	ListOpUpdate ListOpType = "UPDATE"
)

// ListOp is one incremental mutation of a flat member list. SYNC carries a
// range and its items; INSERT/DELETE/UPDATE carry an index (and, except for
// DELETE, the item).
type ListOp struct {
	Op    ListOpType `json:"op"`
	Range [2]int     `json:"range,omitempty"`
	Items []ListItem `json:"items,omitempty"`
	Index int        `json:"index"`
	Item  *ListItem  `json:"item,omitempty"`
}

// EventGuildMemberListUpdate is the dispatcher event name for list updates.
const EventGuildMemberListUpdate = "GUILD_MEMBER_LIST_UPDATE"

// MemberListUpdate is the payload of a GUILD_MEMBER_LIST_UPDATE event.
type MemberListUpdate struct {
	GuildID     GuildID     `json:"guild_id"`
	ID          ListID      `json:"id"`
	Ops         []ListOp    `json:"ops"`
	Groups      []GroupItem `json:"groups"`
	MemberCount int         `json:"member_count"`
	OnlineCount int         `json:"online_count"`
}
