package memberlist

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

// Computed is one fully materialized member list: the flat item list plus
// the group summary and counts clients display in the channel header.
type Computed struct {
	Items       []domain.ListItem
	Groups      []domain.GroupItem
	MemberCount int
	OnlineCount int
}

// Compute materializes the member list for a channel from a guild
// snapshot. It is a pure function of its inputs and safe to run on any
// worker.
//
// Sections appear in fixed order: one group per hoisted role in descending
// position, then "online", then "offline". A member lands in the first
// hoisted-role group it qualifies for and is removed from the remaining
// pool. Members placed in the offline section always report status
// "offline", whatever their tracked presence, so viewers outside role
// groups cannot learn the real status of invisible users.
func Compute(ctx context.Context, perms ports.PermissionEvaluator, guild *domain.Guild, channel *domain.Channel, bypassPermissions bool) (*Computed, error) {
	visible := make([]*domain.GuildMember, 0, len(guild.Members))
	for _, m := range guild.Members {
		if !bypassPermissions {
			ok, err := perms.HasChannelPermissionTo(ctx, guild, channel, m, domain.PermissionReadMessages)
			if err != nil {
				return nil, fmt.Errorf("permission check for %s: %w", m.UserID, err)
			}
			if !ok {
				continue
			}
		}
		visible = append(visible, m)
	}

	// Non-offline presence first, then case-insensitive username.
	sort.SliceStable(visible, func(i, j int) bool {
		oi := guild.Presence(visible[i].UserID).Online()
		oj := guild.Presence(visible[j].UserID).Online()
		if oi != oj {
			return oi
		}
		return strings.ToLower(visible[i].Username) < strings.ToLower(visible[j].Username)
	})

	hoisted := make([]*domain.Role, 0, len(guild.Roles))
	for _, r := range guild.Roles {
		if r.Hoist {
			hoisted = append(hoisted, r)
		}
	}
	sort.SliceStable(hoisted, func(i, j int) bool {
		return hoisted[i].Position > hoisted[j].Position
	})

	type section struct {
		id      string
		members []*domain.GuildMember
		offline bool
	}
	var sections []section

	pool := visible
	for _, role := range hoisted {
		var grouped, rest []*domain.GuildMember
		for _, m := range pool {
			if guild.Presence(m.UserID).Online() && m.HasRole(role.ID) {
				grouped = append(grouped, m)
			} else {
				rest = append(rest, m)
			}
		}
		pool = rest
		if len(grouped) > 0 {
			sections = append(sections, section{id: string(role.ID), members: grouped})
		}
	}

	var online, offline []*domain.GuildMember
	for _, m := range pool {
		if guild.Presence(m.UserID).Online() {
			online = append(online, m)
		} else {
			offline = append(offline, m)
		}
	}
	if len(online) > 0 {
		sections = append(sections, section{id: domain.GroupOnline, members: online})
	}
	if len(offline) > 0 {
		sections = append(sections, section{id: domain.GroupOffline, members: offline, offline: true})
	}

	out := &Computed{MemberCount: len(visible)}
	for _, sec := range sections {
		group := domain.GroupItem{ID: sec.id, Count: len(sec.members)}
		out.Groups = append(out.Groups, group)
		if !sec.offline {
			out.OnlineCount += len(sec.members)
		}
		marker := group
		out.Items = append(out.Items, domain.ListItem{Group: &marker})
		for _, m := range sec.members {
			presence := guild.Presence(m.UserID)
			item := domain.MemberItem{
				UserID:   m.UserID,
				Username: m.Username,
				Roles:    m.Roles,
				Status:   presence.Status,
				Game:     presence.Game,
			}
			if sec.offline {
				item.Status = domain.StatusOffline
				item.Game = ""
			}
			out.Items = append(out.Items, domain.ListItem{Member: &item})
		}
	}
	return out, nil
}
