package domain

type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusIdle      PresenceStatus = "idle"
	StatusDND       PresenceStatus = "dnd"
	StatusInvisible PresenceStatus = "invisible"
	StatusOffline   PresenceStatus = "offline"
)

type Presence struct {
	UserID UserID         `json:"user_id"`
	Status PresenceStatus `json:"status"`
	Game   string         `json:"game,omitempty"`
}

// Online reports whether the presence counts toward the online sections of a
// member list. Invisible users are treated as offline by viewers.
func (p *Presence) Online() bool {
	return p.Status != StatusOffline && p.Status != StatusInvisible
}
