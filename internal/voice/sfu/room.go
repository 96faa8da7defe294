package sfu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

// Room is the registry of SfuClients for one (guild, channel) voice call.
// It owns the clients in a keyed table and the per-room mute state.
type Room struct {
	ID        domain.RoomID
	GuildID   domain.GuildID
	ChannelID domain.ChannelID

	engine           ports.MediaEngine
	logger           *zap.SugaredLogger
	videoResumeDelay time.Duration

	mu          sync.RWMutex
	clients     map[domain.UserID]*Client
	mutedBy     map[domain.UserID]map[domain.UserID]bool
	serverMuted map[domain.UserID]bool
}

func newRoom(guildID domain.GuildID, channelID domain.ChannelID, engine ports.MediaEngine, videoResumeDelay time.Duration, logger *zap.SugaredLogger) *Room {
	return &Room{
		ID:               domain.NewRoomID(guildID, channelID),
		GuildID:          guildID,
		ChannelID:        channelID,
		engine:           engine,
		logger:           logger,
		videoResumeDelay: videoResumeDelay,
		clients:          make(map[domain.UserID]*Client),
		mutedBy:          make(map[domain.UserID]map[domain.UserID]bool),
		serverMuted:      make(map[domain.UserID]bool),
	}
}

// Join adds a user to the room, creating the engine transport. Joining a
// room the user is already in returns the existing client.
func (r *Room) Join(ctx context.Context, userID domain.UserID) (*Client, error) {
	r.mu.Lock()
	if existing := r.clients[userID]; existing != nil {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	transport, err := r.engine.Join(ctx, r.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", r.ID, err)
	}

	client := newClient(userID, r.ID, transport, r.engine, r.videoResumeDelay, r.logger)
	r.mu.Lock()
	if existing := r.clients[userID]; existing != nil {
		// Lost the race; discard our transport.
		r.mu.Unlock()
		go r.engine.CloseTransport(context.Background(), transport)
		return existing, nil
	}
	r.clients[userID] = client
	r.mu.Unlock()

	r.logger.Infow("client joined voice room", "room_id", r.ID, "user_id", userID)
	return client, nil
}

// Client returns the client for the user, or nil.
func (r *Room) Client(userID domain.UserID) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[userID]
}

// Clients returns all clients in the room.
func (r *Room) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// OtherClients returns every client except the given user.
func (r *Room) OtherClients(userID domain.UserID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id != userID {
			out = append(out, c)
		}
	}
	return out
}

func (r *Room) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0
}

// StopPublishing closes the user's producer of the kind and cascades across
// every other client, closing any consumer that referenced it.
func (r *Room) StopPublishing(ctx context.Context, userID domain.UserID, kind domain.MediaKind) error {
	client := r.Client(userID)
	if client == nil {
		return domain.ErrClientNotFound
	}

	producerID := client.closeProducer(ctx, kind)
	if producerID == "" {
		return nil
	}
	for _, other := range r.OtherClients(userID) {
		other.dropConsumersOf(ctx, producerID)
	}
	return nil
}

// RemoveClient cascades the full leave teardown: every consumer in the room
// referencing the leaver's producers is closed, then the leaver's own
// consumers, producers and transport. No protocol frames are emitted here;
// announcing the departure is the signaling layer's responsibility.
func (r *Room) RemoveClient(ctx context.Context, userID domain.UserID) {
	r.mu.Lock()
	client := r.clients[userID]
	if client == nil {
		r.mu.Unlock()
		return
	}
	delete(r.clients, userID)
	delete(r.serverMuted, userID)
	delete(r.mutedBy, userID)
	for _, muted := range r.mutedBy {
		delete(muted, userID)
	}
	r.mu.Unlock()

	for _, producerID := range client.producerIDs() {
		for _, other := range r.OtherClients(userID) {
			other.dropConsumersOf(ctx, producerID)
		}
	}
	client.closeAll(ctx)

	r.logger.Infow("client left voice room", "room_id", r.ID, "user_id", userID)
}

// SetLocalMute records that listener muted (or unmuted) target for
// themselves only.
func (r *Room) SetLocalMute(listener, target domain.UserID, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.mutedBy[listener]
	if set == nil {
		set = make(map[domain.UserID]bool)
		r.mutedBy[listener] = set
	}
	if muted {
		set[target] = true
	} else {
		delete(set, target)
	}
}

// IsMutedFor reports whether listener muted target.
func (r *Room) IsMutedFor(listener, target domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mutedBy[listener][target]
}

// SetServerMute applies a guild-level mute to a user in this room.
func (r *Room) SetServerMute(userID domain.UserID, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if muted {
		r.serverMuted[userID] = true
	} else {
		delete(r.serverMuted, userID)
	}
}

func (r *Room) IsServerMuted(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serverMuted[userID]
}
