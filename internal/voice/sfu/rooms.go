package sfu

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

// Rooms is the process-wide table of live voice rooms. Rooms are created on
// first join and destroyed when the last client leaves. A room and its
// clients must stay pinned to one process; engine resources do not cross
// process boundaries.
type Rooms struct {
	engine           ports.MediaEngine
	logger           *zap.SugaredLogger
	metrics          ports.MetricsSink
	videoResumeDelay time.Duration

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRooms(engine ports.MediaEngine, videoResumeDelay time.Duration, metrics ports.MetricsSink, logger *zap.SugaredLogger) *Rooms {
	return &Rooms{
		engine:           engine,
		logger:           logger,
		metrics:          metrics,
		videoResumeDelay: videoResumeDelay,
		rooms:            make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate returns the room for the (guild, channel) pair, creating it
// on first use.
func (s *Rooms) GetOrCreate(guildID domain.GuildID, channelID domain.ChannelID) *Room {
	id := domain.NewRoomID(guildID, channelID)

	s.mu.RLock()
	room := s.rooms[id]
	s.mu.RUnlock()
	if room != nil {
		return room
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if room = s.rooms[id]; room != nil {
		return room
	}
	room = newRoom(guildID, channelID, s.engine, s.videoResumeDelay, s.logger)
	s.rooms[id] = room
	if s.metrics != nil {
		s.metrics.RecordRoomCreated()
	}
	s.logger.Infow("voice room created", "room_id", id)
	return room
}

// Get returns the room with the given id, or nil.
func (s *Rooms) Get(id domain.RoomID) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[id]
}

// Leave removes the user from the room and destroys the room once empty.
func (s *Rooms) Leave(ctx context.Context, id domain.RoomID, userID domain.UserID) {
	room := s.Get(id)
	if room == nil {
		return
	}
	room.RemoveClient(ctx, userID)

	if room.Empty() {
		s.mu.Lock()
		if current := s.rooms[id]; current == room && room.Empty() {
			delete(s.rooms, id)
			if s.metrics != nil {
				s.metrics.RecordRoomDestroyed()
			}
			s.logger.Infow("voice room destroyed", "room_id", id)
		}
		s.mu.Unlock()
	}
}

// Count returns the number of live rooms.
func (s *Rooms) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
