package memory

import (
	"context"
	"sync"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

type MemorySessionRepository struct {
	sessions map[domain.SessionID]*domain.VoiceSession
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.SessionID]*domain.VoiceSession),
	}
}

func (r *MemorySessionRepository) Save(ctx context.Context, session *domain.VoiceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.VoiceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	return session, nil
}

func (r *MemorySessionRepository) Remove(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.sessions, id)
	return nil
}
