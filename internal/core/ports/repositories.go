package ports

import (
	"context"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

// SessionRepository stores voice session records so RESUME can look a
// session up by id after its socket dropped.
type SessionRepository interface {
	Save(ctx context.Context, session *domain.VoiceSession) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.VoiceSession, error)
	Remove(ctx context.Context, id domain.SessionID) error
}
