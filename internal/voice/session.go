package voice

import (
	"github.com/google/uuid"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

// NewSession creates the per-connection record on IDENTIFY. The session is
// born Identified; Connecting describes the socket before any session
// exists.
func NewSession(id domain.SessionID, userID domain.UserID, guildID domain.GuildID, channelID domain.ChannelID, serverID, token string) *domain.VoiceSession {
	return &domain.VoiceSession{
		ID:        id,
		UserID:    userID,
		GuildID:   guildID,
		ChannelID: channelID,
		ServerID:  serverID,
		Token:     token,
		SSRC:      domain.GenerateSSRC(),
		State:     domain.VoiceStateIdentified,
	}
}

// NewEphemeralSession builds a throwaway record for a RESUME targeting an
// unknown session id. It only lives long enough to answer INVALID_SESSION.
func NewEphemeralSession(serverID, token string) *domain.VoiceSession {
	return &domain.VoiceSession{
		ID:       domain.SessionID(uuid.NewString()),
		ServerID: serverID,
		Token:    token,
		State:    domain.VoiceStateConnecting,
	}
}

// SelectProtocol records the negotiated protocol and the fresh per-ssrc
// secret key, and moves the session to Ready. The key is generated for
// every protocol, including p2p where the server never sees media.
func SelectProtocol(s *domain.VoiceSession, protocol domain.VoiceProtocol) {
	s.Protocol = protocol
	s.SecretKey = domain.GenerateSecretKey()
	s.State = domain.VoiceStateReady
}

// Disconnect marks the session dead. Idempotent.
func Disconnect(s *domain.VoiceSession) {
	s.State = domain.VoiceStateDisconnected
}
