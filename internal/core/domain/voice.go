package domain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

type SessionID string
type RoomID string

// NewRoomID builds the composite id of a voice call. One call exists per
// (guild, channel) pair.
func NewRoomID(guildID GuildID, channelID ChannelID) RoomID {
	return RoomID(fmt.Sprintf("%s:%s", guildID, channelID))
}

type VoiceProtocol string

const (
	ProtocolNone   VoiceProtocol = ""
	ProtocolSFU    VoiceProtocol = "sfu"
	ProtocolP2P    VoiceProtocol = "p2p"
	ProtocolLegacy VoiceProtocol = "legacy"
)

type VoiceSessionState string

const (
	VoiceStateConnecting   VoiceSessionState = "connecting"
	VoiceStateIdentified   VoiceSessionState = "identified"
	VoiceStateReady        VoiceSessionState = "ready"
	VoiceStateDisconnected VoiceSessionState = "disconnected"
)

// VoiceSession is the per-connection signaling record. It is created on
// IDENTIFY and destroyed when the socket closes.
type VoiceSession struct {
	ID        SessionID     `json:"id"`
	UserID    UserID        `json:"user_id"`
	GuildID   GuildID       `json:"guild_id"`
	ChannelID ChannelID     `json:"channel_id"`
	ServerID  string        `json:"server_id"`
	Token     string        `json:"token"`
	SSRC      uint32        `json:"ssrc"`
	SecretKey []byte        `json:"secret_key,omitempty"`
	Protocol  VoiceProtocol `json:"protocol"`

	State VoiceSessionState `json:"state"`
}

func (s *VoiceSession) RoomID() RoomID {
	return NewRoomID(s.GuildID, s.ChannelID)
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// SSRCTriple is the last-known set of incoming stream identifiers reported
// by a client. Zero means the stream does not exist.
type SSRCTriple struct {
	Audio uint32 `json:"audio_ssrc"`
	Video uint32 `json:"video_ssrc"`
	RTX   uint32 `json:"rtx_ssrc"`
}

// Codec is one entry of the codec list a client reports at protocol
// selection time.
type Codec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Priority    int    `json:"priority"`
	PayloadType uint8  `json:"payload_type"`
}

// GenerateSSRC returns a random nonzero stream identifier.
func GenerateSSRC() uint32 {
	var b [4]byte
	for {
		rand.Read(b[:])
		if ssrc := binary.BigEndian.Uint32(b[:]); ssrc != 0 {
			return ssrc
		}
	}
}

// GenerateSecretKey returns a fresh 32-byte media encryption key.
func GenerateSecretKey() []byte {
	key := make([]byte, 32)
	rand.Read(key)
	return key
}
