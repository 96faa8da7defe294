package signaling

import (
	"encoding/json"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

// Opcode identifies a voice signaling frame.
type Opcode int

const (
	OpIdentify         Opcode = 0
	OpSelectProtocol   Opcode = 1
	OpConnectionInfo   Opcode = 2
	OpHeartbeat        Opcode = 3
	OpSetup            Opcode = 4
	OpSpeaking         Opcode = 5
	OpHeartbeatAck     Opcode = 6
	OpResume           Opcode = 7
	OpInvalidSession   Opcode = 9
	OpICECandidates    Opcode = 10
	OpVideo            Opcode = 12
	OpClientDisconnect Opcode = 13
)

func (o Opcode) String() string {
	switch o {
	case OpIdentify:
		return "IDENTIFY"
	case OpSelectProtocol:
		return "SELECT_PROTOCOL"
	case OpConnectionInfo:
		return "CONNECTION_INFO"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpSetup:
		return "SETUP"
	case OpSpeaking:
		return "SPEAKING"
	case OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	case OpResume:
		return "RESUME"
	case OpInvalidSession:
		return "INVALID_SESSION"
	case OpICECandidates:
		return "ICE_CANDIDATES"
	case OpVideo:
		return "VIDEO"
	case OpClientDisconnect:
		return "CLIENT_DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Close codes for protocol failures.
const (
	CloseMalformedPayload     = 4000
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
)

// Frame is an outbound signaling frame.
type Frame struct {
	Op Opcode      `json:"op"`
	D  interface{} `json:"d"`
}

// rawFrame is an inbound frame before its payload is decoded.
type rawFrame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Socket is the transport endpoint of one signaling connection. The server
// owns the underlying websocket; the handler only sends, closes and
// identifies.
type Socket interface {
	Send(frame Frame) error
	Close(code int, reason string)
	ID() string
}

type identifyPayload struct {
	UserID    string `json:"user_id"`
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type selectProtocolPayload struct {
	Protocol string         `json:"protocol"`
	SDP      string         `json:"sdp,omitempty"`
	Data     string         `json:"data,omitempty"`
	Codecs   []domain.Codec `json:"codecs,omitempty"`
}

type resumePayload struct {
	SessionID string `json:"session_id"`
	ServerID  string `json:"server_id"`
	Token     string `json:"token"`
}

type speakingPayload struct {
	UserID   domain.UserID `json:"user_id,omitempty"`
	Speaking bool          `json:"speaking"`
	SSRC     uint32        `json:"ssrc"`
}

type iceCandidatesPayload struct {
	UserID     string          `json:"user_id"`
	Candidates json.RawMessage `json:"candidates"`
}

type videoPayload struct {
	UserID    domain.UserID `json:"user_id,omitempty"`
	AudioSSRC uint32        `json:"audio_ssrc"`
	VideoSSRC uint32        `json:"video_ssrc"`
	RTXSSRC   uint32        `json:"rtx_ssrc"`
}

type connectionInfoPayload struct {
	SSRC              uint32   `json:"ssrc"`
	Address           string   `json:"address"`
	Port              int      `json:"port"`
	Modes             []string `json:"modes"`
	HeartbeatInterval int      `json:"heartbeat_interval"`
}

// setupPayload answers SELECT_PROTOCOL. Fields are filled per negotiated
// protocol: sdp and codecs for the sfu path, peers for p2p, secret_key for
// legacy. The key rides along on every path.
type setupPayload struct {
	SDP        string          `json:"sdp,omitempty"`
	AudioCodec string          `json:"audio_codec,omitempty"`
	VideoCodec string          `json:"video_codec,omitempty"`
	Peers      []domain.UserID `json:"peers,omitempty"`
	SecretKey  []int           `json:"secret_key,omitempty"`
}

func secretKeyInts(key []byte) []int {
	out := make([]int, len(key))
	for i, b := range key {
		out[i] = int(b)
	}
	return out
}
