package ports

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

// TransportID is an engine-side handle for one client's media transport.
type TransportID string

// SDPAnswer is the negotiated reply to a client offer.
type SDPAnswer struct {
	SDP        webrtc.SessionDescription
	AudioCodec string
	VideoCodec string
}

// RTPEncoding describes one stream a producer carries.
type RTPEncoding struct {
	SSRC uint32
	RTX  uint32
}

// RTPParameters is the subset of negotiated RTP state the engine needs to
// accept a published track.
type RTPParameters struct {
	Codecs    []webrtc.RTPCodecParameters
	Encodings []RTPEncoding
}

// ConsumerInfo is the engine-assigned identity of a subscription.
type ConsumerInfo struct {
	ID      string
	SSRC    uint32
	RTXSSRC uint32
}

// MediaEngine is the external media capability this module orchestrates.
// Implementations own transports, producers and consumers; this module only
// keeps bookkeeping over the returned ids. Every call may block, so callers
// must re-validate their own state after it returns.
type MediaEngine interface {
	Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (TransportID, error)
	Offer(ctx context.Context, transport TransportID, offer webrtc.SessionDescription, codecs []domain.Codec) (*SDPAnswer, error)
	Produce(ctx context.Context, transport TransportID, kind domain.MediaKind, params RTPParameters) (string, error)
	Consume(ctx context.Context, transport TransportID, producerID string, codecs []domain.Codec, paused bool) (*ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, transport TransportID, consumerID string) error
	CloseProducer(ctx context.Context, transport TransportID, producerID string) error
	CloseConsumer(ctx context.Context, transport TransportID, consumerID string) error
	CloseTransport(ctx context.Context, transport TransportID) error
}
