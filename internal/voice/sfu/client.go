package sfu

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

// Payload types used when a client's reported codec list has no entry for
// the kind being published.
const (
	defaultAudioPayloadType uint8 = 111
	defaultVideoPayloadType uint8 = 102
)

// producerState tracks one published track. A pending entry is a
// reservation: the engine call is still in flight, but concurrent
// identical requests must already observe "producing".
type producerState struct {
	id      string
	kind    domain.MediaKind
	ssrc    uint32
	pending bool
}

// consumerState mirrors one engine consumer, keyed by the producer id it
// consumes. SSRC stays zero until the engine answers; zero is the sentinel
// for "no active stream".
type consumerState struct {
	id         string
	producerID string
	peerID     domain.UserID
	kind       domain.MediaKind
	ssrc       uint32
	rtx        uint32
	paused     bool
	pending    bool
}

// Client is the per-user media relay state inside one voice room. It owns
// no engine resources; it bookkeeps the ids the engine handed out. The room
// is referenced by id and resolved through the registry, never held
// directly.
type Client struct {
	UserID    domain.UserID
	roomID    domain.RoomID
	transport ports.TransportID

	engine           ports.MediaEngine
	logger           *zap.SugaredLogger
	videoResumeDelay time.Duration

	mu        sync.Mutex
	producers map[domain.MediaKind]*producerState
	consumers map[string]*consumerState
	codecs    []domain.Codec
	incoming  domain.SSRCTriple
}

func newClient(userID domain.UserID, roomID domain.RoomID, transport ports.TransportID, engine ports.MediaEngine, videoResumeDelay time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		UserID:           userID,
		roomID:           roomID,
		transport:        transport,
		engine:           engine,
		logger:           logger,
		videoResumeDelay: videoResumeDelay,
		producers:        make(map[domain.MediaKind]*producerState),
		consumers:        make(map[string]*consumerState),
	}
}

func (c *Client) RoomID() domain.RoomID { return c.roomID }

// Offer forwards the client's SDP offer to the engine and returns the
// negotiated answer.
func (c *Client) Offer(ctx context.Context, sdp string, codecs []domain.Codec) (*ports.SDPAnswer, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	answer, err := c.engine.Offer(ctx, c.transport, offer, codecs)
	if err != nil {
		return nil, fmt.Errorf("offer for user %s: %w", c.UserID, err)
	}
	return answer, nil
}

// SetCodecs records the codec list the client reported at protocol
// selection time.
func (c *Client) SetCodecs(codecs []domain.Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codecs = append([]domain.Codec(nil), codecs...)
}

// SetIncomingSSRCs records the last ssrc triple the client announced.
func (c *Client) SetIncomingSSRCs(ssrcs domain.SSRCTriple) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incoming = ssrcs
}

func (c *Client) IncomingSSRCs() domain.SSRCTriple {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incoming
}

// IsProducing reports whether a producer for the kind exists, counting
// in-flight reservations.
func (c *Client) IsProducing(kind domain.MediaKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producers[kind] != nil
}

// producerFor returns the id of a settled producer of the kind, or "".
func (c *Client) producerFor(kind domain.MediaKind) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.producers[kind]; st != nil && !st.pending {
		return st.id
	}
	return ""
}

// PublishTrack starts producing the kind with the given ssrc. It is a no-op
// when a producer (settled or in flight) already exists. On engine failure
// the reservation is rolled back so the client can retry.
func (c *Client) PublishTrack(ctx context.Context, kind domain.MediaKind, ssrc uint32) error {
	c.mu.Lock()
	if c.producers[kind] != nil {
		c.mu.Unlock()
		return nil
	}
	st := &producerState{kind: kind, ssrc: ssrc, pending: true}
	c.producers[kind] = st
	params := c.rtpParametersLocked(kind, ssrc)
	c.mu.Unlock()

	id, err := c.engine.Produce(ctx, c.transport, kind, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.producers[kind] == st {
			delete(c.producers, kind)
		}
		return fmt.Errorf("produce %s for user %s: %w", kind, c.UserID, err)
	}
	if c.producers[kind] != st {
		// Torn down while the engine call was in flight; the result is
		// discarded and the orphaned producer closed.
		go c.engine.CloseProducer(context.Background(), c.transport, id)
		return nil
	}
	st.id = id
	st.pending = false
	return nil
}

// rtpParametersLocked builds engine RTP parameters for a publish, matching
// the client's reported codec of that kind (highest priority wins) and
// falling back to the defaults when unmatched.
func (c *Client) rtpParametersLocked(kind domain.MediaKind, ssrc uint32) ports.RTPParameters {
	mime := webrtc.MimeTypeOpus
	clockRate := uint32(48000)
	channels := uint16(2)
	pt := defaultAudioPayloadType
	if kind == domain.MediaVideo {
		mime = webrtc.MimeTypeVP8
		clockRate = 90000
		channels = 0
		pt = defaultVideoPayloadType
	}

	matched := make([]domain.Codec, 0, len(c.codecs))
	for _, codec := range c.codecs {
		if codec.Type == string(kind) {
			matched = append(matched, codec)
		}
	}
	if len(matched) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Priority < matched[j].Priority
		})
		best := matched[0]
		pt = best.PayloadType
		mime = string(kind) + "/" + best.Name
	}

	encoding := ports.RTPEncoding{SSRC: ssrc}
	if kind == domain.MediaVideo {
		encoding.RTX = c.incoming.RTX
	}

	return ports.RTPParameters{
		Codecs: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  mime,
				ClockRate: clockRate,
				Channels:  channels,
			},
			PayloadType: webrtc.PayloadType(pt),
		}},
		Encodings: []ports.RTPEncoding{encoding},
	}
}

// closeProducer tears down the producer of the kind and returns its engine
// id so the caller can cascade dependent consumers. Empty means there was
// nothing to close.
func (c *Client) closeProducer(ctx context.Context, kind domain.MediaKind) string {
	c.mu.Lock()
	st := c.producers[kind]
	if st == nil {
		c.mu.Unlock()
		return ""
	}
	delete(c.producers, kind)
	id := st.id
	c.mu.Unlock()

	if id == "" {
		// Reservation only; PublishTrack will discard the engine result.
		return ""
	}
	if err := c.engine.CloseProducer(ctx, c.transport, id); err != nil {
		c.logger.Warnw("failed to close producer",
			"user_id", c.UserID,
			"kind", kind,
			"producer_id", id,
			"error", err,
		)
	}
	return id
}

// SubscribeToTrack creates a consumer for the peer's producer of the kind.
// Idempotent per (peer, kind): a second call while the first is in flight
// observes the reservation and no-ops. Video consumers start paused and are
// resumed after a short delay; audio consumers are active immediately.
func (c *Client) SubscribeToTrack(ctx context.Context, peer *Client, kind domain.MediaKind) error {
	producerID := peer.producerFor(kind)
	if producerID == "" {
		return domain.ErrNotProducing
	}

	c.mu.Lock()
	if c.consumers[producerID] != nil {
		c.mu.Unlock()
		return nil
	}
	st := &consumerState{
		producerID: producerID,
		peerID:     peer.UserID,
		kind:       kind,
		paused:     kind == domain.MediaVideo,
		pending:    true,
	}
	c.consumers[producerID] = st
	codecs := append([]domain.Codec(nil), c.codecs...)
	c.mu.Unlock()

	info, err := c.engine.Consume(ctx, c.transport, producerID, codecs, st.paused)

	c.mu.Lock()
	if err != nil {
		if c.consumers[producerID] == st {
			delete(c.consumers, producerID)
		}
		c.mu.Unlock()
		return fmt.Errorf("consume producer %s for user %s: %w", producerID, c.UserID, err)
	}
	if c.consumers[producerID] != st {
		c.mu.Unlock()
		go c.engine.CloseConsumer(context.Background(), c.transport, info.ID)
		return nil
	}
	st.id = info.ID
	st.ssrc = info.SSRC
	st.rtx = info.RTXSSRC
	st.pending = false
	resume := st.paused
	c.mu.Unlock()

	if resume {
		// Starting paused and resuming shortly after avoids the keyframe
		// jitter clients show when video flows before the answer settles.
		time.AfterFunc(c.videoResumeDelay, func() {
			c.resumeConsumer(producerID)
		})
	}
	return nil
}

func (c *Client) resumeConsumer(producerID string) {
	c.mu.Lock()
	st := c.consumers[producerID]
	if st == nil || st.pending || !st.paused {
		c.mu.Unlock()
		return
	}
	id := st.id
	c.mu.Unlock()

	if err := c.engine.ResumeConsumer(context.Background(), c.transport, id); err != nil {
		c.logger.Warnw("failed to resume video consumer",
			"user_id", c.UserID,
			"consumer_id", id,
			"error", err,
		)
		return
	}

	c.mu.Lock()
	if st := c.consumers[producerID]; st != nil {
		st.paused = false
	}
	c.mu.Unlock()
}

// UnsubscribeFromTrack removes the consumer for the peer's track of the
// kind, if any.
func (c *Client) UnsubscribeFromTrack(ctx context.Context, peerID domain.UserID, kind domain.MediaKind) {
	c.mu.Lock()
	var target *consumerState
	for _, st := range c.consumers {
		if st.peerID == peerID && st.kind == kind {
			target = st
			break
		}
	}
	if target == nil {
		c.mu.Unlock()
		return
	}
	delete(c.consumers, target.producerID)
	id := target.id
	c.mu.Unlock()

	if id == "" {
		return
	}
	if err := c.engine.CloseConsumer(ctx, c.transport, id); err != nil {
		c.logger.Warnw("failed to close consumer",
			"user_id", c.UserID,
			"consumer_id", id,
			"error", err,
		)
	}
}

// IsSubscribedToTrack reports whether a consumer for the peer's track of
// the kind exists.
func (c *Client) IsSubscribedToTrack(peerID domain.UserID, kind domain.MediaKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.consumers {
		if st.peerID == peerID && st.kind == kind {
			return true
		}
	}
	return false
}

// dropConsumersOf closes and removes any consumer referencing producerID.
// Used when a peer stops producing or leaves.
func (c *Client) dropConsumersOf(ctx context.Context, producerID string) {
	c.mu.Lock()
	st := c.consumers[producerID]
	if st == nil {
		c.mu.Unlock()
		return
	}
	delete(c.consumers, producerID)
	id := st.id
	c.mu.Unlock()

	if id == "" {
		return
	}
	if err := c.engine.CloseConsumer(ctx, c.transport, id); err != nil {
		c.logger.Warnw("failed to close cascaded consumer",
			"user_id", c.UserID,
			"consumer_id", id,
			"error", err,
		)
	}
}

// OutgoingStreamSSRCs returns the negotiated ssrcs of this client's own
// consumers of the peer's producers. Derived on demand, never stored; zero
// marks a stream dimension with no active consumer.
func (c *Client) OutgoingStreamSSRCs(peerID domain.UserID) domain.SSRCTriple {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out domain.SSRCTriple
	for _, st := range c.consumers {
		if st.peerID != peerID || st.pending {
			continue
		}
		switch st.kind {
		case domain.MediaAudio:
			out.Audio = st.ssrc
		case domain.MediaVideo:
			out.Video = st.ssrc
			out.RTX = st.rtx
		}
	}
	return out
}

// producerIDs returns the ids of all settled producers.
func (c *Client) producerIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.producers))
	for _, st := range c.producers {
		if !st.pending {
			ids = append(ids, st.id)
		}
	}
	return ids
}

// closeAll tears down every consumer, producer and the transport. Engine
// errors are logged and otherwise ignored; teardown must always complete.
func (c *Client) closeAll(ctx context.Context) {
	c.mu.Lock()
	consumers := make([]string, 0, len(c.consumers))
	for _, st := range c.consumers {
		if st.id != "" {
			consumers = append(consumers, st.id)
		}
	}
	c.consumers = make(map[string]*consumerState)
	producers := make([]string, 0, len(c.producers))
	for _, st := range c.producers {
		if st.id != "" {
			producers = append(producers, st.id)
		}
	}
	c.producers = make(map[domain.MediaKind]*producerState)
	c.mu.Unlock()

	for _, id := range consumers {
		if err := c.engine.CloseConsumer(ctx, c.transport, id); err != nil {
			c.logger.Debugw("close consumer during teardown", "user_id", c.UserID, "error", err)
		}
	}
	for _, id := range producers {
		if err := c.engine.CloseProducer(ctx, c.transport, id); err != nil {
			c.logger.Debugw("close producer during teardown", "user_id", c.UserID, "error", err)
		}
	}
	if err := c.engine.CloseTransport(ctx, c.transport); err != nil {
		c.logger.Debugw("close transport during teardown", "user_id", c.UserID, "error", err)
	}
}
