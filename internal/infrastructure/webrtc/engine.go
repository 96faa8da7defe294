package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

// EngineConfig carries WebRTC transport settings.
type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Engine is a pion-backed implementation of ports.MediaEngine. Each
// transport owns one peer connection; published tracks are mirrored into
// local forwarding tracks that consumer transports attach via AddTrack.
type Engine struct {
	config EngineConfig
	logger *zap.SugaredLogger

	mu         sync.RWMutex
	transports map[ports.TransportID]*transport
	producers  map[string]*producer
}

type transport struct {
	id     ports.TransportID
	roomID domain.RoomID
	userID domain.UserID
	pc     *webrtc.PeerConnection

	mu        sync.Mutex
	pending   map[domain.MediaKind]*producer
	consumers map[string]*consumer
}

type producer struct {
	id        string
	transport ports.TransportID
	kind      domain.MediaKind
	local     *webrtc.TrackLocalStaticRTP
}

type consumer struct {
	id         string
	producerID string
	sender     *webrtc.RTPSender
	track      *webrtc.TrackLocalStaticRTP
	ssrc       uint32
}

func NewEngine(config EngineConfig, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		config:     config,
		logger:     logger,
		transports: make(map[ports.TransportID]*transport),
		producers:  make(map[string]*producer),
	}
}

func (e *Engine) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (ports.TransportID, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return "", fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &transport{
		id:        ports.TransportID(uuid.NewString()),
		roomID:    roomID,
		userID:    userID,
		pc:        pc,
		pending:   make(map[domain.MediaKind]*producer),
		consumers: make(map[string]*consumer),
	}

	pc.OnTrack(e.handleRemoteTrack(t))
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.logger.Debugw("transport ICE state changed",
			"transport_id", t.id,
			"user_id", userID,
			"ice_state", state,
		)
	})

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()

	return t.id, nil
}

func (e *Engine) Offer(ctx context.Context, id ports.TransportID, offer webrtc.SessionDescription, codecs []domain.Codec) (*ports.SDPAnswer, error) {
	t, err := e.transport(id)
	if err != nil {
		return nil, err
	}

	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &ports.SDPAnswer{
		SDP:        *t.pc.LocalDescription(),
		AudioCodec: selectCodec(codecs, domain.MediaAudio),
		VideoCodec: selectCodec(codecs, domain.MediaVideo),
	}, nil
}

func (e *Engine) Produce(ctx context.Context, id ports.TransportID, kind domain.MediaKind, params ports.RTPParameters) (string, error) {
	t, err := e.transport(id)
	if err != nil {
		return "", err
	}
	if len(params.Codecs) == 0 {
		return "", fmt.Errorf("no codec parameters for %s producer", kind)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(
		params.Codecs[0].RTPCodecCapability,
		fmt.Sprintf("%s-%s", kind, t.userID),
		string(t.userID),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create forwarding track: %w", err)
	}

	p := &producer{
		id:        uuid.NewString(),
		transport: t.id,
		kind:      kind,
		local:     local,
	}

	t.mu.Lock()
	t.pending[kind] = p
	t.mu.Unlock()

	e.mu.Lock()
	e.producers[p.id] = p
	e.mu.Unlock()

	return p.id, nil
}

func (e *Engine) Consume(ctx context.Context, id ports.TransportID, producerID string, codecs []domain.Codec, paused bool) (*ports.ConsumerInfo, error) {
	t, err := e.transport(id)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotProducing
	}

	sender, err := t.pc.AddTrack(p.local)
	if err != nil {
		return nil, fmt.Errorf("failed to add track to consumer transport: %w", err)
	}

	// Pion requires RTCP reads on the sender for interceptors to run.
	go drainRTCP(sender)

	var ssrc uint32
	if encodings := sender.GetParameters().Encodings; len(encodings) > 0 {
		ssrc = uint32(encodings[0].SSRC)
	}

	// Paused consumers keep their negotiated sender but forward nothing
	// until resumed.
	if paused {
		if err := sender.ReplaceTrack(nil); err != nil {
			t.pc.RemoveTrack(sender)
			return nil, fmt.Errorf("failed to pause consumer: %w", err)
		}
	}

	c := &consumer{
		id:         uuid.NewString(),
		producerID: producerID,
		sender:     sender,
		track:      p.local,
		ssrc:       ssrc,
	}

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()

	return &ports.ConsumerInfo{ID: c.id, SSRC: ssrc}, nil
}

func (e *Engine) ResumeConsumer(ctx context.Context, id ports.TransportID, consumerID string) error {
	t, err := e.transport(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	c, ok := t.consumers[consumerID]
	t.mu.Unlock()
	if !ok {
		return domain.ErrClientNotFound
	}

	return c.sender.ReplaceTrack(c.track)
}

func (e *Engine) CloseProducer(ctx context.Context, id ports.TransportID, producerID string) error {
	t, err := e.transport(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.producers, producerID)
	e.mu.Unlock()

	t.mu.Lock()
	for kind, p := range t.pending {
		if p.id == producerID {
			delete(t.pending, kind)
		}
	}
	t.mu.Unlock()

	return nil
}

func (e *Engine) CloseConsumer(ctx context.Context, id ports.TransportID, consumerID string) error {
	t, err := e.transport(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	c, ok := t.consumers[consumerID]
	delete(t.consumers, consumerID)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if err := t.pc.RemoveTrack(c.sender); err != nil {
		return fmt.Errorf("failed to remove consumer track: %w", err)
	}
	return nil
}

func (e *Engine) CloseTransport(ctx context.Context, id ports.TransportID) error {
	e.mu.Lock()
	t, ok := e.transports[id]
	delete(e.transports, id)
	for pid, p := range e.producers {
		if p.transport == id {
			delete(e.producers, pid)
		}
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	return t.pc.Close()
}

func (e *Engine) transport(id ports.TransportID) (*transport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.transports[id]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	return t, nil
}

func (e *Engine) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   e.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if e.config.PortRange.Min > 0 && e.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(e.config.PortRange.Min, e.config.PortRange.Max); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// handleRemoteTrack routes inbound tracks to the pending producer of the
// matching kind and starts forwarding its packets into the local track
// consumers attach to.
func (e *Engine) handleRemoteTrack(t *transport) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.MediaAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.MediaVideo
		}

		t.mu.Lock()
		p := t.pending[kind]
		t.mu.Unlock()
		if p == nil {
			e.logger.Warnw("inbound track without a matching producer, dropping",
				"transport_id", t.id,
				"user_id", t.userID,
				"kind", kind,
				"codec", remote.Codec().MimeType,
			)
			return
		}

		e.logger.Infow("producer track live",
			"transport_id", t.id,
			"user_id", t.userID,
			"producer_id", p.id,
			"kind", kind,
			"codec", remote.Codec().MimeType,
		)

		go e.forwardTrack(p, remote)
	}
}

func (e *Engine) forwardTrack(p *producer, remote *webrtc.TrackRemote) {
	for {
		packet, _, err := remote.ReadRTP()
		if err != nil {
			e.logger.Debugw("producer track ended",
				"producer_id", p.id,
				"kind", p.kind,
				"error", err,
			)
			return
		}

		if err := p.local.WriteRTP(packet); err != nil {
			e.logger.Warnw("failed to forward RTP packet",
				"producer_id", p.id,
				"error", err,
			)
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func selectCodec(codecs []domain.Codec, kind domain.MediaKind) string {
	var best *domain.Codec
	for i := range codecs {
		c := &codecs[i]
		if !strings.EqualFold(string(c.Type), string(kind)) {
			continue
		}
		if best == nil || c.Priority < best.Priority {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.Name
}
