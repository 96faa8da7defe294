package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
	"github.com/oldcordapp/realtime/internal/core/services"
	"github.com/oldcordapp/realtime/internal/voice"
	"github.com/oldcordapp/realtime/internal/voice/sfu"
	"github.com/oldcordapp/realtime/pkg/tracing"
)

// Options carry the connection parameters advertised to clients.
type Options struct {
	RelayAddress      string
	RelayPort         int
	HeartbeatInterval int
	EncryptionModes   []string
}

// connState binds one socket to its voice session and sfu client. Session
// and client stay nil until IDENTIFY succeeds. The session record is only
// touched by its owning socket's goroutine; protocol is the copy other
// connections read, guarded by Handler.mu like the registries.
type connState struct {
	sock     Socket
	session  *domain.VoiceSession
	client   *sfu.Client
	protocol domain.VoiceProtocol
}

// Handler dispatches inbound signaling frames to session, room and client
// operations and emits the reply frames.
type Handler struct {
	opts     Options
	rooms    *sfu.Rooms
	sessions ports.SessionRepository
	tokens   *services.VoiceTokens
	metrics  ports.MetricsSink
	logger   *zap.SugaredLogger
	tracer   trace.Tracer

	mu     sync.RWMutex
	conns  map[string]*connState
	byUser map[domain.UserID]*connState
}

func NewHandler(opts Options, rooms *sfu.Rooms, sessions ports.SessionRepository, tokens *services.VoiceTokens, metrics ports.MetricsSink, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		opts:     opts,
		rooms:    rooms,
		sessions: sessions,
		tokens:   tokens,
		metrics:  metrics,
		logger:   logger,
		tracer:   otel.Tracer("voice-signaling"),
		conns:    make(map[string]*connState),
		byUser:   make(map[domain.UserID]*connState),
	}
}

// Register announces a new socket. No session exists until IDENTIFY.
func (h *Handler) Register(sock Socket) {
	h.mu.Lock()
	h.conns[sock.ID()] = &connState{sock: sock}
	h.mu.Unlock()
}

func (h *Handler) conn(sock Socket) *connState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[sock.ID()]
}

func (h *Handler) connByUser(userID domain.UserID) *connState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byUser[userID]
}

// commitProtocol records the negotiated protocol on the session and
// snapshots it for cross-connection reads.
func (h *Handler) commitProtocol(cs *connState, protocol domain.VoiceProtocol) {
	voice.SelectProtocol(cs.session, protocol)
	h.mu.Lock()
	cs.protocol = protocol
	h.mu.Unlock()
}

// protocolOf reads a connection's negotiated protocol. Handlers running on
// other sockets' goroutines must use this instead of touching the session.
func (h *Handler) protocolOf(cs *connState) domain.VoiceProtocol {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cs.protocol
}

// roomConns returns the connections of every identified user in the room
// except the given one.
func (h *Handler) roomConns(roomID domain.RoomID, except domain.UserID) []*connState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*connState
	for _, cs := range h.byUser {
		if cs.session == nil || cs.session.UserID == except {
			continue
		}
		if cs.session.RoomID() == roomID {
			out = append(out, cs)
		}
	}
	return out
}

// HandleFrame processes one inbound frame. Malformed frames close the
// socket with 4000; handler errors beyond protocol violations are logged
// and leave state unchanged so the client can retry the opcode.
func (h *Handler) HandleFrame(ctx context.Context, sock Socket, data []byte) {
	var frame rawFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.logger.Warnw("malformed frame", "socket_id", sock.ID(), "error", err)
		sock.Close(CloseMalformedPayload, "malformed payload")
		return
	}

	if h.metrics != nil {
		h.metrics.RecordFrame(frame.Op.String())
	}

	ctx, span := h.tracer.Start(ctx, "signaling.frame",
		trace.WithAttributes(tracing.OpcodeKey.String(frame.Op.String())))
	defer span.End()

	switch frame.Op {
	case OpIdentify:
		h.handleIdentify(ctx, sock, frame.D)
	case OpSelectProtocol:
		h.handleSelectProtocol(ctx, sock, frame.D)
	case OpHeartbeat:
		h.handleHeartbeat(sock, frame.D)
	case OpSpeaking:
		h.handleSpeaking(sock, frame.D)
	case OpResume:
		h.handleResume(ctx, sock, frame.D)
	case OpICECandidates:
		h.handleICECandidates(sock, frame.D)
	case OpVideo:
		h.handleVideo(ctx, sock, frame.D)
	default:
		h.logger.Debugw("ignoring unknown opcode", "socket_id", sock.ID(), "op", int(frame.Op))
	}
}

func (h *Handler) handleIdentify(ctx context.Context, sock Socket, d json.RawMessage) {
	var payload identifyPayload
	if err := json.Unmarshal(d, &payload); err != nil {
		sock.Close(CloseMalformedPayload, "malformed payload")
		return
	}

	cs := h.conn(sock)
	if cs == nil {
		return
	}
	if cs.session != nil {
		sock.Close(CloseAlreadyAuthenticated, "already identified")
		return
	}

	claims, err := h.tokens.Verify(payload.Token)
	if err != nil || string(claims.UserID) != payload.UserID || claims.ServerID != payload.ServerID {
		h.logger.Warnw("identify rejected",
			"socket_id", sock.ID(),
			"user_id", payload.UserID,
			"error", err,
		)
		sock.Close(CloseAuthenticationFailed, "authentication failed")
		return
	}

	sess := voice.NewSession(
		domain.SessionID(payload.SessionID),
		claims.UserID, claims.GuildID, claims.ChannelID,
		payload.ServerID, payload.Token,
	)

	room := h.rooms.GetOrCreate(sess.GuildID, sess.ChannelID)
	client, err := room.Join(ctx, sess.UserID)
	if err != nil {
		// Engine failure leaves no session behind; the client retries.
		tracing.RecordError(ctx, err)
		h.logger.Errorw("media join failed",
			"socket_id", sock.ID(),
			"user_id", sess.UserID,
			"room_id", room.ID,
			"error", err,
		)
		return
	}

	if err := h.sessions.Save(ctx, sess); err != nil {
		h.logger.Warnw("failed to persist voice session", "session_id", sess.ID, "error", err)
	}

	h.mu.Lock()
	cs.session = sess
	cs.client = client
	h.byUser[sess.UserID] = cs
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordSessionConnected()
	}
	trace.SpanFromContext(ctx).SetAttributes(
		tracing.SessionIDKey.String(string(sess.ID)),
		tracing.UserIDKey.String(string(sess.UserID)),
		tracing.GuildIDKey.String(string(sess.GuildID)),
		tracing.ChannelIDKey.String(string(sess.ChannelID)),
	)
	h.logger.Infow("voice session identified",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"room_id", room.ID,
	)

	sock.Send(Frame{Op: OpConnectionInfo, D: connectionInfoPayload{
		SSRC:              sess.SSRC,
		Address:           h.opts.RelayAddress,
		Port:              h.opts.RelayPort,
		Modes:             h.opts.EncryptionModes,
		HeartbeatInterval: h.opts.HeartbeatInterval,
	}})
}

func (h *Handler) handleSelectProtocol(ctx context.Context, sock Socket, d json.RawMessage) {
	cs := h.conn(sock)
	if cs == nil || cs.session == nil {
		sock.Close(CloseAlreadyAuthenticated, "not identified")
		return
	}

	var payload selectProtocolPayload
	if err := json.Unmarshal(d, &payload); err != nil {
		sock.Close(CloseMalformedPayload, "malformed payload")
		return
	}

	sess := cs.session

	switch payload.Protocol {
	case "webrtc":
		cs.client.SetCodecs(payload.Codecs)
		answer, err := cs.client.Offer(ctx, payload.SDP, payload.Codecs)
		if err != nil {
			// Protocol not committed; the client may resend the offer.
			tracing.RecordError(ctx, err)
			h.logger.Errorw("offer negotiation failed",
				"session_id", sess.ID,
				"user_id", sess.UserID,
				"error", err,
			)
			return
		}
		h.commitProtocol(cs, domain.ProtocolSFU)
		sock.Send(Frame{Op: OpSetup, D: setupPayload{
			SDP:        answer.SDP.SDP,
			AudioCodec: answer.AudioCodec,
			VideoCodec: answer.VideoCodec,
			SecretKey:  secretKeyInts(sess.SecretKey),
		}})

	case "webrtc-p2p":
		h.commitProtocol(cs, domain.ProtocolP2P)
		room := h.rooms.Get(sess.RoomID())
		var peers []domain.UserID
		if room != nil {
			for _, other := range room.OtherClients(sess.UserID) {
				peers = append(peers, other.UserID)
			}
		}
		sock.Send(Frame{Op: OpSetup, D: setupPayload{
			Peers:     peers,
			SecretKey: secretKeyInts(sess.SecretKey),
		}})

	default:
		h.commitProtocol(cs, domain.ProtocolLegacy)
		sock.Send(Frame{Op: OpSetup, D: setupPayload{
			SecretKey: secretKeyInts(sess.SecretKey),
		}})
	}

	if err := h.sessions.Save(ctx, sess); err != nil {
		h.logger.Warnw("failed to persist voice session", "session_id", sess.ID, "error", err)
	}
}

func (h *Handler) handleHeartbeat(sock Socket, d json.RawMessage) {
	sock.Send(Frame{Op: OpHeartbeatAck, D: d})
}

func (h *Handler) handleSpeaking(sock Socket, d json.RawMessage) {
	cs := h.conn(sock)
	if cs == nil || cs.session == nil {
		return
	}

	var payload speakingPayload
	if err := json.Unmarshal(d, &payload); err != nil {
		sock.Close(CloseMalformedPayload, "malformed payload")
		return
	}

	sess := cs.session
	room := h.rooms.Get(sess.RoomID())
	if room == nil {
		return
	}

	if h.protocolOf(cs) == domain.ProtocolP2P {
		// The server has no visibility into p2p streams; forward verbatim.
		out := Frame{Op: OpSpeaking, D: speakingPayload{
			UserID:   sess.UserID,
			Speaking: payload.Speaking,
			SSRC:     payload.SSRC,
		}}
		for _, other := range h.roomConns(sess.RoomID(), sess.UserID) {
			other.sock.Send(out)
		}
		return
	}

	if room.IsServerMuted(sess.UserID) {
		return
	}

	for _, other := range h.roomConns(sess.RoomID(), sess.UserID) {
		if room.IsMutedFor(other.session.UserID, sess.UserID) {
			continue
		}
		listener := room.Client(other.session.UserID)
		if listener == nil {
			continue
		}
		ssrcs := listener.OutgoingStreamSSRCs(sess.UserID)
		if ssrcs.Audio == 0 {
			// The listener's consumer is not ready yet; a speaking event
			// would reference a stream that does not exist for them.
			continue
		}
		other.sock.Send(Frame{Op: OpSpeaking, D: speakingPayload{
			UserID:   sess.UserID,
			Speaking: payload.Speaking,
			SSRC:     ssrcs.Audio,
		}})
	}
}

func (h *Handler) handleICECandidates(sock Socket, d json.RawMessage) {
	cs := h.conn(sock)
	if cs == nil || cs.session == nil {
		return
	}

	var payload iceCandidatesPayload
	if err := json.Unmarshal(d, &payload); err != nil {
		sock.Close(CloseMalformedPayload, "malformed payload")
		return
	}

	sender := cs.session
	if proto := h.protocolOf(cs); proto != domain.ProtocolP2P {
		h.logger.Debugw("dropping ice candidates from non-p2p sender",
			"user_id", sender.UserID,
			"protocol", proto,
		)
		return
	}

	target := h.connByUser(domain.UserID(payload.UserID))
	if target == nil || target.session == nil ||
		h.protocolOf(target) != domain.ProtocolP2P ||
		target.session.RoomID() != sender.RoomID() {
		h.logger.Debugw("dropping ice candidates to unreachable target",
			"from", sender.UserID,
			"to", payload.UserID,
		)
		return
	}

	target.sock.Send(Frame{Op: OpICECandidates, D: iceCandidatesPayload{
		UserID:     string(sender.UserID),
		Candidates: payload.Candidates,
	}})
}

func (h *Handler) handleVideo(ctx context.Context, sock Socket, d json.RawMessage) {
	cs := h.conn(sock)
	if cs == nil || cs.session == nil {
		return
	}

	var payload videoPayload
	if err := json.Unmarshal(d, &payload); err != nil {
		sock.Close(CloseMalformedPayload, "malformed payload")
		return
	}

	sess := cs.session

	if h.protocolOf(cs) == domain.ProtocolP2P {
		out := Frame{Op: OpVideo, D: videoPayload{
			UserID:    sess.UserID,
			AudioSSRC: payload.AudioSSRC,
			VideoSSRC: payload.VideoSSRC,
			RTXSSRC:   payload.RTXSSRC,
		}}
		for _, other := range h.roomConns(sess.RoomID(), sess.UserID) {
			other.sock.Send(out)
		}
		return
	}

	room := h.rooms.Get(sess.RoomID())
	if room == nil || cs.client == nil {
		return
	}
	client := cs.client
	client.SetIncomingSSRCs(domain.SSRCTriple{
		Audio: payload.AudioSSRC,
		Video: payload.VideoSSRC,
		RTX:   payload.RTXSSRC,
	})

	affected := make(map[domain.UserID]bool)
	transitions := []struct {
		kind domain.MediaKind
		ssrc uint32
	}{
		{domain.MediaAudio, payload.AudioSSRC},
		{domain.MediaVideo, payload.VideoSSRC},
	}

	for _, tr := range transitions {
		wants := tr.ssrc != 0
		producing := client.IsProducing(tr.kind)

		switch {
		case wants && !producing:
			if err := client.PublishTrack(ctx, tr.kind, tr.ssrc); err != nil {
				h.logger.Errorw("publish failed",
					"user_id", sess.UserID,
					"kind", tr.kind,
					"error", err,
				)
				continue
			}
			for _, other := range room.OtherClients(sess.UserID) {
				if err := other.SubscribeToTrack(ctx, client, tr.kind); err != nil {
					if !errors.Is(err, domain.ErrNotProducing) {
						h.logger.Warnw("subscribe failed",
							"subscriber", other.UserID,
							"producer", sess.UserID,
							"kind", tr.kind,
							"error", err,
						)
					}
					continue
				}
				affected[other.UserID] = true
			}
			if h.metrics != nil {
				h.metrics.RecordProducerStarted(tr.kind)
			}

		case !wants && producing:
			for _, other := range room.OtherClients(sess.UserID) {
				if other.IsSubscribedToTrack(sess.UserID, tr.kind) {
					affected[other.UserID] = true
				}
			}
			if err := room.StopPublishing(ctx, sess.UserID, tr.kind); err != nil {
				h.logger.Errorw("stop publishing failed",
					"user_id", sess.UserID,
					"kind", tr.kind,
					"error", err,
				)
			}
			if h.metrics != nil {
				h.metrics.RecordProducerStopped(tr.kind)
			}
		}
	}

	// One VIDEO frame per client whose derived outgoing ssrcs changed,
	// carrying that client's own resolved view of the producer's streams.
	for userID := range affected {
		target := h.connByUser(userID)
		listener := room.Client(userID)
		if target == nil || listener == nil {
			continue
		}
		ssrcs := listener.OutgoingStreamSSRCs(sess.UserID)
		target.sock.Send(Frame{Op: OpVideo, D: videoPayload{
			UserID:    sess.UserID,
			AudioSSRC: ssrcs.Audio,
			VideoSSRC: ssrcs.Video,
			RTXSSRC:   ssrcs.RTX,
		}})
	}
}

func (h *Handler) handleResume(ctx context.Context, sock Socket, d json.RawMessage) {
	cs := h.conn(sock)
	if cs != nil && cs.session != nil {
		sock.Close(CloseAlreadyAuthenticated, "already identified")
		return
	}

	var payload resumePayload
	if err := json.Unmarshal(d, &payload); err != nil {
		sock.Close(CloseMalformedPayload, "malformed payload")
		return
	}

	sess, err := h.sessions.GetByID(ctx, domain.SessionID(payload.SessionID))
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			h.logger.Warnw("session lookup failed", "session_id", payload.SessionID, "error", err)
		}
		sess = voice.NewEphemeralSession(payload.ServerID, payload.Token)
	}

	if sess.Token != payload.Token {
		sock.Close(CloseAuthenticationFailed, "authentication failed")
		return
	}

	// Resume never restores media or subscription state; the client is
	// told to start over. See handleIdentify.
	sock.Send(Frame{Op: OpInvalidSession, D: struct{}{}})
}

// OnSocketClose tears down everything tied to the socket: room leave
// cascade, session record, registry entries. The departure is announced to
// the remaining room members here, not by the room itself.
func (h *Handler) OnSocketClose(ctx context.Context, sock Socket) {
	h.mu.Lock()
	cs := h.conns[sock.ID()]
	delete(h.conns, sock.ID())
	if cs != nil && cs.session != nil {
		delete(h.byUser, cs.session.UserID)
	}
	h.mu.Unlock()

	if cs == nil || cs.session == nil {
		return
	}

	sess := cs.session
	roomID := sess.RoomID()

	h.rooms.Leave(ctx, roomID, sess.UserID)

	if err := h.sessions.Remove(ctx, sess.ID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		h.logger.Warnw("failed to remove voice session", "session_id", sess.ID, "error", err)
	}
	voice.Disconnect(sess)

	out := Frame{Op: OpClientDisconnect, D: map[string]string{"user_id": string(sess.UserID)}}
	for _, other := range h.roomConns(roomID, sess.UserID) {
		other.sock.Send(out)
	}

	if h.metrics != nil {
		h.metrics.RecordSessionDisconnected()
	}
	h.logger.Infow("voice session closed",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"room_id", roomID,
	)
}
