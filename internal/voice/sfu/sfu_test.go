package sfu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

type mockMediaEngine struct {
	mock.Mock
}

func (m *mockMediaEngine) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (ports.TransportID, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Get(0).(ports.TransportID), args.Error(1)
}

func (m *mockMediaEngine) Offer(ctx context.Context, transport ports.TransportID, offer webrtc.SessionDescription, codecs []domain.Codec) (*ports.SDPAnswer, error) {
	args := m.Called(ctx, transport, offer, codecs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.SDPAnswer), args.Error(1)
}

func (m *mockMediaEngine) Produce(ctx context.Context, transport ports.TransportID, kind domain.MediaKind, params ports.RTPParameters) (string, error) {
	args := m.Called(ctx, transport, kind, params)
	return args.String(0), args.Error(1)
}

func (m *mockMediaEngine) Consume(ctx context.Context, transport ports.TransportID, producerID string, codecs []domain.Codec, paused bool) (*ports.ConsumerInfo, error) {
	args := m.Called(ctx, transport, producerID, codecs, paused)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.ConsumerInfo), args.Error(1)
}

func (m *mockMediaEngine) ResumeConsumer(ctx context.Context, transport ports.TransportID, consumerID string) error {
	args := m.Called(ctx, transport, consumerID)
	return args.Error(0)
}

func (m *mockMediaEngine) CloseProducer(ctx context.Context, transport ports.TransportID, producerID string) error {
	args := m.Called(ctx, transport, producerID)
	return args.Error(0)
}

func (m *mockMediaEngine) CloseConsumer(ctx context.Context, transport ports.TransportID, consumerID string) error {
	args := m.Called(ctx, transport, consumerID)
	return args.Error(0)
}

func (m *mockMediaEngine) CloseTransport(ctx context.Context, transport ports.TransportID) error {
	args := m.Called(ctx, transport)
	return args.Error(0)
}

func newTestRoom(t *testing.T, engine *mockMediaEngine) (*Rooms, *Room) {
	t.Helper()
	rooms := NewRooms(engine, 10*time.Millisecond, nil, zap.NewNop().Sugar())
	return rooms, rooms.GetOrCreate("guild-1", "chan-1")
}

func joinUser(t *testing.T, engine *mockMediaEngine, room *Room, userID domain.UserID) *Client {
	t.Helper()
	engine.On("Join", mock.Anything, room.ID, userID).
		Return(ports.TransportID("t-"+string(userID)), nil).Once()
	client, err := room.Join(context.Background(), userID)
	require.NoError(t, err)
	return client
}

func TestJoinIsIdempotent(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)

	a := joinUser(t, engine, room, "alice")
	again, err := room.Join(context.Background(), "alice")
	require.NoError(t, err)
	assert.Same(t, a, again)
	engine.AssertNumberOfCalls(t, "Join", 1)
}

func TestPublishTrackIsIdempotent(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")

	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Return("prod-1", nil).Once()

	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))

	assert.True(t, a.IsProducing(domain.MediaAudio))
	engine.AssertNumberOfCalls(t, "Produce", 1)
}

func TestPublishTrackRollsBackOnEngineError(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")

	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Return("", errors.New("engine unavailable")).Once()
	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Return("prod-1", nil).Once()

	err := a.PublishTrack(context.Background(), domain.MediaAudio, 1111)
	require.Error(t, err)
	assert.False(t, a.IsProducing(domain.MediaAudio))

	// State is unchanged, so the client can simply retry.
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))
	assert.True(t, a.IsProducing(domain.MediaAudio))
}

func TestPublishTrackUsesDefaultPayloadTypes(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")

	var params ports.RTPParameters
	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Run(func(args mock.Arguments) { params = args.Get(3).(ports.RTPParameters) }).
		Return("prod-1", nil)

	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))
	require.Len(t, params.Codecs, 1)
	assert.Equal(t, webrtc.PayloadType(111), params.Codecs[0].PayloadType)
	require.Len(t, params.Encodings, 1)
	assert.Equal(t, uint32(1111), params.Encodings[0].SSRC)
}

func TestPublishTrackMatchesReportedCodec(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")
	a.SetCodecs([]domain.Codec{
		{Name: "VP9", Type: "video", Priority: 2000, PayloadType: 101},
		{Name: "VP8", Type: "video", Priority: 1000, PayloadType: 96},
		{Name: "opus", Type: "audio", Priority: 1000, PayloadType: 120},
	})

	var params ports.RTPParameters
	engine.On("Produce", mock.Anything, a.transport, domain.MediaVideo, mock.Anything).
		Run(func(args mock.Arguments) { params = args.Get(3).(ports.RTPParameters) }).
		Return("prod-v", nil)

	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaVideo, 2222))
	require.Len(t, params.Codecs, 1)
	assert.Equal(t, webrtc.PayloadType(96), params.Codecs[0].PayloadType)
	assert.Equal(t, "video/VP8", params.Codecs[0].MimeType)
}

func TestPublishTrackWhileInFlightIsNoOp(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")

	entered := make(chan struct{})
	release := make(chan struct{})
	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return("prod-1", nil).Once()

	done := make(chan error, 1)
	go func() {
		done <- a.PublishTrack(context.Background(), domain.MediaAudio, 1111)
	}()

	<-entered
	// The reservation is visible while the engine call is still in flight,
	// so an identical request must no-op without reaching the engine.
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))
	assert.True(t, a.IsProducing(domain.MediaAudio))

	close(release)
	require.NoError(t, <-done)
	engine.AssertNumberOfCalls(t, "Produce", 1)
}

func TestSubscribeWhileInFlightIsNoOp(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")
	b := joinUser(t, engine, room, "bob")

	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Return("prod-1", nil)
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))

	entered := make(chan struct{})
	release := make(chan struct{})
	engine.On("Consume", mock.Anything, b.transport, "prod-1", mock.Anything, false).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&ports.ConsumerInfo{ID: "cons-1", SSRC: 5555}, nil).Once()

	done := make(chan error, 1)
	go func() {
		done <- b.SubscribeToTrack(context.Background(), a, domain.MediaAudio)
	}()

	<-entered
	require.NoError(t, b.SubscribeToTrack(context.Background(), a, domain.MediaAudio))

	close(release)
	require.NoError(t, <-done)
	engine.AssertNumberOfCalls(t, "Consume", 1)
	assert.True(t, b.IsSubscribedToTrack("alice", domain.MediaAudio))
	assert.Equal(t, uint32(5555), b.OutgoingStreamSSRCs("alice").Audio)
}

func TestSubscribeTwiceYieldsOneConsumer(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")
	b := joinUser(t, engine, room, "bob")

	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Return("prod-1", nil)
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))

	engine.On("Consume", mock.Anything, b.transport, "prod-1", mock.Anything, false).
		Return(&ports.ConsumerInfo{ID: "cons-1", SSRC: 5555}, nil).Once()

	require.NoError(t, b.SubscribeToTrack(context.Background(), a, domain.MediaAudio))
	require.NoError(t, b.SubscribeToTrack(context.Background(), a, domain.MediaAudio))

	assert.True(t, b.IsSubscribedToTrack("alice", domain.MediaAudio))
	engine.AssertNumberOfCalls(t, "Consume", 1)
	assert.Equal(t, uint32(5555), b.OutgoingStreamSSRCs("alice").Audio)
}

func TestSubscribeToAbsentProducerFails(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")
	b := joinUser(t, engine, room, "bob")

	err := b.SubscribeToTrack(context.Background(), a, domain.MediaAudio)
	assert.ErrorIs(t, err, domain.ErrNotProducing)
}

func TestVideoConsumerStartsPausedThenResumes(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")
	b := joinUser(t, engine, room, "bob")

	engine.On("Produce", mock.Anything, a.transport, domain.MediaVideo, mock.Anything).
		Return("prod-v", nil)
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaVideo, 2222))

	engine.On("Consume", mock.Anything, b.transport, "prod-v", mock.Anything, true).
		Return(&ports.ConsumerInfo{ID: "cons-v", SSRC: 6666, RTXSSRC: 6667}, nil)

	resumed := make(chan struct{})
	engine.On("ResumeConsumer", mock.Anything, b.transport, "cons-v").
		Run(func(mock.Arguments) { close(resumed) }).
		Return(nil)

	require.NoError(t, b.SubscribeToTrack(context.Background(), a, domain.MediaVideo))

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("video consumer was never resumed")
	}

	ssrcs := b.OutgoingStreamSSRCs("alice")
	assert.Equal(t, uint32(6666), ssrcs.Video)
	assert.Equal(t, uint32(6667), ssrcs.RTX)
	assert.Equal(t, uint32(0), ssrcs.Audio)
}

func TestStopPublishingCascadesConsumers(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")
	b := joinUser(t, engine, room, "bob")

	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Return("prod-1", nil)
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))

	engine.On("Consume", mock.Anything, b.transport, "prod-1", mock.Anything, false).
		Return(&ports.ConsumerInfo{ID: "cons-1", SSRC: 5555}, nil)
	require.NoError(t, b.SubscribeToTrack(context.Background(), a, domain.MediaAudio))

	engine.On("CloseProducer", mock.Anything, a.transport, "prod-1").Return(nil)
	engine.On("CloseConsumer", mock.Anything, b.transport, "cons-1").Return(nil)

	require.NoError(t, room.StopPublishing(context.Background(), "alice", domain.MediaAudio))

	assert.False(t, a.IsProducing(domain.MediaAudio))
	assert.False(t, b.IsSubscribedToTrack("alice", domain.MediaAudio))
	assert.Equal(t, uint32(0), b.OutgoingStreamSSRCs("alice").Audio)
	engine.AssertCalled(t, "CloseConsumer", mock.Anything, b.transport, "cons-1")
}

func TestLeaveTearsDownAndDestroysEmptyRoom(t *testing.T) {
	engine := new(mockMediaEngine)
	rooms, room := newTestRoom(t, engine)
	a := joinUser(t, engine, room, "alice")
	b := joinUser(t, engine, room, "bob")

	engine.On("Produce", mock.Anything, a.transport, domain.MediaAudio, mock.Anything).
		Return("prod-1", nil)
	require.NoError(t, a.PublishTrack(context.Background(), domain.MediaAudio, 1111))

	engine.On("Consume", mock.Anything, b.transport, "prod-1", mock.Anything, false).
		Return(&ports.ConsumerInfo{ID: "cons-1", SSRC: 5555}, nil)
	require.NoError(t, b.SubscribeToTrack(context.Background(), a, domain.MediaAudio))

	engine.On("CloseConsumer", mock.Anything, b.transport, "cons-1").Return(nil)
	engine.On("CloseProducer", mock.Anything, a.transport, "prod-1").Return(nil)
	engine.On("CloseTransport", mock.Anything, a.transport).Return(nil)
	engine.On("CloseTransport", mock.Anything, b.transport).Return(nil)

	rooms.Leave(context.Background(), room.ID, "alice")
	assert.False(t, b.IsSubscribedToTrack("alice", domain.MediaAudio))
	assert.NotNil(t, rooms.Get(room.ID))

	rooms.Leave(context.Background(), room.ID, "bob")
	assert.Nil(t, rooms.Get(room.ID))
	assert.Equal(t, 0, rooms.Count())
}

func TestMuteBookkeeping(t *testing.T) {
	engine := new(mockMediaEngine)
	_, room := newTestRoom(t, engine)
	joinUser(t, engine, room, "alice")
	joinUser(t, engine, room, "bob")

	room.SetLocalMute("bob", "alice", true)
	assert.True(t, room.IsMutedFor("bob", "alice"))
	assert.False(t, room.IsMutedFor("alice", "bob"))

	room.SetLocalMute("bob", "alice", false)
	assert.False(t, room.IsMutedFor("bob", "alice"))

	room.SetServerMute("alice", true)
	assert.True(t, room.IsServerMuted("alice"))
	room.SetServerMute("alice", false)
	assert.False(t, room.IsServerMuted("alice"))
}
