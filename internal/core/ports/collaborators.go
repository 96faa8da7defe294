package ports

import (
	"context"

	"github.com/oldcordapp/realtime/internal/core/domain"
)

// Dispatcher delivers an event to one subscribed gateway session.
// Implemented by the chat gateway, consumed here.
type Dispatcher interface {
	Dispatch(ctx context.Context, session domain.SessionID, event string, payload interface{}) error
}

// PermissionEvaluator answers permission questions against a guild snapshot.
type PermissionEvaluator interface {
	HasChannelPermissionTo(ctx context.Context, guild *domain.Guild, channel *domain.Channel, member *domain.GuildMember, permission uint64) (bool, error)
	HasGuildPermissionTo(ctx context.Context, guild *domain.Guild, member *domain.GuildMember, permission uint64) (bool, error)
}

// MetricsSink receives realtime activity counters. A nil sink disables
// collection.
type MetricsSink interface {
	RecordSessionConnected()
	RecordSessionDisconnected()
	RecordRoomCreated()
	RecordRoomDestroyed()
	RecordFrame(op string)
	RecordProducerStarted(kind domain.MediaKind)
	RecordProducerStopped(kind domain.MediaKind)
	RecordListOps(op domain.ListOpType, count int)
}
