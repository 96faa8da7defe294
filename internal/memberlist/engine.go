package memberlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
	"github.com/oldcordapp/realtime/pkg/cache"
)

// Engine maintains lazy member-list subscriptions for gateway sessions.
// Each subscribed session keeps a snapshot of the last list it was sent,
// which later guild mutations are diffed against. Computed lists are
// shared between sessions through a TTL cache keyed by list id, so two
// channels with identical permission topology cost one computation.
type Engine struct {
	perms        ports.PermissionEvaluator
	dispatcher   ports.Dispatcher
	metrics      ports.MetricsSink
	logger       *zap.SugaredLogger
	computations *cache.Cache

	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionSubs
}

type sessionSubs struct {
	guildID  domain.GuildID
	channels map[domain.ChannelID]*channelSub
}

type channelSub struct {
	listID   domain.ListID
	ranges   [][2]int
	snapshot []domain.ListItem
}

func NewEngine(perms ports.PermissionEvaluator, dispatcher ports.Dispatcher, metrics ports.MetricsSink, cacheTTL time.Duration, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		perms:        perms,
		dispatcher:   dispatcher,
		metrics:      metrics,
		logger:       logger,
		computations: cache.New(cacheTTL),
		sessions:     make(map[domain.SessionID]*sessionSubs),
	}
}

// Subscribe registers (or replaces) a session's ranged subscriptions for a
// set of channels and answers each with a SYNC update covering the
// requested ranges. A request naming a channel that no longer exists is
// skipped silently. Empty ranges refresh the session's snapshot without
// producing any ops.
func (e *Engine) Subscribe(ctx context.Context, sessionID domain.SessionID, guild *domain.Guild, channels []*domain.Channel, requests map[domain.ChannelID][][2]int) error {
	byID := make(map[domain.ChannelID]*domain.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	for channelID, ranges := range requests {
		channel, ok := byID[channelID]
		if !ok {
			e.logger.Debugw("subscription for unknown channel skipped",
				"guild_id", guild.ID, "channel_id", channelID)
			continue
		}

		listID := ListIDFor(guild, channel)
		computed, err := e.compute(ctx, guild, channel, listID)
		if err != nil {
			return fmt.Errorf("compute list for channel %s: %w", channelID, err)
		}

		e.mu.Lock()
		subs := e.sessions[sessionID]
		if subs == nil {
			subs = &sessionSubs{guildID: guild.ID, channels: make(map[domain.ChannelID]*channelSub)}
			e.sessions[sessionID] = subs
		}
		subs.channels[channelID] = &channelSub{listID: listID, ranges: ranges, snapshot: computed.Items}
		e.mu.Unlock()

		if len(ranges) == 0 {
			continue
		}

		update := &domain.MemberListUpdate{
			GuildID:     guild.ID,
			ID:          listID,
			Ops:         syncOps(computed.Items, ranges),
			Groups:      computed.Groups,
			MemberCount: computed.MemberCount,
			OnlineCount: computed.OnlineCount,
		}
		if e.metrics != nil {
			e.metrics.RecordListOps(domain.ListOpSync, len(update.Ops))
		}
		if err := e.dispatcher.Dispatch(ctx, sessionID, domain.EventGuildMemberListUpdate, update); err != nil {
			e.logger.Warnw("list sync dispatch failed",
				"session_id", sessionID, "channel_id", channelID, "error", err)
		}
	}
	return nil
}

// Unsubscribe drops every subscription held by a session. Called on
// gateway disconnect.
func (e *Engine) Unsubscribe(sessionID domain.SessionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// NotifyMemberUpdate reacts to one member's mutation (join, leave, role or
// presence change) in a guild. Every subscribed session receives the
// incremental ops moving its snapshot to the freshly computed list.
// Collaborator failures leave the stale snapshot in place so the next
// successful update re-synchronizes from it.
func (e *Engine) NotifyMemberUpdate(ctx context.Context, guild *domain.Guild, channels []*domain.Channel, userID domain.UserID) {
	e.computations.InvalidatePrefix(guildCachePrefix(guild.ID))

	byID := make(map[domain.ChannelID]*domain.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	type pending struct {
		sessionID domain.SessionID
		channelID domain.ChannelID
		sub       *channelSub
	}
	var work []pending
	e.mu.RLock()
	for sessionID, subs := range e.sessions {
		if subs.guildID != guild.ID {
			continue
		}
		for channelID, sub := range subs.channels {
			work = append(work, pending{sessionID, channelID, sub})
		}
	}
	e.mu.RUnlock()

	for _, p := range work {
		channel, ok := byID[p.channelID]
		if !ok {
			e.logger.Debugw("subscribed channel no longer exists, skipping",
				"guild_id", guild.ID, "channel_id", p.channelID)
			continue
		}

		computed, err := e.compute(ctx, guild, channel, p.sub.listID)
		if err != nil {
			e.logger.Errorw("list recompute failed, keeping stale snapshot",
				"guild_id", guild.ID, "channel_id", p.channelID, "error", err)
			continue
		}

		ops := diffMember(p.sub.snapshot, computed.Items, userID)

		e.mu.Lock()
		if subs := e.sessions[p.sessionID]; subs != nil {
			if sub := subs.channels[p.channelID]; sub != nil {
				sub.snapshot = computed.Items
			}
		}
		e.mu.Unlock()

		if len(ops) == 0 {
			continue
		}
		update := &domain.MemberListUpdate{
			GuildID:     guild.ID,
			ID:          p.sub.listID,
			Ops:         ops,
			Groups:      computed.Groups,
			MemberCount: computed.MemberCount,
			OnlineCount: computed.OnlineCount,
		}
		if e.metrics != nil {
			for _, op := range ops {
				e.metrics.RecordListOps(op.Op, 1)
			}
		}
		if err := e.dispatcher.Dispatch(ctx, p.sessionID, domain.EventGuildMemberListUpdate, update); err != nil {
			e.logger.Warnw("list update dispatch failed",
				"session_id", p.sessionID, "channel_id", p.channelID, "error", err)
		}
	}
}

// Close releases the shared computation cache.
func (e *Engine) Close() {
	e.computations.Stop()
}

func (e *Engine) compute(ctx context.Context, guild *domain.Guild, channel *domain.Channel, listID domain.ListID) (*Computed, error) {
	key := guildCachePrefix(guild.ID) + string(listID)
	if v, ok := e.computations.Get(key); ok {
		return v.(*Computed), nil
	}
	computed, err := Compute(ctx, e.perms, guild, channel, listID == domain.ListIDEveryone)
	if err != nil {
		return nil, err
	}
	e.computations.Set(key, computed)
	return computed, nil
}

func guildCachePrefix(id domain.GuildID) string {
	return "guild:" + string(id) + ":"
}

// syncOps renders the requested inclusive ranges as SYNC ops, clamped to
// the list bounds. Ranges entirely out of bounds yield an empty slice so
// the client still learns the range is vacant.
func syncOps(items []domain.ListItem, ranges [][2]int) []domain.ListOp {
	ops := make([]domain.ListOp, 0, len(ranges))
	for _, r := range ranges {
		start, end := r[0], r[1]
		if start < 0 {
			start = 0
		}
		if end >= len(items) {
			end = len(items) - 1
		}
		var slice []domain.ListItem
		if start <= end {
			slice = append(slice, items[start:end+1]...)
		}
		ops = append(ops, domain.ListOp{Op: domain.ListOpSync, Range: r, Items: slice})
	}
	return ops
}
