package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oldcordapp/realtime/internal/core/domain"
	"github.com/oldcordapp/realtime/internal/core/ports"
)

// Voice sessions are small JSON blobs under voice:<id>. The TTL doubles as
// the reconnect window: a RESUME arriving after it finds nothing and gets
// INVALID_SESSION.
const keyPrefix = "voice:"

// Connect opens the redis connection backing the session store and pings it
// before any session traffic is allowed through. The pool is sized for the
// gateway's bursty identify/disconnect pattern.
func Connect(address, password string, db, poolSize int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", address, err)
	}
	return client, nil
}

type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionRepository stores voice sessions under voice:<id> keys.
// A zero ttl keeps sessions until explicitly removed.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) ports.SessionRepository {
	return &RedisSessionRepository{client: client, ttl: ttl}
}

func sessionKey(id domain.SessionID) string {
	return keyPrefix + string(id)
}

func (r *RedisSessionRepository) Save(ctx context.Context, session *domain.VoiceSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	if err := r.client.Set(ctx, sessionKey(session.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", session.ID, err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.VoiceSession, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var session domain.VoiceSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) Remove(ctx context.Context, id domain.SessionID) error {
	deleted, err := r.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if deleted == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
