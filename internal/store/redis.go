package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/studymate/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "studymate:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	SessionTTL time.Duration // 0 = never expire
}

// RedisStore implements Repository on Redis so several server processes can
// share sessions.
//
// Layout: <prefix>session:<id> holds the JSON session, <prefix>messages:<id>
// is a list of JSON messages, and <prefix>sessions is the set of live ids.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisFromClient(client, cfg.Prefix, cfg.SessionTTL), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) sessionKey(id string) string  { return r.prefix + "session:" + id }
func (r *RedisStore) messagesKey(id string) string { return r.prefix + "messages:" + id }
func (r *RedisStore) indexKey() string             { return r.prefix + "sessions" }

// CreateSession stores a new session.
func (r *RedisStore) CreateSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.sessionKey(session.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	if err := r.client.SAdd(ctx, r.indexKey(), session.ID).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// AppendMessage adds one entry to the display log and refreshes the TTL.
func (r *RedisStore) AppendMessage(ctx context.Context, sessionID string, msg domain.StoredMessage) error {
	exists, err := r.client.Exists(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.messagesKey(sessionID), data)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.messagesKey(sessionID), r.ttl)
		pipe.Expire(ctx, r.sessionKey(sessionID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns the display log in insertion order.
func (r *RedisStore) ListMessages(ctx context.Context, sessionID string) ([]domain.StoredMessage, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	raw, err := r.client.LRange(ctx, r.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	messages := make([]domain.StoredMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.StoredMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// CountSessions returns the number of live sessions. Expired ids are pruned
// from the index as a side effect.
func (r *RedisStore) CountSessions(ctx context.Context) (int, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	live := 0
	for _, id := range ids {
		n, err := r.client.Exists(ctx, r.sessionKey(id)).Result()
		if err != nil {
			return 0, fmt.Errorf("check session: %w", err)
		}
		if n == 0 {
			if err := r.client.SRem(ctx, r.indexKey(), id).Err(); err != nil {
				slog.Debug("Failed to drop expired session from index", "session_id", id, "error", err)
			}
			continue
		}
		live++
	}
	return live, nil
}

// Ping verifies Redis connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
