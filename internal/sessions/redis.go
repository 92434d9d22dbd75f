package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// RedisHistoryStore keeps each session's turns in a Redis list so several
// service instances share carryover context.
type RedisHistoryStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 keeps history until cleared
}

// NewRedisClient creates a go-redis client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// NewRedisHistoryStore wraps client. Keys are "<prefix>:<session>:turns".
func NewRedisHistoryStore(client *redis.Client, prefix string, ttl time.Duration) *RedisHistoryStore {
	if prefix == "" {
		prefix = "scenepilot"
	}
	return &RedisHistoryStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisHistoryStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID + ":turns"
}

// Ping checks the connection.
func (s *RedisHistoryStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	turns := make([]models.ConversationTurn, 0, len(raw))
	for _, r := range raw {
		var t models.ConversationTurn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *RedisHistoryStore) Append(ctx context.Context, sessionID string, turn models.ConversationTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Clear(ctx context.Context, sessionID string) error {
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}
