package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// SessionCache stores the session as JSON under chat:session:<key>. Entries
// expire with the refresh token.
type SessionCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewSessionCache scopes the cache to key so several clients can share one
// Redis database.
func NewSessionCache(client *redis.Client, key string, ttl time.Duration) *SessionCache {
	if key == "" {
		key = "default"
	}
	return &SessionCache{client: client, key: "chat:session:" + key, ttl: ttl}
}

func (c *SessionCache) Load(ctx context.Context) (*domain.Session, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session cache get: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session cache decode: %w", err)
	}
	return &s, nil
}

func (c *SessionCache) Save(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("session cache set: %w", err)
	}
	return nil
}

func (c *SessionCache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("session cache del: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *SessionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
