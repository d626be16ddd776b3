// Package blocklist mirrors blacklist transitions into Redis so a fleet of
// instances converges on the same set of blocked sources. The local store
// remains authoritative; the mirror is an accelerator, and every operation
// degrades to a no-op when Redis is not configured.
package blocklist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	setKey     = "snare:blacklist"
	defaultTTL = 30 * 24 * time.Hour
)

// Mirror is the shared blacklist surface.
type Mirror interface {
	// Publish marks sourceID blacklisted for every instance.
	Publish(ctx context.Context, sourceID string) error
	// Check reports whether any instance has blacklisted sourceID.
	Check(ctx context.Context, sourceID string) (bool, error)
	Close() error
}

// RedisMirror implements Mirror on a Redis set.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror connects to the given REDIS_URL.
func NewRedisMirror(ctx context.Context, url string) (*RedisMirror, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisMirror{client: client}, nil
}

func (m *RedisMirror) Publish(ctx context.Context, sourceID string) error {
	pipe := m.client.TxPipeline()
	pipe.SAdd(ctx, setKey, sourceID)
	pipe.Expire(ctx, setKey, defaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish blacklist entry: %w", err)
	}
	return nil
}

func (m *RedisMirror) Check(ctx context.Context, sourceID string) (bool, error) {
	member, err := m.client.SIsMember(ctx, setKey, sourceID).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist entry: %w", err)
	}
	return member, nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// Noop is the single-instance fallback.
type Noop struct{}

func (Noop) Publish(ctx context.Context, sourceID string) error { return nil }

func (Noop) Check(ctx context.Context, sourceID string) (bool, error) { return false, nil }

func (Noop) Close() error { return nil }
