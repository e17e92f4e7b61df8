package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatrelay/pkg/domain"
)

const (
	// RecentLimit bounds how many payloads a room's cache retains.
	RecentLimit = 50
	// CacheTTL expires the cache of rooms with no activity. Refreshed on
	// every write, so only idle rooms fall out.
	CacheTTL = time.Hour
)

// Cache is the bounded per-room list of recent payloads. It is a pure
// performance shortcut: an absent or expired key means "unknown", never
// "empty room".
type Cache struct {
	client *redis.Client
}

// NewCache wraps the shared write client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Record prepends the payload, trims the list to RecentLimit, and
// refreshes the TTL.
func (c *Cache) Record(ctx context.Context, roomID int64, p domain.Payload) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	key := CacheKey(roomID)
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, RecentLimit-1)
		pipe.Expire(ctx, key, CacheTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record room %d: %w", roomID, err)
	}
	return nil
}

// Recent returns the cached payloads in chronological order (oldest
// first). Storage is newest-first, so the read reverses. Malformed items
// are skipped.
func (c *Cache) Recent(ctx context.Context, roomID int64) ([]domain.Payload, error) {
	raw, err := c.client.LRange(ctx, CacheKey(roomID), 0, RecentLimit-1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache for room %d: %w", roomID, err)
	}
	out := make([]domain.Payload, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		p, err := domain.DecodePayload(raw[i])
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
