package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archboard-io/archboard/internal/slogging"
)

const snapshotKeyPrefix = "diagram:snapshot:"

// SnapshotCache keeps recent diagram snapshots in Redis so every join does
// not hit the database for the welcome envelope. All methods degrade to
// cache misses when Redis is unavailable; the cache is never load bearing
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache wraps a Redis client. client may be nil, which yields a
// cache that always misses
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(diagramID string) string {
	return snapshotKeyPrefix + diagramID
}

// Get returns the cached snapshot for a diagram, if any
func (c *SnapshotCache) Get(ctx context.Context, diagramID string) (*Diagram, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, snapshotKey(diagramID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slogging.Get().Debug("snapshot cache read failed for %s: %v", diagramID, err)
		}
		return nil, false
	}

	var d Diagram
	if err := json.Unmarshal(data, &d); err != nil {
		slogging.Get().Warn("snapshot cache entry for %s is corrupt, dropping: %v", diagramID, err)
		c.Invalidate(ctx, diagramID)
		return nil, false
	}
	return &d, true
}

// Put stores a snapshot with the configured TTL
func (c *SnapshotCache) Put(ctx context.Context, d *Diagram) {
	if c == nil || c.client == nil || d == nil {
		return
	}

	data, err := json.Marshal(d)
	if err != nil {
		slogging.Get().Warn("failed to encode snapshot for %s: %v", d.ID, err)
		return
	}
	if err := c.client.Set(ctx, snapshotKey(d.ID), data, c.ttl).Err(); err != nil {
		slogging.Get().Debug("snapshot cache write failed for %s: %v", d.ID, err)
	}
}

// Invalidate drops the cached snapshot after a write so the next join sees
// fresh data
func (c *SnapshotCache) Invalidate(ctx context.Context, diagramID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, snapshotKey(diagramID)).Err(); err != nil {
		slogging.Get().Debug("snapshot cache invalidation failed for %s: %v", diagramID, err)
	}
}
