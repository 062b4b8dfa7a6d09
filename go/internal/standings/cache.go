package standings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kshah22/codeclash/go/internal/models"
)

// DefaultSnapshotTTL keeps mirrored tables for a full contest day.
const DefaultSnapshotTTL = 24 * time.Hour

// SnapshotCache mirrors standings tables to Redis so a restarted process
// can serve a table before its first recompute, and so the frozen snapshot
// survives restarts during a freeze.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func currentKey(contestID uuid.UUID) string {
	return fmt.Sprintf("standings:%s", contestID)
}

func frozenKey(contestID uuid.UUID) string {
	return fmt.Sprintf("standings:%s:frozen", contestID)
}

func (c *SnapshotCache) StoreCurrent(ctx context.Context, table *models.StandingsTable) error {
	return c.store(ctx, currentKey(table.ContestID), table)
}

func (c *SnapshotCache) StoreFrozen(ctx context.Context, table *models.StandingsTable) error {
	return c.store(ctx, frozenKey(table.ContestID), table)
}

func (c *SnapshotCache) store(ctx context.Context, key string, table *models.StandingsTable) error {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to marshal standings table: %w", err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store standings at %s: %w", key, err)
	}
	return nil
}

func (c *SnapshotCache) LoadCurrent(ctx context.Context, contestID uuid.UUID) (*models.StandingsTable, error) {
	return c.load(ctx, currentKey(contestID))
}

func (c *SnapshotCache) LoadFrozen(ctx context.Context, contestID uuid.UUID) (*models.StandingsTable, error) {
	return c.load(ctx, frozenKey(contestID))
}

// load returns (nil, nil) on a cache miss.
func (c *SnapshotCache) load(ctx context.Context, key string) (*models.StandingsTable, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load standings at %s: %w", key, err)
	}
	var table models.StandingsTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal standings at %s: %w", key, err)
	}
	return &table, nil
}

func (c *SnapshotCache) DropFrozen(ctx context.Context, contestID uuid.UUID) error {
	if err := c.rdb.Del(ctx, frozenKey(contestID)).Err(); err != nil {
		return fmt.Errorf("failed to drop frozen standings: %w", err)
	}
	return nil
}
