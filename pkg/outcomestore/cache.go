package outcomestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// CachedStore wraps an OutcomeStore and caches ModuleStatistics lookups in
// Redis. The RiskEngine reads module history on every assessment; without a
// cache a burst of kills against one module turns into a storm of
// identical Postgres aggregate queries.
type CachedStore struct {
	OutcomeStore
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

// NewCachedStore wraps inner with a Redis-backed cache for ModuleStatistics.
func NewCachedStore(inner OutcomeStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{OutcomeStore: inner, redis: client, ttl: ttl, log: logger}
}

func (c *CachedStore) ModuleStatistics(ctx context.Context, module string) (types.ModuleStatistics, error) {
	key := "medic-agent:module-stats:" + module

	if cached, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var stats types.ModuleStatistics
		if jsonErr := json.Unmarshal(cached, &stats); jsonErr == nil {
			return stats, nil
		}
	} else if err != redis.Nil && c.log != nil {
		c.log.Warn("module statistics cache read failed", zap.Error(err), zap.String("module", module))
	}

	stats, err := c.OutcomeStore.ModuleStatistics(ctx, module)
	if err != nil {
		return types.ModuleStatistics{}, err
	}

	if encoded, err := json.Marshal(stats); err == nil {
		if err := c.redis.Set(ctx, key, encoded, c.ttl).Err(); err != nil && c.log != nil {
			c.log.Warn("module statistics cache write failed", zap.Error(err), zap.String("module", module))
		}
	}

	return stats, nil
}

// InvalidateModule evicts the cached statistics for module, called after a
// new outcome for that module is stored.
func (c *CachedStore) InvalidateModule(ctx context.Context, module string) error {
	return c.redis.Del(ctx, "medic-agent:module-stats:"+module).Err()
}

func (c *CachedStore) StoreOutcome(ctx context.Context, outcome types.ResurrectionOutcome) error {
	if err := c.OutcomeStore.StoreOutcome(ctx, outcome); err != nil {
		return err
	}
	return c.InvalidateModule(ctx, outcome.TargetModule)
}
