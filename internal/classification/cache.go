package classification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
	"go.uber.org/zap"
)

// MappingRuleRepository is the durable store behind the cache: postgres
// in production, satisfied by internal/repository.MappingRuleRepository.
type MappingRuleRepository interface {
	EffectiveSupplierRules(ctx context.Context, supplierID uuid.UUID) ([]domain.MappingRule, error)
	EffectiveGlobalRules(ctx context.Context) ([]domain.MappingRule, error)
}

// CachedMappingRuleSource wraps a MappingRuleRepository with a short-TTL
// redis cache keyed by supplier_id (spec §5 "MappingRules are read per
// classify call (or via a short-TTL cache keyed by supplier_id)").
// Global rules are cached under a fixed key.
type CachedMappingRuleSource struct {
	repo   MappingRuleRepository
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

const globalRulesCacheKey = "mapping_rules:global"

func NewCachedMappingRuleSource(repo MappingRuleRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedMappingRuleSource {
	return &CachedMappingRuleSource{repo: repo, redis: client, ttl: ttl, logger: logger}
}

func (c *CachedMappingRuleSource) SupplierRules(ctx context.Context, supplierID uuid.UUID) ([]domain.MappingRule, error) {
	key := "mapping_rules:supplier:" + supplierID.String()
	return c.cached(ctx, key, func() ([]domain.MappingRule, error) {
		return c.repo.EffectiveSupplierRules(ctx, supplierID)
	})
}

func (c *CachedMappingRuleSource) GlobalRules(ctx context.Context) ([]domain.MappingRule, error) {
	return c.cached(ctx, globalRulesCacheKey, func() ([]domain.MappingRule, error) {
		return c.repo.EffectiveGlobalRules(ctx)
	})
}

func (c *CachedMappingRuleSource) cached(ctx context.Context, key string, load func() ([]domain.MappingRule, error)) ([]domain.MappingRule, error) {
	if c.redis == nil {
		return load()
	}

	if raw, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var rules []domain.MappingRule
		if jsonErr := json.Unmarshal(raw, &rules); jsonErr == nil {
			return rules, nil
		}
	}

	rules, err := load()
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(rules); err == nil {
		if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil && c.logger != nil {
			c.logger.Warn("mapping rule cache write failed",
				logging.NewFields().Component("classification").Operation("cache_set").Error(err).Build()...)
		}
	}

	return rules, nil
}

// Invalidate drops the cached entries for a supplier and the global set;
// called by the override lifecycle after a write so a stale cache entry
// never outlives an override past the single TTL window.
func (c *CachedMappingRuleSource) Invalidate(ctx context.Context, supplierID *uuid.UUID) {
	if c.redis == nil {
		return
	}
	c.redis.Del(ctx, globalRulesCacheKey)
	if supplierID != nil {
		c.redis.Del(ctx, "mapping_rules:supplier:"+supplierID.String())
	}
}
