// Package cache provides a Redis read-through cache in front of the catalog
// variant repository. The cache is stale-tolerant: checkout revalidates stock
// against the authoritative store, so a cached projection only ever affects
// advisory cart views.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/souqline/api/internal/domain"
)

const defaultVariantTTL = 5 * time.Minute

// VariantSource is the authoritative reader the cache fills from.
type VariantSource interface {
	FindByID(ctx context.Context, variantID string) (domain.Variant, error)
	FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error)
}

// VariantCache serves variant reads from Redis, falling back to the source on
// any cache failure. Writes go through Invalidate.
type VariantCache struct {
	client redis.UniversalClient
	source VariantSource
	ttl    time.Duration
	logger *zap.Logger
}

// VariantCacheConfig wires the cache dependencies.
type VariantCacheConfig struct {
	Client redis.UniversalClient
	Source VariantSource
	TTL    time.Duration
	Logger *zap.Logger
}

// NewVariantCache validates the config and builds the cache.
func NewVariantCache(cfg VariantCacheConfig) (*VariantCache, error) {
	if cfg.Client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("cache: variant source is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultVariantTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VariantCache{
		client: cfg.Client,
		source: cfg.Source,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func variantKey(variantID string) string {
	return "variant:" + variantID
}

// FindByID returns one variant, reading through the cache.
func (c *VariantCache) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	if cached, ok := c.load(ctx, variantID); ok {
		return cached, nil
	}

	variant, err := c.source.FindByID(ctx, variantID)
	if err != nil {
		return domain.Variant{}, err
	}
	c.store(ctx, variant)
	return variant, nil
}

// FindByIDs returns the subset of requested variants that exist, mixing cache
// hits with a single source read for the misses.
func (c *VariantCache) FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.Variant, error) {
	found := make(map[string]domain.Variant, len(variantIDs))
	var misses []string

	for _, id := range variantIDs {
		if cached, ok := c.load(ctx, id); ok {
			found[id] = cached
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return found, nil
	}

	fetched, err := c.source.FindByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, variant := range fetched {
		found[id] = variant
		c.store(ctx, variant)
	}
	return found, nil
}

// Invalidate drops the cached projection for a variant after a catalog write.
func (c *VariantCache) Invalidate(ctx context.Context, variantID string) error {
	if err := c.client.Del(ctx, variantKey(variantID)).Err(); err != nil {
		return fmt.Errorf("cache: invalidate variant %s: %w", variantID, err)
	}
	return nil
}

func (c *VariantCache) load(ctx context.Context, variantID string) (domain.Variant, bool) {
	raw, err := c.client.Get(ctx, variantKey(variantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("variant cache read failed",
				zap.String("variantId", variantID),
				zap.Error(err))
		}
		return domain.Variant{}, false
	}

	var variant domain.Variant
	if err := json.Unmarshal(raw, &variant); err != nil {
		c.logger.Warn("variant cache entry corrupt",
			zap.String("variantId", variantID),
			zap.Error(err))
		return domain.Variant{}, false
	}
	return variant, true
}

func (c *VariantCache) store(ctx context.Context, variant domain.Variant) {
	raw, err := json.Marshal(variant)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, variantKey(variant.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("variant cache write failed",
			zap.String("variantId", variant.ID),
			zap.Error(err))
	}
}
