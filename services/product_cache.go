package services

import (
	"context"
	"encoding/json"
	"time"

	"orders-service/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const productCachePrefix = "orders:product:"

// CachedProductClient serves product lookups from Redis and falls back to
// the wrapped client for ids it has not seen. Cached entries can outlive the
// product, so it is only fit for display lookups; order creation validates
// against the product service directly.
type CachedProductClient struct {
	inner  ProductClient
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	// writes tracks background cache writes; tests wait on it.
	writes chan struct{}
}

func NewCachedProductClient(inner ProductClient, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedProductClient {
	return &CachedProductClient{
		inner:  inner,
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedProductClient) ValidateProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	cached, missing := c.lookup(ctx, ids)
	if len(missing) == 0 {
		return cached, nil
	}

	fresh, err := c.inner.ValidateProducts(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.storeAsync(fresh)

	return append(cached, fresh...), nil
}

// lookup returns the cached products and the ids that were not found. A
// cache failure reports every id as missing.
func (c *CachedProductClient) lookup(ctx context.Context, ids []string) ([]models.Product, []string) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productCachePrefix + id
	}

	vals, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("product cache read failed", zap.Error(err))
		return nil, ids
	}

	var hits []models.Product
	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var p models.Product
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			c.logger.Warn("dropping unreadable cached product", zap.String("product_id", ids[i]), zap.Error(err))
			missing = append(missing, ids[i])
			continue
		}
		hits = append(hits, p)
	}
	return hits, missing
}

func (c *CachedProductClient) storeAsync(products []models.Product) {
	if len(products) == 0 {
		return
	}
	go func() {
		defer c.signal()

		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pipe := c.redis.Pipeline()
		for _, p := range products {
			b, err := json.Marshal(p)
			if err != nil {
				c.logger.Warn("failed to marshal product for cache", zap.String("product_id", string(p.ID)), zap.Error(err))
				continue
			}
			pipe.Set(bgCtx, productCachePrefix+string(p.ID), b, c.ttl)
		}
		if _, err := pipe.Exec(bgCtx); err != nil {
			c.logger.Warn("failed to cache products", zap.Error(err))
		}
	}()
}

func (c *CachedProductClient) signal() {
	if c.writes != nil {
		c.writes <- struct{}{}
	}
}
