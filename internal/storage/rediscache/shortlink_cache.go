// Package rediscache decorates stores with Redis read-through caching.
package rediscache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Config controls the Redis connection and cache TTL.
type Config struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NewClient builds a go-redis client from config.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// ShortLinkCache wraps a ShortLinkStore with Redis caching for reads.
// Redirects are the hottest path in the service; the persistent store
// only sees cache misses and click-count writes.
type ShortLinkCache struct {
	store   offer.ShortLinkStore
	client  *redis.Client
	prefix  string
	hashKey string
	ttl     time.Duration
}

// NewShortLinkCache creates a Redis-cached short link store decorator.
func NewShortLinkCache(store offer.ShortLinkStore, client *redis.Client, ttl time.Duration) *ShortLinkCache {
	return &ShortLinkCache{
		store:   store,
		client:  client,
		prefix:  "shortlink:",
		hashKey: "shortlink_hashes",
		ttl:     ttl,
	}
}

// Save writes through to the underlying store and updates the cache.
func (c *ShortLinkCache) Save(ctx context.Context, link offer.ShortLink) error {
	if err := c.store.Save(ctx, link); err != nil {
		return err
	}
	c.cacheLink(ctx, link)
	return nil
}

// GetByCode retrieves a short link by code, checking the cache first.
func (c *ShortLinkCache) GetByCode(ctx context.Context, code string) (offer.ShortLink, error) {
	if link, err := c.getFromCache(ctx, code); err == nil {
		return link, nil
	}
	link, err := c.store.GetByCode(ctx, code)
	if err != nil {
		return offer.ShortLink{}, err
	}
	c.cacheLink(ctx, link)
	return link, nil
}

// GetByHash retrieves a short link by target hash via the hash index.
func (c *ShortLinkCache) GetByHash(ctx context.Context, hash string) (offer.ShortLink, error) {
	code, err := c.client.HGet(ctx, c.hashKey, hash).Result()
	if err == nil {
		if link, err := c.getFromCache(ctx, code); err == nil {
			return link, nil
		}
	}
	link, err := c.store.GetByHash(ctx, hash)
	if err != nil {
		return offer.ShortLink{}, err
	}
	c.cacheLink(ctx, link)
	return link, nil
}

// IncrementClicks forwards to the store; the cached click count is
// allowed to lag, so no invalidation happens here.
func (c *ShortLinkCache) IncrementClicks(ctx context.Context, code string) error {
	return c.store.IncrementClicks(ctx, code)
}

func (c *ShortLinkCache) getFromCache(ctx context.Context, code string) (offer.ShortLink, error) {
	result, err := c.client.HGetAll(ctx, c.prefix+code).Result()
	if err != nil {
		return offer.ShortLink{}, err
	}
	if len(result) == 0 {
		return offer.ShortLink{}, offer.ErrNotFound
	}

	link := offer.ShortLink{
		Code:      result["code"],
		TargetURL: result["target_url"],
		URLHash:   result["url_hash"],
		OfferID:   result["offer_id"],
	}
	if clicks, ok := result["clicks"]; ok {
		if n, err := strconv.ParseInt(clicks, 10, 64); err == nil {
			link.Clicks = n
		}
	}
	if ts, ok := result["created_at"]; ok {
		if nanos, err := strconv.ParseInt(ts, 10, 64); err == nil {
			link.CreatedAt = time.Unix(0, nanos)
		}
	}
	return link, nil
}

func (c *ShortLinkCache) cacheLink(ctx context.Context, link offer.ShortLink) {
	pipe := c.client.Pipeline()
	key := c.prefix + link.Code

	pipe.HSet(ctx, key, map[string]interface{}{
		"code":       link.Code,
		"target_url": link.TargetURL,
		"url_hash":   link.URLHash,
		"offer_id":   link.OfferID,
		"clicks":     link.Clicks,
		"created_at": link.CreatedAt.UnixNano(),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if link.URLHash != "" {
		pipe.HSet(ctx, c.hashKey, link.URLHash, link.Code)
	}
	_, _ = pipe.Exec(ctx)
}

// Compile-time check.
var _ offer.ShortLinkStore = (*ShortLinkCache)(nil)
