// Package cache keeps the achievement catalog in redis so badge evaluation
// does not hit postgres for a list that changes only with migrations.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mandaact/backend/internal/config"
	"github.com/mandaact/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	catalogKey = "mandaact:achievements:active"
	defaultTTL = time.Hour
	opTimeout  = 2 * time.Second
)

// Catalog implements gamification.CatalogCache. Every redis error is logged
// and reported as a miss.
type Catalog struct {
	rc  *redis.Client
	ttl time.Duration
	log *zap.Logger
}

// NewClient builds a redis client from cfg and pings it once. A failed ping
// is returned so the caller can decide to run without the cache.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, err
	}
	return rc, nil
}

func NewCatalog(rc *redis.Client, ttl time.Duration, log *zap.Logger) *Catalog {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Catalog{rc: rc, ttl: ttl, log: log.Named("cache")}
}

func (c *Catalog) GetAchievements(ctx context.Context) ([]models.Achievement, bool) {
	if c == nil || c.rc == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	b, err := c.rc.Get(ctx, catalogKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("catalog get failed", zap.Error(err))
		}
		return nil, false
	}
	list, err := decodeCatalog(b)
	if err != nil {
		c.log.Warn("catalog decode failed", zap.Error(err))
		return nil, false
	}
	return list, true
}

func (c *Catalog) SetAchievements(ctx context.Context, list []models.Achievement) {
	if c == nil || c.rc == nil {
		return
	}
	b, err := json.Marshal(list)
	if err != nil {
		c.log.Warn("catalog encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.rc.Set(ctx, catalogKey, b, c.ttl).Err(); err != nil {
		c.log.Warn("catalog set failed", zap.Error(err))
	}
}

// Invalidate drops the cached catalog, e.g. after a migration changes it.
func (c *Catalog) Invalidate(ctx context.Context) error {
	if c == nil || c.rc == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.rc.Del(ctx, catalogKey).Err()
}

func decodeCatalog(b []byte) ([]models.Achievement, error) {
	var list []models.Achievement
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	return list, nil
}
