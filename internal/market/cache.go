package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/perpmind/perpmind/internal/models"
)

// RedisConfig for the market-data cache.
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// Cache stores recent MarketData snapshots in redis so repeated reads within
// a cycle, or across restarts, skip the venue round trip. A nil Cache is a
// valid no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(cfg RedisConfig, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: rdb, ttl: ttl, logger: zap.NewNop()}, nil
}

func (c *Cache) SetLogger(logger *zap.Logger) {
	if c != nil && logger != nil {
		c.logger = logger
	}
}

func cacheKey(symbol string) string {
	return "market:" + symbol
}

// Get returns the cached snapshot for symbol, or nil on miss. Cache errors
// are logged and reported as misses.
func (c *Cache) Get(ctx context.Context, symbol string) *models.MarketData {
	if c == nil {
		return nil
	}

	raw, err := c.client.Get(ctx, cacheKey(symbol)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("market cache read failed", zap.String("symbol", symbol), zap.Error(err))
		}
		return nil
	}

	var data models.MarketData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.logger.Warn("market cache entry corrupt", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	return &data
}

// Set writes the snapshot with the cache TTL. Failures are logged only.
func (c *Cache) Set(ctx context.Context, data *models.MarketData) {
	if c == nil || data == nil {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("market cache encode failed", zap.String("symbol", data.Symbol), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(data.Symbol), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("market cache write failed", zap.String("symbol", data.Symbol), zap.Error(err))
	}
}

func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
