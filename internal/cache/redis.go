package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raglab/ragserver/internal/config"
	"github.com/raglab/ragserver/internal/logger"
)

// RedisLayer is a Redis-backed JSON-blob store: get/save/delete against a
// single key namespace with a TTL. It is built when REDIS_ENABLED is set
// and handed to Caches, which does not read from or write to it.
type RedisLayer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLayer dials Redis per cfg.Redis; returns nil if Redis is disabled.
func NewRedisLayer(cfg *config.Config) *RedisLayer {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr(cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
	})
	return &RedisLayer{client: client, prefix: "ragserver:cache:", ttl: cfg.CacheTTL}
}

func addr(host string, port int) string {
	if port == 0 {
		return host
	}
	return host + ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	pos := len(digits)
	for n > 0 {
		pos--
		digits[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[pos:])
}

// Get reads and unmarshals a value. Returns false on a miss.
func (r *RedisLayer) Get(ctx context.Context, key string, dest interface{}) bool {
	if r == nil {
		return false
	}
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn(ctx, "redis cache get failed", "error", err.Error())
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		logger.Warn(ctx, "redis cache unmarshal failed", "error", err.Error())
		return false
	}
	return true
}

// Save marshals and writes a value with the configured TTL.
func (r *RedisLayer) Save(ctx context.Context, key string, value interface{}) error {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, raw, r.ttl).Err()
}

// Delete removes a key.
func (r *RedisLayer) Delete(ctx context.Context, key string) error {
	if r == nil {
		return nil
	}
	return r.client.Del(ctx, r.prefix+key).Err()
}
