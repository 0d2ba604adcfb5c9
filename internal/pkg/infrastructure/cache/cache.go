package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
	"github.com/redis/go-redis/v9"
)

//Cache stores JSON encoded read views keyed by string
type Cache interface {
	//Get decodes the cached value into dest and reports whether there was a hit
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context, keys ...string) error
	Close() error
}

//GatewayKey is the key under which the view of a gateway is cached
func GatewayKey(serial string) string {
	return "cache:gateway:" + serial
}

//NewRedisCache connects to redis and verifies the connection with a PING
func NewRedisCache(ctx context.Context, cfg config.RedisConfig, log logging.Logger) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.Infof("Redis connection to %s successfully opened.", cfg.Addr)

	return &redisCache{client: client, ttl: cfg.TTL}, nil
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decoding cached value for %s: %w", key, err)
	}
	return true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *redisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}

//NewNoopCache returns a Cache that never hits, used when redis is not configured
func NewNoopCache() Cache {
	return noopCache{}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, interface{}) (bool, error) { return false, nil }
func (noopCache) Set(context.Context, string, interface{}) error         { return nil }
func (noopCache) Invalidate(context.Context, ...string) error            { return nil }
func (noopCache) Close() error                                           { return nil }
