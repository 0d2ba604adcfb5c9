package cache

import (
	"context"
	"testing"

	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-gateway-registry/internal/pkg/infrastructure/logging"
)

func TestThatNoopCacheNeverHits(t *testing.T) {
	c := NewNoopCache()
	ctx := context.Background()

	if err := c.Set(ctx, GatewayKey("abc"), map[string]string{"a": "b"}); err != nil {
		t.Fatal(err.Error())
	}

	var dest map[string]string
	hit, err := c.Get(ctx, GatewayKey("abc"), &dest)
	if err != nil || hit {
		t.Errorf("expected a miss without error, got hit=%v err=%v", hit, err)
	}
}

func TestGatewayKey(t *testing.T) {
	if GatewayKey("abc") != "cache:gateway:abc" {
		t.Errorf("unexpected key %s", GatewayKey("abc"))
	}
}

func TestThatNewRedisCacheFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRedisCache(ctx, config.RedisConfig{Addr: "127.0.0.1:1"}, logging.NewLogger())
	if err == nil {
		t.Error("expected an error when redis is unreachable")
	}
}
