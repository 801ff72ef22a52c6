package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCandidates are probed in order when REDIS_ADDR is unset.
var redisCandidates = []string{"redis:6379", "localhost:6379", "localhost:56379"}

// SetupTestRedis returns a client on a flushed, reserved logical DB. The test
// is skipped (or failed under TEST_REQUIRE_REDIS) when no server answers.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr, err := findRedis()
	if err != nil {
		if requireInfra("TEST_REQUIRE_REDIS") {
			t.Fatal("redis not available:", err)
		}
		t.Skip("redis not available:", err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: reserveRedisDB(t, addr)})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.FlushDB(ctx).Err(); err != nil {
		closeQuietly(t, "redis client", client)
		t.Fatalf("flush redis db at %s: %v", addr, err)
	}
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { closeQuietly(t, "redis client", client) })
	}
	return client
}

func findRedis() (string, error) {
	candidates := redisCandidates
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		candidates = []string{addr}
	}

	var lastErr error
	for _, addr := range candidates {
		if lastErr = pingRedis(addr); lastErr == nil {
			return addr, nil
		}
	}
	return "", lastErr
}

func pingRedis(addr string) error {
	c := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = c.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%s: %w", addr, err)
	}
	return nil
}

// reserveRedisDB picks TEST_REDIS_DB, or claims a free index in 1..15 through a
// lock key in DB 0 so parallel packages do not flush each other.
func reserveRedisDB(t TestingTB, addr string) int {
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
		t.Logf("ignoring invalid TEST_REDIS_DB=%q", v)
	}

	meta := redis.NewClient(&redis.Options{Addr: addr})
	token := fmt.Sprintf("%d:%d", os.Getpid(), time.Now().UnixNano())
	for i := 1; i <= 15; i++ {
		key := fmt.Sprintf("jobcoord:testutil:redis_db:%d", i)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ok, err := meta.SetNX(ctx, key, token, 30*time.Minute).Result()
		cancel()
		if err != nil || !ok {
			continue
		}
		if c, ok := t.(interface{ Cleanup(func()) }); ok {
			c.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				meta.Del(ctx, key)
				closeQuietly(t, "redis meta client", meta)
			})
		} else {
			closeQuietly(t, "redis meta client", meta)
		}
		return i
	}

	closeQuietly(t, "redis meta client", meta)
	t.Logf("no free redis db at %s, sharing db 1", addr)
	return 1
}
