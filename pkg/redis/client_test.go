package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vaultline/treasury-backend/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := New(context.Background(), config.RedisConfig{Address: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	if err := client.Set(ctx, "vl:test:key", "value", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := client.Get(ctx, "vl:test:key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "value" {
		t.Fatalf("expected stored value, got %q", got)
	}

	if err := client.Del(ctx, "vl:test:key"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "vl:test:key"); err != goredis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestSetNXOnlyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	key := client.RunClaimKey("job-1:1700000000")
	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if !ok {
		t.Fatalf("first claim should win")
	}

	ok, err = client.SetNX(ctx, key, "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if ok {
		t.Fatalf("second claim should lose")
	}

	value, err := client.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != "owner-a" {
		t.Fatalf("claim owner overwritten, got %q", value)
	}
}

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)

	for i := int64(1); i <= 2; i++ {
		allowed, count, err := client.FixedWindowAllow(ctx, "trades", 2, time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed || count != i {
			t.Fatalf("request %d: allowed=%v count=%d", i, allowed, count)
		}
	}

	allowed, _, err := client.FixedWindowAllow(ctx, "trades", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}

	mr.FastForward(2 * time.Second)

	allowed, count, err := client.FixedWindowAllow(ctx, "trades", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 1 {
		t.Fatalf("window should reset, allowed=%v count=%d", allowed, count)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "vl:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "vl:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CounterKey("hits"); got != "vl:counter:hits" {
		t.Fatalf("unexpected counter key %s", got)
	}
	if got := client.LockKey("scheduler", "job-1"); got != "vl:lock:scheduler:job-1" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey("scheduler", ""); got != "vl:lock:scheduler" {
		t.Fatalf("lock key should skip empty parts, got %s", got)
	}
	if got := client.RunClaimKey("job-1:1700000000"); got != "vl:run:job-1:1700000000" {
		t.Fatalf("unexpected run claim key %s", got)
	}
}
