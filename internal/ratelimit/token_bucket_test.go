package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(client, 2, 1, time.Minute)

	allowed, _, err := limiter.Allow(ctx, "tenant-a")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = limiter.Allow(ctx, "tenant-a")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = limiter.Allow(ctx, "tenant-a")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	// Buckets are per tenant; a different tenant still has capacity.
	allowed, _, _ = limiter.Allow(ctx, "tenant-b")
	if !allowed {
		t.Fatalf("expected separate tenant to be allowed")
	}

	// Note: refill cannot be tested with miniredis.FastForward() because
	// the Lua script receives time from Go's time.Now(), not Redis's clock.
}
