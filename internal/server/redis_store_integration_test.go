package server

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestRedisStoreAllowIntegration(t *testing.T) {
	url := os.Getenv("OPENAIR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OPENAIR_TEST_REDIS_URL not set")
	}

	store, err := newRedisStore(url, time.Second)
	if err != nil {
		t.Fatalf("newRedisStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})

	ctx := context.Background()
	key := fmt.Sprintf("openair:login:test-%d", time.Now().UnixNano())

	allowed, retry, err := store.Allow(ctx, key, 2, 2*time.Second)
	if err != nil || !allowed || retry != 0 {
		t.Fatalf("first allow unexpected: allowed=%v retry=%v err=%v", allowed, retry, err)
	}
	allowed, _, err = store.Allow(ctx, key, 2, 2*time.Second)
	if err != nil || !allowed {
		t.Fatalf("second allow unexpected: allowed=%v err=%v", allowed, err)
	}
	allowed, retry, err = store.Allow(ctx, key, 2, 2*time.Second)
	if err != nil {
		t.Fatalf("third allow err: %v", err)
	}
	if allowed {
		t.Fatal("expected throttle on third attempt")
	}
	if retry <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retry)
	}
}
