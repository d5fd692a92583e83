package auth

import (
	"context"
	"os"
	"testing"
	"time"
)

// exerciseSessionStore runs the shared store contract against a live backend.
func exerciseSessionStore(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	record := SessionRecord{
		TokenHash:         "integration-hash",
		UserID:            "user-integration",
		ExpiresAt:         now.Add(time.Minute).UTC(),
		AbsoluteExpiresAt: now.Add(time.Hour).UTC(),
	}

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := store.Get(ctx, record.TokenHash)
	if err != nil || !ok {
		t.Fatalf("Get after save: ok=%v err=%v", ok, err)
	}
	if got.UserID != record.UserID {
		t.Fatalf("unexpected user id %s", got.UserID)
	}

	record.ExpiresAt = now.Add(2 * time.Minute).UTC()
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	got, ok, err = store.Get(ctx, record.TokenHash)
	if err != nil || !ok {
		t.Fatalf("Get after update: ok=%v err=%v", ok, err)
	}
	if !got.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("expected updated expiry %v, got %v", record.ExpiresAt, got.ExpiresAt)
	}

	if err := store.Delete(ctx, record.TokenHash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := store.Get(ctx, record.TokenHash); err != nil || ok {
		t.Fatalf("expected record gone after delete, ok=%v err=%v", ok, err)
	}

	if err := store.PurgeExpired(ctx, time.Now()); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
}

func TestPostgresSessionStoreIntegration(t *testing.T) {
	dsn := os.Getenv("OPENAIR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OPENAIR_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgresSessionStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresSessionStore: %v", err)
	}
	defer store.Close(ctx)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	exerciseSessionStore(t, store)
}

func TestRedisSessionStoreIntegration(t *testing.T) {
	url := os.Getenv("OPENAIR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OPENAIR_TEST_REDIS_URL not set")
	}
	store, err := NewRedisSessionStore(url)
	if err != nil {
		t.Fatalf("NewRedisSessionStore: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	exerciseSessionStore(t, store)
}
