package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisCart_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "cart:it-user")

	cart := &domain.Cart{
		UserID: "it-user",
		Items: []domain.CartItem{
			{ProductID: "sku-1", Quantity: 2},
			{ProductID: "sku-2", Quantity: 1},
		},
	}
	if err := adapter.Save(ctx, cart); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stored, err := adapter.Get(ctx, "it-user")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(stored.Items) != 2 || stored.Quantity("sku-1") != 2 {
		t.Errorf("unexpected cart: %+v", stored)
	}

	// The cart key expires on its own eventually.
	ttl, err := client.TTL(ctx, "cart:it-user").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("expected a positive TTL, got %v", ttl)
	}

	if err := adapter.Delete(ctx, "it-user"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := adapter.Get(ctx, "it-user"); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestRedisCart_GetMissing(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "cart:it-nobody")

	_, err := adapter.Get(ctx, "it-nobody")
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestRedisSetIfAbsent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "idem:it-key")

	ok, err := adapter.SetIfAbsent(ctx, "it-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	ok, err = adapter.SetIfAbsent(ctx, "it-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}
}

func TestRedisSetIfAbsent_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)

	client.Del(ctx, "idem:it-concurrent")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIfAbsent(ctx, "it-concurrent")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}
