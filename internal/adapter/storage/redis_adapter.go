package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/port"
)

const (
	cartKeyPrefix     = "cart:"
	idempotencyPrefix = "idem:"

	// cartTTL bounds how long an untouched cart survives. Carts hold no
	// reservations, so expiry costs the shopper nothing but retyping.
	cartTTL = 30 * 24 * time.Hour

	idempotencyTTL = 24 * time.Hour
)

// RedisAdapter stores carts as JSON blobs per user and backs the checkout
// idempotency guard with SETNX.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &cart, nil
}

func (r *RedisAdapter) Save(ctx context.Context, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := r.client.Set(ctx, cartKeyPrefix+cart.UserID, data, cartTTL).Err(); err != nil {
		return fmt.Errorf("set cart: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cartKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func (r *RedisAdapter) SetIfAbsent(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyPrefix+key, 1, idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return ok, nil
}
