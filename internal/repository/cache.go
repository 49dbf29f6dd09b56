package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"credlo/internal/model"
)

// BalanceCache is a read-side cache for balance views. It is strictly
// best-effort: any redis failure degrades to the database read and is
// only logged, never returned.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID string) string {
	return fmt.Sprintf("balance:view:%s", userID)
}

// Get returns the cached view, or ok=false on miss or error.
func (c *BalanceCache) Get(ctx context.Context, userID string) (*model.BalanceView, bool) {
	data, err := c.client.Get(ctx, balanceKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("balance cache read failed", "user_id", userID, "error", err)
		}
		return nil, false
	}

	var view model.BalanceView
	if err := json.Unmarshal(data, &view); err != nil {
		slog.Warn("balance cache entry corrupt, dropping", "user_id", userID, "error", err)
		_ = c.client.Del(ctx, balanceKey(userID)).Err()
		return nil, false
	}
	return &view, true
}

func (c *BalanceCache) Set(ctx context.Context, view *model.BalanceView) {
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(view.UserID), data, c.ttl).Err(); err != nil {
		slog.Warn("balance cache write failed", "user_id", view.UserID, "error", err)
	}
}

// Invalidate drops the cached view after a mutation commits.
func (c *BalanceCache) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		slog.Warn("balance cache invalidation failed", "user_id", userID, "error", err)
	}
}
