package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openlaunch/saled/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// latest oracle observation is stored at key "price:{assetID}" with fields
// "price" and "ts" (Unix nanosecond timestamp). Only read-only surfaces
// consume this cache; the purchase path always quotes the oracle directly.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

var _ domain.PriceCache = (*PriceCache)(nil)

func priceKey(assetID string) string {
	return "price:" + assetID
}

// SetPrice stores the latest observed price and its timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(assetID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice retrieves the latest observed price and timestamp for an asset. It
// returns domain.ErrNotFound when no observation has been cached yet.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	priceStr, okPrice := vals["price"]
	tsStr, okTS := vals["ts"]
	if !okPrice || !okTS {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", assetID, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", assetID, err)
	}

	return price, time.Unix(0, tsNano), nil
}
