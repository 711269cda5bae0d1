package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/crm-campaigns/internal/model"
)

type RedisReceiptCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisReceiptCache(rdb *redis.Client, ttl time.Duration) *RedisReceiptCache {
	return &RedisReceiptCache{rdb: rdb, ttl: ttl}
}

type receiptValue struct {
	Status          model.LogStatus `json:"status"`
	VendorMessageID string          `json:"vendorMessageId"`
	ReceivedAt      time.Time       `json:"receivedAt"`
}

// A relaunch reuses log rows, so the vendor message id scopes the key to
// one delivery attempt.
func receiptKey(r model.Receipt) string {
	return fmt.Sprintf("receipt:%d:%s", r.CommunicationLogID, r.VendorMessageID)
}

func (c *RedisReceiptCache) Seen(ctx context.Context, r model.Receipt) (bool, error) {
	n, err := c.rdb.Exists(ctx, receiptKey(r)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisReceiptCache) Remember(ctx context.Context, r model.Receipt) error {
	b, err := json.Marshal(receiptValue{
		Status:          r.Status,
		VendorMessageID: r.VendorMessageID,
		ReceivedAt:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, receiptKey(r), b, c.ttl).Err()
}

var _ ReceiptCache = (*RedisReceiptCache)(nil)
