package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/procx/backend/pkg/logger"
)

// RedisLog is a ContactLog backed by redis with per-key TTL, so the dedup
// window survives restarts and is shared across instances.
type RedisLog struct {
	client *redis.Client
	window time.Duration
}

func NewRedisLog(host string, port int, password string, db int, window time.Duration) (*RedisLog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis contact log initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("window", window),
	)

	return &RedisLog{client: client, window: window}, nil
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}

func (l *RedisLog) MarkContacted(ctx context.Context, customerID, status string) error {
	data, err := json.Marshal(entry{ContactedAt: time.Now(), Status: status})
	if err != nil {
		return fmt.Errorf("failed to marshal contact entry: %w", err)
	}

	err = l.client.Set(ctx, contactKey(customerID), data, l.window).Err()
	if err != nil {
		return fmt.Errorf("failed to mark customer contacted: %w", err)
	}

	logger.Debug("Customer contact recorded",
		zap.String("customer_id", customerID),
		zap.String("status", status),
	)
	return nil
}

func (l *RedisLog) RecentlyContacted(ctx context.Context, customerID string) (bool, time.Time, error) {
	data, err := l.client.Get(ctx, contactKey(customerID)).Bytes()
	if err == redis.Nil {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to check contact log: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return false, time.Time{}, fmt.Errorf("failed to unmarshal contact entry: %w", err)
	}

	return true, e.ContactedAt, nil
}

func contactKey(customerID string) string {
	return fmt.Sprintf("contact:%s", customerID)
}
