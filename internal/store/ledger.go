package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/prolessons/pkg/billing"
)

// RedisLedger is a billing.EventLedger backed by SET NX with expiry.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ billing.EventLedger = (*RedisLedger)(nil)

// NewRedisLedger creates a RedisLedger. Claims expire after ttl; zero keeps them forever.
func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Claim(ctx context.Context, provider billing.ProviderName, eventID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, billing.LedgerKey(provider, eventID), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, provider billing.ProviderName, eventID string) error {
	if err := l.client.Del(ctx, billing.LedgerKey(provider, eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}
