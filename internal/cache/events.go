package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	processedEventPrefix = "billing:event:"
	// processedEventTTL covers the provider's redelivery window.
	processedEventTTL = 72 * time.Hour
)

// IsEventProcessed reports whether a billing event id was already applied.
func (c *Cache) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := c.client.Get(ctx, processedEventKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read event ledger: %w", err)
	}
	return true, nil
}

// MarkEventProcessed records a billing event id as applied.
func (c *Cache) MarkEventProcessed(ctx context.Context, eventID string) error {
	err := c.client.Set(ctx, processedEventKey(eventID), c.now().UTC().Format(time.RFC3339), processedEventTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to write event ledger: %w", err)
	}
	return nil
}

func processedEventKey(eventID string) string {
	return processedEventPrefix + eventID
}
