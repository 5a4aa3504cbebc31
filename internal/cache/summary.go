// Package cache publishes book summaries to Redis so dashboards and sibling
// services can read market state without touching the hot path.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradequote/internal/book"
)

const keyPrefix = "tradequote:book:"

// SummaryCache writes the latest per-symbol book summary with a TTL. A nil
// *SummaryCache is a no-op, so callers need no enabled checks.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr. Returns nil when addr is empty (cache
// disabled).
func New(addr string, ttl time.Duration) *SummaryCache {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SummaryCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Publish stores the summary under the symbol's key. Failures are logged,
// not propagated; the cache is best-effort.
func (c *SummaryCache) Publish(ctx context.Context, summary book.Summary) {
	if c == nil {
		return
	}

	data, err := json.Marshal(summary)
	if err != nil {
		log.Error().Err(err).Str("symbol", summary.Symbol).Msg("Summary marshal failed")
		return
	}
	if err := c.client.Set(ctx, keyPrefix+summary.Symbol, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", summary.Symbol).Msg("Summary cache write failed")
	}
}

// Get reads the cached summary for symbol.
func (c *SummaryCache) Get(ctx context.Context, symbol string) (book.Summary, error) {
	var summary book.Summary
	if c == nil {
		return summary, fmt.Errorf("summary cache disabled")
	}

	data, err := c.client.Get(ctx, keyPrefix+symbol).Bytes()
	if err != nil {
		return summary, fmt.Errorf("summary cache read: %w", err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("summary cache decode: %w", err)
	}
	return summary, nil
}

// Close releases the Redis connection.
func (c *SummaryCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
