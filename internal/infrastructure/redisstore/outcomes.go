package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/availability-orchestrator/internal/domain/availability"
)

// DefaultOutcomeTTL bounds how long a displayed outcome survives.
const DefaultOutcomeTTL = 7 * 24 * time.Hour

func outcomeKey(restaurantID string) string { return keyPrefix + "last_outcome:" + restaurantID }

// OutcomeCache is an availability.OutcomeCache with a TTL per entry.
type OutcomeCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewOutcomeCache(c *Client, ttl time.Duration) *OutcomeCache {
	if ttl <= 0 {
		ttl = DefaultOutcomeTTL
	}
	return &OutcomeCache{rdb: c.rdb, ttl: ttl}
}

func (c *OutcomeCache) Put(ctx context.Context, o availability.RegenerationOutcome) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return c.rdb.Set(ctx, outcomeKey(o.RestaurantID), data, c.ttl).Err()
}

func (c *OutcomeCache) Get(ctx context.Context, restaurantID string) (availability.RegenerationOutcome, bool, error) {
	data, err := c.rdb.Get(ctx, outcomeKey(restaurantID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return availability.RegenerationOutcome{}, false, nil
	}
	if err != nil {
		return availability.RegenerationOutcome{}, false, fmt.Errorf("load outcome: %w", err)
	}
	var o availability.RegenerationOutcome
	if err := json.Unmarshal(data, &o); err != nil {
		return availability.RegenerationOutcome{}, false, fmt.Errorf("decode outcome for %s: %w", restaurantID, err)
	}
	return o, true, nil
}
