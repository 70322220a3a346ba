package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/availability-orchestrator/internal/domain/availability"
)

const staleKeyPrefix = keyPrefix + "stale:"

func staleKey(restaurantID string) string { return staleKeyPrefix + restaurantID }

// FlagStore is an availability.StaleFlagStore. Flags have no expiry; they
// live until a successful regeneration clears them.
type FlagStore struct {
	rdb *goredis.Client
}

func NewFlagStore(c *Client) *FlagStore { return &FlagStore{rdb: c.rdb} }

func (s *FlagStore) Load(ctx context.Context, restaurantID string) (availability.StaleFlag, bool, error) {
	data, err := s.rdb.Get(ctx, staleKey(restaurantID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return availability.StaleFlag{}, false, nil
	}
	if err != nil {
		return availability.StaleFlag{}, false, fmt.Errorf("load stale flag: %w", err)
	}
	var flag availability.StaleFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		return availability.StaleFlag{}, false, fmt.Errorf("decode stale flag for %s: %w", restaurantID, err)
	}
	return flag, true, nil
}

func (s *FlagStore) Save(ctx context.Context, restaurantID string, flag availability.StaleFlag) error {
	data, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode stale flag: %w", err)
	}
	return s.rdb.Set(ctx, staleKey(restaurantID), data, 0).Err()
}

func (s *FlagStore) Delete(ctx context.Context, restaurantID string) error {
	return s.rdb.Del(ctx, staleKey(restaurantID)).Err()
}

// Keys scans for every stored flag. It does not block the server the way
// KEYS would.
func (s *FlagStore) Keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, staleKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), staleKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan stale flags: %w", err)
	}
	return out, nil
}
