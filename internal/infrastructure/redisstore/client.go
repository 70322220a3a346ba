// Package redisstore keeps stale flags, cached outcomes and event fan-out in
// Redis so several orchestrator instances share them.
package redisstore

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "availability:"

// Client wraps a go-redis client.
type Client struct {
	rdb *goredis.Client
}

// NewClient creates a client from a URL such as "redis://localhost:6379".
func NewClient(redisURL string) (*Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &Client{rdb: goredis.NewClient(opts)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
