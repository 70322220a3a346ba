package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/logging"
)

// EventChannel is the pub/sub channel for one restaurant's events.
func EventChannel(restaurantID string) string { return keyPrefix + "events:" + restaurantID }

// Publisher broadcasts orchestration events over Redis pub/sub.
type Publisher struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

func NewPublisher(c *Client, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: c.rdb, logger: logging.OrNop(logger)}
}

func (p *Publisher) Publish(ctx context.Context, e availability.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.rdb.Publish(ctx, EventChannel(e.RestaurantID), data).Err()
}

// Subscription is an active subscription to one restaurant's events.
type Subscription struct {
	sub    *goredis.PubSub
	Ch     <-chan availability.Event
	cancel context.CancelFunc
}

func (s *Subscription) Close() {
	s.cancel()
	_ = s.sub.Close()
}

// Subscribe delivers the restaurant's events until ctx ends or Close is
// called. Events are dropped when the receiver falls behind.
func (p *Publisher) Subscribe(ctx context.Context, restaurantID string) (*Subscription, error) {
	sub := p.rdb.Subscribe(ctx, EventChannel(restaurantID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan availability.Event, 16)
	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var e availability.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					p.logger.Warn("decode event failed", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case ch <- e:
				default:
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{sub: sub, Ch: ch, cancel: cancel}, nil
}
