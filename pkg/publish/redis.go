package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps each backtest stream, enforced via XADD MAXLEN ~
const streamMaxLen int64 = 10000

// RedisClient is the part of *redis.Client the publisher needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisPublisher sends every event to the Pub/Sub channel <prefix>:<backtestId>
// for live listeners, and appends it to a stream of the same name so late
// consumers can replay a run from the start.
type RedisPublisher struct {
	rdb    RedisClient
	prefix string
}

// NewRedisPublisher connects to addr and pings it before returning.
func NewRedisPublisher(ctx context.Context, addr, password string, db int, prefix string) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisPublisherWithClient(rdb, prefix), nil
}

func NewRedisPublisherWithClient(rdb RedisClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "tickex"
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

// Channel is the Pub/Sub channel and stream name used for a backtest
func (p *RedisPublisher) Channel(backtestID string) string {
	return p.prefix + ":" + backtestID
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	channel := p.Channel(ev.BacktestID)

	if err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: channel,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":    ev.Kind,
			"tick":    ev.Tick,
			"payload": payload,
		},
	}).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }

var _ Publisher = (*RedisPublisher)(nil)
