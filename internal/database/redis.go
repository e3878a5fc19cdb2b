package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients splits queue traffic from pub/sub. Every worker parks a
// connection in BLPOP, so the queue client is sized from the worker count
// and events never wait behind it.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string, workers int) (*RedisClients, error) {
	base, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	queueOpt := *base
	if need := workers + 4; queueOpt.PoolSize < need {
		queueOpt.PoolSize = need
	}
	pubsubOpt := *base

	r := &RedisClients{
		Queue:  redis.NewClient(&queueOpt),
		PubSub: redis.NewClient(&pubsubOpt),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for name, c := range map[string]*redis.Client{"queue": r.Queue, "pubsub": r.PubSub} {
		if err := c.Ping(ctx).Err(); err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to ping Redis (%s): %w", name, err)
		}
	}
	return r, nil
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.PubSub.Close()
}
