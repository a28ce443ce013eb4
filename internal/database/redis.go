package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps blocking traffic off the connections used for writes.
// Queue serves the worker BLPOPs and job pushes, Streams serves only the
// XREADs of chat followers, and PubSub carries publishes, stream appends
// and small reads.
type RedisClients struct {
	Queue   *redis.Client
	PubSub  *redis.Client
	Streams *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string, streamPoolSize int) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	queueClient := redis.NewClient(opt)
	if err := queueClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis (queue): %w", err)
	}

	pubsubOpt := *opt
	pubsubClient := redis.NewClient(&pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	// One connection per attached follower; a follower holds it for the
	// whole XREAD block.
	streamOpt := *opt
	if streamPoolSize > 0 {
		streamOpt.PoolSize = streamPoolSize
	}
	streamClient := redis.NewClient(&streamOpt)
	if err := streamClient.Ping(ctx).Err(); err != nil {
		queueClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (streams): %w", err)
	}

	return &RedisClients{
		Queue:   queueClient,
		PubSub:  pubsubClient,
		Streams: streamClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.PubSub.Close()
	r.Streams.Close()
}
