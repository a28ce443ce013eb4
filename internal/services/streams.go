package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"chatbot-backend/internal/models"
)

const (
	streamTTL         = 10 * time.Minute
	streamIdleTimeout = 2 * time.Minute
)

var ErrStreamIdle = errors.New("stream produced no events before timing out")

// StreamLog is the append-only event log of one assistant generation.
// Readers can attach at any time and replay it from the start.
type StreamLog interface {
	Append(ctx context.Context, streamID uuid.UUID, evt models.StreamEvent) error
	// Follow calls fn for every event from the beginning and returns after
	// the terminal event, when fn fails, or when ctx is done.
	Follow(ctx context.Context, streamID uuid.UUID, fn func(models.StreamEvent) error) error
	// Last returns nil when the stream has expired or never existed.
	Last(ctx context.Context, streamID uuid.UUID) (*models.StreamEvent, error)
	Cancel(ctx context.Context, streamID uuid.UUID) error
	Cancelled(ctx context.Context, streamID uuid.UUID) (bool, error)
}

// RedisStreamLog keeps each generation in a Redis stream with a short TTL.
// Followers block on XREAD through reader, so appends go through a
// separate client and never wait behind them for a pooled connection.
type RedisStreamLog struct {
	redis  *redis.Client
	reader *redis.Client
}

func NewRedisStreamLog(writer, reader *redis.Client) *RedisStreamLog {
	return &RedisStreamLog{redis: writer, reader: reader}
}

func streamKey(id uuid.UUID) string       { return "chat_stream:" + id.String() }
func streamCancelKey(id uuid.UUID) string { return "chat_stream_cancel:" + id.String() }

func (l *RedisStreamLog) Append(ctx context.Context, streamID uuid.UUID, evt models.StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	key := streamKey(streamID)
	pipe := l.redis.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{"event": string(data)},
	})
	pipe.Expire(ctx, key, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append stream event: %w", err)
	}
	return nil
}

func (l *RedisStreamLog) Follow(ctx context.Context, streamID uuid.UUID, fn func(models.StreamEvent) error) error {
	key := streamKey(streamID)
	lastID := "0"
	lastEvent := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := l.reader.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   100,
			Block:   5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if time.Since(lastEvent) > streamIdleTimeout {
				return ErrStreamIdle
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				lastEvent = time.Now()

				evt, err := decodeStreamEvent(msg)
				if err != nil {
					return err
				}
				if err := fn(evt); err != nil {
					return err
				}
				if evt.Terminal() {
					return nil
				}
			}
		}
	}
}

func (l *RedisStreamLog) Last(ctx context.Context, streamID uuid.UUID) (*models.StreamEvent, error) {
	msgs, err := l.redis.XRevRangeN(ctx, streamKey(streamID), "+", "-", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream tail: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	evt, err := decodeStreamEvent(msgs[0])
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (l *RedisStreamLog) Cancel(ctx context.Context, streamID uuid.UUID) error {
	return l.redis.Set(ctx, streamCancelKey(streamID), "1", streamTTL).Err()
}

func (l *RedisStreamLog) Cancelled(ctx context.Context, streamID uuid.UUID) (bool, error) {
	n, err := l.redis.Exists(ctx, streamCancelKey(streamID)).Result()
	return n > 0, err
}

func decodeStreamEvent(msg redis.XMessage) (models.StreamEvent, error) {
	var evt models.StreamEvent
	raw, ok := msg.Values["event"].(string)
	if !ok {
		return evt, fmt.Errorf("stream entry %s has no event payload", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return evt, fmt.Errorf("stream entry %s: %w", msg.ID, err)
	}
	return evt, nil
}
