package redis

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// streamMaxLen trims streams approximately via XADD MAXLEN ~.
const streamMaxLen int64 = 10_000

// Well-known channels and streams.
const (
	ChannelSignals = "mev:signals"
	ChannelAlerts  = "ops:alerts"
	StreamResults  = "arb:results"
	StreamSpatial  = "arb:spatial"
)

// StreamMessage is one entry read back from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes over pub/sub and appends to streams.
type SignalBus struct {
	rdb redis.UniversalClient
}

// NewSignalBus creates a bus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload to a pub/sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return apperror.New(apperror.CodeRedisError,
			apperror.WithCause(err),
			apperror.WithContext("publish "+channel))
	}
	return nil
}

// Subscribe returns a channel of payloads that closes when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperror.New(apperror.CodeRedisError,
			apperror.WithCause(err),
			apperror.WithContext("subscribe "+channel))
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend XADDs payload to stream.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return apperror.New(apperror.CodeRedisError,
			apperror.WithCause(err),
			apperror.WithContext("xadd "+stream))
	}
	return nil
}

// StreamRead reads up to count entries after lastID ("0" for the beginning).
func (sb *SignalBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.New(apperror.CodeRedisError,
			apperror.WithCause(err),
			apperror.WithContext("xread "+stream))
	}

	var messages []StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}
