package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultChannel is the Redis channel progress events go to
const DefaultChannel = "gradeflow:progress"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events as JSON on a Redis pub/sub channel
type RedisSink struct {
	client  publisher
	closer  func() error
	channel string
}

// NewRedisSink connects to addr and verifies the connection
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}

	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, closer: client.Close, channel: channel}, nil
}

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
