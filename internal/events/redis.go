package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medrex/medchain/pkg/config"
	"github.com/medrex/medchain/pkg/types"
	"github.com/redis/go-redis/v9"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisSink publishes each notification as JSON on a pub/sub channel
type RedisSink struct {
	client  redisPublisher
	channel string
}

// NewRedisSink connects to Redis and verifies the connection
func NewRedisSink(cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisSink{client: client, channel: cfg.Channel}, nil
}

// Name identifies the sink in logs and metrics
func (s *RedisSink) Name() string { return "redis" }

// Deliver publishes the event on the configured channel
func (s *RedisSink) Deliver(ctx context.Context, event types.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", s.channel, err)
	}
	return nil
}

// Ping reports whether Redis is reachable
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisSink) Close() error {
	return s.client.Close()
}
