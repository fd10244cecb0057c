package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr     string `toml:"addr" json:"addr" yaml:"addr"`
	Password string `toml:"password" json:"password" yaml:"password"`
	DB       int    `toml:"db" json:"db" yaml:"db"`
	Channel  string `toml:"channel" json:"channel" yaml:"channel"`
}

// RedisSink publishes each wire record on a Redis channel so other processes
// can follow a run.
type RedisSink struct {
	client   *redis.Client
	channel  string
	validate bool
}

// NewRedisSink connects to Redis and checks the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig, validate bool) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisSinkWithClient(client, cfg.Channel, validate), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, channel string, validate bool) *RedisSink {
	if channel == "" {
		channel = "kmsend:progress"
	}
	return &RedisSink{client: client, channel: channel, validate: validate}
}

// Channel returns the channel a run's records go to.
func (r *RedisSink) Channel(runID string) string {
	if runID == "" {
		return r.channel
	}
	return r.channel + ":" + runID
}

func (r *RedisSink) Handle(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if r.validate {
		if err := ValidateRecord(data); err != nil {
			return err
		}
	}
	pipe := r.client.Pipeline()
	pipe.Publish(ctx, r.channel, data)
	if e.RunID != "" {
		pipe.Publish(ctx, r.Channel(e.RunID), data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Ping checks the connection.
func (r *RedisSink) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
