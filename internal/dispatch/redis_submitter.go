package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis connection used to hand descriptors to
// the worker pool.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisSubmitter pushes descriptors onto per-queue Redis lists.
type RedisSubmitter struct {
	client *redis.Client
	prefix string
}

// NewRedisSubmitter connects to Redis and verifies the connection.
func NewRedisSubmitter(cfg RedisConfig) (*RedisSubmitter, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address cannot be empty")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "intelhive:queue:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	return &RedisSubmitter{client: client, prefix: prefix}, nil
}

// Submit implements the Submitter interface.
func (s *RedisSubmitter) Submit(ctx context.Context, descriptor *Descriptor) error {
	if s == nil || s.client == nil {
		return errors.New("Redis submitter is not initialised")
	}
	if descriptor == nil {
		return errors.New("descriptor cannot be nil")
	}
	body, err := json.Marshal(descriptor)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	if err := s.client.LPush(ctx, s.prefix+descriptor.Queue, body).Err(); err != nil {
		return fmt.Errorf("push descriptor to Redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisSubmitter) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Submitter = (*RedisSubmitter)(nil)
