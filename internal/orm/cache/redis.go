package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Redis stores msgpack encoded values in Redis.
type Redis struct {
	client *redis.Client
	config Config
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr     string
	Password string
	DB       int
	Config   Config
}

// NewRedisWithConfig connects to Redis and checks the connection.
func NewRedisWithConfig(ctx context.Context, config RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", config.Addr, err)
	}

	return &Redis{client: client, config: config.Config}, nil
}

// NewRedisWithClient creates a cache over an existing client
func NewRedisWithClient(client *redis.Client, config Config) *Redis {
	return &Redis{client: client, config: config}
}

func (r *Redis) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	data, err := r.client.Get(ctx, r.config.Prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return values, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, values map[string]any, ttl time.Duration) error {
	data, err := msgpack.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl == 0 {
		ttl = r.config.DefaultTTL
	}
	return r.client.Set(ctx, r.config.Prefix+key, data, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.config.Prefix+key).Err()
}

// Clear removes the keys under the configured prefix.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.config.Prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
