package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash read by RedisFetcher when no key is given.
const DefaultRedisKey = "semflagz:overrides"

// RedisFetcher reads overrides from a Redis hash whose fields are feature
// names.
type RedisFetcher struct {
	client redis.Cmdable
	key    string
}

func NewRedisFetcher(client redis.Cmdable, key string) (*RedisFetcher, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisFetcher{client: client, key: key}, nil
}

func (f *RedisFetcher) Fetch(ctx context.Context) (map[string]any, error) {
	fields, err := f.client.HGetAll(ctx, f.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", f.key, err)
	}

	values := make(map[string]any, len(fields))
	for name, value := range fields {
		values[name] = value
	}
	return values, nil
}

// Set writes a single override into the hash.
func (f *RedisFetcher) Set(ctx context.Context, name, value string) error {
	if err := f.client.HSet(ctx, f.key, name, value).Err(); err != nil {
		return fmt.Errorf("hset %s %s: %w", f.key, name, err)
	}
	return nil
}

// Connect parses a redis:// URL and checks the server responds.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
