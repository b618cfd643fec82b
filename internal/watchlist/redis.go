package watchlist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps one SET per owner.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisBackend connects and pings the server.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisBackendWithClient(client, cfg.KeyPrefix), nil
}

func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "watchlist:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(owner string) string {
	return b.prefix + owner
}

func (b *RedisBackend) AddTicker(ctx context.Context, owner, ticker string) (bool, error) {
	n, err := b.client.SAdd(ctx, b.key(owner), ticker).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd: %w", err)
	}
	return n == 1, nil
}

func (b *RedisBackend) RemoveTicker(ctx context.Context, owner, ticker string) (bool, error) {
	n, err := b.client.SRem(ctx, b.key(owner), ticker).Result()
	if err != nil {
		return false, fmt.Errorf("redis srem: %w", err)
	}
	return n == 1, nil
}

func (b *RedisBackend) ListTickers(ctx context.Context, owner string) ([]string, error) {
	members, err := b.client.SMembers(ctx, b.key(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	return members, nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
